package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"marketchat/cache"
	"marketchat/channel"
	"marketchat/chat"
	"marketchat/client"
	"marketchat/config"
	"marketchat/resolver"
	"marketchat/store"
)

func main() {
	cfg := config.Load()
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if cfg.Token == "" {
		log.Fatal().Msg("TOKEN environment variable is required")
	}

	st, err := store.Open(cfg.CachePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open local store")
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := client.New(cfg.BackendURL, cfg.Token, log)
	queries := cache.New(log)
	ch := channel.New(cfg.WSURL, cfg.Token, log)
	ch.Backoff = cfg.ReconnectBackoff
	go ch.Run(ctx)

	rooms := resolver.New(api, ch, queries, log)

	items, err := api.GetItems(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to list items")
	}
	for _, item := range items {
		fmt.Printf("  #%d  %s  $%.2f  (%s)\n", item.ID, item.Name, item.Price, item.Category)
	}
	fmt.Println("commands: /open <item-id>, /more, /quit; anything else sends a message")

	var thread *chat.Thread
	var openItemID int64
	defer func() {
		if thread != nil {
			thread.Close()
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			return

		case strings.HasPrefix(line, "/open "):
			itemID, err := strconv.ParseInt(strings.TrimPrefix(line, "/open "), 10, 64)
			if err != nil {
				fmt.Println("usage: /open <item-id>")
				continue
			}
			if thread != nil {
				thread.Close()
				thread = nil
			}
			openItemID = itemID
			if roomID, err := rooms.Resolve(ctx, itemID); err == nil {
				thread = chat.Open(roomID, api, ch, queries, st, log)
				thread.SendTimeout = cfg.SendTimeout
				fmt.Printf("opened chat for item #%d (room %d)\n", itemID, roomID)
			} else {
				fmt.Printf("no chat yet for item #%d; your first message will start one\n", itemID)
			}

		case line == "/more":
			if thread == nil {
				fmt.Println("no open chat")
				continue
			}
			if err := thread.LoadMore(ctx); err != nil {
				fmt.Println("failed to load more:", err)
				continue
			}
			printTimeline(thread)

		default:
			if openItemID == 0 {
				fmt.Println("open a chat first: /open <item-id>")
				continue
			}
			if thread == nil {
				roomID, err := rooms.ResolveOrCreate(ctx, openItemID, line)
				if err != nil {
					fmt.Println("failed to start chat:", err)
					continue
				}
				thread = chat.Open(roomID, api, ch, queries, st, log)
				thread.SendTimeout = cfg.SendTimeout
			} else if err := thread.Send(ctx, line); err != nil {
				fmt.Println("send failed:", err)
			}
			// Give the optimistic echo (or seeded first message) a beat.
			time.Sleep(50 * time.Millisecond)
			printTimeline(thread)
		}
	}
}

// printTimeline renders the reconciled timeline oldest first, the way a
// chat transcript reads in a terminal.
func printTimeline(t *chat.Thread) {
	entries := t.Snapshot(time.Now())
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Label != "" {
			fmt.Printf("        -- %s --\n", e.Label)
		}
		who := "them"
		if e.Message.FromMe {
			who = "me"
		}
		suffix := ""
		if e.Pending {
			suffix = " (sending...)"
		}
		fmt.Printf("  [%s] %s%s\n", who, e.Message.Content, suffix)
	}
	if err := t.Err(); err != nil {
		fmt.Println("  ! ", err)
	}
}
