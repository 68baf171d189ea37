// Package resolver maps marketplace items to chat rooms, creating a room
// on the first outgoing message when none exists yet. Creation is
// serialized per item: two rapid first-sends on the same item produce one
// room, with the second caller receiving the first caller's result.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"marketchat/cache"
	"marketchat/channel"
	"marketchat/client"
	"marketchat/models"
)

// ResolutionError is a failed room lookup or creation.
type ResolutionError struct {
	ItemID int64
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve room for item %d: %v", e.ItemID, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// creation tracks one in-flight room creation so concurrent callers can
// wait on its result.
type creation struct {
	done   chan struct{}
	roomID int64
	err    error
}

// Resolver resolves item ids to chat room ids.
type Resolver struct {
	api   *client.Client
	ch    *channel.Channel
	cache *cache.Cache
	log   zerolog.Logger

	mu      sync.Mutex
	pending map[int64]*creation
}

// New creates a resolver.
func New(api *client.Client, ch *channel.Channel, c *cache.Cache, log zerolog.Logger) *Resolver {
	return &Resolver{
		api:     api,
		ch:      ch,
		cache:   c,
		log:     log.With().Str("component", "resolver").Logger(),
		pending: make(map[int64]*creation),
	}
}

// Resolve returns the room id for an item if one already exists, without
// creating anything. Returns client.ErrNoRoom otherwise.
func (r *Resolver) Resolve(ctx context.Context, itemID int64) (int64, error) {
	if v, ok := r.cache.Get(cache.ChatIDKey(itemID)); ok {
		return v.(int64), nil
	}
	roomID, err := r.api.GetChatID(ctx, itemID)
	if err != nil {
		if errors.Is(err, client.ErrNoRoom) {
			return 0, err
		}
		return 0, &ResolutionError{ItemID: itemID, Err: err}
	}
	r.cache.Set(cache.ChatIDKey(itemID), roomID)
	return roomID, nil
}

// ResolveOrCreate returns the room id for an item, creating the room with
// the given first message if none exists. At most one creation is in flight
// per item; concurrent callers block and share the result.
func (r *Resolver) ResolveOrCreate(ctx context.Context, itemID int64, firstMessage string) (int64, error) {
	roomID, err := r.Resolve(ctx, itemID)
	if err == nil {
		return roomID, nil
	}
	if !errors.Is(err, client.ErrNoRoom) {
		return 0, err
	}

	r.mu.Lock()
	if c, ok := r.pending[itemID]; ok {
		r.mu.Unlock()
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-c.done:
		}
		return c.roomID, c.err
	}
	c := &creation{done: make(chan struct{})}
	r.pending[itemID] = c
	r.mu.Unlock()

	c.roomID, c.err = r.createRoom(ctx, itemID, firstMessage)

	r.mu.Lock()
	delete(r.pending, itemID)
	r.mu.Unlock()
	close(c.done)

	return c.roomID, c.err
}

// createRoom issues the combined create-room-and-send request and wires the
// new room into the session: the live channel joins its broadcast group,
// the message cache is seeded with the sent message and the chat lists are
// invalidated so they pick up the new room on next read.
func (r *Resolver) createRoom(ctx context.Context, itemID int64, firstMessage string) (int64, error) {
	roomID, err := r.api.CreateRoomWithFirstMessage(ctx, itemID, firstMessage)
	if err != nil {
		return 0, &ResolutionError{ItemID: itemID, Err: err}
	}

	r.ch.Join(roomID)

	now := time.Now()
	seed := models.MessagePage{
		Data: []models.Message{{
			ID:      1,
			ChatID:  roomID,
			Content: firstMessage,
			FromMe:  true,
			SentAt:  &now,
		}},
		NextOffset: 1,
	}
	r.cache.Set(cache.MessagesKey(roomID), []models.MessagePage{seed})
	r.cache.Set(cache.ChatIDKey(itemID), roomID)
	r.cache.Invalidate(cache.ChatsKey("Buy"), cache.ChatsKey("Sell"))

	r.log.Info().Int64("item", itemID).Int64("room", roomID).Msg("room created")
	return roomID, nil
}
