package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/cache"
	"marketchat/channel"
	"marketchat/client"
	"marketchat/models"
	"marketchat/store"
	"marketchat/timeline"
)

// chatBackend is an HTTP history backend whose content can grow, so tests
// can confirm that a refetch supersedes optimistic entries.
type gate struct {
	arrived  chan struct{}
	released chan struct{}
	once     sync.Once
}

type chatBackend struct {
	srv *httptest.Server

	mu      sync.Mutex
	history []models.Message // oldest first
	block   map[int]*gate
}

func newChatBackend(t *testing.T, initial int) *chatBackend {
	t.Helper()
	b := &chatBackend{block: make(map[int]*gate)}
	base := time.Now().Add(-30 * time.Hour)
	for i := 0; i < initial; i++ {
		b.history = append(b.history, models.Message{
			ID:      int64(i + 1),
			ChatID:  5,
			Content: fmt.Sprintf("message %d", i+1),
			SentAt:  timePtr(base.Add(time.Duration(i) * time.Minute)),
		})
	}

	r := mux.NewRouter()
	r.HandleFunc("/chats/messages/{chatId}", func(w http.ResponseWriter, req *http.Request) {
		offset, _ := strconv.Atoi(req.URL.Query().Get("offset"))

		b.mu.Lock()
		g := b.block[offset]
		b.mu.Unlock()
		if g != nil {
			g.once.Do(func() { close(g.arrived) })
			<-g.released
		}

		b.mu.Lock()
		newestFirst := make([]models.Message, 0, len(b.history))
		for i := len(b.history) - 1; i >= 0; i-- {
			newestFirst = append(newestFirst, b.history[i])
		}
		b.mu.Unlock()

		end := offset + models.PageSize
		if end > len(newestFirst) {
			end = len(newestFirst)
		}
		page := models.MessagePage{NextOffset: end}
		if offset < len(newestFirst) {
			page.Data = newestFirst[offset:end]
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(page)
	}).Methods(http.MethodGet)

	b.srv = httptest.NewServer(r)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *chatBackend) add(content string, fromMe bool, correlationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	b.history = append(b.history, models.Message{
		ID:            int64(len(b.history) + 1),
		ChatID:        5,
		Content:       content,
		FromMe:        fromMe,
		SentAt:        &now,
		CorrelationID: correlationID,
	})
}

// blockOffset makes the backend hold requests for one offset. The first
// returned function waits for a blocked request to arrive; the second lets
// held requests through.
func (b *chatBackend) blockOffset(offset int) (awaitArrival, release func()) {
	g := &gate{arrived: make(chan struct{}), released: make(chan struct{})}
	b.mu.Lock()
	b.block[offset] = g
	b.mu.Unlock()

	var once sync.Once
	awaitArrival = func() { <-g.arrived }
	release = func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.block, offset)
			b.mu.Unlock()
			close(g.released)
		})
	}
	return awaitArrival, release
}

func timePtr(t time.Time) *time.Time { return &t }

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newWSBackend runs a websocket double that invokes onMessage for every
// /message directive. The handler's return value, if non-empty, is sent
// back to the client.
func newWSBackend(t *testing.T, onMessage func(room, correlationID, content string) string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			text := string(data)
			if !strings.HasPrefix(text, "/message ") {
				continue
			}
			parts := strings.SplitN(text, " ", 4)
			if len(parts) < 4 {
				continue
			}
			if reply := onMessage(parts[1], parts[2], parts[3]); reply != "" {
				conn.WriteMessage(websocket.TextMessage, []byte(reply))
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newThreadFixture(t *testing.T, backend *chatBackend, wsURL string) (*Thread, *channel.Channel) {
	t.Helper()
	log := zerolog.Nop()
	api := client.New(backend.srv.URL, "tok", log)
	c := cache.New(log)
	ch := channel.New(wsURL, "tok", log)
	ch.Backoff = 20 * time.Millisecond

	if wsURL != "" {
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		go ch.Run(ctx)
	}

	thread := Open(5, api, ch, c, nil, log)
	t.Cleanup(thread.Close)
	return thread, ch
}

func snapshotContents(entries []timeline.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Message.Content
	}
	return out
}

func TestRefreshThenLoadMoreWalksHistory(t *testing.T) {
	backend := newChatBackend(t, 30)
	thread, _ := newThreadFixture(t, backend, "")

	require.Eventually(t, func() bool {
		return len(thread.Snapshot(time.Now())) == models.PageSize
	}, 2*time.Second, 10*time.Millisecond, "initial fetch loads the first page")
	assert.True(t, thread.HasMore(), "a full page means more history")

	require.NoError(t, thread.LoadMore(context.Background()))
	entries := thread.Snapshot(time.Now())
	assert.Len(t, entries, 30)
	assert.False(t, thread.HasMore(), "a short page ends history")

	// Newest first, ids descending, no duplicates.
	for i := 1; i < len(entries); i++ {
		assert.Greater(t, entries[i-1].Message.ID, entries[i].Message.ID)
	}

	// LoadMore at end of history is a no-op.
	require.NoError(t, thread.LoadMore(context.Background()))
	assert.Len(t, thread.Snapshot(time.Now()), 30)
}

func TestSendSuccessEventSupersedesOptimisticEntry(t *testing.T) {
	backend := newChatBackend(t, 3)

	wsURL := newWSBackend(t, func(room, correlationID, content string) string {
		// The backend persists the message, then confirms; the client
		// resynchronizes by refetching rather than trusting its echo.
		backend.add(content, true, correlationID)
		return room + " send success"
	})
	thread, _ := newThreadFixture(t, backend, wsURL)

	require.Eventually(t, func() bool {
		return len(thread.Snapshot(time.Now())) == 3
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return thread.Send(context.Background(), "hello there") == nil
	}, 2*time.Second, 10*time.Millisecond, "send succeeds once the channel connects")

	// The optimistic echo is visible immediately.
	entries := thread.Snapshot(time.Now())
	require.NotEmpty(t, entries)
	assert.Equal(t, "hello there", entries[0].Message.Content)

	// The confirmation triggers a refetch that replaces the echo with the
	// authoritative row: exactly one entry, server-assigned id, not pending.
	require.Eventually(t, func() bool {
		entries := thread.Snapshot(time.Now())
		count := 0
		var hello timeline.Entry
		for _, e := range entries {
			if e.Message.Content == "hello there" {
				count++
				hello = e
			}
		}
		return count == 1 && !hello.Pending && hello.Message.ID == 4
	}, 3*time.Second, 10*time.Millisecond)
}

func TestSendFailureRollsBackOptimisticEntry(t *testing.T) {
	backend := newChatBackend(t, 3)
	thread, _ := newThreadFixture(t, backend, "") // channel never connects

	require.Eventually(t, func() bool {
		return len(thread.Snapshot(time.Now())) == 3
	}, 2*time.Second, 10*time.Millisecond)

	err := thread.Send(context.Background(), "lost message")
	var sendErr *channel.SendError
	require.ErrorAs(t, err, &sendErr)

	assert.NotContains(t, snapshotContents(thread.Snapshot(time.Now())), "lost message",
		"failed sends leave no orphaned echo")
	assert.Error(t, thread.Err())
}

func TestUnconfirmedSendTimesOutAndRollsBack(t *testing.T) {
	backend := newChatBackend(t, 1)
	wsURL := newWSBackend(t, func(room, correlationID, content string) string {
		return "" // swallow the message, never confirm
	})
	thread, _ := newThreadFixture(t, backend, wsURL)
	thread.SendTimeout = 50 * time.Millisecond

	require.Eventually(t, func() bool {
		return len(thread.Snapshot(time.Now())) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return thread.Send(context.Background(), "into the void") == nil
	}, 2*time.Second, 10*time.Millisecond)

	assert.Contains(t, snapshotContents(thread.Snapshot(time.Now())), "into the void")

	require.Eventually(t, func() bool {
		return !contains(snapshotContents(thread.Snapshot(time.Now())), "into the void")
	}, 2*time.Second, 10*time.Millisecond, "unconfirmed echo is rolled back")
	assert.ErrorIs(t, thread.Err(), ErrConfirmationTimeout)
}

func TestStaleLoadMoreIsDiscarded(t *testing.T) {
	backend := newChatBackend(t, 30)
	thread, _ := newThreadFixture(t, backend, "")

	require.Eventually(t, func() bool {
		return len(thread.Snapshot(time.Now())) == models.PageSize
	}, 2*time.Second, 10*time.Millisecond)

	awaitArrival, release := backend.blockOffset(models.PageSize)
	done := make(chan error, 1)
	go func() { done <- thread.LoadMore(context.Background()) }()
	awaitArrival()

	// A refresh started later supersedes the in-flight page fetch.
	require.NoError(t, thread.Refresh(context.Background()))
	release()
	require.NoError(t, <-done)

	assert.Len(t, thread.Snapshot(time.Now()), models.PageSize,
		"the stale page result must not be applied")
}

func TestFetchErrorIsSurfacedWithoutCorruptingTimeline(t *testing.T) {
	backend := newChatBackend(t, 3)
	thread, _ := newThreadFixture(t, backend, "")

	require.Eventually(t, func() bool {
		return len(thread.Snapshot(time.Now())) == 3
	}, 2*time.Second, 10*time.Millisecond)

	// The backend goes away; the refetch fails but the timeline stands.
	backend.srv.Close()
	err := thread.Refresh(context.Background())
	require.Error(t, err)
	assert.Error(t, thread.Err())
	assert.Len(t, thread.Snapshot(time.Now()), 3)
}

func TestStoreSeedsTimelineBeforeFirstFetch(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sentAt := time.Now().Add(-2 * time.Hour)
	require.NoError(t, st.SaveMessages(5, []models.Message{
		{ID: 2, ChatID: 5, Content: "cached new", SentAt: &sentAt},
		{ID: 1, ChatID: 5, Content: "cached old", SentAt: &sentAt},
	}))

	backend := newChatBackend(t, 3)
	_, release := backend.blockOffset(0)
	defer release()

	log := zerolog.Nop()
	api := client.New(backend.srv.URL, "tok", log)
	ch := channel.New("ws://unused", "tok", log)
	thread := Open(5, api, ch, cache.New(log), st, log)
	t.Cleanup(thread.Close)

	// The stored history paints before the (blocked) fetch resolves.
	entries := thread.Snapshot(time.Now())
	require.Len(t, entries, 2)
	assert.Equal(t, "cached new", entries[0].Message.Content)

	// Once the fetch lands, server state replaces the seed.
	release()
	require.Eventually(t, func() bool {
		return len(thread.Snapshot(time.Now())) == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCachedPagesPaintBeforeFirstFetch(t *testing.T) {
	backend := newChatBackend(t, 3)
	_, release := backend.blockOffset(0)
	defer release()

	log := zerolog.Nop()
	api := client.New(backend.srv.URL, "tok", log)
	ch := channel.New("ws://unused", "tok", log)
	queries := cache.New(log)

	// A freshly created room seeds its first message into the cache; the
	// thread paints it without waiting for the network.
	now := time.Now()
	queries.Set(cache.MessagesKey(5), []models.MessagePage{{
		Data: []models.Message{{
			ID: 1, ChatID: 5, Content: "is this available?", FromMe: true, SentAt: &now,
		}},
		NextOffset: 1,
	}})

	thread := Open(5, api, ch, queries, nil, log)
	t.Cleanup(thread.Close)

	entries := thread.Snapshot(time.Now())
	require.Len(t, entries, 1)
	assert.Equal(t, "is this available?", entries[0].Message.Content)

	// Once the fetch lands, server state replaces the seed.
	release()
	require.Eventually(t, func() bool {
		return len(thread.Snapshot(time.Now())) == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCloseDropsInFlightFetches(t *testing.T) {
	backend := newChatBackend(t, 30)
	thread, _ := newThreadFixture(t, backend, "")

	require.Eventually(t, func() bool {
		return len(thread.Snapshot(time.Now())) == models.PageSize
	}, 2*time.Second, 10*time.Millisecond)

	awaitArrival, release := backend.blockOffset(models.PageSize)
	done := make(chan error, 1)
	go func() { done <- thread.LoadMore(context.Background()) }()
	awaitArrival()

	thread.Close()
	release()
	require.NoError(t, <-done)
	assert.Len(t, thread.Snapshot(time.Now()), models.PageSize)
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
