// Package chat owns the reconciled view of a single chat room: it drives
// history fetches in request order, overlays optimistic sends, reacts to
// live channel events by refetching, and hands the presentation layer a
// consistent newest-first snapshot.
package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"marketchat/cache"
	"marketchat/channel"
	"marketchat/client"
	"marketchat/models"
	"marketchat/store"
	"marketchat/timeline"
)

// DefaultSendTimeout is how long an optimistic entry waits for its
// confirmation before being rolled back.
const DefaultSendTimeout = 10 * time.Second

// ErrConfirmationTimeout is recorded when an optimistic send was never
// confirmed within the send timeout.
var ErrConfirmationTimeout = errors.New("send confirmation timed out")

// Thread is the exclusive owner of one room's reconciled timeline. Create
// it with Open and release it with Close.
type Thread struct {
	SendTimeout time.Duration

	chatID int64
	api    *client.Client
	ch     *channel.Channel
	cache  *cache.Cache
	store  *store.Store
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	tl         timeline.Timeline
	pages      []models.MessagePage
	nextOffset int
	hasMore    bool
	fetchSeq   int
	lastErr    error
	closed     bool

	unsubCache  func()
	unsubEvents func()
}

// Open creates the thread for a room, joins its broadcast group on the live
// channel and starts an initial history fetch. The store may be nil.
func Open(chatID int64, api *client.Client, ch *channel.Channel, c *cache.Cache, st *store.Store, log zerolog.Logger) *Thread {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Thread{
		SendTimeout: DefaultSendTimeout,
		chatID:      chatID,
		api:         api,
		ch:          ch,
		cache:       c,
		store:       st,
		log:         log.With().Str("component", "thread").Int64("room", chatID).Logger(),
		ctx:         ctx,
		cancel:      cancel,
		hasMore:     true,
	}

	// Paint while the first fetch is in flight: cached pages first (a just
	// created room seeds its first message there), the local store otherwise.
	seeded := false
	if v, ok := c.Get(cache.MessagesKey(chatID)); ok {
		if pages, ok := v.([]models.MessagePage); ok && len(pages) > 0 {
			t.tl = timeline.Reduce(t.tl, timeline.PagesLoaded{Pages: pages})
			seeded = true
		}
	}
	if !seeded && st != nil {
		if msgs, err := st.RecentMessages(chatID, models.PageSize, 0); err == nil && len(msgs) > 0 {
			t.tl = timeline.Reduce(t.tl, timeline.PagesLoaded{
				Pages: []models.MessagePage{{Data: msgs}},
			})
		}
	}

	t.ch.Join(chatID)
	t.unsubEvents = t.ch.OnEvent(t.onEvent)
	t.unsubCache = t.cache.Subscribe(cache.MessagesKey(chatID), t.onInvalidate)

	go func() {
		if err := t.Refresh(ctx); err != nil && ctx.Err() == nil {
			t.log.Warn().Err(err).Msg("initial fetch failed")
		}
	}()

	return t
}

// onEvent reacts to live channel status events. A send or receive
// confirmation means the backend has new authoritative rows, so the room's
// timeline and the chat lists are refetched rather than merged in place.
func (t *Thread) onEvent(ev channel.Event) {
	if ev.Kind != channel.EventSendSuccess && ev.Kind != channel.EventReceiveSuccess {
		return
	}
	t.cache.Invalidate(
		cache.MessagesKey(t.chatID),
		cache.ChatsKey("Buy"),
		cache.ChatsKey("Sell"),
	)
}

// onInvalidate refetches after the room's message cache was invalidated.
func (t *Thread) onInvalidate() {
	go func() {
		if err := t.Refresh(t.ctx); err != nil && t.ctx.Err() == nil {
			t.log.Warn().Err(err).Msg("refetch failed")
		}
	}()
}

// Refresh refetches the first history page and replaces the fetched base.
// A refresh started later always supersedes earlier in-flight fetches;
// stale completions are discarded, never applied.
func (t *Thread) Refresh(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.fetchSeq++
	seq := t.fetchSeq
	t.mu.Unlock()

	page, err := t.api.GetMessages(ctx, t.chatID, 0)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || seq != t.fetchSeq {
		return nil
	}
	if err != nil {
		t.lastErr = err
		return err
	}

	t.applyPages([]models.MessagePage{page})
	return nil
}

// LoadMore fetches the next (older) history page if the pagination contract
// says one exists.
func (t *Thread) LoadMore(ctx context.Context) error {
	t.mu.Lock()
	if t.closed || !t.hasMore {
		t.mu.Unlock()
		return nil
	}
	offset := t.nextOffset
	t.fetchSeq++
	seq := t.fetchSeq
	t.mu.Unlock()

	page, err := t.api.GetMessages(ctx, t.chatID, offset)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || seq != t.fetchSeq {
		return nil
	}
	if err != nil {
		t.lastErr = err
		return err
	}

	t.applyPages(append(append([]models.MessagePage(nil), t.pages...), page))
	return nil
}

// applyPages replaces the fetched base with the given pages, updates the
// pagination cursor and persists the result. Caller holds the mutex. The
// replacement is all-or-nothing: a failed fetch never reaches this point.
func (t *Thread) applyPages(pages []models.MessagePage) {
	t.pages = pages
	last := pages[len(pages)-1]
	t.nextOffset, t.hasMore = timeline.NextPageOffset(last)
	t.tl = timeline.Reduce(t.tl, timeline.PagesLoaded{Pages: pages})
	t.lastErr = nil

	t.cache.Set(cache.MessagesKey(t.chatID), pages)
	if t.store != nil {
		if err := t.store.SaveMessages(t.chatID, t.tl.Base); err != nil {
			t.log.Warn().Err(err).Msg("persist failed")
		}
	}
}

// Send transmits a message on the live channel with an optimistic local
// echo. The echo is rolled back if the directive cannot be sent, or if no
// confirmation arrives before the send timeout.
func (t *Thread) Send(ctx context.Context, content string) error {
	correlationID := uuid.NewString()
	now := time.Now()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.tl = timeline.Reduce(t.tl, timeline.OptimisticSend{
		ChatID:        t.chatID,
		Content:       content,
		CorrelationID: correlationID,
		Now:           now,
		Deadline:      now.Add(t.SendTimeout),
	})
	t.mu.Unlock()

	if err := t.ch.Send(t.chatID, correlationID, content); err != nil {
		t.mu.Lock()
		t.tl = timeline.Reduce(t.tl, timeline.Rollback{CorrelationID: correlationID})
		t.lastErr = err
		t.mu.Unlock()
		return err
	}

	time.AfterFunc(t.SendTimeout, func() { t.expirePending(time.Now()) })
	return nil
}

// expirePending rolls back optimistic entries whose confirmation deadline
// has passed.
func (t *Thread) expirePending(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.tl = timeline.Reduce(t.tl, timeline.Tick{Now: now})
	if len(t.tl.Expired) > 0 {
		t.lastErr = ErrConfirmationTimeout
		t.log.Warn().Int("rolled_back", len(t.tl.Expired)).Msg("sends unconfirmed")
	}
}

// Snapshot returns the reconciled, annotated timeline, newest first.
func (t *Thread) Snapshot(now time.Time) []timeline.Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tl.Snapshot(now)
}

// HasMore reports whether older history remains to be fetched.
func (t *Thread) HasMore() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasMore
}

// Err returns the most recent error state, cleared by a successful fetch.
func (t *Thread) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// Close releases the thread: in-flight fetches are discarded and the room
// subscription reference is dropped.
func (t *Thread) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.fetchSeq++
	t.mu.Unlock()

	t.cancel()
	t.unsubCache()
	t.unsubEvents()
	t.ch.Leave(t.chatID)
}
