// Package channel maintains the single shared websocket connection to the
// chat backend. Room membership is connection-scoped on the server, so the
// channel keeps reference-counted subscriptions and re-issues a join for
// each of them whenever the connection is re-established.
package channel

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// EventKind classifies an inbound status event.
type EventKind int

const (
	// EventInfo is any inbound line that is not a recognized status event.
	EventInfo EventKind = iota
	// EventSendSuccess confirms a prior outgoing send.
	EventSendSuccess
	// EventReceiveSuccess signals a message delivered to this client.
	EventReceiveSuccess
)

// Event is one inbound line from the live channel.
type Event struct {
	Kind EventKind
	Raw  string
}

// Handler receives inbound events. Handlers must not block.
type Handler func(Event)

// Channel is the shared live event channel. Create one per session with New
// and drive it with Run.
type Channel struct {
	// Backoff is the fixed delay between reconnect attempts.
	Backoff time.Duration

	wsURL string
	token string
	log   zerolog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	rooms     map[int64]int
	handlers  map[int]Handler
	handlerID int
}

// New creates a channel for the given websocket URL and bearer token.
func New(wsURL, token string, log zerolog.Logger) *Channel {
	return &Channel{
		Backoff:  5 * time.Second,
		wsURL:    wsURL,
		token:    token,
		log:      log.With().Str("component", "channel").Logger(),
		rooms:    make(map[int64]int),
		handlers: make(map[int]Handler),
	}
}

// OnEvent registers a handler for inbound events and returns a function
// that removes it.
func (ch *Channel) OnEvent(h Handler) func() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.handlerID++
	id := ch.handlerID
	ch.handlers[id] = h
	return func() {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		delete(ch.handlers, id)
	}
}

// Run dials the backend and keeps the connection alive until the context is
// canceled, reconnecting after Backoff on every failure. There is no retry
// cap: the channel outlives transient outages.
func (ch *Channel) Run(ctx context.Context) {
	for {
		if err := ch.connect(ctx); err != nil {
			ch.log.Warn().Err(err).Msg("connection lost, reconnecting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(ch.Backoff):
		}
	}
}

// connect dials, rejoins subscribed rooms and reads until the connection
// drops or the context is canceled.
func (ch *Channel) connect(ctx context.Context) error {
	u := ch.wsURL + "?" + url.Values{"authorization": {"Bearer_" + ch.token}}.Encode()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return err
	}
	// Every exit from here releases the socket; reconnecting without this
	// leaks one fd per cycle.
	defer conn.Close()

	ch.mu.Lock()
	ch.conn = conn
	rooms := make([]int64, 0, len(ch.rooms))
	for roomID := range ch.rooms {
		rooms = append(rooms, roomID)
	}
	ch.mu.Unlock()

	// Membership did not survive the previous connection.
	for _, roomID := range rooms {
		if err := ch.writeText(fmt.Sprintf("/join %d", roomID)); err != nil {
			break
		}
	}
	ch.log.Info().Int("rooms", len(rooms)).Msg("connected")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			ch.mu.Lock()
			ch.conn = nil
			ch.mu.Unlock()
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				ch.log.Warn().Err(err).Msg("unexpected close")
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		ch.dispatch(string(data))
	}
}

// dispatch classifies an inbound line by its trailing marker and fans it
// out to the registered handlers.
func (ch *Channel) dispatch(text string) {
	ev := Event{Kind: EventInfo, Raw: text}
	switch {
	case strings.HasSuffix(text, "send success"):
		ev.Kind = EventSendSuccess
	case strings.HasSuffix(text, "receive success"):
		ev.Kind = EventReceiveSuccess
	}

	ch.mu.Lock()
	handlers := make([]Handler, 0, len(ch.handlers))
	for _, h := range ch.handlers {
		handlers = append(handlers, h)
	}
	ch.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Join subscribes to a room's broadcast group. Subscriptions are reference
// counted so that closing one view of a room does not drop another's.
func (ch *Channel) Join(roomID int64) {
	ch.mu.Lock()
	ch.rooms[roomID]++
	first := ch.rooms[roomID] == 1
	ch.mu.Unlock()

	if first {
		if err := ch.writeText(fmt.Sprintf("/join %d", roomID)); err != nil {
			// Not connected yet; the join is replayed on (re)connect.
			ch.log.Debug().Int64("room", roomID).Msg("join deferred until connect")
		}
	}
}

// Leave drops one reference to a room subscription.
func (ch *Channel) Leave(roomID int64) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.rooms[roomID] == 0 {
		return
	}
	ch.rooms[roomID]--
	if ch.rooms[roomID] == 0 {
		delete(ch.rooms, roomID)
	}
}

// Send transmits an outgoing message directive. The optimistic entry stays
// in the caller's timeline; a SendError here means the directive never left
// this client.
func (ch *Channel) Send(roomID int64, correlationID, content string) error {
	line := fmt.Sprintf("/message %d %s %s", roomID, correlationID, content)
	if err := ch.writeText(line); err != nil {
		return &SendError{RoomID: roomID, Err: err}
	}
	return nil
}

// writeText writes a single text frame. The connection is not safe for
// concurrent writes, so all writes go through the channel mutex.
func (ch *Channel) writeText(text string) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.conn == nil {
		return ErrNotConnected
	}
	return ch.conn.WriteMessage(websocket.TextMessage, []byte(text))
}
