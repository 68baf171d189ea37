// Package timeline reconciles fetched history pages, live confirmations and
// optimistic local sends into one deduplicated, newest-first message
// sequence for a single chat room. Everything here is pure: state goes in,
// new state comes out, and fetched messages are never mutated.
package timeline

import (
	"time"

	"marketchat/models"
)

// Timeline is the reconciled in-memory state for one room.
type Timeline struct {
	// Base holds server-confirmed messages, newest first.
	Base []models.Message
	// Pending holds optimistic entries awaiting confirmation, newest first.
	Pending []PendingMessage
	// NeedsRefetch is set when a confirmation could not be matched to a
	// pending entry; a full refetch is then the only safe resynchronization.
	NeedsRefetch bool
	// Expired collects the pending entries rolled back by the last Tick.
	Expired []PendingMessage
}

// PendingMessage is an optimistic entry with its rollback deadline.
type PendingMessage struct {
	Message  models.Message
	Deadline time.Time
}

// Event is a state transition applied by Reduce.
type Event interface {
	isEvent()
}

// PagesLoaded replaces the fetched base with a fresh set of pages. The
// fetched data is authoritative for everything it contains: pending entries
// whose correlation ids appear in it are superseded, the rest stay overlaid
// until their own confirmation (or rollback) arrives.
type PagesLoaded struct {
	Pages []models.MessagePage
}

// OptimisticSend prepends a provisional entry for a locally sent message.
type OptimisticSend struct {
	ChatID        int64
	Content       string
	CorrelationID string
	Now           time.Time
	Deadline      time.Time
}

// Confirmed carries a server-confirmed message whose correlation id should
// match a pending entry. The live channel's status lines carry no message
// payload, so the production path resynchronizes via PagesLoaded instead;
// Confirmed serves transports that echo the stored message back.
type Confirmed struct {
	Message models.Message
}

// Rollback removes the pending entry with the given correlation id, used
// when a send fails outright.
type Rollback struct {
	CorrelationID string
}

// Tick rolls back pending entries whose deadline has passed.
type Tick struct {
	Now time.Time
}

func (PagesLoaded) isEvent()    {}
func (OptimisticSend) isEvent() {}
func (Confirmed) isEvent()      {}
func (Rollback) isEvent()       {}
func (Tick) isEvent()           {}

// Flatten concatenates history pages in fetch order into one newest-first
// sequence, dropping duplicate ids. Pages are fetched strictly oldest-last,
// so the concatenation is already consistent with display order.
func Flatten(pages []models.MessagePage) []models.Message {
	var out []models.Message
	seen := make(map[int64]bool)
	for _, page := range pages {
		for _, msg := range page.Data {
			if seen[msg.ID] {
				continue
			}
			seen[msg.ID] = true
			out = append(out, msg)
		}
	}
	return out
}

// NextPageOffset returns the offset for the next history request and whether
// one should be made at all. A short page is a reliable end-of-history
// signal, not an error.
func NextPageOffset(last models.MessagePage) (int, bool) {
	if !last.Full() {
		return 0, false
	}
	return last.NextOffset, true
}

// Reduce applies an event to a timeline and returns the resulting timeline.
// The input is never modified.
func Reduce(t Timeline, ev Event) Timeline {
	t.Expired = nil

	switch e := ev.(type) {
	case PagesLoaded:
		t.Base = Flatten(e.Pages)
		confirmed := make(map[string]bool, len(t.Base))
		for _, m := range t.Base {
			if m.CorrelationID != "" {
				confirmed[m.CorrelationID] = true
			}
		}
		pending := make([]PendingMessage, 0, len(t.Pending))
		for _, p := range t.Pending {
			if confirmed[p.Message.CorrelationID] {
				continue
			}
			pending = append(pending, p)
		}
		t.Pending = pending
		t.NeedsRefetch = false

	case OptimisticSend:
		sentAt := e.Now
		msg := models.Message{
			ID:            t.nextLocalID(),
			ChatID:        e.ChatID,
			Content:       e.Content,
			FromMe:        true,
			SentAt:        &sentAt,
			CorrelationID: e.CorrelationID,
		}
		pending := make([]PendingMessage, 0, len(t.Pending)+1)
		pending = append(pending, PendingMessage{Message: msg, Deadline: e.Deadline})
		pending = append(pending, t.Pending...)
		t.Pending = pending

	case Confirmed:
		matched := false
		if e.Message.CorrelationID != "" {
			pending := make([]PendingMessage, 0, len(t.Pending))
			for _, p := range t.Pending {
				if !matched && p.Message.CorrelationID == e.Message.CorrelationID {
					matched = true
					continue
				}
				pending = append(pending, p)
			}
			t.Pending = pending
		}
		if matched {
			t.Base = insertByID(t.Base, e.Message)
		} else {
			t.NeedsRefetch = true
		}

	case Rollback:
		pending := make([]PendingMessage, 0, len(t.Pending))
		for _, p := range t.Pending {
			if p.Message.CorrelationID == e.CorrelationID {
				continue
			}
			pending = append(pending, p)
		}
		t.Pending = pending

	case Tick:
		var kept, expired []PendingMessage
		for _, p := range t.Pending {
			if !p.Deadline.After(e.Now) {
				expired = append(expired, p)
				continue
			}
			kept = append(kept, p)
		}
		t.Pending = kept
		t.Expired = expired
	}

	return t
}

// Messages returns the reconciled sequence, newest first, with pending
// entries overlaid ahead of the fetched base.
func (t Timeline) Messages() []models.Message {
	out := make([]models.Message, 0, len(t.Pending)+len(t.Base))
	for _, p := range t.Pending {
		out = append(out, p.Message)
	}
	return append(out, t.Base...)
}

// Snapshot returns the reconciled sequence annotated with display labels.
// Pending entries are flagged so the presentation layer can render them as
// unconfirmed.
func (t Timeline) Snapshot(now time.Time) []Entry {
	entries := Annotate(t.Messages(), now)
	for i := range entries[:len(t.Pending)] {
		entries[i].Pending = true
	}
	return entries
}

// nextLocalID returns one greater than the newest known identifier in the
// room, or 1 if none is known.
func (t Timeline) nextLocalID() int64 {
	var max int64
	if len(t.Pending) > 0 && t.Pending[0].Message.ID > max {
		max = t.Pending[0].Message.ID
	}
	if len(t.Base) > 0 && t.Base[0].ID > max {
		max = t.Base[0].ID
	}
	return max + 1
}

// insertByID inserts a message into a newest-first sequence, keeping ids
// descending and replacing any entry that already carries the same id.
func insertByID(msgs []models.Message, msg models.Message) []models.Message {
	out := make([]models.Message, 0, len(msgs)+1)
	inserted := false
	for _, m := range msgs {
		if m.ID == msg.ID {
			continue
		}
		if !inserted && m.ID < msg.ID {
			out = append(out, msg)
			inserted = true
		}
		out = append(out, m)
	}
	if !inserted {
		out = append(out, msg)
	}
	return out
}
