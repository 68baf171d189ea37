package models

import "time"

// PageSize is the fixed number of messages per history page. A page with
// fewer rows marks the end of a room's history.
const PageSize = 25

// Message is a single chat message. ID is assigned by the backend and is
// monotonically increasing within a room; it is authoritative only once the
// send has been confirmed. A nil SentAt suppresses the timestamp in the UI.
type Message struct {
	ID            int64      `json:"id"`
	ChatID        int64      `json:"chat_id"`
	Content       string     `json:"content"`
	FromMe        bool       `json:"from_me"`
	SentAt        *time.Time `json:"sent_at"`
	CorrelationID string     `json:"correlation_id,omitempty"`
}

// MessagePage is one page of reverse-chronological history. Data is ordered
// newest first; NextOffset is the cursor for the next (older) page.
type MessagePage struct {
	Data       []Message `json:"data"`
	NextOffset int       `json:"next_offset"`
}

// Full reports whether the page reached the page size, meaning older
// history may still exist beyond it.
func (p MessagePage) Full() bool {
	return len(p.Data) == PageSize
}
