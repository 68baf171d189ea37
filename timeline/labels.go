package timeline

import (
	"time"

	"marketchat/models"
)

// Display label formats. Messages younger than an hour show just the clock
// time; messages older than a day show the date too. Anything in between is
// too old for a live time but too recent for an absolute one, so it shows
// nothing.
const (
	shortTimeFormat = "3:04 PM"
	exactTimeFormat = "Jan 2, 3:04 PM"
)

// Entry is a message paired with its computed display label. An empty label
// means the timestamp is suppressed for that entry.
type Entry struct {
	Message models.Message
	Label   string
	Pending bool
}

// DisplayLabel computes the rendered timestamp for a single send time.
// The second return is false when the timestamp should be suppressed.
func DisplayLabel(sentAt, now time.Time) (string, bool) {
	age := now.Sub(sentAt)
	switch {
	case age < time.Hour:
		return sentAt.Format(shortTimeFormat), true
	case age > 24*time.Hour:
		return sentAt.Format(exactTimeFormat), true
	default:
		return "", false
	}
}

// Annotate computes display labels for a newest-first message sequence.
// It scans oldest to newest so that a run of messages sharing a rendered
// label shows it once, on the oldest of the run. Messages with no send time
// are skipped. The input messages are not modified.
func Annotate(msgs []models.Message, now time.Time) []Entry {
	entries := make([]Entry, len(msgs))
	for i, msg := range msgs {
		entries[i] = Entry{Message: msg}
	}

	lastLabel := ""
	for i := len(entries) - 1; i >= 0; i-- {
		msg := entries[i].Message
		if msg.SentAt == nil {
			continue
		}
		label, ok := DisplayLabel(*msg.SentAt, now)
		if !ok || label == lastLabel {
			continue
		}
		entries[i].Label = label
		lastLabel = label
	}
	return entries
}
