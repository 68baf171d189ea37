package channel

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned when a directive is attempted while the
// channel has no live connection.
var ErrNotConnected = errors.New("channel not connected")

// SendError is a failed outgoing send on the live channel.
type SendError struct {
	RoomID int64
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to room %d: %v", e.RoomID, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}
