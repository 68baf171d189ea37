package client

import (
	"errors"
	"fmt"
)

// ErrNoRoom is returned by GetChatID when no chat room exists for the item
// yet. Callers create one lazily on the first outgoing message.
var ErrNoRoom = errors.New("no chat room for item")

// FetchError is a failed request against the HTTP API. It carries the
// status and any error message the backend included.
type FetchError struct {
	Path    string
	Status  int
	Message string
}

func (e *FetchError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("fetch %s: status %d: %s", e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("fetch %s: status %d", e.Path, e.Status)
}

// MalformedResponseError is a response body that failed contract
// validation. It is fatal for the request that produced it only.
type MalformedResponseError struct {
	Path string
	Err  error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response from %s: %v", e.Path, e.Err)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}
