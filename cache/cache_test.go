package cache

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestSetAndGet(t *testing.T) {
	c := New(zerolog.Nop())

	c.Set(MessagesKey(7), "pages")

	value, ok := c.Get(MessagesKey(7))
	assert.True(t, ok)
	assert.Equal(t, "pages", value)

	_, ok = c.Get(MessagesKey(8))
	assert.False(t, ok)
}

func TestInvalidateMarksStaleAndNotifies(t *testing.T) {
	c := New(zerolog.Nop())
	c.Set(ChatsKey("Buy"), "groups")

	fired := 0
	unsubscribe := c.Subscribe(ChatsKey("Buy"), func() { fired++ })

	c.Invalidate(ChatsKey("Buy"))

	assert.Equal(t, 1, fired)
	_, ok := c.Get(ChatsKey("Buy"))
	assert.False(t, ok, "stale entries are not served")

	// A fresh Set clears the stale mark.
	c.Set(ChatsKey("Buy"), "groups v2")
	value, ok := c.Get(ChatsKey("Buy"))
	assert.True(t, ok)
	assert.Equal(t, "groups v2", value)

	unsubscribe()
	c.Invalidate(ChatsKey("Buy"))
	assert.Equal(t, 1, fired, "unsubscribed listeners stay quiet")
}

func TestInvalidateMultipleKeys(t *testing.T) {
	c := New(zerolog.Nop())
	c.Set(MessagesKey(7), "a")
	c.Set(ChatsKey("Sell"), "b")

	c.Invalidate(MessagesKey(7), ChatsKey("Sell"))

	_, ok := c.Get(MessagesKey(7))
	assert.False(t, ok)
	_, ok = c.Get(ChatsKey("Sell"))
	assert.False(t, ok)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "messages/7", MessagesKey(7))
	assert.Equal(t, "chat_id/3", ChatIDKey(3))
	assert.Equal(t, "chats/Buy", ChatsKey("Buy"))
}
