// Package cache implements a small keyed query cache with invalidation
// listeners. Values are cached per key until invalidated; invalidation
// marks the entry stale and notifies subscribers so they can refetch.
package cache

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Query keys. One per remote collection the client reads.
func MessagesKey(chatID int64) string { return fmt.Sprintf("messages/%d", chatID) }
func ChatIDKey(itemID int64) string   { return fmt.Sprintf("chat_id/%d", itemID) }
func ChatsKey(side string) string     { return "chats/" + side }

// Cache is a concurrency-safe keyed cache.
type Cache struct {
	log zerolog.Logger

	mu      sync.RWMutex
	entries map[string]interface{}
	stale   map[string]bool
	subs    map[string]map[int]func()
	subID   int
}

// New creates an empty cache.
func New(log zerolog.Logger) *Cache {
	return &Cache{
		log:     log.With().Str("component", "cache").Logger(),
		entries: make(map[string]interface{}),
		stale:   make(map[string]bool),
		subs:    make(map[string]map[int]func()),
	}
}

// Get returns the cached value for a key. Stale or absent entries return
// false.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stale[key] {
		return nil, false
	}
	value, ok := c.entries[key]
	return value, ok
}

// Set stores a value for a key and clears its stale mark.
func (c *Cache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	delete(c.stale, key)
}

// Invalidate marks keys stale and notifies their subscribers. Listeners run
// outside the lock.
func (c *Cache) Invalidate(keys ...string) {
	var listeners []func()
	c.mu.Lock()
	for _, key := range keys {
		c.stale[key] = true
		for _, fn := range c.subs[key] {
			listeners = append(listeners, fn)
		}
	}
	c.mu.Unlock()

	c.log.Debug().Strs("keys", keys).Msg("invalidated")
	for _, fn := range listeners {
		fn()
	}
}

// Subscribe registers a listener fired whenever the key is invalidated and
// returns a function that removes it.
func (c *Cache) Subscribe(key string, fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs[key] == nil {
		c.subs[key] = make(map[int]func())
	}
	c.subID++
	id := c.subID
	c.subs[key][id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs[key], id)
	}
}
