package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache("task-1", 2, nil)
	c.Put(CachedCheckpoint{ID: "a", Iteration: 1})
	c.Put(CachedCheckpoint{ID: "b", Iteration: 2})

	// touch "a" so "b" becomes the least recently used
	_, ok := c.Get("a")
	assert.True(t, ok)

	c.Put(CachedCheckpoint{ID: "c", Iteration: 3})
	assert.Equal(t, 2, c.Len())

	_, ok = c.Get("b")
	assert.False(t, ok, "b should have been evicted as least recently used")

	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestCacheEvictExplicit(t *testing.T) {
	c := NewCache("task-1", 4, nil)
	c.Put(CachedCheckpoint{ID: "a"})
	c.Evict("a")
	_, ok := c.Get("a")
	assert.False(t, ok)
}
