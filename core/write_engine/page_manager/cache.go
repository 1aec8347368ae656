package pagemanager

import (
	"fmt"
	"sync/atomic"
)

// Cache holds the process-wide memory accounting shared by every tree.
// All counters are atomic because pages of different trees are dirtied and
// cleaned concurrently.
type Cache struct {
	dirtyBytes atomic.Int64
	dirtyPages atomic.Int64
	inMemBytes atomic.Int64
	inMemPages atomic.Int64
	closed     atomic.Bool
}

// dirtyToken records exactly what one dirty transition added, so the
// matching decrement removes the same amount.
type dirtyToken struct {
	bytes int64
}

// NewCache creates the cache accounting; create one per process.
func NewCache() *Cache {
	return &Cache{}
}

func (c *Cache) DirtyBytes() int64    { return c.dirtyBytes.Load() }
func (c *Cache) DirtyPages() int64    { return c.dirtyPages.Load() }
func (c *Cache) InMemoryBytes() int64 { return c.inMemBytes.Load() }
func (c *Cache) InMemoryPages() int64 { return c.inMemPages.Load() }

// Close tears the accounting down. It fails if dirty bytes are still counted.
func (c *Cache) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if n := c.DirtyBytes(); n != 0 {
		return fmt.Errorf("cache closed with %d dirty bytes in %d pages", n, c.DirtyPages())
	}
	return nil
}

func (c *Cache) dirtyIncr(bytes int64) *dirtyToken {
	c.dirtyBytes.Add(bytes)
	c.dirtyPages.Add(1)
	return &dirtyToken{bytes: bytes}
}

func (c *Cache) dirtyDecr(tok *dirtyToken) {
	if c.dirtyBytes.Add(-tok.bytes) < 0 || c.dirtyPages.Add(-1) < 0 {
		panic("pagemanager: dirty accounting went negative")
	}
}

func (c *Cache) memIncr(bytes int64) {
	c.inMemBytes.Add(bytes)
	c.inMemPages.Add(1)
}

func (c *Cache) memDecr(bytes int64) {
	c.inMemBytes.Add(-bytes)
	c.inMemPages.Add(-1)
}
