// Package signedcache remembers which transfer requests this node has
// already signed so they are not signed again while the ledger catches up.
package signedcache

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gocache "github.com/patrickmn/go-cache"
)

const (
	DefaultTTL             = 30 * time.Minute
	DefaultCleanupInterval = time.Hour
)

var (
	ErrInvalidTTL      = errors.New("signed cache ttl must be positive")
	ErrInvalidInterval = errors.New("signed cache cleanup interval must be positive")
)

// Cache maps creation tx ids to the time they were signed.
// Entries vanish after the ttl, the janitor sweeps them every cleanup interval.
type Cache struct {
	ttl time.Duration
	c   *gocache.Cache
}

func New(ttl, cleanupInterval time.Duration) (*Cache, error) {
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	if cleanupInterval <= 0 {
		return nil, ErrInvalidInterval
	}

	return &Cache{
		ttl: ttl,
		c:   gocache.New(ttl, cleanupInterval),
	}, nil
}

func NewDefault() *Cache {
	c, _ := New(DefaultTTL, DefaultCleanupInterval)
	return c
}

// Put records that creationTxID was signed now.
func (c *Cache) Put(creationTxID common.Hash) {
	c.c.Set(key(creationTxID), time.Now(), gocache.DefaultExpiration)
}

func (c *Cache) Has(creationTxID common.Hash) bool {
	_, found := c.c.Get(key(creationTxID))
	return found
}

func (c *Cache) SignedAt(creationTxID common.Hash) (time.Time, bool) {
	v, found := c.c.Get(key(creationTxID))
	if !found {
		return time.Time{}, false
	}
	return v.(time.Time), true
}

// Len counts entries including expired ones not yet swept.
func (c *Cache) Len() int {
	return c.c.ItemCount()
}

func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func key(h common.Hash) string {
	return string(h[:])
}
