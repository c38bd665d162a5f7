package worker

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/paulmach/orb/maptile"
)

// TileCacheConfig sizes a TileCache.
type TileCacheConfig struct {
	MaxCost int64         // total payload bytes to keep
	TTL     time.Duration // zero keeps tiles until evicted
}

// TileCache keeps assembled tiles keyed by style and coordinate.
type TileCache struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewTileCache creates a tile cache. MaxCost defaults to 256MB.
func NewTileCache(cfg TileCacheConfig) (*TileCache, error) {
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = 256 << 20
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     cfg.MaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create tile cache: %w", err)
	}
	return &TileCache{cache: c, ttl: cfg.TTL}, nil
}

func tileKey(styleID string, t maptile.Tile) string {
	return fmt.Sprintf("%s/%d/%d/%d", styleID, t.Z, t.X, t.Y)
}

// Get returns the cached tile for styleID at t.
func (c *TileCache) Get(styleID string, t maptile.Tile) (*Tile, bool) {
	v, found := c.cache.Get(tileKey(styleID, t))
	if !found {
		return nil, false
	}
	tile, ok := v.(*Tile)
	return tile, ok
}

// Put stores a tile. The write is visible to Get once Put returns.
func (c *TileCache) Put(tile *Tile) {
	cost := int64(tile.Size())
	if cost < 1 {
		cost = 1
	}
	key := tileKey(tile.StyleID, tile.Coord)
	if c.ttl > 0 {
		c.cache.SetWithTTL(key, tile, cost, c.ttl)
	} else {
		c.cache.Set(key, tile, cost)
	}
	c.cache.Wait()
}

// Invalidate drops the cached tile for styleID at t.
func (c *TileCache) Invalidate(styleID string, t maptile.Tile) {
	c.cache.Del(tileKey(styleID, t))
}

// Close releases the cache goroutines.
func (c *TileCache) Close() {
	c.cache.Close()
}
