package chain

import (
	"context"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/rs/zerolog"
)

// CachedSource wraps a BlockSource with a small LRU over blocks fetched
// by height. Mined blocks are immutable, so positive results never go
// stale; heights that came back empty are not cached because they become
// valid the moment the chain grows past them.
type CachedSource struct {
	inner  BlockSource
	logger zerolog.Logger

	mu       sync.Mutex
	byHeight *simplelru.LRU[uint64, *Block]
}

// NewCachedSource wraps source with an LRU of the given capacity.
func NewCachedSource(source BlockSource, size int, logger zerolog.Logger) (*CachedSource, error) {
	byHeight, err := simplelru.NewLRU[uint64, *Block](size, nil)
	if err != nil {
		return nil, err
	}
	return &CachedSource{
		inner:    source,
		logger:   logger.With().Str("component", "block_cache").Logger(),
		byHeight: byHeight,
	}, nil
}

// BlocksByHeight serves cached blocks where possible and fetches the
// remaining heights in one upstream call, preserving request order.
func (c *CachedSource) BlocksByHeight(ctx context.Context, heights []uint64) ([]*Block, error) {
	result := make([]*Block, len(heights))
	var missing []uint64

	c.mu.Lock()
	for i, h := range heights {
		if block, ok := c.byHeight.Get(h); ok {
			result[i] = block
			continue
		}
		missing = append(missing, h)
	}
	c.mu.Unlock()

	if len(missing) == 0 {
		return result, nil
	}

	fetched, err := c.inner.BlocksByHeight(ctx, missing)
	if err != nil {
		return nil, err
	}

	byHeight := make(map[uint64]*Block, len(fetched))
	c.mu.Lock()
	for i, block := range fetched {
		if block == nil {
			continue
		}
		if i < len(missing) {
			byHeight[missing[i]] = block
		}
		c.byHeight.Add(block.Height, block)
	}
	c.mu.Unlock()

	for i, h := range heights {
		if result[i] == nil {
			result[i] = byHeight[h]
		}
	}
	return result, nil
}

// Tip always goes upstream; the tip is the one height that moves.
func (c *CachedSource) Tip(ctx context.Context) (*Block, error) {
	block, err := c.inner.Tip(ctx)
	if err != nil {
		return nil, err
	}
	if block != nil {
		c.mu.Lock()
		c.byHeight.Add(block.Height, block)
		c.mu.Unlock()
	}
	return block, nil
}

// BlocksByTimestampRange is a pass-through; range results are not cached.
func (c *CachedSource) BlocksByTimestampRange(ctx context.Context, minTS, maxTS int64) ([]Block, error) {
	return c.inner.BlocksByTimestampRange(ctx, minTS, maxTS)
}

// TransactionsByBlockHeight is a pass-through.
func (c *CachedSource) TransactionsByBlockHeight(ctx context.Context, height uint64) ([]Transaction, error) {
	return c.inner.TransactionsByBlockHeight(ctx, height)
}

var _ BlockSource = (*CachedSource)(nil)
