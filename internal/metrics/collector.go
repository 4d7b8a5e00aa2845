package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"nockwatch/internal/chain"
)

// Collector produces snapshots from the live chain: locate the tip,
// fetch the anchor block a lookback below it, derive.
type Collector struct {
	source   chain.BlockSource
	locator  *chain.Locator
	lookback uint64
	logger   zerolog.Logger
	now      func() time.Time
}

// NewCollector builds a collector. Lookback is the anchor distance in
// blocks; genesis bounds it from below on a young chain.
func NewCollector(source chain.BlockSource, locator *chain.Locator, lookback uint64, logger zerolog.Logger) *Collector {
	return &Collector{
		source:   source,
		locator:  locator,
		lookback: lookback,
		logger:   logger.With().Str("component", "collector").Logger(),
		now:      time.Now,
	}
}

// Collect derives one snapshot from the current chain state. Any fetch
// failure aborts the whole collection; the caller decides whether that
// means a skipped cycle or a failed command.
func (c *Collector) Collect(ctx context.Context) (Snapshot, error) {
	tip, err := c.locator.Tip(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("locate tip: %w", err)
	}
	return c.CollectAt(ctx, tip, c.now().UTC())
}

// CollectAt derives a snapshot treating the given block as the tip.
// Blocks are immutable, so replaying a past cycle through here yields
// exactly what a live cycle at that time would have derived.
func (c *Collector) CollectAt(ctx context.Context, tip *chain.Block, at time.Time) (Snapshot, error) {
	anchorHeight := uint64(1)
	if tip.Height > c.lookback {
		anchorHeight = tip.Height - c.lookback
	}

	anchor := tip
	if anchorHeight < tip.Height {
		blocks, err := c.source.BlocksByHeight(ctx, []uint64{anchorHeight})
		if err != nil {
			return Snapshot{}, fmt.Errorf("fetch anchor block %d: %w", anchorHeight, err)
		}
		if len(blocks) == 0 || blocks[0] == nil {
			return Snapshot{}, fmt.Errorf("anchor block %d not found", anchorHeight)
		}
		anchor = blocks[0]
	}

	return Derive(anchor, tip, at), nil
}
