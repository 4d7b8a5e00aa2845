package chain

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// SearchBracket seeds the height search. Low must be a height that is
// already mined; the search expands past High in Step increments until it
// finds unmined territory.
type SearchBracket struct {
	Low  uint64
	High uint64
	Step uint64
}

// Locator resolves the current chain tip. It prefers the indexer's direct
// tip query and falls back to a height-probe binary search when that
// query is unavailable. The fallback requires block existence to be
// monotonic in height: every height at or below the tip has a block,
// every height above has none.
type Locator struct {
	source  BlockSource
	bracket SearchBracket
	logger  zerolog.Logger
}

// NewLocator constructs a tip locator.
func NewLocator(source BlockSource, bracket SearchBracket, logger zerolog.Logger) *Locator {
	if bracket.Low == 0 {
		bracket.Low = 1
	}
	if bracket.High < bracket.Low {
		bracket.High = bracket.Low
	}
	if bracket.Step == 0 {
		bracket.Step = 5000
	}

	return &Locator{
		source:  source,
		bracket: bracket,
		logger:  logger.With().Str("component", "tip_locator").Logger(),
	}
}

// Tip returns the latest block. When the direct query fails it searches
// for the highest mined height and fetches that block instead.
func (l *Locator) Tip(ctx context.Context) (*Block, error) {
	block, err := l.source.Tip(ctx)
	if err == nil && block != nil {
		return block, nil
	}
	if err != nil {
		l.logger.Debug().Err(err).Msg("direct tip query failed, falling back to height search")
	}

	height, err := l.SearchHeight(ctx)
	if err != nil {
		return nil, err
	}

	blocks, err := l.source.BlocksByHeight(ctx, []uint64{height})
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 || blocks[0] == nil {
		return nil, fmt.Errorf("no block at located height %d", height)
	}
	return blocks[0], nil
}

// SearchHeight finds the highest mined height by binary search. The
// configured bracket only seeds the search; the upper bound grows by Step
// until it reaches unmined territory, so a stale bracket costs extra
// probes rather than a wrong answer.
func (l *Locator) SearchHeight(ctx context.Context) (uint64, error) {
	low := l.bracket.Low
	high := l.bracket.High

	mined, err := l.exists(ctx, low)
	if err != nil {
		return 0, err
	}
	if !mined {
		return 0, fmt.Errorf("no block at search floor %d", low)
	}

	for {
		mined, err := l.exists(ctx, high)
		if err != nil {
			return 0, err
		}
		if !mined {
			break
		}
		low = high
		high += l.bracket.Step
	}

	// low is mined, high is not; the midpoint rounds up so low always
	// advances and the loop terminates.
	for low < high {
		mid := low + (high-low+1)/2
		mined, err := l.exists(ctx, mid)
		if err != nil {
			return 0, err
		}
		if mined {
			low = mid
		} else {
			high = mid - 1
		}
	}

	l.logger.Debug().Uint64("height", low).Msg("located tip by height search")
	return low, nil
}

func (l *Locator) exists(ctx context.Context, height uint64) (bool, error) {
	blocks, err := l.source.BlocksByHeight(ctx, []uint64{height})
	if err != nil {
		return false, err
	}
	return len(blocks) > 0 && blocks[0] != nil, nil
}
