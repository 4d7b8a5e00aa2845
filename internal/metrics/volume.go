package metrics

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"nockwatch/internal/chain"
)

// giftDenominator converts smallest-unit seed gifts into NOCK.
const giftDenominator = 65536

// VolumeReport summarises transfer activity over a trailing window.
type VolumeReport struct {
	Volume      decimal.Decimal
	TxCount     int
	BlockCount  int
	WindowStart time.Time
	WindowEnd   time.Time
}

// VolumeAggregator sums non-coinbase transfer value across a window of
// blocks.
type VolumeAggregator struct {
	source chain.BlockSource
	logger zerolog.Logger
}

// NewVolumeAggregator constructs a volume aggregator.
func NewVolumeAggregator(source chain.BlockSource, logger zerolog.Logger) *VolumeAggregator {
	return &VolumeAggregator{
		source: source,
		logger: logger.With().Str("component", "volume_aggregator").Logger(),
	}
}

// Aggregate reports transfer volume for [now-window, now]. A failure to
// list the block range aborts with no partial result; a failure to fetch
// one block's transactions only costs that block's contribution.
func (a *VolumeAggregator) Aggregate(ctx context.Context, window time.Duration, now time.Time) (*VolumeReport, error) {
	start := now.Add(-window)

	blocks, err := a.source.BlocksByTimestampRange(ctx, start.Unix(), now.Unix())
	if err != nil {
		return nil, err
	}

	total := new(big.Int)
	txCount := 0
	for i := range blocks {
		block := &blocks[i]
		if len(block.TxIDs) == 0 {
			continue
		}

		txs, err := a.source.TransactionsByBlockHeight(ctx, block.Height)
		if err != nil {
			a.logger.Warn().Err(err).Uint64("height", block.Height).Msg("skipping block transactions")
			continue
		}

		txCount += len(txs)
		for _, tx := range txs {
			for _, out := range tx.Outputs {
				for _, seed := range out.Seeds {
					if seed.IsCoinbase {
						continue
					}
					total.Add(total, &seed.Gift.Int)
				}
			}
		}
	}

	volume := decimal.NewFromBigInt(total, 0).Div(decimal.NewFromInt(giftDenominator))

	return &VolumeReport{
		Volume:      volume,
		TxCount:     txCount,
		BlockCount:  len(blocks),
		WindowStart: start,
		WindowEnd:   now,
	}, nil
}

// RenderVolume formats a NOCK amount with thousands separators, dropping
// decimals once the value reaches four digits.
func RenderVolume(v decimal.Decimal) string {
	if v.GreaterThanOrEqual(decimal.NewFromInt(1000)) {
		return groupThousands(v.StringFixed(0))
	}
	return groupThousands(v.StringFixed(2))
}

func groupThousands(s string) string {
	intPart := s
	frac := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}
	neg := false
	if len(intPart) > 0 && intPart[0] == '-' {
		neg = true
		intPart = intPart[1:]
	}

	n := len(intPart)
	if n <= 3 {
		if neg {
			return "-" + intPart + frac
		}
		return intPart + frac
	}

	var out []byte
	lead := n % 3
	if lead > 0 {
		out = append(out, intPart[:lead]...)
	}
	for i := lead; i < n; i += 3 {
		if len(out) > 0 {
			out = append(out, ',')
		}
		out = append(out, intPart[i:i+3]...)
	}
	if neg {
		return "-" + string(out) + frac
	}
	return string(out) + frac
}
