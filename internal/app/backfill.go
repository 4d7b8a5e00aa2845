package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"nockwatch/internal/chain"
	"nockwatch/internal/service"
	"nockwatch/internal/storage"
)

// backfillSlack is how far before the window start blocks are fetched so
// the first buckets can still resolve a tip across a mining stall.
const backfillSlack = 6 * time.Hour

// Backfill recomputes snapshot history straight from the chain. Blocks
// are immutable, so any past cycle can be rederived: the block mined
// most recently before each bucket close is treated as that cycle's tip.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	interval := a.Config.Scheduler.Interval

	start := alignForward(opts.From.UTC(), interval)
	end := opts.To.UTC()
	if !start.Before(end) {
		return errors.New("backfill window is empty; check --from/--to")
	}

	var sampleStore storage.SampleStore
	if opts.DryRun {
		a.Logger.Warn().Msg("dry run: nothing will be written")
	} else {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("database.dsn not configured; cannot backfill")
		}
		if closeStore != nil {
			defer closeStore()
		}
		sampleStore = store
	}

	source := a.newSource()
	collector := a.newCollector(source)

	blocks, err := source.BlocksByTimestampRange(ctx, start.Add(-backfillSlack).Unix(), end.Unix())
	if err != nil {
		return fmt.Errorf("fetch block range: %w", err)
	}
	if len(blocks) == 0 {
		return errors.New("no blocks found in the backfill window")
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Timestamp < blocks[j].Timestamp })

	processed := 0
	failed := 0
	for bucket := start; bucket.Before(end); bucket = bucket.Add(interval) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		tip := tipAsOf(blocks, bucket.Unix())
		if tip == nil {
			failed++
			a.Logger.Warn().Time("bucket", bucket).Msg("no block precedes bucket close")
			continue
		}

		snap, err := collector.CollectAt(ctx, tip, bucket)
		if err != nil {
			failed++
			a.Logger.Error().Err(err).Time("bucket", bucket).Msg("bucket derivation failed")
			if sampleStore != nil {
				if markErr := sampleStore.MarkCycleFailed(ctx, bucket, err.Error()); markErr != nil {
					a.Logger.Error().Err(markErr).Time("bucket", bucket).Msg("failed to record bucket failure")
				}
			}
			continue
		}

		if sampleStore != nil {
			if err := sampleStore.UpsertMetricsSample(ctx, service.SampleFor(bucket, snap)); err != nil {
				failed++
				a.Logger.Error().Err(err).Time("bucket", bucket).Msg("failed to upsert backfilled sample")
				continue
			}
		}
		processed++
	}

	a.Logger.Info().Int("processed", processed).Int("failed", failed).Msg("backfill finished")
	if failed > 0 {
		return errors.New("some buckets failed to backfill; check the log")
	}
	return nil
}

// tipAsOf returns the latest block whose timestamp does not exceed ts.
// blocks must be sorted by timestamp ascending.
func tipAsOf(blocks []chain.Block, ts int64) *chain.Block {
	idx := sort.Search(len(blocks), func(i int) bool { return blocks[i].Timestamp > ts }) - 1
	if idx < 0 {
		return nil
	}
	return &blocks[idx]
}

func alignForward(t time.Time, interval time.Duration) time.Time {
	truncated := t.Truncate(interval)
	if truncated.Before(t) {
		return truncated.Add(interval)
	}
	return truncated
}
