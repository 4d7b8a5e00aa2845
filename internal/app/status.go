package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"nockwatch/internal/metrics"
	"nockwatch/internal/notify"
)

// Metrics derives a live snapshot and prints the mining report. When
// sendTo is non-zero the report is also delivered to that chat.
func (a *App) Metrics(ctx context.Context, sendTo int64) error {
	snap, err := a.newCollector(a.newSource()).Collect(ctx)
	if err != nil {
		return err
	}
	return a.deliver(notify.RenderMetrics(snap, a.previousRate(ctx)), sendTo)
}

// Tip prints the latest-block view.
func (a *App) Tip(ctx context.Context, sendTo int64) error {
	source := a.newSource()
	block, err := a.newLocator(source).Tip(ctx)
	if err != nil {
		return err
	}
	return a.deliver(notify.RenderTip(block, time.Now().UTC()), sendTo)
}

// Volume prints the trailing transfer-volume report.
func (a *App) Volume(ctx context.Context, sendTo int64) error {
	agg := metrics.NewVolumeAggregator(a.newSource(), a.Logger)
	report, err := agg.Aggregate(ctx, a.Config.Metrics.VolumeWindow, time.Now().UTC())
	if err != nil {
		return err
	}
	return a.deliver(notify.RenderVolumeReport(report), sendTo)
}

// previousRate pulls the last persisted proofrate so a one-shot report
// can carry a trend marker. Without a database there is no previous
// cycle and the marker falls back to the absolute health grade.
func (a *App) previousRate(ctx context.Context) float64 {
	store, closeStore, err := a.openStore(ctx)
	if err != nil || store == nil {
		return 0
	}
	defer closeStore()

	samples, err := store.ListRecentSamples(ctx, 1)
	if err != nil || len(samples) == 0 {
		return 0
	}
	return samples[0].Proofrate.InexactFloat64()
}

// deliver writes the report to stdout and optionally relays it over
// Telegram so operators can push a report into a chat by hand.
func (a *App) deliver(text string, sendTo int64) error {
	fmt.Fprintln(os.Stdout, text)
	if sendTo == 0 {
		return nil
	}

	notifier, err := a.newNotifier()
	if err != nil {
		return err
	}
	if notifier == nil {
		return errors.New("alerting.telegram must be enabled to send reports")
	}
	return notifier.Send(sendTo, text)
}
