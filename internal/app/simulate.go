package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"nockwatch/internal/service"
)

// SimulateAlert pushes a synthetic proofrate through the real engine,
// registry, and notifier wiring. Without Telegram configured it is a
// dry run that only reports which recipients would have been alerted.
func (a *App) SimulateAlert(ctx context.Context, rate float64) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting.enabled must be true to simulate")
	}

	registry, err := a.newRegistry()
	if err != nil {
		return err
	}

	notifier, err := a.newNotifier()
	if err != nil {
		return err
	}
	if notifier == nil {
		a.Logger.Warn().Msg("telegram not configured; dry run only")
	}

	source := a.newSource()
	svc := service.New(a.Config, nil, source, a.newLocator(source), registry, notifier, nil, nil, a.Logger)

	events := svc.SimulateRate(ctx, rate)
	if len(events) == 0 {
		fmt.Fprintln(os.Stdout, "no thresholds tripped")
		return nil
	}
	for _, ev := range events {
		fmt.Fprintf(os.Stdout, "%s for %d (threshold %.2f MP/s)\n", ev.Kind, ev.RecipientID, ev.Threshold)
	}
	return nil
}
