package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"nockwatch/internal/storage"
)

// Show prints recent history rows, newest first.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show history")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Alerts {
		return showAlerts(ctx, store, opts.Limit)
	}
	return showSamples(ctx, store, opts.Limit)
}

func showSamples(ctx context.Context, store *storage.Store, limit int) error {
	samples, err := store.ListRecentSamples(ctx, limit)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		fmt.Fprintln(os.Stdout, "no samples found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tHeight\tProofrate\tDifficulty\tAvgBlock(s)\tAdjRatio\tStatus\tError")

	for _, sample := range samples {
		errMsg := ""
		if sample.Error != nil {
			errMsg = sanitizeInline(*sample.Error)
		}
		fmt.Fprintf(
			writer,
			"%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			sample.Bucket.UTC().Format(time.RFC3339),
			sample.Height,
			formatDecimal(sample.Proofrate, 3),
			formatDecimal(sample.DifficultyExp, 1),
			formatDecimal(sample.AvgBlockSeconds, 1),
			formatDecimal(sample.AdjustmentRatio, 3),
			sample.Status,
			errMsg,
		)
	}
	writer.Flush()

	if total, err := store.CountSamples(ctx); err == nil {
		fmt.Fprintf(os.Stdout, "showing %d of %d stored samples\n", len(samples), total)
	}
	return nil
}

func showAlerts(ctx context.Context, store *storage.Store, limit int) error {
	alerts, err := store.ListRecentAlerts(ctx, limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tRecipient\tKind\tThreshold\tProofrate\tBroadcast\tDelivered")

	for _, rec := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%d\t%s\t%s\t%s\t%t\t%t\n",
			rec.CycleTS.UTC().Format(time.RFC3339),
			rec.RecipientID,
			rec.Kind,
			formatDecimal(rec.Threshold, 2),
			formatDecimal(rec.Proofrate, 3),
			rec.Broadcast,
			rec.Delivered,
		)
	}
	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
