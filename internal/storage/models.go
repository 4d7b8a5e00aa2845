package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// MetricsSample is one persisted poll-cycle observation. Failed cycles
// are recorded with Status "errored" and zeroed metric columns so gaps
// in the history are visible.
type MetricsSample struct {
	Bucket          time.Time
	Height          int64
	EpochCounter    int64
	Proofrate       decimal.Decimal
	DifficultyExp   decimal.Decimal
	AvgBlockSeconds decimal.Decimal
	AdjustmentRatio decimal.Decimal
	Status          string
	Error           *string
	CreatedAt       time.Time
}

// AlertRecord captures one emitted alert for auditing. Delivered is
// false when the notifier reported a send failure.
type AlertRecord struct {
	ID          int64
	CycleTS     time.Time
	RecipientID int64
	Kind        string
	Threshold   decimal.Decimal
	Proofrate   decimal.Decimal
	Broadcast   bool
	Delivered   bool
	CreatedAt   time.Time
}
