package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertSampleSQL = `INSERT INTO metrics_samples (
        bucket_ts,
        height,
        epoch_counter,
        proofrate_mps,
        difficulty_exp,
        avg_block_seconds,
        adjustment_ratio,
        status,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (bucket_ts) DO UPDATE
    SET
        height            = EXCLUDED.height,
        epoch_counter     = EXCLUDED.epoch_counter,
        proofrate_mps     = EXCLUDED.proofrate_mps,
        difficulty_exp    = EXCLUDED.difficulty_exp,
        avg_block_seconds = EXCLUDED.avg_block_seconds,
        adjustment_ratio  = EXCLUDED.adjustment_ratio,
        status            = EXCLUDED.status,
        error             = EXCLUDED.error;`

	markCycleFailedSQL = `INSERT INTO metrics_samples (
        bucket_ts,
        height,
        epoch_counter,
        proofrate_mps,
        difficulty_exp,
        avg_block_seconds,
        adjustment_ratio,
        status,
        error
    ) VALUES (
        $1, 0, 0, 0, 0, 0, 0, 'errored', $2
    )
    ON CONFLICT (bucket_ts) DO NOTHING;`

	listSamplesBetweenSQL = `SELECT
        bucket_ts,
        height,
        epoch_counter,
        proofrate_mps,
        difficulty_exp,
        avg_block_seconds,
        adjustment_ratio,
        status,
        error,
        created_at
    FROM metrics_samples
    WHERE bucket_ts >= $1
      AND bucket_ts < $2
      AND status = 'complete'
    ORDER BY bucket_ts;`

	listRecentSamplesSQL = `SELECT
        bucket_ts,
        height,
        epoch_counter,
        proofrate_mps,
        difficulty_exp,
        avg_block_seconds,
        adjustment_ratio,
        status,
        error,
        created_at
    FROM metrics_samples
    ORDER BY bucket_ts DESC
    LIMIT $1;`

	countSamplesSQL = `SELECT COUNT(*) FROM metrics_samples;`

	insertAlertSQL = `INSERT INTO alerts (
        cycle_ts,
        recipient_id,
        kind,
        threshold_mps,
        proofrate_mps,
        broadcast,
        delivered
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    RETURNING id, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        cycle_ts,
        recipient_id,
        kind,
        threshold_mps,
        proofrate_mps,
        broadcast,
        delivered,
        created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SampleStore defines operations for snapshot history persistence.
type SampleStore interface {
	UpsertMetricsSample(ctx context.Context, sample MetricsSample) error
	MarkCycleFailed(ctx context.Context, bucket time.Time, errMsg string) error
	ListSamplesBetween(ctx context.Context, from, to time.Time) ([]MetricsSample, error)
	ListRecentSamples(ctx context.Context, limit int) ([]MetricsSample, error)
	CountSamples(ctx context.Context) (int64, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, rec AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to metrics samples and alert audit rows.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and
// returns a release func. The lock keeps concurrent daemon instances
// from double-announcing alerts.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// Unlock is best effort; the session lock dies with the
		// connection anyway.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertMetricsSample persists or updates one cycle's snapshot row.
func (s *Store) UpsertMetricsSample(ctx context.Context, sample MetricsSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var errMsg interface{}
	if sample.Error != nil {
		errMsg = *sample.Error
	}

	_, execErr := pool.Exec(ctx, upsertSampleSQL,
		sample.Bucket,
		sample.Height,
		sample.EpochCounter,
		sample.Proofrate.String(),
		sample.DifficultyExp.String(),
		sample.AvgBlockSeconds.String(),
		sample.AdjustmentRatio.String(),
		sample.Status,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("upsert metrics sample: %w", execErr)
	}
	return nil
}

// MarkCycleFailed records an errored row for a cycle that produced no
// snapshot. A completed row for the same bucket is never downgraded.
func (s *Store) MarkCycleFailed(ctx context.Context, bucket time.Time, errMsg string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, markCycleFailedSQL, bucket, errMsg); execErr != nil {
		return fmt.Errorf("mark cycle failed: %w", execErr)
	}
	return nil
}

// ListSamplesBetween lists completed samples within a time window in
// ascending bucket order.
func (s *Store) ListSamplesBetween(ctx context.Context, from, to time.Time) ([]MetricsSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]MetricsSample, 0)
	for rows.Next() {
		sample, scanErr := scanMetricsSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// ListRecentSamples lists the most recent samples, errored rows
// included, ordered by descending bucket.
func (s *Store) ListRecentSamples(ctx context.Context, limit int) ([]MetricsSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]MetricsSample, 0, limit)
	for rows.Next() {
		sample, scanErr := scanMetricsSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// CountSamples counts stored samples.
func (s *Store) CountSamples(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSamplesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

// InsertAlert persists one alert emission and returns the stored row.
func (s *Store) InsertAlert(ctx context.Context, rec AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		rec.CycleTS,
		rec.RecipientID,
		rec.Kind,
		rec.Threshold.String(),
		rec.Proofrate.String(),
		rec.Broadcast,
		rec.Delivered,
	)
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists the most recent alert emissions.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var rec AlertRecord
		var thresholdStr, proofrateStr string
		if err := rows.Scan(
			&rec.ID,
			&rec.CycleTS,
			&rec.RecipientID,
			&rec.Kind,
			&thresholdStr,
			&proofrateStr,
			&rec.Broadcast,
			&rec.Delivered,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		rec.Threshold, convErr = decimal.NewFromString(thresholdStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse threshold: %w", convErr)
		}
		rec.Proofrate, convErr = decimal.NewFromString(proofrateStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse proofrate: %w", convErr)
		}

		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore prunes historical alert rows.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

func scanMetricsSample(rows pgx.Rows) (MetricsSample, error) {
	var (
		bucket       time.Time
		height       int64
		epochCounter int64
		proofrateStr string
		diffExpStr   string
		avgStr       string
		ratioStr     string
		status       string
		errMsg       sql.NullString
		createdAt    time.Time
	)

	if err := rows.Scan(
		&bucket,
		&height,
		&epochCounter,
		&proofrateStr,
		&diffExpStr,
		&avgStr,
		&ratioStr,
		&status,
		&errMsg,
		&createdAt,
	); err != nil {
		return MetricsSample{}, err
	}

	proofrate, err := decimal.NewFromString(proofrateStr)
	if err != nil {
		return MetricsSample{}, fmt.Errorf("parse proofrate: %w", err)
	}
	diffExp, err := decimal.NewFromString(diffExpStr)
	if err != nil {
		return MetricsSample{}, fmt.Errorf("parse difficulty exponent: %w", err)
	}
	avg, err := decimal.NewFromString(avgStr)
	if err != nil {
		return MetricsSample{}, fmt.Errorf("parse avg block seconds: %w", err)
	}
	ratio, err := decimal.NewFromString(ratioStr)
	if err != nil {
		return MetricsSample{}, fmt.Errorf("parse adjustment ratio: %w", err)
	}

	sample := MetricsSample{
		Bucket:          bucket,
		Height:          height,
		EpochCounter:    epochCounter,
		Proofrate:       proofrate,
		DifficultyExp:   diffExp,
		AvgBlockSeconds: avg,
		AdjustmentRatio: ratio,
		Status:          status,
		CreatedAt:       createdAt,
	}
	if errMsg.Valid {
		msg := errMsg.String
		sample.Error = &msg
	}

	return sample, nil
}
