package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"nockwatch/internal/alert"
	"nockwatch/internal/chain"
	"nockwatch/internal/config"
	"nockwatch/internal/metrics"
	"nockwatch/internal/notify"
	"nockwatch/internal/scheduler"
	"nockwatch/internal/storage"
	"nockwatch/internal/subscribers"
)

// Service orchestrates polling, metric derivation, persistence, and
// alert dispatch.
type Service struct {
	scheduler  *scheduler.Scheduler
	collector  *metrics.Collector
	registry   *subscribers.Registry
	engine     *alert.Engine
	notifier   notify.Notifier
	store      storage.SampleStore
	alertStore storage.AlertStore
	logger     zerolog.Logger

	recipients []int64
	alertsOn   bool
	locker     storage.AdvisoryLocker
	lockKey    int64
	retention  time.Duration
	now        func() time.Time

	mu       sync.Mutex
	last     *metrics.Snapshot
	prevRate float64
}

// New constructs the monitoring service. The alert engine is owned by
// the service; its latch state lives and dies with the process.
func New(cfg *config.Config, sched *scheduler.Scheduler, source chain.BlockSource, locator *chain.Locator, registry *subscribers.Registry, notifier notify.Notifier, store storage.SampleStore, alertStore storage.AlertStore, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:  sched,
		collector:  metrics.NewCollector(source, locator, cfg.Metrics.Lookback, logger),
		registry:   registry,
		engine:     alert.NewEngine(logger),
		notifier:   notifier,
		store:      store,
		alertStore: alertStore,
		logger:     logger.With().Str("component", "service").Logger(),
		recipients: cfg.Alerting.Recipients,
		alertsOn:   cfg.Alerting.Enabled,
		locker:     locker,
		lockKey:    cfg.Scheduler.AdvisoryLockKey,
		retention:  cfg.Database.AlertRetention,
		now:        time.Now,
	}
}

// Run begins the scheduled polling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.RunCycle)
}

// RunCycle executes one poll cycle, guarded by the advisory lock when
// storage is configured.
func (s *Service) RunCycle(ctx context.Context, cycle time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("cycle", cycle).Msg("skipping cycle, advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeCycle(ctx, cycle)
}

func (s *Service) executeCycle(ctx context.Context, cycle time.Time) error {
	snap, err := s.collector.Collect(ctx)
	if err != nil {
		s.recordFailure(ctx, cycle, err)
		return fmt.Errorf("collect metrics: %w", err)
	}

	s.persist(ctx, cycle, snap)
	s.remember(snap)

	s.logger.Info().
		Time("cycle", cycle).
		Uint64("height", snap.Height).
		Str("proofrate", snap.Proofrate).
		Str("difficulty", snap.Difficulty).
		Msg("snapshot derived")

	if s.alertsOn && s.notifier != nil {
		s.dispatch(ctx, cycle, snap, s.evaluate(snap.ProofrateMPS))
	}
	s.pruneAudit(ctx)

	return nil
}

// Snapshot returns the last derived snapshot and the proofrate of the
// cycle before it, for period-over-period trend rendering.
func (s *Service) Snapshot() (metrics.Snapshot, float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return metrics.Snapshot{}, 0, false
	}
	return *s.last, s.prevRate, true
}

// SimulateRate pushes a synthetic proofrate through the engine and, when
// a notifier is wired, delivers the resulting messages exactly as a live
// cycle would. The returned events describe what was announced.
func (s *Service) SimulateRate(ctx context.Context, rate float64) []alert.Event {
	snap := metrics.Snapshot{
		ObservedAt:   s.now().UTC(),
		ProofrateMPS: rate,
		Proofrate:    metrics.RenderProofrate(rate),
		Difficulty:   "N/A",
	}

	events := s.evaluate(rate)
	if s.notifier != nil {
		s.dispatch(ctx, snap.ObservedAt, snap, events)
	}
	return events
}

// evaluate builds one engine input from the registry and runs it.
// Individuals are user subscribers under their own thresholds; groups
// join the configured broadcast chats under the global defaults.
func (s *Service) evaluate(rate float64) []alert.Event {
	in := alert.Input{RateMPS: rate}

	all := s.registry.All()
	ids := make([]int64, 0, len(all))
	for id, sub := range all {
		if sub.Kind == subscribers.KindUser {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		th := s.registry.Thresholds(id)
		in.Individuals = append(in.Individuals, alert.Target{
			ID:      id,
			Floor:   th.Floor,
			Ceiling: th.Ceiling,
			Expiry:  all[id].Expiry,
			Active:  s.registry.IsActive(id),
		})
	}

	defaults := s.registry.Defaults()
	in.Broadcast = alert.Broadcast{
		IDs:     s.broadcastPool(),
		Floor:   defaults.Floor,
		Ceiling: defaults.Ceiling,
	}

	return s.engine.Evaluate(in)
}

// broadcastPool merges the configured alert chats with group
// subscribers, deduplicated, in stable order.
func (s *Service) broadcastPool() []int64 {
	seen := make(map[int64]struct{})
	var pool []int64
	for _, id := range s.recipients {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			pool = append(pool, id)
		}
	}
	for _, id := range s.registry.Groups() {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			pool = append(pool, id)
		}
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i] < pool[j] })
	return pool
}

// dispatch delivers each event and audits the outcome. One failing
// recipient never blocks the rest.
func (s *Service) dispatch(ctx context.Context, cycle time.Time, snap metrics.Snapshot, events []alert.Event) {
	for _, ev := range events {
		text := notify.RenderAlert(ev, snap)
		delivered := true
		if err := s.notifier.Send(ev.RecipientID, text); err != nil {
			delivered = false
			s.logger.Error().Err(err).
				Int64("recipient", ev.RecipientID).
				Stringer("kind", ev.Kind).
				Msg("alert delivery failed")
		} else {
			s.logger.Info().
				Int64("recipient", ev.RecipientID).
				Stringer("kind", ev.Kind).
				Float64("threshold", ev.Threshold).
				Msg("alert delivered")
		}
		s.audit(ctx, cycle, snap, ev, delivered)
	}
}

func (s *Service) audit(ctx context.Context, cycle time.Time, snap metrics.Snapshot, ev alert.Event, delivered bool) {
	if s.alertStore == nil {
		return
	}
	rec := storage.AlertRecord{
		CycleTS:     cycle,
		RecipientID: ev.RecipientID,
		Kind:        ev.Kind.String(),
		Threshold:   decimal.NewFromFloat(ev.Threshold),
		Proofrate:   decimal.NewFromFloat(snap.ProofrateMPS),
		Broadcast:   ev.Broadcast,
		Delivered:   delivered,
	}
	if _, err := s.alertStore.InsertAlert(ctx, rec); err != nil {
		s.logger.Error().Err(err).Time("cycle", cycle).Msg("failed to persist alert record")
	}
}

// SampleFor converts a snapshot into its history row for the given
// cycle bucket.
func SampleFor(cycle time.Time, snap metrics.Snapshot) storage.MetricsSample {
	return storage.MetricsSample{
		Bucket:          cycle,
		Height:          int64(snap.Height),
		EpochCounter:    int64(snap.EpochCounter),
		Proofrate:       decimal.NewFromFloat(snap.ProofrateMPS),
		DifficultyExp:   decimal.NewFromFloat(snap.DifficultyExponent),
		AvgBlockSeconds: decimal.NewFromFloat(snap.AvgBlockSeconds),
		AdjustmentRatio: decimal.NewFromFloat(snap.AdjustmentRatio),
		Status:          "complete",
	}
}

func (s *Service) persist(ctx context.Context, cycle time.Time, snap metrics.Snapshot) {
	if s.store == nil {
		return
	}
	if err := s.store.UpsertMetricsSample(ctx, SampleFor(cycle, snap)); err != nil {
		s.logger.Error().Err(err).Time("cycle", cycle).Msg("failed to upsert metrics sample")
	}
}

func (s *Service) recordFailure(ctx context.Context, cycle time.Time, cause error) {
	if s.store == nil {
		return
	}
	if err := s.store.MarkCycleFailed(ctx, cycle, cause.Error()); err != nil {
		s.logger.Error().Err(err).Time("cycle", cycle).Msg("failed to record cycle failure")
	}
}

func (s *Service) pruneAudit(ctx context.Context) {
	if s.alertStore == nil || s.retention <= 0 {
		return
	}
	cutoff := s.now().UTC().Add(-s.retention)
	if err := s.alertStore.DeleteAlertsBefore(ctx, cutoff); err != nil {
		s.logger.Error().Err(err).Msg("failed to prune alert audit rows")
	}
}

func (s *Service) remember(snap metrics.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last != nil {
		s.prevRate = s.last.ProofrateMPS
	}
	s.last = &snap
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
