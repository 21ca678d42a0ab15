// Package scheduler drives the periodic evaluation of every twin.
//
// Each tick lists the twins and evaluates them with bounded parallelism.
// A twin still being evaluated from an earlier tick is skipped. Within a
// twin the steps run in a fixed order:
//
//	reminders -> adherence -> stuck doors -> irregularity report
//
// A failing or panicking step is logged and does not prevent the
// remaining steps or other twins from running.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/medtwin-core/internal/infrastructure/metrics"
	"github.com/nerrad567/medtwin-core/internal/service"
	"github.com/nerrad567/medtwin-core/internal/twin"
)

// MinInterval is the shortest accepted tick period.
const MinInterval = time.Second

// Registry is the subset of the twin registry the scheduler needs.
type Registry interface {
	ListTwins(ctx context.Context) ([]twin.Twin, error)
	Runtime(ctx context.Context, twinID string) (*twin.Runtime, error)
}

// Logger is the logging interface used by the scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config controls tick period and parallelism.
type Config struct {
	Interval           time.Duration
	MaxConcurrentTwins int
}

// Scheduler evaluates twins on a fixed interval.
//
// Thread Safety: RunOnce may be called concurrently with the loop.
type Scheduler struct {
	registry Registry
	cfg      Config
	logger   Logger
	now      func() time.Time

	busyMu sync.Mutex
	busy   map[string]struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a scheduler. Interval is clamped to MinInterval and
// concurrency to at least one twin.
func New(registry Registry, cfg Config) *Scheduler {
	if cfg.Interval < MinInterval {
		cfg.Interval = MinInterval
	}
	if cfg.MaxConcurrentTwins < 1 {
		cfg.MaxConcurrentTwins = 1
	}
	return &Scheduler{
		registry: registry,
		cfg:      cfg,
		logger:   noopLogger{},
		now:      time.Now,
		busy:     make(map[string]struct{}),
	}
}

// SetLogger sets the logger.
func (s *Scheduler) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Interval returns the effective tick period.
func (s *Scheduler) Interval() time.Duration {
	return s.cfg.Interval
}

// Start launches the tick loop. It returns an error if already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("scheduler: already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)

	s.logger.Info("scheduler started", "interval", s.cfg.Interval.String(), "max_concurrent_twins", s.cfg.MaxConcurrentTwins)
	return nil
}

// Stop ends the loop and waits for the running tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx, s.now()); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("scheduler tick failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single tick at now. Per-twin failures are logged
// and counted; only a failure to list twins is returned.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) error {
	start := time.Now()
	metrics.SchedulerTicksTotal.Inc()
	defer func() {
		metrics.SchedulerTickDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	twins, err := s.registry.ListTwins(ctx)
	if err != nil {
		return fmt.Errorf("listing twins: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrentTwins)
	for i := range twins {
		id := twins[i].ID
		if !s.acquire(id) {
			metrics.SchedulerTwinRunsTotal.WithLabelValues(metrics.OutcomeSkipped).Inc()
			s.logger.Debug("twin still running, skipping", "twin_id", id)
			continue
		}
		g.Go(func() error {
			defer s.release(id)
			s.runTwin(gctx, id, now)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) acquire(id string) bool {
	s.busyMu.Lock()
	defer s.busyMu.Unlock()
	if _, ok := s.busy[id]; ok {
		return false
	}
	s.busy[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.busyMu.Lock()
	delete(s.busy, id)
	s.busyMu.Unlock()
}

// step is one periodic evaluation applied to a runtime.
type step struct {
	name string
	kind service.Kind
	run  func(ctx context.Context, rt *twin.Runtime, now time.Time) error
}

var steps = []step{
	{"reminders", service.KindMedicationReminder, func(ctx context.Context, rt *twin.Runtime, now time.Time) error {
		_, err := rt.RunReminders(ctx, now)
		return err
	}},
	{"adherence", service.KindMedicationReminder, func(ctx context.Context, rt *twin.Runtime, now time.Time) error {
		_, err := rt.CheckAdherence(ctx, now)
		return err
	}},
	{"stuck_doors", service.KindDoorEvent, func(ctx context.Context, rt *twin.Runtime, now time.Time) error {
		_, err := rt.CheckStuckDoors(ctx, now)
		return err
	}},
	{"irregularities", service.KindIrregularityAlert, func(ctx context.Context, rt *twin.Runtime, now time.Time) error {
		_, err := rt.CheckIrregularities(ctx, now)
		return err
	}},
}

func (s *Scheduler) runTwin(ctx context.Context, id string, now time.Time) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Interval)
	defer cancel()

	rt, err := s.registry.Runtime(ctx, id)
	if err != nil {
		metrics.SchedulerTwinRunsTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		s.logger.Warn("loading twin runtime failed", "twin_id", id, "error", err)
		return
	}

	failed := false
	for _, st := range steps {
		if !rt.HasService(st.kind) {
			continue
		}
		if err := s.runStep(ctx, rt, st, now); err != nil {
			failed = true
			s.logger.Error("scheduler step failed", "twin_id", id, "step", st.name, "error", err)
		}
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		metrics.SchedulerTwinRunsTotal.WithLabelValues(metrics.OutcomeTimeout).Inc()
	case failed:
		metrics.SchedulerTwinRunsTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
	default:
		metrics.SchedulerTwinRunsTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	}
}

func (s *Scheduler) runStep(ctx context.Context, rt *twin.Runtime, st step, now time.Time) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in %s: %v", st.name, rec)
		}
	}()
	return st.run(ctx, rt, now)
}
