// Package scheduler runs the perpetual fetch-parse-store-dispatch loop.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/quakewatch/quake-alert-service/internal/domain"
	"github.com/quakewatch/quake-alert-service/internal/feed"
	"github.com/quakewatch/quake-alert-service/internal/observability"
)

// Fetcher retrieves the raw bulletin body.
type Fetcher interface {
	Fetch(ctx context.Context) (string, error)
}

// Inserter persists a batch and returns the records that were new.
type Inserter interface {
	InsertEvents(ctx context.Context, events []domain.Earthquake) ([]domain.Earthquake, error)
}

// Dispatcher fans new events out to notification targets. Delivery
// failures are handled inside the fan-out, so dispatch never fails a cycle.
type Dispatcher interface {
	Dispatch(ctx context.Context, events []domain.Earthquake)
}

// Status is a snapshot of the polling loop for the status endpoint.
type Status struct {
	Running      bool       `json:"running"`
	IntervalSecs int        `json:"interval_seconds"`
	Cycles       uint64     `json:"cycles"`
	LastCycleAt  *time.Time `json:"last_cycle_at,omitempty"`
	LastOutcome  string     `json:"last_outcome,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	LastInserted int        `json:"last_inserted"`
}

// Scheduler drives one cycle per interval. A failed or panicking cycle is
// logged and the loop carries on; only context cancellation stops it.
type Scheduler struct {
	fetcher    Fetcher
	store      Inserter
	dispatcher Dispatcher
	clock      clockwork.Clock
	interval   time.Duration
	debugDir   string
	logger     *slog.Logger
	metrics    *observability.Metrics

	mu      sync.Mutex
	running bool
	status  Status
}

func New(fetcher Fetcher, store Inserter, dispatcher Dispatcher, clock clockwork.Clock, interval time.Duration, debugDir string, logger *slog.Logger, metrics *observability.Metrics) *Scheduler {
	return &Scheduler{
		fetcher:    fetcher,
		store:      store,
		dispatcher: dispatcher,
		clock:      clock,
		interval:   interval,
		debugDir:   debugDir,
		logger:     logger,
		metrics:    metrics,
	}
}

// CheckReadiness returns nil once at least one cycle has completed
// successfully.
func (s *Scheduler) CheckReadiness(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.LastOutcome != "success" {
		return errors.New("no polling cycle has succeeded yet")
	}
	return nil
}

// Status reports the current loop state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Running = s.running
	st.IntervalSecs = int(s.interval / time.Second)
	return st
}

// Run executes cycles until the context is cancelled. The first cycle
// starts immediately; the interval sits between cycles.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)
	s.metrics.SchedulerRunning.Set(1)
	s.setRunning(true)
	defer func() {
		s.metrics.SchedulerRunning.Set(0)
		s.setRunning(false)
	}()

	for {
		s.runCycle(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping", "reason", ctx.Err())
			return nil
		case <-s.clock.After(s.interval):
		}
	}
}

// runCycle performs one fetch-parse-store-dispatch pass. Panics are
// contained so a bad cycle cannot take the loop down.
func (s *Scheduler) runCycle(ctx context.Context) {
	start := time.Now()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("cycle panicked: %v", r)
			}
		}()
		return s.cycle(ctx)
	}()

	s.mu.Lock()
	now := s.clock.Now().UTC()
	s.status.Cycles++
	s.status.LastCycleAt = &now
	if err != nil {
		s.status.LastOutcome = "error"
		s.status.LastError = err.Error()
	} else {
		s.status.LastOutcome = "success"
		s.status.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.metrics.Cycles.WithLabelValues("error").Inc()
		s.logger.Error("polling cycle failed", "error", err)
		return
	}

	s.metrics.Cycles.WithLabelValues("success").Inc()
	s.metrics.CycleDuration.Observe(time.Since(start).Seconds())
}

func (s *Scheduler) cycle(ctx context.Context) error {
	body, err := s.fetcher.Fetch(ctx)
	if err != nil {
		s.metrics.FeedFetches.WithLabelValues("error").Inc()
		return fmt.Errorf("fetch: %w", err)
	}
	s.metrics.FeedFetches.WithLabelValues("success").Inc()

	res, err := feed.Parse(body)
	if err != nil {
		s.metrics.ExtractionFails.Inc()
		s.retainRaw(body)
		return fmt.Errorf("parse: %w", err)
	}

	s.metrics.EventsFetched.Add(float64(len(res.Events)))
	if len(res.Skipped) > 0 {
		s.metrics.LinesSkipped.Add(float64(len(res.Skipped)))
		for _, sk := range res.Skipped {
			s.logger.Warn("bulletin line skipped", "reason", sk.Reason, "line", sk.Line)
		}
	}

	inserted, err := s.store.InsertEvents(ctx, res.Events)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	s.metrics.EventsInserted.Add(float64(len(inserted)))

	s.mu.Lock()
	s.status.LastInserted = len(inserted)
	s.mu.Unlock()

	s.logger.Info("polling cycle complete",
		"fetched", len(res.Events), "skipped", len(res.Skipped), "new", len(inserted))

	if len(inserted) == 0 {
		return nil
	}
	s.dispatcher.Dispatch(ctx, inserted)
	return nil
}

// retainRaw writes the unparseable body to the debug directory so the feed
// change can be diagnosed offline.
func (s *Scheduler) retainRaw(body string) {
	if s.debugDir == "" {
		return
	}
	if err := os.MkdirAll(s.debugDir, 0o755); err != nil {
		s.logger.Error("create debug dir failed", "dir", s.debugDir, "error", err)
		return
	}
	name := "koeri-response-" + s.clock.Now().UTC().Format("20060102T150405Z") + ".html"
	path := filepath.Join(s.debugDir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		s.logger.Error("retain raw response failed", "path", path, "error", err)
		return
	}
	s.logger.Warn("raw response retained", "path", path)
}

func (s *Scheduler) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}
