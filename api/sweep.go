/*
sweep.go - Background sweep over time-driven state transitions

PURPOSE:
  Periodically advances every state machine whose next transition is a
  function of wall-clock time:
  - CONFIRMED appointments past their end become COMPLETED
  - monthly matches move through their registration lifecycle
  - the next month's match is created when missing

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each iteration is independent; a failed entity is logged and skipped
  - Concurrency conflicts are not errors: another replica won the
    transition, the next tick converges

CONFIGURATION:
  - Interval: how often to sweep (default: 1 minute)

USAGE:
  sweeper := NewSweeper(engine, lifecycle, logger)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - booking/engine.go: CompleteElapsed
  - tournament/lifecycle.go: Tick, EnsureUpcoming
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/paddlepoint/coaching-engine/booking"
	"github.com/paddlepoint/coaching-engine/tournament"
)

// DefaultSweepInterval is how often the sweep runs unless overridden.
const DefaultSweepInterval = time.Minute

// Sweeper drives the time-based transitions of both engines.
type Sweeper struct {
	Engine    *booking.Engine
	Lifecycle *tournament.Lifecycle
	Interval  time.Duration
	Log       *slog.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	// runMu serializes iterations so an admin-triggered RunNow never
	// overlaps a ticker-driven sweep.
	runMu sync.Mutex
}

// NewSweeper creates a sweeper with the default interval.
func NewSweeper(engine *booking.Engine, lifecycle *tournament.Lifecycle, log *slog.Logger) *Sweeper {
	return &Sweeper{
		Engine:    engine,
		Lifecycle: lifecycle,
		Interval:  DefaultSweepInterval,
		Log:       log,
		stop:      make(chan struct{}),
	}
}

// Start begins the background sweep.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticker = time.NewTicker(s.Interval)
	s.wg.Add(1)
	go s.run()

	s.Log.Info("sweep started", "interval", s.Interval)
}

// Stop stops the sweep and waits for the current iteration to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.Log.Info("sweep stopped")
	}
}

// RunNow triggers an immediate sweep (admin endpoint, tests).
func (s *Sweeper) RunNow() {
	s.sweep()
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.sweep()

	for {
		select {
		case <-s.ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *Sweeper) sweep() {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	ctx := context.Background()

	completed, err := s.Engine.CompleteElapsed(ctx)
	if err != nil {
		s.Log.Error("sweep: completing elapsed appointments", "error", err)
	}
	if completed > 0 {
		sweepTransitions.WithLabelValues("appointment_completed").Add(float64(completed))
	}

	transitions, err := s.Lifecycle.Tick(ctx)
	if err != nil {
		s.Log.Error("sweep: advancing matches", "error", err)
	}
	if transitions > 0 {
		sweepTransitions.WithLabelValues("match_advanced").Add(float64(transitions))
	}

	if _, err := s.Lifecycle.EnsureUpcoming(ctx); err != nil {
		s.Log.Error("sweep: ensuring upcoming match", "error", err)
	}

	sweepRuns.Inc()
	if completed > 0 || transitions > 0 {
		s.Log.Info("sweep completed",
			"appointments_completed", completed,
			"match_transitions", transitions)
	}
}
