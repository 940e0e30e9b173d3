package sched

import (
	"context"
	"log/slog"
	"time"
)

// Sweep is one periodic maintenance pass
type Sweep struct {
	Name string
	Run  func(ctx context.Context) error
}

// Scheduler dispatches registered sweeps on a fixed interval. Sweeps run in
// registration order within a tick, so ordering between them is deterministic.
type Scheduler struct {
	sweeps []Sweep
	log    *slog.Logger
}

// New creates a new Scheduler
func New(log *slog.Logger) *Scheduler {
	return &Scheduler{log: log}
}

// Register adds a sweep to the dispatch list
func (s *Scheduler) Register(name string, run func(ctx context.Context) error) {
	s.sweeps = append(s.sweeps, Sweep{Name: name, Run: run})
}

// Tick runs every registered sweep once, in order
func (s *Scheduler) Tick(ctx context.Context) {
	for _, sw := range s.sweeps {
		if err := sw.Run(ctx); err != nil {
			s.log.Error("sweep failed", "sweep", sw.Name, "error", err)
		}
	}
}

// Start runs the sweep loop until the context is cancelled
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	s.log.Info("scheduler started", "interval", interval, "sweeps", len(s.sweeps))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}
