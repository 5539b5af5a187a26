// Package cron runs named probes on cron schedules. The query command uses
// it to repeat helper queries.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	robfigcron "github.com/robfig/cron/v3"
)

// ProbeFunc is one scheduled run. Errors are logged, not fatal.
type ProbeFunc func(ctx context.Context) error

// Service owns a set of scheduled probes.
type Service struct {
	robfig *robfigcron.Cron

	mu     sync.Mutex
	ctx    context.Context
	probes map[string]robfigcron.EntryID
}

// NewService creates an empty Service. Schedules accept an optional seconds
// field and the @every/@hourly descriptors. A probe still running when its
// next tick fires skips that tick.
func NewService() *Service {
	return &Service{
		robfig: robfigcron.New(
			robfigcron.WithSeconds(),
			robfigcron.WithChain(robfigcron.SkipIfStillRunning(robfigcron.DiscardLogger)),
		),
		ctx:    context.Background(),
		probes: make(map[string]robfigcron.EntryID),
	}
}

// Add schedules fn under name. Adding a name twice replaces the probe.
func (s *Service) Add(name, spec string, fn ProbeFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.probes[name]; ok {
		s.robfig.Remove(id)
		delete(s.probes, name)
	}
	id, err := s.robfig.AddFunc(spec, func() { s.run(name, fn) })
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	s.probes[name] = id
	return nil
}

// Remove unschedules name.
func (s *Service) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.probes[name]; ok {
		s.robfig.Remove(id)
		delete(s.probes, name)
	}
}

func (s *Service) run(name string, fn ProbeFunc) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		slog.Warn("cron: probe failed", "probe", name, "err", err)
	}
}

// Start runs the scheduler until ctx is cancelled. In-flight probes see
// ctx and are waited for before Start returns.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	n := len(s.probes)
	s.mu.Unlock()

	s.robfig.Start()
	slog.Info("cron: started", "probes", n)

	<-ctx.Done()
	<-s.robfig.Stop().Done()
	return ctx.Err()
}
