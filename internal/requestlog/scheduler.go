package requestlog

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Scheduler runs the pruner on a cron schedule.
type Scheduler struct {
	pruner   *Pruner
	schedule string
	cron     *cron.Cron
	mu       sync.Mutex
	running  bool
}

// NewScheduler builds a scheduler; an empty schedule disables it.
func NewScheduler(pruner *Pruner, schedule string) *Scheduler {
	return &Scheduler{pruner: pruner, schedule: schedule, cron: cron.New()}
}

// Start registers the prune job and stops it when ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		log.Info("request log prune schedule not configured, skipping scheduler")
		return nil
	}
	if _, errParse := cron.ParseStandard(s.schedule); errParse != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, errParse)
	}
	if _, errAdd := s.cron.AddFunc(s.schedule, func() { s.runOnce(ctx) }); errAdd != nil {
		return fmt.Errorf("schedule pruning: %w", errAdd)
	}
	s.cron.Start()
	s.running = true
	log.Infof("request log scheduler started (schedule=%q retention_days=%d)", s.schedule, s.pruner.RetentionDays())

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Scheduler) runOnce(ctx context.Context) {
	deleted, errPrune := s.pruner.Prune(ctx)
	if errPrune != nil {
		log.WithError(errPrune).Warn("request log scheduler: prune failed")
		return
	}
	log.Debugf("request log scheduler: prune finished (deleted=%d)", deleted)
}

// Stop halts the cron loop and waits for a running prune.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil && s.running {
		done := s.cron.Stop()
		<-done.Done()
		s.running = false
		log.Info("request log scheduler stopped")
	}
}

// IsRunning reports whether the cron loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
