package kev

import (
	"context"
	"sync"
	"time"

	"github.com/secscorehq/secscore/pkg/logger"
)

// Scheduler runs the periodic KEV refresh loop. One timer exists per
// process; it is armed lazily on first catalog access and cancelled on
// shutdown. The scheduler and the manual refresh endpoint share the
// same idempotent Refresh.
type Scheduler struct {
	log      *logger.Logger
	catalog  *Catalog
	interval time.Duration
	disabled bool

	armOnce  sync.Once
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler creates a refresh scheduler. A disabled scheduler never
// arms its timer.
func NewScheduler(log *logger.Logger, catalog *Catalog, interval time.Duration, disabled bool) *Scheduler {
	return &Scheduler{
		log:      log.WithComponent("kev-scheduler"),
		catalog:  catalog,
		interval: interval,
		disabled: disabled,
		stopCh:   make(chan struct{}),
	}
}

// EnsureStarted arms the refresh timer. Safe to call on every request;
// only the first call has an effect.
func (s *Scheduler) EnsureStarted() {
	s.armOnce.Do(func() {
		if s.disabled {
			s.log.Info("KEV refresh scheduler disabled")
			return
		}
		s.wg.Add(1)
		go s.loop()
		s.log.Info("KEV refresh scheduler armed", "interval", s.interval)
	})
}

// Stop cancels the refresh timer and waits for an in-flight refresh to
// finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.catalog.Refresh(context.Background()); err != nil {
				s.log.Warn("scheduled KEV refresh failed", "error", err)
			}
		}
	}
}
