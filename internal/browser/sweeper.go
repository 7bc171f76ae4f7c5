package browser

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Sweeper periodically closes sessions older than maxAge. It is the only
// background task the registry has.
type Sweeper struct {
	reg      *Registry
	interval time.Duration
	maxAge   time.Duration
	log      logrus.FieldLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper builds a sweeper. A non-positive interval makes Start a no-op.
func NewSweeper(reg *Registry, interval, maxAge time.Duration, logger logrus.FieldLogger) *Sweeper {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Sweeper{
		reg:      reg,
		interval: interval,
		maxAge:   maxAge,
		log:      logger.WithField("component", "sweeper"),
	}
}

// Start launches the sweep loop. Calling Start twice is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx, s.done)
	s.log.WithFields(logrus.Fields{
		"interval": s.interval.String(),
		"max_age":  s.maxAge.String(),
	}).Info("sweeper started")
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if closed := s.reg.CleanupOldSessions(ctx, s.maxAge); len(closed) > 0 {
				s.log.WithField("sessions", closed).Info("expired sessions closed")
			}
		}
	}
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
