package linking

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quailyquaily/linkkeeper/linkstore"
)

const DefaultSweepInterval = 300 * time.Second

// Sweeper periodically deletes pending records older than MaxAge. It is the
// only component that removes pending records without a user action.
type Sweeper struct {
	Store    linkstore.Store
	Interval time.Duration
	MaxAge   time.Duration
	Log      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweeper(store linkstore.Store, interval, maxAge time.Duration, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if maxAge <= 0 {
		maxAge = DefaultExpiry
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{Store: store, Interval: interval, MaxAge: maxAge, Log: log}
}

// Start launches the loop. Calling Start on a running sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(loopCtx, s.done)
}

// Stop cancels the loop and waits for an in-flight sweep to return.
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

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single deletion pass. Errors are logged and returned; the
// loop ignores them and tries again on the next tick.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	n, err := s.Store.DeleteExpired(ctx, int64(s.MaxAge/time.Second))
	if err != nil {
		s.Log.Warn("sweep_failed", "error", err.Error())
		return 0, err
	}
	if n > 0 {
		s.Log.Info("sweep_deleted", "count", n)
	} else {
		s.Log.Debug("sweep_empty")
	}
	return n, nil
}
