package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mudler/xlog"
	"github.com/robfig/cron/v3"
)

// Sweeper runs the startup reconciliation once and then the periodic sweep on
// a fixed cadence, independent of any task interval.
type Sweeper struct {
	reconciler *Reconciler
	interval   time.Duration
	mu         sync.Mutex
	cron       *cron.Cron
	cancel     context.CancelFunc
}

func NewSweeper(r *Reconciler, interval time.Duration) *Sweeper {
	return &Sweeper{
		reconciler: r,
		interval:   interval,
	}
}

// Start reconciles synchronously, so missed records exist before the caller
// starts serving, then schedules the periodic sweep.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		xlog.Warn("Sweeper already started")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	if n, err := s.reconciler.ReconcileOnStartup(ctx); err != nil {
		xlog.Error("Startup reconciliation failed", "error", err)
	} else {
		xlog.Info("Startup reconciliation done", "missed", n)
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{})))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), func() { s.tick(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule sweep: %w", err)
	}
	c.Start()

	s.cron, s.cancel = c, cancel
	xlog.Info("Missed task sweeper started", "interval", s.interval)
	return nil
}

// Stop waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cancel()
	s.cron, s.cancel = nil, nil
	xlog.Info("Missed task sweeper stopped")
}

func (s *Sweeper) tick(ctx context.Context) {
	n, err := s.reconciler.ReconcilePeriodically(ctx)
	if err != nil {
		xlog.Error("Periodic reconciliation failed", "error", err)
		return
	}
	if n > 0 {
		xlog.Info("Periodic reconciliation recorded missed tasks", "missed", n)
	}
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	xlog.Debug(msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	xlog.Error(msg, append(keysAndValues, "error", err)...)
}
