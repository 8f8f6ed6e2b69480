package durable

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	pipeline "github.com/goliatone/go-pipeline"
)

const DefaultSweepSchedule = "@every 5s"

// Sweeper periodically resumes checkpoints that are due.
type Sweeper struct {
	adapter     *Adapter
	schedule    string
	concurrency int
	batch       int
	logger      pipeline.Logger

	mu      sync.Mutex
	cron    *rcron.Cron
	cancel  context.CancelFunc
	entryID rcron.EntryID
}

type SweeperOption func(*Sweeper)

// WithSchedule sets the cron expression, "@every 5s" by default.
func WithSchedule(expr string) SweeperOption {
	return func(s *Sweeper) {
		if expr != "" {
			s.schedule = expr
		}
	}
}

// WithConcurrency bounds how many checkpoints a sweep resumes at once.
func WithConcurrency(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithBatch bounds how many checkpoints a sweep loads.
func WithBatch(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.batch = n
		}
	}
}

func WithSweeperLogger(l pipeline.Logger) SweeperOption {
	return func(s *Sweeper) {
		s.logger = pipeline.NormalizeLogger(l)
	}
}

func NewSweeper(adapter *Adapter, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		adapter:     adapter,
		schedule:    DefaultSweepSchedule,
		concurrency: 4,
		batch:       50,
		logger:      adapter.logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Sweep resumes every due checkpoint once and returns how many it picked
// up. Step errors are logged, they only reschedule their own checkpoint.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	due, err := s.adapter.checkpoints.Due(ctx, s.adapter.now(), s.batch)
	if err != nil {
		return 0, fmt.Errorf("load due checkpoints: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, cp := range due {
		g.Go(func() error {
			if err := s.adapter.Step(gctx, cp); err != nil {
				s.logger.Debug("checkpoint %s: %v", cp.ID(), err)
			}
			return gctx.Err()
		})
	}
	return len(due), g.Wait()
}

// Start schedules Sweep. Overlapping runs are skipped.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}

	logger := cronLogger{logger: s.logger}
	c := rcron.New(
		rcron.WithLogger(logger),
		rcron.WithChain(rcron.Recover(logger), rcron.SkipIfStillRunning(logger)),
	)
	runCtx, cancel := context.WithCancel(ctx)
	id, err := c.AddFunc(s.schedule, func() {
		if n, err := s.Sweep(runCtx); err != nil && runCtx.Err() == nil {
			s.logger.Error("sweep failed after %d checkpoints: %v", n, err)
		}
	})
	if err != nil {
		cancel()
		return fmt.Errorf("schedule sweeper %q: %w", s.schedule, err)
	}
	s.cron, s.cancel, s.entryID = c, cancel, id
	c.Start()
	s.logger.Info("sweeper started (%s)", s.schedule)
	return nil
}

// Next returns the next scheduled sweep, zero when not started.
func (s *Sweeper) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// Stop cancels in-flight steps and waits for the running sweep to return.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	s.logger.Info("sweeper stopped")
}

// cronLogger routes robfig/cron messages to a pipeline.Logger.
type cronLogger struct {
	logger pipeline.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: %s%s", msg, pairs(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: %s%s: %v", msg, pairs(keysAndValues), err)
}

func pairs(kv []any) string {
	if len(kv) == 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&b, " %v=%v", kv[i], kv[i+1])
	}
	return b.String()
}
