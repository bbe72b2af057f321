// Package schedule drives the job poller from inside the API process on a cron expression.
package schedule

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/yungbote/lexicon-backend/internal/platform/logger"
	"github.com/yungbote/lexicon-backend/internal/services"
)

type Ticker interface {
	Tick(ctx context.Context) (services.TickReport, error)
}

type PollScheduler struct {
	log    *logger.Logger
	ticker Ticker
	cron   *cron.Cron

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

func NewPollScheduler(baseLog *logger.Logger, ticker Ticker) *PollScheduler {
	log := baseLog.With("component", "PollScheduler")
	cl := cronLogger{log: log}
	return &PollScheduler{
		log:    log,
		ticker: ticker,
		cron: cron.New(
			cron.WithParser(cron.NewParser(cron.SecondOptional|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
			cron.WithLogger(cl),
		),
	}
}

// Start registers the tick under schedule and starts the cron loop. An empty schedule
// leaves the scheduler idle and returns nil.
func (s *PollScheduler) Start(ctx context.Context, schedule string) error {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		s.log.Info("poll schedule empty; in-process poller disabled")
		return nil
	}
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	if _, err := s.cron.AddFunc(schedule, s.RunOnce); err != nil {
		return fmt.Errorf("poll schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	s.log.Info("poll scheduler started", "schedule", schedule)
	return nil
}

// Stop halts the loop and waits for a running tick to return.
func (s *PollScheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	<-s.cron.Stop().Done()
	s.log.Info("poll scheduler stopped")
}

func (s *PollScheduler) RunOnce() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}
	report, err := s.ticker.Tick(ctx)
	if err != nil {
		s.log.Error("scheduled poll tick failed", "error", err)
		return
	}
	if report.Skipped {
		s.log.Debug("scheduled poll tick skipped")
	}
}

// cronLogger adapts the app logger to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
