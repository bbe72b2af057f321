package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yungbote/lexicon-backend/internal/platform/logger"
	"github.com/yungbote/lexicon-backend/internal/services"
)

type countingTicker struct {
	ticks chan struct{}
	err   error
}

func (c *countingTicker) Tick(ctx context.Context) (services.TickReport, error) {
	select {
	case c.ticks <- struct{}{}:
	default:
	}
	return services.TickReport{}, c.err
}

func TestPollSchedulerTicks(t *testing.T) {
	tk := &countingTicker{ticks: make(chan struct{}, 1)}
	s := NewPollScheduler(logger.Nop(), tk)
	if err := s.Start(context.Background(), "@every 1s"); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	select {
	case <-tk.ticks:
	case <-time.After(5 * time.Second):
		t.Fatalf("scheduler never ticked")
	}
}

func TestPollSchedulerRejectsBadSchedule(t *testing.T) {
	s := NewPollScheduler(logger.Nop(), &countingTicker{ticks: make(chan struct{}, 1)})
	if err := s.Start(context.Background(), "every now and then"); err == nil {
		t.Fatalf("expected a parse error")
	}
}

func TestPollSchedulerEmptyScheduleIsIdle(t *testing.T) {
	s := NewPollScheduler(logger.Nop(), &countingTicker{ticks: make(chan struct{}, 1)})
	if err := s.Start(context.Background(), "  "); err != nil {
		t.Fatalf("empty schedule should be accepted: %v", err)
	}
	s.Stop()
}

func TestRunOnceSurvivesTickErrors(t *testing.T) {
	tk := &countingTicker{ticks: make(chan struct{}, 1), err: errors.New("db down")}
	s := NewPollScheduler(logger.Nop(), tk)
	s.RunOnce()
	select {
	case <-tk.ticks:
	default:
		t.Fatalf("RunOnce did not call the ticker")
	}
}
