package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop(context.Background())

	for _, expr := range []string{EveryMinute, EveryFiveMinutes} {
		if err := s.AddJob("noop", expr, func() {}); err != nil {
			t.Errorf("Expected no error adding job %q, got %v", expr, err)
		}
	}
}

func TestSchedulerAddJob_InvalidExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop(context.Background())

	if err := s.AddJob("bad", "every minute", func() {}); err == nil {
		t.Error("Expected error for invalid cron expression")
	}
	// Seconds field is not accepted by the 5-field parser.
	if err := s.AddJob("bad", "0 * * * * *", func() {}); err == nil {
		t.Error("Expected error for 6-field expression")
	}
}

func TestSchedulerStop_ReturnsWhenIdle(t *testing.T) {
	s := NewScheduler()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	if ctx.Err() != nil {
		t.Error("Stop should return before the deadline with no running jobs")
	}
}
