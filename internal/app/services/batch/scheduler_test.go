package batch

import (
	"context"
	"testing"
)

func TestSchedulerRejectsInvalidSpec(t *testing.T) {
	f := newFixture(t, Settings{AutoSubmitEnabled: true})
	s := NewScheduler(f.processor, "every tuesday", Options{}, nil)

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestSchedulerStartStop(t *testing.T) {
	f := newFixture(t, Settings{AutoSubmitEnabled: true})
	s := NewScheduler(f.processor, "0 6 * * *", Options{DaysAhead: 7}, nil)

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Starting twice is a no-op, not an error.
	if err := s.Start(ctx); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
