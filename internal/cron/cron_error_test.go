package cron

import (
	"errors"
	"testing"
	"time"
)

func TestValidateSchedule(t *testing.T) {
	for _, ok := range []string{"@every 1s", "@every 90m", "30 2 * * *", "*/5 * * * *", "@daily"} {
		if err := ValidateSchedule(ok); err != nil {
			t.Fatalf("schedule %q rejected: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "* * * *", "not a schedule", "@every "} {
		if err := ValidateSchedule(bad); err == nil {
			t.Fatalf("schedule %q accepted", bad)
		}
	}
}

func TestAddValidation(t *testing.T) {
	s := NewScheduler(&fakeRestarter{}, nil)

	if err := s.Add("", "@every 1s"); err == nil {
		t.Fatal("expected error for empty worker name")
	}
	if err := s.Add("a", ""); err == nil {
		t.Fatal("expected error for empty schedule")
	}
	if err := s.Add("a", "sixty * * * *"); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
	if err := s.Add("a", "@every 1s"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Add("a", "@every 2s"); err == nil {
		t.Fatal("expected error for duplicate worker")
	}
}

func TestRestartErrorDoesNotStopScheduler(t *testing.T) {
	f := &fakeRestarter{err: errors.New("spawn exploded")}
	s := NewScheduler(f, nil)
	if err := s.Add("w", "@every 1s"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	// The scheduler keeps ticking through failures.
	deadline := time.Now().Add(3500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if f.count("w") >= 2 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected retries despite errors, got %d", f.count("w"))
}
