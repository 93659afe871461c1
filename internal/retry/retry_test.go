package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result := Do(context.Background(), Fixed(3, time.Millisecond), func() error {
		calls++
		return nil
	})
	if result.Err != nil {
		t.Fatalf("Err = %v, want nil", result.Err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	result := Do(context.Background(), Fixed(3, time.Millisecond), func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if result.Err != nil {
		t.Fatalf("Err = %v, want nil", result.Err)
	}
	if result.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", result.Attempts)
	}
}

func TestDoStopsAtMaxAttempts(t *testing.T) {
	calls := 0
	result := Do(context.Background(), Fixed(2, time.Millisecond), func() error {
		calls++
		return errors.New("always fails")
	})
	if result.Err == nil {
		t.Fatal("Err = nil, want error")
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	permErr := errors.New("unauthorized")
	result := Do(context.Background(), Fixed(5, time.Millisecond), func() error {
		calls++
		return Permanent(permErr)
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retries for permanent errors)", calls)
	}
	if !errors.Is(result.Err, permErr) {
		t.Errorf("Err = %v, want wrapped %v", result.Err, permErr)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := Do(ctx, Fixed(3, time.Millisecond), func() error {
		t.Error("op should not run with cancelled context")
		return nil
	})
	if !errors.Is(result.Err, context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", result.Err)
	}
}

func TestIsPermanent(t *testing.T) {
	if IsPermanent(errors.New("plain")) {
		t.Error("plain error reported permanent")
	}
	wrapped := Permanent(errors.New("nope"))
	if !IsPermanent(wrapped) {
		t.Error("Permanent error not detected")
	}
}
