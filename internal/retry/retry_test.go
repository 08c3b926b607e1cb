package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsFirstAttempt(t *testing.T) {
	var calls int
	err := Policy{MaxAttempts: 3, Delay: time.Millisecond}.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	var calls int
	err := Policy{MaxAttempts: 3, Delay: time.Millisecond}.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Again
	})
	if !errors.Is(err, Again) {
		t.Fatalf("err = %v, want Again", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoStopsOnRealError(t *testing.T) {
	boom := errors.New("boom")
	var calls int
	err := Policy{MaxAttempts: 3, Delay: time.Millisecond}.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoResolvesMidway(t *testing.T) {
	var calls int
	err := Policy{MaxAttempts: 5, Delay: time.Millisecond}.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Again
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls int
	errCh := make(chan error, 1)
	go func() {
		errCh <- Policy{MaxAttempts: 10, Delay: time.Hour}.Do(ctx, func(ctx context.Context) error {
			calls++
			return Again
		})
	}()

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestDoZeroAttemptsStillRunsOnce(t *testing.T) {
	var calls int
	Policy{}.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
