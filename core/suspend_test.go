package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestDelay_OutsideJob verifies Delay sleeps a plain goroutine and honours cancellation
func TestDelay_OutsideJob(t *testing.T) {
	// Arrange
	ctx := testCtx(t)
	start := time.Now()

	// Act
	err := Delay(ctx, 20*time.Millisecond)

	// Assert
	if err != nil {
		t.Fatalf("Delay() = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Delay() returned after %v, want >= 20ms", elapsed)
	}

	// Act - Cancelled context
	cctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = Delay(cctx, time.Hour)

	// Assert
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("Delay() on cancelled ctx = %v, want ErrCancelled", err)
	}
	if Delay(ctx, 0) != nil || Delay(ctx, -time.Second) != nil {
		t.Error("Delay() with a non-positive duration should return nil at once")
	}
}

// TestDelay_DoesNotBlockRunner verifies other jobs run while one is delayed
func TestDelay_DoesNotBlockRunner(t *testing.T) {
	// Arrange
	r := newTestRunner(t)
	ctx := testCtx(t)
	var order []string

	// Act
	err := RunBlocking(ctx, r, func(ctx context.Context) error {
		r.Launch(ctx, func(ctx context.Context) error {
			if err := Delay(ctx, 30*time.Millisecond); err != nil {
				return err
			}
			order = append(order, "slow")
			return nil
		})
		r.Launch(ctx, func(ctx context.Context) error {
			order = append(order, "fast")
			return nil
		})
		return nil
	})

	// Assert
	if err != nil {
		t.Fatalf("RunBlocking() = %v", err)
	}
	if len(order) != 2 || order[0] != "fast" || order[1] != "slow" {
		t.Errorf("order = %v, want [fast slow]", order)
	}
}

// TestEnsureActive verifies the explicit cancellation checks
func TestEnsureActive(t *testing.T) {
	// Arrange
	ctx, cancel := context.WithCancelCause(context.Background())

	// Act and Assert - Active
	if !IsActive(ctx) || EnsureActive(ctx) != nil || Yield(ctx) != nil {
		t.Fatal("active context reported as cancelled")
	}

	// Act
	cancel(ErrTimeout)
	err := EnsureActive(ctx)

	// Assert
	if IsActive(ctx) {
		t.Error("IsActive() = true after cancel")
	}
	var ce *CancellationError
	if !errors.As(err, &ce) || !errors.Is(err, ErrTimeout) || !errors.Is(err, ErrCancelled) {
		t.Errorf("EnsureActive() = %v, want *CancellationError caused by ErrTimeout", err)
	}
	if ce != nil && ce.Error() != "job was cancelled: timed out" {
		t.Errorf("Error() = %q", ce.Error())
	}
	if !errors.Is(Yield(ctx), ErrCancelled) {
		t.Error("Yield() on cancelled ctx did not report cancellation")
	}
}

// TestIsCancellation verifies which errors count as cancellation
func TestIsCancellation(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrCancelled, true},
		{&CancellationError{Cause: ErrRunnerClosed}, true},
		{context.Canceled, true},
		{context.DeadlineExceeded, true},
		{ErrClosedChannel, false},
		{errors.New("other"), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := IsCancellation(tt.err); got != tt.want {
			t.Errorf("IsCancellation(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
