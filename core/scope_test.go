package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// TestScope_WaitsForEveryChild verifies Scope returns only after its jobs are terminal
// Given: A scope that launches jobs on two runners
// When: fn returns right away
// Then: Scope returns after both jobs completed
func TestScope_WaitsForEveryChild(t *testing.T) {
	// Arrange
	a := newTestRunner(t)
	b := newTestRunner(t)
	var done atomic.Int32

	// Act
	err := Scope(testCtx(t), func(ctx context.Context) error {
		for _, r := range []*Runner{a, b} {
			r.Launch(ctx, func(ctx context.Context) error {
				if err := Delay(ctx, 20*time.Millisecond); err != nil {
					return err
				}
				done.Add(1)
				return nil
			})
		}
		return nil
	})

	// Assert
	if err != nil {
		t.Fatalf("Scope() = %v", err)
	}
	if n := done.Load(); n != 2 {
		t.Errorf("finished children = %d, want 2", n)
	}
}

// TestScope_ErrorCancelsChildren verifies a failing scope body cancels what it launched
func TestScope_ErrorCancelsChildren(t *testing.T) {
	// Arrange
	r := newTestRunner(t)
	boom := errors.New("boom")
	var child *Job

	// Act
	err := Scope(testCtx(t), func(ctx context.Context) error {
		child = r.Launch(ctx, func(ctx context.Context) error {
			return Delay(ctx, time.Hour)
		})
		return boom
	})

	// Assert
	if !errors.Is(err, boom) {
		t.Fatalf("Scope() = %v, want boom", err)
	}
	if child.State() != JobCancelled || !errors.Is(child.Err(), boom) {
		t.Errorf("child: state = %v, err = %v; want cancelled by boom", child.State(), child.Err())
	}
}

// TestScope_ChildFailureIsLocal verifies a failing child does not cancel its siblings
func TestScope_ChildFailureIsLocal(t *testing.T) {
	// Arrange
	r := newTestRunner(t)
	var sibling *Job

	// Act
	err := Scope(testCtx(t), func(ctx context.Context) error {
		r.Launch(ctx, func(ctx context.Context) error { return errors.New("child failed") })
		sibling = r.Launch(ctx, func(ctx context.Context) error {
			return Delay(ctx, 20*time.Millisecond)
		})
		return nil
	})

	// Assert
	if err != nil {
		t.Fatalf("Scope() = %v", err)
	}
	if sibling.State() != JobCompleted {
		t.Errorf("sibling = %v, want completed", sibling.State())
	}
}

// TestScope_InsideJob verifies a scope used by a job suspends instead of blocking
func TestScope_InsideJob(t *testing.T) {
	// Arrange
	r := newTestRunner(t)
	var order []string

	// Act
	err := RunBlocking(testCtx(t), r, func(ctx context.Context) error {
		err := Scope(ctx, func(ctx context.Context) error {
			r.Launch(ctx, func(ctx context.Context) error {
				order = append(order, "child")
				return nil
			})
			return nil
		})
		order = append(order, "after-scope")
		return err
	})

	// Assert
	if err != nil {
		t.Fatalf("RunBlocking() = %v", err)
	}
	if len(order) != 2 || order[0] != "child" || order[1] != "after-scope" {
		t.Errorf("order = %v, want [child after-scope]", order)
	}
}
