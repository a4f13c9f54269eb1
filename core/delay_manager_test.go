package core

import (
	"context"
	"testing"
	"time"
)

// TestDelayManager_PostsWhenDue verifies delayed tasks reach their target in due order
// Given: A DelayManager with two tasks, the later one added first
// When: Both delays elapse
// Then: The target receives the shorter delay first
func TestDelayManager_PostsWhenDue(t *testing.T) {
	// Arrange
	dm := NewDelayManager()
	defer dm.Stop()
	target := newRecordingRunner()

	// Act
	dm.AddDelayedTask(func(ctx context.Context) {}, 60*time.Millisecond, TaskTraits{Category: "late"}, target)
	dm.AddDelayedTask(func(ctx context.Context) {}, 10*time.Millisecond, TaskTraits{Category: "early"}, target)

	for i := 0; i < 2; i++ {
		select {
		case <-target.posted:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of 2 delayed tasks posted", i)
		}
	}

	// Assert
	target.mu.Lock()
	defer target.mu.Unlock()
	if target.tasks[0].Traits.Category != "early" || target.tasks[1].Traits.Category != "late" {
		t.Errorf("post order = [%s %s], want [early late]",
			target.tasks[0].Traits.Category, target.tasks[1].Traits.Category)
	}
	if n := dm.TaskCount(); n != 0 {
		t.Errorf("TaskCount() = %d, want 0", n)
	}
}

// TestDelayedTask_Cancel verifies a cancelled delayed task is never posted
// Given: A delayed task scheduled 50ms out
// When: Cancel is called before it fires
// Then: Cancel returns true once, the heap is empty and nothing is posted
func TestDelayedTask_Cancel(t *testing.T) {
	// Arrange
	dm := NewDelayManager()
	defer dm.Stop()
	target := newRecordingRunner()
	handle := dm.AddDelayedTask(func(ctx context.Context) {}, 50*time.Millisecond, DefaultTaskTraits(), target)

	// Act
	first := handle.Cancel()
	second := handle.Cancel()

	// Assert
	if !first {
		t.Error("first Cancel() = false, want true")
	}
	if second {
		t.Error("second Cancel() = true, want false")
	}
	if n := dm.TaskCount(); n != 0 {
		t.Errorf("TaskCount() after Cancel = %d, want 0", n)
	}
	time.Sleep(120 * time.Millisecond)
	if n := target.Len(); n != 0 {
		t.Errorf("posted %d tasks after Cancel, want 0", n)
	}
}

// TestDelayedTask_CancelMiddleKeepsHeapOrder verifies removal from the middle of the heap
func TestDelayedTask_CancelMiddleKeepsHeapOrder(t *testing.T) {
	// Arrange
	dm := NewDelayManager()
	defer dm.Stop()
	target := newRecordingRunner()
	var handles []*DelayedTask
	for i := 1; i <= 5; i++ {
		handles = append(handles, dm.AddDelayedTask(func(ctx context.Context) {},
			time.Duration(i)*10*time.Millisecond, TaskTraits{Category: string(rune('0' + i))}, target))
	}

	// Act
	handles[2].Cancel()
	for i := 0; i < 4; i++ {
		select {
		case <-target.posted:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of 4 delayed tasks posted", i)
		}
	}

	// Assert
	target.mu.Lock()
	defer target.mu.Unlock()
	got := ""
	for _, item := range target.tasks {
		got += item.Traits.Category
	}
	if got != "1245" {
		t.Errorf("posted categories = %q, want %q", got, "1245")
	}
}

// TestDelayManager_Stop verifies Stop drops pending tasks
func TestDelayManager_Stop(t *testing.T) {
	// Arrange
	dm := NewDelayManager()
	target := newRecordingRunner()
	handle := dm.AddDelayedTask(func(ctx context.Context) {}, 20*time.Millisecond, DefaultTaskTraits(), target)

	// Act
	dm.Stop()

	// Assert
	if n := dm.TaskCount(); n != 0 {
		t.Errorf("TaskCount() after Stop = %d, want 0", n)
	}
	if handle.Cancel() {
		t.Error("Cancel() after Stop = true, want false")
	}
	time.Sleep(60 * time.Millisecond)
	if n := target.Len(); n != 0 {
		t.Errorf("posted %d tasks after Stop, want 0", n)
	}
}
