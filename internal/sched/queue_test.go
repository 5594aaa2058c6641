package sched

import (
	"fmt"
	"testing"
	"time"

	"github.com/renderflow/renderflow/pkg/errors"
	"github.com/renderflow/renderflow/pkg/types"
)

func task(id string, priority types.Priority, deps ...string) *types.Task {
	return &types.Task{
		ID:           id,
		Type:         "render",
		Priority:     priority,
		Dependencies: deps,
		CreatedAt:    time.Now(),
	}
}

func TestQueuePriorityOrder(t *testing.T) {
	q := NewTaskQueue()

	q.Submit(task("bg", types.PriorityBackground))
	q.Submit(task("crit", types.PriorityCritical))
	q.Submit(task("norm", types.PriorityNormal))

	want := []string{"crit", "norm", "bg"}
	for _, id := range want {
		got := q.Pop()
		if got == nil || got.ID != id {
			t.Fatalf("expected %s next, got %v", id, got)
		}
	}
	if q.Pop() != nil {
		t.Error("expected empty queue")
	}
}

func TestQueueFIFOWithinPriority(t *testing.T) {
	q := NewTaskQueue()

	for i := 0; i < 5; i++ {
		q.Submit(task(fmt.Sprintf("t%d", i), types.PriorityNormal))
	}
	for i := 0; i < 5; i++ {
		got := q.Pop()
		if got.ID != fmt.Sprintf("t%d", i) {
			t.Fatalf("expected t%d, got %s", i, got.ID)
		}
	}
}

func TestQueueDependencyPromotion(t *testing.T) {
	q := NewTaskQueue()

	q.Submit(task("parent", types.PriorityNormal))
	q.Submit(task("child", types.PriorityCritical, "parent"))

	// the child outranks the parent but cannot run before it
	if got := q.Pop(); got.ID != "parent" {
		t.Fatalf("expected parent first, got %s", got.ID)
	}
	if q.Pop() != nil {
		t.Fatal("child must not be ready before its dependency completes")
	}

	q.MarkCompleted("parent")
	if got := q.Pop(); got == nil || got.ID != "child" {
		t.Fatalf("expected child promoted, got %v", got)
	}
}

func TestQueueMultipleDependencies(t *testing.T) {
	q := NewTaskQueue()

	q.Submit(task("a", types.PriorityNormal))
	q.Submit(task("b", types.PriorityNormal))
	q.Submit(task("join", types.PriorityNormal, "a", "b"))

	q.Pop()
	q.Pop()
	q.MarkCompleted("a")
	if q.Pop() != nil {
		t.Fatal("join must wait for both dependencies")
	}
	q.MarkCompleted("b")
	if got := q.Pop(); got == nil || got.ID != "join" {
		t.Fatalf("expected join, got %v", got)
	}
}

func TestQueueDependencyOnCompletedTask(t *testing.T) {
	q := NewTaskQueue()

	q.Submit(task("done", types.PriorityNormal))
	q.Pop()
	q.MarkCompleted("done")

	// dependencies already satisfied at submission go straight to ready
	q.Submit(task("late", types.PriorityNormal, "done"))
	if got := q.Pop(); got == nil || got.ID != "late" {
		t.Fatalf("expected late ready immediately, got %v", got)
	}
}

func TestQueuePromotionKeepsSubmissionOrder(t *testing.T) {
	q := NewTaskQueue()

	q.Submit(task("dep", types.PriorityNormal))
	q.Submit(task("blocked", types.PriorityNormal, "dep"))
	q.Submit(task("free", types.PriorityNormal))

	if got := q.Pop(); got.ID != "dep" {
		t.Fatalf("expected dep first, got %s", got.ID)
	}
	q.MarkCompleted("dep")

	// blocked was submitted before free, so it runs first once promoted
	if got := q.Pop(); got.ID != "blocked" {
		t.Fatalf("expected blocked before free, got %s", got.ID)
	}
	if got := q.Pop(); got.ID != "free" {
		t.Fatalf("expected free last, got %s", got.ID)
	}
}

func TestQueueRejectsDuplicates(t *testing.T) {
	q := NewTaskQueue()

	if err := q.Submit(task("t1", types.PriorityNormal)); err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	err := q.Submit(task("t1", types.PriorityHigh))
	if !errors.IsCode(err, errors.ErrCodeDuplicateTask) {
		t.Fatalf("expected duplicate task error, got %v", err)
	}
}

func TestQueueRejectsInvalidPriority(t *testing.T) {
	q := NewTaskQueue()

	err := q.Submit(task("t1", types.Priority(99)))
	if !errors.IsCode(err, errors.ErrCodeInvalidPriority) {
		t.Fatalf("expected invalid priority error, got %v", err)
	}
}

func TestQueueStats(t *testing.T) {
	q := NewTaskQueue()

	q.Submit(task("a", types.PriorityCritical))
	q.Submit(task("b", types.PriorityNormal))
	q.Submit(task("c", types.PriorityNormal))
	q.Submit(task("d", types.PriorityNormal, "missing"))

	stats := q.Stats()
	if stats.Ready["CRITICAL"] != 1 || stats.Ready["NORMAL"] != 2 {
		t.Errorf("unexpected ready depths: %v", stats.Ready)
	}
	if stats.Waiting != 1 {
		t.Errorf("expected 1 waiting, got %d", stats.Waiting)
	}
	if stats.Total != 4 {
		t.Errorf("expected total 4, got %d", stats.Total)
	}
}

func TestQueueStale(t *testing.T) {
	q := NewTaskQueue()

	q.Submit(task("wedged-1", types.PriorityNormal, "never"))
	q.Submit(task("wedged-2", types.PriorityNormal, "never"))
	q.Submit(task("fine", types.PriorityNormal))

	if got := q.Stale(time.Hour); len(got) != 0 {
		t.Fatalf("expected nothing stale yet, got %d", len(got))
	}

	time.Sleep(10 * time.Millisecond)
	stale := q.Stale(time.Millisecond)
	if len(stale) != 2 {
		t.Fatalf("expected 2 stale tasks, got %d", len(stale))
	}
	if stale[0].ID != "wedged-1" || stale[1].ID != "wedged-2" {
		t.Errorf("expected oldest first, got %s, %s", stale[0].ID, stale[1].ID)
	}
}
