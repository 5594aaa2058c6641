// Package sched implements priority scheduling of render and export tasks
// with dependency ordering, admission control against live resource
// availability and load-driven concurrency scaling.
package sched

import (
	"fmt"
	"sync"
	"time"

	"github.com/emirpasic/gods/trees/redblacktree"

	"github.com/renderflow/renderflow/pkg/errors"
	"github.com/renderflow/renderflow/pkg/types"
)

// readyKey orders the ready tree by priority, then submission order.
type readyKey struct {
	priority types.Priority
	seq      uint64
}

func readyKeyComparator(a, b interface{}) int {
	ka := a.(readyKey)
	kb := b.(readyKey)
	if ka.priority != kb.priority {
		return int(ka.priority) - int(kb.priority)
	}
	switch {
	case ka.seq < kb.seq:
		return -1
	case ka.seq > kb.seq:
		return 1
	}
	return 0
}

// waitingTask is a submitted task blocked on unfinished dependencies.
type waitingTask struct {
	task        *types.Task
	remaining   int
	submittedAt time.Time
}

// TaskQueue holds submitted tasks until their dependencies finish, then ranks
// them by priority with FIFO order inside each priority. Promotion keeps the
// original submission sequence, so two tasks of equal priority always run in
// the order they arrived regardless of when their dependencies cleared.
type TaskQueue struct {
	mu         sync.Mutex
	ready      *redblacktree.Tree
	waiting    map[string]*waitingTask
	dependents map[string][]string
	completed  map[string]struct{}
	known      map[string]struct{}
	seqs       map[string]uint64
	nextSeq    uint64
}

// NewTaskQueue creates an empty queue.
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{
		ready:      redblacktree.NewWith(readyKeyComparator),
		waiting:    make(map[string]*waitingTask),
		dependents: make(map[string][]string),
		completed:  make(map[string]struct{}),
		known:      make(map[string]struct{}),
		seqs:       make(map[string]uint64),
	}
}

// Submit adds a task. Tasks whose dependencies have all finished go straight
// to the ready set; the rest wait until MarkCompleted clears them.
func (q *TaskQueue) Submit(task *types.Task) error {
	if task.ID == "" {
		return errors.NewError(errors.ErrCodeInvalidConfig, "task ID cannot be empty").
			WithComponent("sched").WithOperation("submit")
	}
	if !task.Priority.Valid() {
		return errors.NewError(errors.ErrCodeInvalidPriority,
			fmt.Sprintf("priority %d out of range", task.Priority)).
			WithComponent("sched").WithOperation("submit").
			WithDetail("task_id", task.ID)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.known[task.ID]; exists {
		return errors.NewError(errors.ErrCodeDuplicateTask,
			fmt.Sprintf("task %s already submitted", task.ID)).
			WithComponent("sched").WithOperation("submit").
			WithDetail("task_id", task.ID)
	}

	q.known[task.ID] = struct{}{}
	q.nextSeq++
	q.seqs[task.ID] = q.nextSeq

	remaining := 0
	for _, dep := range task.Dependencies {
		if _, done := q.completed[dep]; !done {
			remaining++
			q.dependents[dep] = append(q.dependents[dep], task.ID)
		}
	}

	if remaining == 0 {
		q.ready.Put(readyKey{priority: task.Priority, seq: q.nextSeq}, task)
		return nil
	}

	q.waiting[task.ID] = &waitingTask{
		task:        task,
		remaining:   remaining,
		submittedAt: time.Now(),
	}
	return nil
}

// Peek returns the highest-ranked ready task without removing it.
func (q *TaskQueue) Peek() *types.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	node := q.ready.Left()
	if node == nil {
		return nil
	}
	return node.Value.(*types.Task)
}

// Pop removes and returns the highest-ranked ready task, or nil when none is
// ready.
func (q *TaskQueue) Pop() *types.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	node := q.ready.Left()
	if node == nil {
		return nil
	}
	q.ready.Remove(node.Key)
	return node.Value.(*types.Task)
}

// MarkCompleted records a finished task and promotes any waiter whose last
// unmet dependency this was. Promoted tasks keep their submission sequence.
func (q *TaskQueue) MarkCompleted(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, done := q.completed[id]; done {
		return
	}
	q.completed[id] = struct{}{}

	for _, depID := range q.dependents[id] {
		w, ok := q.waiting[depID]
		if !ok {
			continue
		}
		w.remaining--
		if w.remaining > 0 {
			continue
		}
		delete(q.waiting, depID)
		q.ready.Put(readyKey{priority: w.task.Priority, seq: q.seqs[depID]}, w.task)
	}
	delete(q.dependents, id)
}

// Len returns how many tasks are queued, ready and waiting combined.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ready.Size() + len(q.waiting)
}

// Stats returns a snapshot of queue depths by priority.
func (q *TaskQueue) Stats() types.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	ready := make(map[string]int)
	it := q.ready.Iterator()
	for it.Next() {
		p := it.Key().(readyKey).priority
		ready[p.String()]++
	}

	return types.QueueStats{
		Ready:   ready,
		Waiting: len(q.waiting),
		Total:   q.ready.Size() + len(q.waiting),
	}
}

// Stale returns waiting tasks that have been blocked longer than age, oldest
// first. These usually point at dependencies that will never complete.
func (q *TaskQueue) Stale(age time.Duration) []*types.Task {
	cutoff := time.Now().Add(-age)

	q.mu.Lock()
	defer q.mu.Unlock()

	var stale []*waitingTask
	for _, w := range q.waiting {
		if w.submittedAt.Before(cutoff) {
			stale = append(stale, w)
		}
	}

	// oldest submission first
	for i := 1; i < len(stale); i++ {
		for j := i; j > 0 && q.seqs[stale[j].task.ID] < q.seqs[stale[j-1].task.ID]; j-- {
			stale[j], stale[j-1] = stale[j-1], stale[j]
		}
	}

	tasks := make([]*types.Task, len(stale))
	for i, w := range stale {
		tasks[i] = w.task
	}
	return tasks
}
