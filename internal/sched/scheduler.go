package sched

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/renderflow/renderflow/pkg/errors"
	"github.com/renderflow/renderflow/pkg/types"
)

const (
	minConcurrentTasks = 1
	maxConcurrentTasks = 50
)

// Availability is the slice of the resource monitor the scheduler needs.
type Availability interface {
	Available() types.ResourceRequirement
	Current() types.ResourceUsage
	Capacity() types.ResourceRequirement
}

// Config represents scheduler configuration.
type Config struct {
	MaxConcurrentTasks int           `yaml:"max_concurrent_tasks"`
	TickInterval       time.Duration `yaml:"tick_interval"`
}

// ResourceScheduler drains the task queue under two admission gates: the
// concurrency cap and componentwise resource availability. Admission stops at
// the first task that does not fit, so a large high-priority task is never
// starved by smaller ones behind it.
type ResourceScheduler struct {
	queue  *TaskQueue
	avail  Availability
	sink   types.MetricsSink
	logger *slog.Logger

	mu             sync.Mutex
	maxConcurrent  int
	active         int
	completedTasks int
	tickInterval   time.Duration

	started   bool
	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
	wg        sync.WaitGroup
}

// NewResourceScheduler creates a scheduler over the given queue and monitor.
func NewResourceScheduler(config Config, queue *TaskQueue, avail Availability, sink types.MetricsSink, logger *slog.Logger) *ResourceScheduler {
	if config.MaxConcurrentTasks <= 0 {
		config.MaxConcurrentTasks = 10
	}
	if config.TickInterval <= 0 {
		config.TickInterval = time.Second
	}
	if sink == nil {
		sink = types.NoopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResourceScheduler{
		queue:         queue,
		avail:         avail,
		sink:          sink,
		logger:        logger.With("component", "scheduler"),
		maxConcurrent: clampConcurrency(config.MaxConcurrentTasks),
		tickInterval:  config.TickInterval,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

func clampConcurrency(n int) int {
	if n < minConcurrentTasks {
		return minConcurrentTasks
	}
	if n > maxConcurrentTasks {
		return maxConcurrentTasks
	}
	return n
}

// Start launches the dispatch loop.
func (s *ResourceScheduler) Start() {
	s.startOnce.Do(func() {
		s.mu.Lock()
		s.started = true
		s.mu.Unlock()
		go s.loop()
		s.logger.Info("scheduler started", "max_concurrent", s.MaxConcurrent(), "tick", s.tickInterval)
	})
}

// Stop halts dispatch and waits for running tasks to finish. Stopping a
// scheduler that never started is a no-op.
func (s *ResourceScheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		started := s.started
		s.mu.Unlock()
		if !started {
			return
		}
		close(s.stopCh)
		<-s.doneCh
		s.wg.Wait()
	})
}

// Submit queues a task for execution. Tasks without an ID get one assigned.
func (s *ResourceScheduler) Submit(task *types.Task) error {
	if task == nil {
		return errors.NewError(errors.ErrCodeInvalidConfig, "task cannot be nil").
			WithComponent("sched").WithOperation("submit")
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	if err := s.queue.Submit(task); err != nil {
		return err
	}
	s.logger.Debug("task submitted",
		"task_id", task.ID,
		"type", task.Type,
		"priority", task.Priority.String(),
		"dependencies", len(task.Dependencies))
	return nil
}

// CanExecute reports whether the task passes both admission gates right now.
func (s *ResourceScheduler) CanExecute(task *types.Task) bool {
	s.mu.Lock()
	capLeft := s.active < s.maxConcurrent
	s.mu.Unlock()
	if !capLeft {
		return false
	}
	return s.avail.Available().Satisfies(task.Requirement)
}

// AdjustConcurrency changes the concurrency cap, clamped to its bounds, and
// returns the applied value. Running tasks are never interrupted; a lowered
// cap takes effect as they drain.
func (s *ResourceScheduler) AdjustConcurrency(n int) int {
	n = clampConcurrency(n)

	s.mu.Lock()
	old := s.maxConcurrent
	s.maxConcurrent = n
	s.mu.Unlock()

	if old != n {
		s.logger.Info("concurrency adjusted", "from", old, "to", n)
		s.sink.SetGauge("scheduler_max_concurrent", float64(n))
	}
	return n
}

// MaxConcurrent returns the current concurrency cap.
func (s *ResourceScheduler) MaxConcurrent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxConcurrent
}

// ActiveTasks returns how many tasks are running right now.
func (s *ResourceScheduler) ActiveTasks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// QueueLen returns how many tasks are queued, ready and waiting combined.
func (s *ResourceScheduler) QueueLen() int {
	return s.queue.Len()
}

// Stale returns waiting tasks blocked longer than age.
func (s *ResourceScheduler) Stale(age time.Duration) []*types.Task {
	return s.queue.Stale(age)
}

// Stats returns a snapshot of scheduler state.
func (s *ResourceScheduler) Stats() types.SchedulerStats {
	s.mu.Lock()
	active := s.active
	max := s.maxConcurrent
	completed := s.completedTasks
	s.mu.Unlock()

	return types.SchedulerStats{
		ActiveTasks:    active,
		MaxConcurrent:  max,
		CompletedTasks: completed,
		Queue:          s.queue.Stats(),
		Available:      s.avail.Available(),
		Usage:          s.avail.Current(),
	}
}

func (s *ResourceScheduler) loop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.dispatch()
		}
	}
}

// dispatch admits ready tasks in priority order until the head task no longer
// fits.
func (s *ResourceScheduler) dispatch() {
	for {
		task := s.queue.Peek()
		if task == nil {
			return
		}
		if !s.CanExecute(task) {
			return
		}

		// re-check under the lock so concurrent dispatchers cannot
		// admit past the cap
		s.mu.Lock()
		if s.active >= s.maxConcurrent {
			s.mu.Unlock()
			return
		}
		popped := s.queue.Pop()
		if popped == nil {
			s.mu.Unlock()
			return
		}
		s.active++
		s.mu.Unlock()

		s.wg.Add(1)
		go s.run(popped)
	}
}

// run executes one task, always releasing its slot and marking it completed
// so dependents are never wedged by a failed or panicking task.
func (s *ResourceScheduler) run(task *types.Task) {
	start := time.Now()
	var err error

	defer func() {
		if r := recover(); r != nil {
			err = errors.NewError(errors.ErrCodePanicRecovered,
				fmt.Sprintf("task %s panicked: %v", task.ID, r)).
				WithComponent("sched").WithOperation("run").
				WithDetail("task_id", task.ID)
		}

		s.mu.Lock()
		s.active--
		s.completedTasks++
		s.mu.Unlock()

		s.queue.MarkCompleted(task.ID)
		s.wg.Done()

		duration := time.Since(start)
		s.sink.RecordOperation("task_execution", duration, err == nil, map[string]string{
			"task_id": task.ID,
			"type":    task.Type,
		})
		if err != nil {
			s.logger.Error("task failed", "task_id", task.ID, "type", task.Type, "duration", duration, "error", err)
		} else {
			s.logger.Debug("task completed", "task_id", task.ID, "duration", duration)
		}
	}()

	if task.Callback != nil {
		err = task.Callback(task)
	}
}
