package scheduler

import (
	"sync"
	"time"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("embedlsp.scheduler")

type Task struct {
	Name    string
	Execute func() error
}

// Scheduler runs queued tasks one at a time on a single worker.
type Scheduler struct {
	taskQueue chan Task
	mu        sync.Mutex
	stopped   bool
	stopChan  chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewScheduler creates a new Scheduler with the specified queue size
func NewScheduler(queueSize int) *Scheduler {
	return &Scheduler{
		taskQueue: make(chan Task, queueSize),
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// RunScheduler starts the scheduler loop
func (s *Scheduler) RunScheduler() {
	go func() {
		defer close(s.done)
		for {
			select {
			case task := <-s.taskQueue:
				s.run(task)
			case <-s.stopChan:
				// Drain what was accepted before the stop.
				for {
					select {
					case task := <-s.taskQueue:
						s.run(task)
					default:
						return
					}
				}
			}
		}
	}()
}

func (s *Scheduler) run(task Task) {
	defer s.wg.Done()
	log.Debugf("executing %s", task.Name)
	if err := task.Execute(); err != nil {
		log.Errorf("%s: %s", task.Name, err)
	}
}

// enqueue hands a task to the worker. With block unset a full queue drops
// the task.
func (s *Scheduler) enqueue(task Task, block bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.wg.Add(1)
	if block {
		s.taskQueue <- task
		return true
	}
	select {
	case s.taskQueue <- task:
		return true
	default:
		s.wg.Done()
		return false
	}
}

// SchedulePeriodicTask queues task every interval. A tick that finds the
// queue full is skipped.
func (s *Scheduler) SchedulePeriodicTask(interval time.Duration, task Task) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !s.enqueue(task, false) {
					log.Debugf("skipped scheduling %s", task.Name)
				}
			case <-s.stopChan:
				return
			}
		}
	}()
}

// ScheduleHighPriorityTask queues a task, waiting for room if needed.
// It reports false once the scheduler has been stopped.
func (s *Scheduler) ScheduleHighPriorityTask(task Task) bool {
	return s.enqueue(task, true)
}

// StopScheduler waits for all accepted tasks to complete and stops the scheduler
func (s *Scheduler) StopScheduler() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopChan)
	s.mu.Unlock()

	s.wg.Wait()
	log.Debug("scheduler stopped")
}
