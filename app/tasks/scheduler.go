package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/trend-comb/app/metrics"
	"github.com/lysyi3m/trend-comb/app/source"
	"github.com/lysyi3m/trend-comb/app/store"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

// Warmable is a source the scheduler keeps warm on its own interval.
type Warmable interface {
	Refresher
	RefreshInterval() time.Duration
}

type SchedulerOptions struct {
	Interval       time.Duration
	WorkerCount    int
	ReservationTTL time.Duration
	SweepInterval  time.Duration
}

type Scheduler struct {
	sources        func() []Warmable
	ledger         ReservationExpirer
	purger         ExpiredPurger
	interval       time.Duration
	reservationTTL time.Duration
	sweepInterval  time.Duration
	workerCount    int
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	taskQueue      chan TaskInterface

	mu        sync.Mutex
	lastWarm  map[string]time.Time
	lastSweep time.Time
	now       func() time.Time
}

// NewScheduler wires the scheduler to the live source registry. Stores that
// expire rows lazily are purged during the reservation sweep.
func NewScheduler(registry *source.Registry, ledger ReservationExpirer, st store.Store, opts SchedulerOptions) *Scheduler {
	var purger ExpiredPurger
	if p, ok := st.(ExpiredPurger); ok {
		purger = p
	}

	return newScheduler(func() []Warmable {
		sources := registry.Sources()
		warmables := make([]Warmable, len(sources))
		for i, s := range sources {
			warmables[i] = s
		}
		return warmables
	}, ledger, purger, opts)
}

func newScheduler(sources func() []Warmable, ledger ReservationExpirer, purger ExpiredPurger, opts SchedulerOptions) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 1
	}
	if opts.ReservationTTL <= 0 {
		opts.ReservationTTL = 15 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 5 * time.Minute
	}

	return &Scheduler{
		sources:        sources,
		ledger:         ledger,
		purger:         purger,
		interval:       opts.Interval,
		reservationTTL: opts.ReservationTTL,
		sweepInterval:  opts.SweepInterval,
		workerCount:    opts.WorkerCount,
		ctx:            ctx,
		cancel:         cancel,
		taskQueue:      make(chan TaskInterface, 300),
		lastWarm:       make(map[string]time.Time),
		now:            time.Now,
	}
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.enqueueTasks()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.enqueueTasks()
			}
		}
	}()

}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	close(s.taskQueue)
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case s.taskQueue <- task:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return fmt.Errorf("task queue is full")
	}
}

// enqueueTasks queues a warm task for every source whose refresh interval
// has elapsed and a reservation sweep when one is due.
func (s *Scheduler) enqueueTasks() {
	sources := s.sources()
	if len(sources) == 0 {
		slog.Debug("No registered sources found")
	}

	now := s.now()

	for _, src := range sources {
		if !s.warmDue(src, now) {
			slog.Debug("Source not due for refresh yet", "source", src.Name())
			continue
		}

		if err := s.EnqueueTask(NewWarmSourceTask(src)); err != nil {
			slog.Warn("Failed to enqueue WarmSourceTask", "source", src.Name(), "error", err)
		}
	}

	if s.ledger != nil && s.sweepDue(now) {
		if err := s.EnqueueTask(NewSweepReservationsTask(s.ledger, s.purger, s.reservationTTL)); err != nil {
			slog.Warn("Failed to enqueue SweepReservationsTask", "error", err)
		}
	}
}

func (s *Scheduler) warmDue(src Warmable, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.lastWarm[src.Name()]
	if ok && now.Sub(last) < src.RefreshInterval() {
		return false
	}
	s.lastWarm[src.Name()] = now
	return true
}

func (s *Scheduler) sweepDue(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lastSweep.IsZero() && now.Sub(s.lastSweep) < s.sweepInterval {
		return false
	}
	s.lastSweep = now
	return true
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task, ok := <-s.taskQueue:
			if !ok {
				return
			}
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	err := task.Execute(taskCtx)
	metrics.ObserveTask(string(task.GetType()), err)

	if err != nil {
		slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", err)

		if task.CanRetry() {
			task.IncrementRetryCount()
			retryDelay := time.Duration(1<<uint(task.GetRetryCount()-1)) * time.Second
			if retryDelay > 30*time.Second {
				retryDelay = 30 * time.Second
			}

			slog.Warn("Task retry scheduled", "type", string(task.GetType()), "target", task.GetTarget(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", retryDelay.String())

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				select {
				case <-time.After(retryDelay):
				case <-s.ctx.Done():
					slog.Debug("Scheduler stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
					return
				}
				if retryErr := s.EnqueueTask(task); retryErr != nil {
					slog.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
				}
			}()
		} else {
			slog.Error("Task failed after maximum retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		}
	}
}
