package tasks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lysyi3m/trend-comb/app/cache"
	"github.com/lysyi3m/trend-comb/app/ratelimit"
	"github.com/lysyi3m/trend-comb/app/source"
)

type mockSource struct {
	name     string
	interval time.Duration
	calls    atomic.Int32
	err      error
	done     chan struct{}
	once     sync.Once
}

func (m *mockSource) Name() string {
	return m.name
}

func (m *mockSource) RefreshInterval() time.Duration {
	return m.interval
}

func (m *mockSource) Refresh(ctx context.Context) (int, error) {
	m.calls.Add(1)
	if m.done != nil {
		m.once.Do(func() { close(m.done) })
	}
	if m.err != nil {
		return 0, m.err
	}
	return 3, nil
}

type mockLedger struct {
	calls atomic.Int32
	ttl   time.Duration
}

func (m *mockLedger) ExpireReservations(ctx context.Context, olderThan time.Duration) (int, error) {
	m.calls.Add(1)
	m.ttl = olderThan
	return 1, nil
}

type mockPurger struct {
	calls int
}

func (m *mockPurger) PurgeExpired(ctx context.Context) (int64, error) {
	m.calls++
	return 2, nil
}

func newTestScheduler(sources []Warmable, ledger ReservationExpirer) *Scheduler {
	return newScheduler(func() []Warmable { return sources }, ledger, nil, SchedulerOptions{
		Interval:       time.Hour,
		WorkerCount:    2,
		ReservationTTL: 15 * time.Minute,
		SweepInterval:  5 * time.Minute,
	})
}

func drain(s *Scheduler) []TaskInterface {
	var tasks []TaskInterface
	for {
		select {
		case task := <-s.taskQueue:
			tasks = append(tasks, task)
		default:
			return tasks
		}
	}
}

func TestNewSchedulerDefaults(t *testing.T) {
	scheduler := newScheduler(func() []Warmable { return nil }, nil, nil, SchedulerOptions{})

	if scheduler.workerCount != 1 {
		t.Errorf("Expected worker count 1, got %d", scheduler.workerCount)
	}
	if scheduler.interval != 30*time.Second {
		t.Errorf("Expected interval 30s, got %s", scheduler.interval)
	}
	if cap(scheduler.taskQueue) != 300 {
		t.Errorf("Expected queue capacity 300, got %d", cap(scheduler.taskQueue))
	}
}

func TestEnqueueTasksRespectsRefreshInterval(t *testing.T) {
	fast := &mockSource{name: "fast", interval: time.Minute}
	slow := &mockSource{name: "slow", interval: time.Hour}
	ledger := &mockLedger{}

	scheduler := newTestScheduler([]Warmable{fast, slow}, ledger)
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	scheduler.now = func() time.Time { return now }

	scheduler.enqueueTasks()
	tasks := drain(scheduler)
	if len(tasks) != 3 {
		t.Fatalf("Expected 2 warm tasks and 1 sweep, got %d tasks", len(tasks))
	}

	now = now.Add(2 * time.Minute)
	scheduler.enqueueTasks()
	tasks = drain(scheduler)
	if len(tasks) != 1 {
		t.Fatalf("Expected only the fast source to be due, got %d tasks", len(tasks))
	}
	if tasks[0].GetType() != TaskTypeWarmSource || tasks[0].GetTarget() != "fast" {
		t.Errorf("Expected warm task for 'fast', got %s for '%s'", tasks[0].GetType(), tasks[0].GetTarget())
	}

	now = now.Add(5 * time.Minute)
	scheduler.enqueueTasks()
	tasks = drain(scheduler)
	sweeps := 0
	for _, task := range tasks {
		if task.GetType() == TaskTypeSweepReservations {
			sweeps++
		}
	}
	if sweeps != 1 {
		t.Errorf("Expected 1 sweep once the sweep interval elapsed, got %d", sweeps)
	}
}

func TestEnqueueTaskQueueFull(t *testing.T) {
	scheduler := newTestScheduler(nil, nil)
	src := &mockSource{name: "s", interval: time.Minute}

	for i := 0; i < cap(scheduler.taskQueue); i++ {
		if err := scheduler.EnqueueTask(NewWarmSourceTask(src)); err != nil {
			t.Fatalf("Unexpected error at %d: %v", i, err)
		}
	}

	if err := scheduler.EnqueueTask(NewWarmSourceTask(src)); err == nil {
		t.Error("Expected error when queue is full")
	}
}

func TestSchedulerRunsWarmTasks(t *testing.T) {
	src := &mockSource{name: "giphy", interval: time.Minute, done: make(chan struct{})}
	scheduler := newTestScheduler([]Warmable{src}, &mockLedger{})

	scheduler.Start()
	defer scheduler.Stop()

	select {
	case <-src.done:
	case <-time.After(5 * time.Second):
		t.Fatal("Expected warm task to run")
	}
}

func TestSchedulerRetriesFailedTask(t *testing.T) {
	src := &mockSource{name: "reddit", interval: time.Hour, err: errors.New("upstream down")}
	scheduler := newTestScheduler(nil, nil)

	task := NewWarmSourceTask(src)
	scheduler.executeTask(0, task)

	if task.GetRetryCount() != 1 {
		t.Errorf("Expected retry count 1, got %d", task.GetRetryCount())
	}

	select {
	case queued := <-scheduler.taskQueue:
		if queued.GetID() != task.GetID() {
			t.Errorf("Expected task %s to be re-enqueued, got %s", task.GetID(), queued.GetID())
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Expected failed task to be re-enqueued")
	}

	scheduler.Stop()
}

func TestTaskRetryLimit(t *testing.T) {
	task := NewTask(TaskTypeWarmSource, "reddit")

	for i := 0; i < DefaultMaxRetries; i++ {
		if !task.CanRetry() {
			t.Fatalf("Expected retry %d to be allowed", i+1)
		}
		task.IncrementRetryCount()
	}

	if task.CanRetry() {
		t.Error("Expected no retries past the maximum")
	}
	if task.GetDuration() != 0 {
		t.Error("Expected zero duration before start")
	}
}

func TestSweepReservationsTask(t *testing.T) {
	ledger := &mockLedger{}
	purger := &mockPurger{}

	task := NewSweepReservationsTask(ledger, purger, 10*time.Minute)
	task.Start()
	if err := task.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}

	if ledger.calls.Load() != 1 {
		t.Errorf("Expected 1 ledger sweep, got %d", ledger.calls.Load())
	}
	if ledger.ttl != 10*time.Minute {
		t.Errorf("Expected ttl 10m, got %s", ledger.ttl)
	}
	if purger.calls != 1 {
		t.Errorf("Expected 1 purge, got %d", purger.calls)
	}
}

func TestTaskHonoursCancelledContext(t *testing.T) {
	src := &mockSource{name: "rss", interval: time.Minute}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := NewWarmSourceTask(src).Execute(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if src.calls.Load() != 0 {
		t.Error("Expected no refresh on a cancelled context")
	}
}

func TestSyncSourceConfigTask(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "memes.yml")
	write := func(enabled string) {
		body := "type: rss\nurl: \"https://example.com/feed.xml\"\nsettings:\n  enabled: " + enabled + "\n"
		if err := os.WriteFile(path, []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}

	configCache := source.NewConfigCache(tempDir)
	registry := source.NewRegistry(ratelimit.NewLimiter(), cache.NewResponseCache(nil, time.Hour), source.Options{})

	write("true")
	task := NewSyncSourceConfigTask("memes", configCache, registry)
	if err := task.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, ok := registry.Get("memes"); !ok {
		t.Error("Expected source 'memes' to be registered")
	}

	write("false")
	if err := NewSyncSourceConfigTask("memes", configCache, registry).Execute(context.Background()); err != nil {
		t.Fatal(err)
	}
	if registry.Count() != 0 {
		t.Errorf("Expected disabled source to be unregistered, got %d sources", registry.Count())
	}

	if err := NewSyncSourceConfigTask("missing", configCache, registry).Execute(context.Background()); err == nil {
		t.Error("Expected error for missing config file")
	}
}
