package scheduling

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supplyintel/internal/domain"
	"supplyintel/internal/infra/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func counting(n *atomic.Int32) ActionFunc {
	return func(context.Context, Task) (string, error) {
		n.Add(1)
		return "ok", nil
	}
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(nil, newTestLogger())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestSchedulerStopWithoutStart(t *testing.T) {
	s := NewScheduler(nil, newTestLogger())
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop without start: %v", err)
	}
}

func TestSchedulerActionFires(t *testing.T) {
	var count atomic.Int32

	s := NewScheduler(nil, newTestLogger())
	s.RegisterAction(ActionCachePrune, counting(&count))
	if err := s.AddTask(Task{Name: "prune", Schedule: "50ms", Action: ActionCachePrune}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	time.Sleep(200 * time.Millisecond)
	s.Stop()

	if c := count.Load(); c < 1 {
		t.Errorf("action fired %d times, expected at least 1", c)
	}
}

func TestSchedulerAddTaskValidation(t *testing.T) {
	s := NewScheduler(nil, newTestLogger())
	var n atomic.Int32
	s.RegisterAction(ActionCachePrune, counting(&n))
	s.RegisterAction(ActionWatchQuery, counting(&n))

	tests := []struct {
		name string
		task Task
	}{
		{"unknown action", Task{Name: "x", Schedule: "1h", Action: "does_not_exist"}},
		{"missing name", Task{Schedule: "1h", Action: ActionCachePrune}},
		{"invalid schedule", Task{Name: "bad", Schedule: "not-valid", Action: ActionCachePrune}},
		{"watch without query", Task{Name: "w", Schedule: "1h", Action: ActionWatchQuery}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, s.AddTask(tt.task))
		})
	}

	require.NoError(t, s.AddTask(Task{Name: "dup", Schedule: "1h", Action: ActionCachePrune}))
	assert.Error(t, s.AddTask(Task{Name: "dup", Schedule: "2h", Action: ActionCachePrune}))
}

func TestSchedulerOneShot(t *testing.T) {
	var count atomic.Int32

	s := NewScheduler(nil, newTestLogger())
	s.RegisterAction(ActionCachePrune, counting(&count))
	if err := s.AddTask(Task{Name: "one-shot", Schedule: "50ms", Action: ActionCachePrune, OneShot: true}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	time.Sleep(300 * time.Millisecond)
	s.Stop()

	if c := count.Load(); c != 1 {
		t.Errorf("one-shot fired %d times, expected exactly 1", c)
	}
	assert.Empty(t, s.Tasks())
}

func TestSchedulerRemoveTask(t *testing.T) {
	var count atomic.Int32
	s := NewScheduler(nil, newTestLogger())
	s.RegisterAction(ActionCachePrune, counting(&count))
	require.NoError(t, s.AddTask(Task{Name: "removable", Schedule: "50ms", Action: ActionCachePrune}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, s.RemoveTask("removable"))
	after := count.Load()
	time.Sleep(150 * time.Millisecond)
	s.Stop()

	if count.Load() > after+1 {
		t.Error("task continued firing after removal")
	}
	assert.ErrorIs(t, s.RemoveTask("removable"), domain.ErrNotFound)
}

func TestSchedulerTasksReportsRuns(t *testing.T) {
	s := NewScheduler(nil, newTestLogger())
	s.RegisterAction(ActionHistoryPrune, func(context.Context, Task) (string, error) {
		return "", errors.New("disk full")
	})
	var n atomic.Int32
	s.RegisterAction(ActionCachePrune, counting(&n))
	require.NoError(t, s.AddTask(Task{Name: "b-failing", Schedule: "40ms", Action: ActionHistoryPrune}))
	require.NoError(t, s.AddTask(Task{Name: "a-hourly", Schedule: "1h", Action: ActionCachePrune}))

	s.Start(context.Background())
	time.Sleep(150 * time.Millisecond)
	s.Stop()

	tasks := s.Tasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, "a-hourly", tasks[0].Name)
	assert.Zero(t, tasks[0].Runs)
	assert.Equal(t, "b-failing", tasks[1].Name)
	assert.GreaterOrEqual(t, tasks[1].Runs, 1)
	assert.Equal(t, "disk full", tasks[1].LastErr)
}

func TestSchedulerLoadConfig(t *testing.T) {
	s := NewScheduler(nil, newTestLogger())
	var n atomic.Int32
	s.RegisterAction(ActionWatchQuery, counting(&n))
	s.RegisterAction(ActionCachePrune, counting(&n))

	err := s.LoadConfig(config.WatchConfig{Tasks: []config.WatchTaskConfig{
		{Name: "ports", Schedule: "*/15 * * * *", Action: "watch_query", Query: "Port congestion alerts", Intent: "monitor_alerts"},
		{Name: "cache", Schedule: "10m", Action: "cache_prune"},
	}})
	require.NoError(t, err)
	assert.Len(t, s.Tasks(), 2)

	err = s.LoadConfig(config.WatchConfig{Tasks: []config.WatchTaskConfig{{Name: "bad", Schedule: "10m", Action: "reindex"}}})
	assert.Error(t, err)
}

type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(_ context.Context, ev domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}
func (b *recordingBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *recordingBus) SubscribeAll(domain.EventHandler) func()                 { return func() {} }
func (b *recordingBus) Close()                                                  {}

func TestSchedulerPublishesWatchFired(t *testing.T) {
	bus := &recordingBus{}
	s := NewScheduler(bus, newTestLogger())
	var n atomic.Int32
	s.RegisterAction(ActionCachePrune, counting(&n))
	require.NoError(t, s.AddTask(Task{Name: "once", Schedule: "30ms", Action: ActionCachePrune, OneShot: true}))

	s.Start(context.Background())
	time.Sleep(150 * time.Millisecond)
	s.Stop()

	bus.mu.Lock()
	defer bus.mu.Unlock()
	require.Len(t, bus.events, 1)
	assert.Equal(t, domain.EventWatchFired, bus.events[0].Type)
	assert.Contains(t, string(bus.events[0].Payload), `"task":"once"`)
}

func TestParseSchedule(t *testing.T) {
	for _, ok := range []string{"*/5 * * * *", "@every 30m", "@hourly", "30m", "100ms"} {
		sched, err := ParseSchedule(ok)
		if err != nil || sched == nil {
			t.Errorf("ParseSchedule(%q) = %v, %v", ok, sched, err)
		}
	}
	for _, bad := range []string{"", "not-a-schedule", "-5m", "0s"} {
		if _, err := ParseSchedule(bad); err == nil {
			t.Errorf("ParseSchedule(%q) expected error", bad)
		}
	}
}

func TestConstantDelay(t *testing.T) {
	sched, err := ParseSchedule("250ms")
	require.NoError(t, err)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, base.Add(250*time.Millisecond), sched.Next(base))
}

type fakeRunner struct {
	resp *domain.CoordinatorResponse
	err  error
	got  domain.CoordinatorRequest
}

func (r *fakeRunner) Process(_ context.Context, req domain.CoordinatorRequest) (*domain.CoordinatorResponse, error) {
	r.got = req
	return r.resp, r.err
}

func TestWatchQueryAction(t *testing.T) {
	runner := &fakeRunner{resp: &domain.CoordinatorResponse{
		Success:       true,
		Intent:        domain.IntentMonitorAlerts,
		CorrelationID: "01J0",
		PrimaryResult: domain.AgentOutput{Success: true, Confidence: 72},
	}}
	summary, err := WatchQuery(runner)(context.Background(), Task{
		Name:   "ports",
		Query:  "Port congestion alerts",
		Intent: domain.IntentMonitorAlerts,
	})
	require.NoError(t, err)
	assert.Equal(t, "intent=monitor_alerts correlation_id=01J0 confidence=72", summary)
	assert.Equal(t, "watch:ports", runner.got.Origin)
	assert.Equal(t, domain.IntentMonitorAlerts, runner.got.Intent)

	runner.resp = &domain.CoordinatorResponse{PrimaryResult: domain.AgentOutput{Error: "provider down"}}
	_, err = WatchQuery(runner)(context.Background(), Task{Name: "ports", Query: "q"})
	assert.ErrorIs(t, err, domain.ErrAgentFailed)

	runner.err = fmt.Errorf("wrapped: %w", domain.ErrInvalidInput)
	_, err = WatchQuery(runner)(context.Background(), Task{Name: "ports", Query: "q"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

type fakeHistory struct {
	domain.HistoryStore
	cutoff time.Time
}

func (h *fakeHistory) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	h.cutoff = cutoff
	return 4, nil
}

func TestHistoryPruneAction(t *testing.T) {
	now := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	h := &fakeHistory{}

	summary, err := HistoryPrune(h, 48*time.Hour, func() time.Time { return now })(context.Background(), Task{})
	require.NoError(t, err)
	assert.Equal(t, "pruned 4 records", summary)
	assert.Equal(t, now.Add(-48*time.Hour), h.cutoff)

	summary, err = HistoryPrune(h, 0, nil)(context.Background(), Task{})
	require.NoError(t, err)
	assert.Equal(t, "retention disabled", summary)
}

type prunerFunc func() int

func (f prunerFunc) PruneCaches() int { return f() }

func TestCachePruneAction(t *testing.T) {
	summary, err := CachePrune(prunerFunc(func() int { return 7 }))(context.Background(), Task{})
	require.NoError(t, err)
	assert.Equal(t, "evicted 7 entries", summary)
}
