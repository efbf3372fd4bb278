// Package scheduling runs watchlist and housekeeping tasks on cron
// expressions or fixed intervals.
package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"supplyintel/internal/domain"
	"supplyintel/internal/infra/config"
	"supplyintel/internal/infra/metrics"
)

// Action identifies what a task does when it fires.
type Action string

const (
	ActionWatchQuery   Action = "watch_query"
	ActionHistoryPrune Action = "history_prune"
	ActionCachePrune   Action = "cache_prune"
)

const taskTimeout = 5 * time.Minute

// Task is one scheduled job.
type Task struct {
	Name     string
	Schedule string // cron expression "*/5 * * * *" or duration "30m"
	Action   Action
	Query    string           // watch_query
	Intent   domain.IntentKey // watch_query, optional
	OneShot  bool
}

// ActionFunc runs a task. It reports what it did as a short summary.
type ActionFunc func(ctx context.Context, task Task) (string, error)

// TaskInfo describes a registered task for health reporting.
type TaskInfo struct {
	Name    string    `json:"name"`
	Action  Action    `json:"action"`
	Next    time.Time `json:"next_run"`
	Runs    int       `json:"runs"`
	LastErr string    `json:"last_error,omitempty"`
}

type entry struct {
	id      cron.EntryID
	task    Task
	runs    int
	lastErr string
}

// Scheduler owns a cron runner and the tasks registered on it.
type Scheduler struct {
	cron    *cron.Cron
	actions map[Action]ActionFunc
	entries map[string]*entry
	bus     domain.EventBus
	logger  *slog.Logger
	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler. bus may be nil.
func NewScheduler(bus domain.EventBus, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		actions: make(map[Action]ActionFunc),
		entries: make(map[string]*entry),
		bus:     bus,
		logger:  logger.With("component", "scheduler"),
	}
}

// RegisterAction binds fn to an action type.
func (s *Scheduler) RegisterAction(action Action, fn ActionFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[action] = fn
}

// LoadConfig adds every configured task. It stops at the first invalid one.
func (s *Scheduler) LoadConfig(cfg config.WatchConfig) error {
	for _, tc := range cfg.Tasks {
		if err := s.AddTask(Task{
			Name:     tc.Name,
			Schedule: tc.Schedule,
			Action:   Action(tc.Action),
			Query:    tc.Query,
			Intent:   domain.IntentKey(tc.Intent),
			OneShot:  tc.OneShot,
		}); err != nil {
			return err
		}
	}
	return nil
}

// AddTask registers a task. Names must be unique.
func (s *Scheduler) AddTask(task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.Name == "" {
		return fmt.Errorf("scheduler: task name is required")
	}
	if _, exists := s.entries[task.Name]; exists {
		return fmt.Errorf("scheduler: task %q already exists", task.Name)
	}
	fn, ok := s.actions[task.Action]
	if !ok {
		return fmt.Errorf("scheduler: unknown action %q for task %q", task.Action, task.Name)
	}
	if task.Action == ActionWatchQuery && task.Query == "" {
		return fmt.Errorf("scheduler: task %q needs a query", task.Name)
	}
	schedule, err := ParseSchedule(task.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q for task %q: %w", task.Schedule, task.Name, err)
	}

	e := &entry{task: task}
	e.id = s.cron.Schedule(schedule, cron.FuncJob(func() { s.run(e, fn) }))
	s.entries[task.Name] = e

	s.logger.Info("task added", "name", task.Name, "schedule", task.Schedule, "action", string(task.Action))
	return nil
}

// RemoveTask unregisters a task by name.
func (s *Scheduler) RemoveTask(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return domain.NewDomainError("Scheduler.RemoveTask", domain.ErrNotFound, name)
	}
	s.cron.Remove(e.id)
	delete(s.entries, name)
	return nil
}

func (s *Scheduler) run(e *entry, fn ActionFunc) {
	s.mu.Lock()
	ctx := s.ctx
	task := e.task
	s.mu.Unlock()

	if ctx == nil {
		s.logger.Debug("scheduler stopped, skipping task", "task", task.Name)
		return
	}

	taskCtx, cancel := context.WithTimeout(ctx, taskTimeout)
	defer cancel()

	start := time.Now()
	summary, err := fn(taskCtx, task)
	metrics.RecordWatchRun(task.Name, err)

	s.mu.Lock()
	e.runs++
	e.lastErr = ""
	if err != nil {
		e.lastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("scheduled task failed",
			"task", task.Name,
			"error", err,
			"duration", time.Since(start))
	} else {
		s.logger.Info("scheduled task completed",
			"task", task.Name,
			"summary", summary,
			"duration", time.Since(start))
	}

	if s.bus != nil {
		payload := map[string]any{
			"task":        task.Name,
			"action":      string(task.Action),
			"summary":     summary,
			"duration_ms": time.Since(start).Milliseconds(),
		}
		if err != nil {
			payload["error"] = err.Error()
		}
		s.bus.Publish(ctx, domain.NewEvent(domain.EventWatchFired, "", payload))
	}

	if task.OneShot {
		s.mu.Lock()
		s.cron.Remove(e.id)
		delete(s.entries, task.Name)
		s.mu.Unlock()
	}
}

// Tasks returns the registered tasks sorted by name.
func (s *Scheduler) Tasks() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskInfo, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, TaskInfo{
			Name:    e.task.Name,
			Action:  e.task.Action,
			Next:    s.cron.Entry(e.id).Next,
			Runs:    e.runs,
			LastErr: e.lastErr,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start begins running the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
	return nil
}

// Stop cancels running tasks and waits for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	return nil
}

// ParseSchedule parses a cron expression first, then a Go duration.
func ParseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return constantDelay(dur), nil
}

// constantDelay fires at a fixed interval. Unlike cron.Every it keeps
// sub-second precision.
type constantDelay time.Duration

func (d constantDelay) Next(t time.Time) time.Time {
	return t.Add(time.Duration(d))
}
