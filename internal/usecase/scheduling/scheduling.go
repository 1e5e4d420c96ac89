// Package scheduling runs background maintenance tasks, such as keeping the
// model loaded, on cron expressions or fixed intervals.
package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const defaultTaskTimeout = 5 * time.Minute

// Task is one recurring job.
type Task struct {
	Name string
	// Schedule is a cron expression ("0 */3 * * *"), a descriptor
	// ("@every 3h", "@hourly") or a Go duration ("30m").
	Schedule string
	// Timeout bounds a single execution. 0 uses five minutes.
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Scheduler runs tasks on their schedules until stopped. Executions of the
// same task never overlap; a tick that arrives while the previous run is
// still going is skipped.
type Scheduler struct {
	cron    *cron.Cron
	entries map[string]cron.EntryID
	logger  *slog.Logger

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DiscardLogger),
		)),
		entries: make(map[string]cron.EntryID),
		logger:  logger,
	}
}

// Add registers task. Names must be unique.
func (s *Scheduler) Add(task Task) error {
	if task.Run == nil {
		return fmt.Errorf("scheduler: task %q has no function", task.Name)
	}
	schedule, err := ParseSchedule(task.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: task %q: %w", task.Name, err)
	}
	timeout := task.Timeout
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.entries[task.Name]; dup {
		return fmt.Errorf("scheduler: task %q already exists", task.Name)
	}

	s.entries[task.Name] = s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		if ctx == nil || ctx.Err() != nil {
			return
		}
		s.runOnce(ctx, task.Name, timeout, task.Run)
	}))
	s.logger.Info("task scheduled", "task", task.Name, "schedule", task.Schedule)
	return nil
}

func (s *Scheduler) runOnce(ctx context.Context, name string, timeout time.Duration, fn func(context.Context) error) {
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := fn(taskCtx); err != nil {
		s.logger.Warn("scheduled task failed", "task", name, "error", err,
			"duration_ms", time.Since(start).Milliseconds())
		return
	}
	s.logger.Debug("scheduled task completed", "task", name,
		"duration_ms", time.Since(start).Milliseconds())
}

// Start begins running tasks. Running tasks see ctx cancelled on Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
}

// Stop cancels running tasks and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
}

// Next returns the next run time of the named task.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	e := s.cron.Entry(id)
	return e.Next, e.ID != 0
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule accepts a cron expression or descriptor first and falls back
// to a positive Go duration.
func ParseSchedule(spec string) (cron.Schedule, error) {
	if spec == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	if sched, err := parser.Parse(spec); err == nil {
		return sched, nil
	}
	d, err := time.ParseDuration(spec)
	if err != nil {
		return nil, fmt.Errorf("not a cron expression or duration: %q", spec)
	}
	if d <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", spec)
	}
	return constantDelay(d), nil
}

// constantDelay fires every d. Unlike cron.Every it keeps sub-second
// precision.
type constantDelay time.Duration

func (d constantDelay) Next(t time.Time) time.Time { return t.Add(time.Duration(d)) }
