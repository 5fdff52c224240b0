package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/movinglive/autoagent/core/taskstore"
	"github.com/movinglive/autoagent/core/types"
	"github.com/mudler/xlog"
)

// IsDue reports whether the next occurrence of task, counted from its last
// run (or creation) plus its interval, is at or before now.
func IsDue(task types.Task, now time.Time) bool {
	return !task.NextDue().After(now)
}

// Engine turns task activation state into platform alarms. Alarms are derived
// triggers: the task record is the source of truth and alarm failures never
// roll back a store mutation.
type Engine struct {
	store  *taskstore.Store
	alarms types.Alarms
	now    func() time.Time
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store *taskstore.Store, alarms types.Alarms, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		alarms: alarms,
		now:    time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Schedule registers a periodic alarm named after an active task, replacing
// any previous one, or clears it when the task is inactive.
func (e *Engine) Schedule(ctx context.Context, task types.Task) error {
	if !task.IsActive {
		return e.Unschedule(ctx, task.ID)
	}
	if task.IntervalInMinutes <= 0 {
		return fmt.Errorf("%w: task %s has no interval", types.ErrAlarmOperationFailed, task.ID)
	}

	if _, err := e.alarms.Clear(ctx, task.ID); err != nil {
		return fmt.Errorf("%w: clear %s: %v", types.ErrAlarmOperationFailed, task.ID, err)
	}
	info := types.AlarmInfo{
		DelayInMinutes:  float64(task.IntervalInMinutes),
		PeriodInMinutes: float64(task.IntervalInMinutes),
	}
	if err := e.alarms.Create(ctx, task.ID, info); err != nil {
		return fmt.Errorf("%w: create %s: %v", types.ErrAlarmOperationFailed, task.ID, err)
	}
	return nil
}

// Unschedule clears the task's alarm; a missing alarm is not an error.
func (e *Engine) Unschedule(ctx context.Context, taskID string) error {
	if _, err := e.alarms.Clear(ctx, taskID); err != nil {
		return fmt.Errorf("%w: clear %s: %v", types.ErrAlarmOperationFailed, taskID, err)
	}
	return nil
}

// RescheduleAll drops every alarm and recreates one per active task.
func (e *Engine) RescheduleAll(ctx context.Context, tasks []types.Task) error {
	if err := e.alarms.ClearAll(ctx); err != nil {
		return fmt.Errorf("%w: clear all: %v", types.ErrAlarmOperationFailed, err)
	}

	var failed int
	for _, task := range tasks {
		if !task.IsActive {
			continue
		}
		if err := e.Schedule(ctx, task); err != nil {
			failed++
			xlog.Error("Failed to recreate alarm", "task_id", task.ID, "error", err)
			continue
		}
		xlog.Debug("Alarm recreated", "task_id", task.ID, "task", task.Name)
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d alarm(s) not recreated", types.ErrAlarmOperationFailed, failed)
	}
	return nil
}

// Restore reloads persisted tasks and rebuilds their alarms. Only a storage
// failure is returned.
func (e *Engine) Restore(ctx context.Context) error {
	tasks, err := e.store.GetTasks(ctx)
	if err != nil {
		return err
	}
	if err := e.RescheduleAll(ctx, tasks); err != nil {
		xlog.Warn("Alarms partially restored", "error", err)
	}
	xlog.Info("Task alarms restored", "tasks", len(tasks))
	return nil
}

func (e *Engine) schedule(ctx context.Context, task types.Task) {
	if err := e.Schedule(ctx, task); err != nil {
		xlog.Error("Failed to schedule task", "task_id", task.ID, "error", err)
	}
}

func (e *Engine) unschedule(ctx context.Context, taskID string) {
	if err := e.Unschedule(ctx, taskID); err != nil {
		xlog.Error("Failed to unschedule task", "task_id", taskID, "error", err)
	}
}
