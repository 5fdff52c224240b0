package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/movinglive/autoagent/core/types"
	"github.com/mudler/xlog"
)

const (
	MinutesPerHour = 60
	MinutesPerDay  = 24 * MinutesPerHour
	MinutesPerWeek = 7 * MinutesPerDay
)

// TaskInput is the user-editable part of a task.
type TaskInput struct {
	Name              string                `json:"name"`
	Prompt            string                `json:"prompt"`
	IntervalInMinutes int                   `json:"intervalInMinutes,omitempty"`
	SchedulingData    *types.SchedulingData `json:"schedulingData,omitempty"`
}

// IntervalFor maps a scheduling unit onto its period in minutes.
func IntervalFor(data *types.SchedulingData) (int, error) {
	if data == nil {
		return 0, fmt.Errorf("%w: no interval or scheduling data", types.ErrInvalidTask)
	}
	switch data.Type {
	case types.ScheduleUnitHours:
		return MinutesPerHour, nil
	case types.ScheduleUnitDays:
		return MinutesPerDay, nil
	case types.ScheduleUnitWeeks:
		return MinutesPerWeek, nil
	default:
		return 0, fmt.Errorf("%w: unknown schedule unit %q", types.ErrInvalidTask, data.Type)
	}
}

// Normalize trims and validates the input and resolves its interval. An
// explicit interval wins over the scheduling unit.
func (in TaskInput) Normalize() (TaskInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Prompt = strings.TrimSpace(in.Prompt)
	if in.Name == "" {
		return in, fmt.Errorf("%w: name is required", types.ErrInvalidTask)
	}
	if in.Prompt == "" {
		return in, fmt.Errorf("%w: prompt is required", types.ErrInvalidTask)
	}
	if in.IntervalInMinutes < 0 {
		return in, fmt.Errorf("%w: interval must be positive", types.ErrInvalidTask)
	}
	if in.IntervalInMinutes == 0 {
		interval, err := IntervalFor(in.SchedulingData)
		if err != nil {
			return in, err
		}
		in.IntervalInMinutes = interval
	}
	return in, nil
}

func (e *Engine) CreateTask(ctx context.Context, in TaskInput) (types.Task, error) {
	in, err := in.Normalize()
	if err != nil {
		return types.Task{}, err
	}

	task := types.NewTask(in.Name, in.Prompt, in.IntervalInMinutes, in.SchedulingData, e.now())
	_, err = e.store.UpdateTasks(ctx, func(tasks []types.Task) ([]types.Task, bool, error) {
		return append(tasks, task), true, nil
	})
	if err != nil {
		return types.Task{}, err
	}

	e.schedule(ctx, task)
	xlog.Info("Task created", "task_id", task.ID, "task", task.Name, "interval_minutes", task.IntervalInMinutes)
	return task, nil
}

// UpdateTask edits name, prompt and cadence. CreatedAt, LastRun and
// activation are preserved.
func (e *Engine) UpdateTask(ctx context.Context, id string, in TaskInput) (types.Task, error) {
	in, err := in.Normalize()
	if err != nil {
		return types.Task{}, err
	}

	var updated types.Task
	_, err = e.store.UpdateTasks(ctx, func(tasks []types.Task) ([]types.Task, bool, error) {
		i := types.FindTask(tasks, id)
		if i < 0 {
			return nil, false, types.TaskNotFound(id)
		}
		tasks[i].Name = in.Name
		tasks[i].Prompt = in.Prompt
		tasks[i].IntervalInMinutes = in.IntervalInMinutes
		tasks[i].SchedulingData = in.SchedulingData
		updated = tasks[i]
		return tasks, true, nil
	})
	if err != nil {
		return types.Task{}, err
	}

	e.schedule(ctx, updated)
	xlog.Info("Task updated", "task_id", id)
	return updated, nil
}

// ToggleTask flips activation and creates or clears the alarm accordingly.
func (e *Engine) ToggleTask(ctx context.Context, id string) (types.Task, error) {
	var toggled types.Task
	_, err := e.store.UpdateTasks(ctx, func(tasks []types.Task) ([]types.Task, bool, error) {
		i := types.FindTask(tasks, id)
		if i < 0 {
			return nil, false, types.TaskNotFound(id)
		}
		tasks[i].IsActive = !tasks[i].IsActive
		toggled = tasks[i]
		return tasks, true, nil
	})
	if err != nil {
		return types.Task{}, err
	}

	e.schedule(ctx, toggled)
	xlog.Info("Task toggled", "task_id", id, "active", toggled.IsActive)
	return toggled, nil
}

// DeleteTask removes the task and its alarm. Missed records that point at it
// are left alone.
func (e *Engine) DeleteTask(ctx context.Context, id string) error {
	_, err := e.store.UpdateTasks(ctx, func(tasks []types.Task) ([]types.Task, bool, error) {
		i := types.FindTask(tasks, id)
		if i < 0 {
			return nil, false, types.TaskNotFound(id)
		}
		return append(tasks[:i], tasks[i+1:]...), true, nil
	})
	if err != nil {
		return err
	}

	e.unschedule(ctx, id)
	xlog.Info("Task deleted", "task_id", id)
	return nil
}
