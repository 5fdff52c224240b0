package command

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/movinglive/autoagent/core/reconciler"
	"github.com/movinglive/autoagent/core/scheduler"
	"github.com/movinglive/autoagent/core/taskstore"
	"github.com/movinglive/autoagent/core/types"
	"github.com/mudler/xlog"
)

// Response mirrors the shapes the popup expects: tasks, missedTasks or a
// success flag with an optional error.
type Response struct {
	Success     bool                     `json:"success"`
	Error       string                   `json:"error,omitempty"`
	Task        *types.Task              `json:"task,omitempty"`
	Tasks       []types.Task             `json:"tasks,omitempty"`
	MissedTasks []types.MissedOccurrence `json:"missedTasks,omitempty"`
	Count       *int                     `json:"count,omitempty"`
	Counts      *taskstore.Counts        `json:"counts,omitempty"`
}

// TaskList answers a task listing. The tasks key is present even when the
// list is empty: the popup only refreshes a section whose key it receives.
func TaskList(tasks []types.Task) Response {
	if tasks == nil {
		tasks = []types.Task{}
	}
	return Response{Success: true, Tasks: tasks}
}

// MissedList answers a missed task listing, always carrying missedTasks.
func MissedList(records []types.MissedOccurrence) Response {
	if records == nil {
		records = []types.MissedOccurrence{}
	}
	return Response{Success: true, MissedTasks: records}
}

// MarshalJSON omits nil lists but keeps empty ones.
func (r Response) MarshalJSON() ([]byte, error) {
	type plain Response
	out := struct {
		plain
		Tasks       *[]types.Task             `json:"tasks,omitempty"`
		MissedTasks *[]types.MissedOccurrence `json:"missedTasks,omitempty"`
	}{plain: plain(r)}
	if r.Tasks != nil {
		out.Tasks = &r.Tasks
	}
	if r.MissedTasks != nil {
		out.MissedTasks = &r.MissedTasks
	}
	return json.Marshal(out)
}

// Failure renders err the way the popup displays it.
func Failure(err error) Response {
	return Response{Success: false, Error: err.Error()}
}

type Handler func(ctx context.Context, cmd Command) (Response, error)

// Dispatcher routes each command to the component that owns it.
type Dispatcher struct {
	handlers map[Action]Handler
}

func NewDispatcher(store *taskstore.Store, engine *scheduler.Engine, rec *reconciler.Reconciler) *Dispatcher {
	d := &Dispatcher{handlers: map[Action]Handler{}}

	on(d, ActionGetTasks, func(ctx context.Context, _ *GetTasks) (Response, error) {
		tasks, err := store.GetTasks(ctx)
		if err != nil {
			return Response{}, err
		}
		return TaskList(tasks), nil
	})

	on(d, ActionGetActiveTasks, func(ctx context.Context, _ *GetActiveTasks) (Response, error) {
		tasks, err := store.ActiveTasks(ctx)
		if err != nil {
			return Response{}, err
		}
		return TaskList(tasks), nil
	})

	on(d, ActionCreateTask, func(ctx context.Context, c *CreateTask) (Response, error) {
		task, err := engine.CreateTask(ctx, c.TaskInput)
		if err != nil {
			return Response{}, err
		}
		return Response{Success: true, Task: &task}, nil
	})

	on(d, ActionUpdateTask, func(ctx context.Context, c *UpdateTask) (Response, error) {
		task, err := engine.UpdateTask(ctx, c.TaskID, c.TaskInput)
		if err != nil {
			return Response{}, err
		}
		return Response{Success: true, Task: &task}, nil
	})

	on(d, ActionToggleTask, func(ctx context.Context, c *ToggleTask) (Response, error) {
		task, err := engine.ToggleTask(ctx, c.TaskID)
		if err != nil {
			return Response{}, err
		}
		return Response{Success: true, Task: &task}, nil
	})

	on(d, ActionDeleteTask, func(ctx context.Context, c *DeleteTask) (Response, error) {
		if err := engine.DeleteTask(ctx, c.TaskID); err != nil {
			return Response{}, err
		}
		return Response{Success: true}, nil
	})

	on(d, ActionGetMissedTasks, func(ctx context.Context, _ *GetMissedTasks) (Response, error) {
		records, err := rec.MissedOccurrences(ctx)
		if err != nil {
			return Response{}, err
		}
		return MissedList(records), nil
	})

	on(d, ActionExecuteMissedTask, func(ctx context.Context, c *ExecuteMissedTask) (Response, error) {
		if err := rec.ExecuteMissedOccurrence(ctx, c.MissedTaskID); err != nil {
			return Response{}, err
		}
		return Response{Success: true}, nil
	})

	on(d, ActionDismissMissedTask, func(ctx context.Context, c *DismissMissedTask) (Response, error) {
		if err := rec.DismissMissedOccurrence(ctx, c.MissedTaskID); err != nil {
			return Response{}, err
		}
		return Response{Success: true}, nil
	})

	on(d, ActionExecuteAllMissedTasks, func(ctx context.Context, _ *ExecuteAllMissedTasks) (Response, error) {
		n, err := rec.ExecuteAllMissed(ctx)
		if err != nil {
			// partial runs still report what went through
			resp := Failure(err)
			resp.Count = &n
			return resp, err
		}
		return Response{Success: true, Count: &n}, nil
	})

	on(d, ActionDismissAllMissedTasks, func(ctx context.Context, _ *DismissAllMissedTasks) (Response, error) {
		n, err := rec.DismissAll(ctx)
		if err != nil {
			return Response{}, err
		}
		return Response{Success: true, Count: &n}, nil
	})

	on(d, ActionTaskExecuted, func(_ context.Context, c *TaskExecuted) (Response, error) {
		xlog.Info("Prompt submitted", "task_id", c.TaskID, "at", c.Timestamp)
		return Response{Success: true}, nil
	})

	on(d, ActionTaskError, func(ctx context.Context, c *TaskError) (Response, error) {
		if err := rec.OnAutomationError(ctx, c.TaskID, c.Error); err != nil {
			return Response{}, err
		}
		return Response{Success: true}, nil
	})

	on(d, ActionGetCounts, func(ctx context.Context, _ *GetCounts) (Response, error) {
		counts, err := store.Counts(ctx)
		if err != nil {
			return Response{}, err
		}
		return Response{Success: true, Counts: &counts}, nil
	})

	return d
}

// Handle replaces the handler for an action.
func (d *Dispatcher) Handle(a Action, h Handler) {
	d.handlers[a] = h
}

func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) (Response, error) {
	h, ok := d.handlers[cmd.Action()]
	if !ok {
		return Response{}, fmt.Errorf("%w: %q", ErrUnknownAction, cmd.Action())
	}
	xlog.Debug("Dispatching command", "action", cmd.Action())
	return h(ctx, cmd)
}

func on[C Command](d *Dispatcher, a Action, fn func(ctx context.Context, c C) (Response, error)) {
	d.handlers[a] = func(ctx context.Context, cmd Command) (Response, error) {
		c, ok := cmd.(C)
		if !ok {
			return Response{}, fmt.Errorf("%w: %s handler got %T", ErrMalformed, a, cmd)
		}
		return fn(ctx, c)
	}
}
