package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/movinglive/autoagent/core/scheduler"
)

type Action string

const (
	ActionGetTasks              Action = "getTasks"
	ActionGetActiveTasks        Action = "getActiveTasks"
	ActionCreateTask            Action = "createTask"
	ActionUpdateTask            Action = "updateTask"
	ActionToggleTask            Action = "toggleTask"
	ActionDeleteTask            Action = "deleteTask"
	ActionGetMissedTasks        Action = "getMissedTasks"
	ActionExecuteMissedTask     Action = "executeMissedTask"
	ActionDismissMissedTask     Action = "dismissMissedTask"
	ActionExecuteAllMissedTasks Action = "executeAllMissedTasks"
	ActionDismissAllMissedTasks Action = "dismissAllMissedTasks"
	ActionTaskExecuted          Action = "taskExecuted"
	ActionTaskError             Action = "taskError"
	ActionGetCounts             Action = "getCounts"
)

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrMalformed     = errors.New("malformed command")
)

// Command is one message from the popup or the content script.
type Command interface {
	Action() Action
}

type GetTasks struct{}

type GetActiveTasks struct{}

type CreateTask struct {
	scheduler.TaskInput
}

type UpdateTask struct {
	TaskID string `json:"taskId"`
	scheduler.TaskInput
}

type ToggleTask struct {
	TaskID string `json:"taskId"`
}

type DeleteTask struct {
	TaskID string `json:"taskId"`
}

type GetMissedTasks struct{}

type ExecuteMissedTask struct {
	MissedTaskID string `json:"missedTaskId"`
}

type DismissMissedTask struct {
	MissedTaskID string `json:"missedTaskId"`
}

type ExecuteAllMissedTasks struct{}

type DismissAllMissedTasks struct{}

// TaskExecuted is sent by the content script once the prompt was submitted.
type TaskExecuted struct {
	TaskID    string     `json:"taskId"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// TaskError is sent by the content script when it could not submit the prompt.
type TaskError struct {
	TaskID string `json:"taskId"`
	Error  string `json:"error"`
}

type GetCounts struct{}

func (*GetTasks) Action() Action              { return ActionGetTasks }
func (*GetActiveTasks) Action() Action        { return ActionGetActiveTasks }
func (*CreateTask) Action() Action            { return ActionCreateTask }
func (*UpdateTask) Action() Action            { return ActionUpdateTask }
func (*ToggleTask) Action() Action            { return ActionToggleTask }
func (*DeleteTask) Action() Action            { return ActionDeleteTask }
func (*GetMissedTasks) Action() Action        { return ActionGetMissedTasks }
func (*ExecuteMissedTask) Action() Action     { return ActionExecuteMissedTask }
func (*DismissMissedTask) Action() Action     { return ActionDismissMissedTask }
func (*ExecuteAllMissedTasks) Action() Action { return ActionExecuteAllMissedTasks }
func (*DismissAllMissedTasks) Action() Action { return ActionDismissAllMissedTasks }
func (*TaskExecuted) Action() Action          { return ActionTaskExecuted }
func (*TaskError) Action() Action             { return ActionTaskError }
func (*GetCounts) Action() Action             { return ActionGetCounts }

var registry = map[Action]func() Command{
	ActionGetTasks:              func() Command { return &GetTasks{} },
	ActionGetActiveTasks:        func() Command { return &GetActiveTasks{} },
	ActionCreateTask:            func() Command { return &CreateTask{} },
	ActionUpdateTask:            func() Command { return &UpdateTask{} },
	ActionToggleTask:            func() Command { return &ToggleTask{} },
	ActionDeleteTask:            func() Command { return &DeleteTask{} },
	ActionGetMissedTasks:        func() Command { return &GetMissedTasks{} },
	ActionExecuteMissedTask:     func() Command { return &ExecuteMissedTask{} },
	ActionDismissMissedTask:     func() Command { return &DismissMissedTask{} },
	ActionExecuteAllMissedTasks: func() Command { return &ExecuteAllMissedTasks{} },
	ActionDismissAllMissedTasks: func() Command { return &DismissAllMissedTasks{} },
	ActionTaskExecuted:          func() Command { return &TaskExecuted{} },
	ActionTaskError:             func() Command { return &TaskError{} },
	ActionGetCounts:             func() Command { return &GetCounts{} },
}

// Decode reads a {"action": ..., ...} message into its command type.
func Decode(raw []byte) (Command, error) {
	var head struct {
		Action Action `json:"action"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	newCommand, ok := registry[head.Action]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, head.Action)
	}
	cmd := newCommand()
	if err := json.Unmarshal(raw, cmd); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, head.Action, err)
	}
	return cmd, nil
}

// Actions lists every action Decode understands.
func Actions() []Action {
	out := make([]Action, 0, len(registry))
	for a := range registry {
		out = append(out, a)
	}
	return out
}
