package autoagent

import (
	"context"
	"net/http"

	"github.com/movinglive/autoagent/core/command"
	"github.com/movinglive/autoagent/core/scheduler"
	"github.com/movinglive/autoagent/core/taskstore"
	"github.com/movinglive/autoagent/core/types"
)

// Send posts a raw command message. Most callers use the typed helpers.
func (c *Client) Send(ctx context.Context, action command.Action, fields map[string]any) (command.Response, error) {
	msg := map[string]any{"action": action}
	for k, v := range fields {
		msg[k] = v
	}
	var resp command.Response
	err := c.do(ctx, http.MethodPost, "/api/message", msg, &resp)
	return resp, err
}

func (c *Client) Tasks(ctx context.Context) ([]types.Task, error) {
	var resp command.Response
	if err := c.do(ctx, http.MethodGet, "/api/tasks", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

func (c *Client) ActiveTasks(ctx context.Context) ([]types.Task, error) {
	var resp command.Response
	if err := c.do(ctx, http.MethodGet, "/api/tasks?active=true", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

func (c *Client) CreateTask(ctx context.Context, in scheduler.TaskInput) (types.Task, error) {
	return c.taskCommand(ctx, command.CreateTask{TaskInput: in}, command.ActionCreateTask)
}

func (c *Client) UpdateTask(ctx context.Context, id string, in scheduler.TaskInput) (types.Task, error) {
	return c.taskCommand(ctx, command.UpdateTask{TaskID: id, TaskInput: in}, command.ActionUpdateTask)
}

func (c *Client) ToggleTask(ctx context.Context, id string) (types.Task, error) {
	return c.taskCommand(ctx, command.ToggleTask{TaskID: id}, command.ActionToggleTask)
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	_, err := c.Send(ctx, command.ActionDeleteTask, map[string]any{"taskId": id})
	return err
}

func (c *Client) Counts(ctx context.Context) (taskstore.Counts, error) {
	var counts taskstore.Counts
	err := c.do(ctx, http.MethodGet, "/api/counts", nil, &counts)
	return counts, err
}

func (c *Client) taskCommand(ctx context.Context, payload any, action command.Action) (types.Task, error) {
	msg, err := withAction(payload, action)
	if err != nil {
		return types.Task{}, err
	}
	var resp command.Response
	if err := c.do(ctx, http.MethodPost, "/api/message", msg, &resp); err != nil {
		return types.Task{}, err
	}
	if resp.Task == nil {
		return types.Task{}, &APIError{StatusCode: http.StatusOK, Message: "response carries no task"}
	}
	return *resp.Task, nil
}
