package autoagent

import (
	"context"
	"net/http"

	"github.com/movinglive/autoagent/core/command"
	"github.com/movinglive/autoagent/core/types"
)

func (c *Client) Missed(ctx context.Context) ([]types.MissedOccurrence, error) {
	var resp command.Response
	if err := c.do(ctx, http.MethodGet, "/api/missed", nil, &resp); err != nil {
		return nil, err
	}
	return resp.MissedTasks, nil
}

func (c *Client) ExecuteMissed(ctx context.Context, id string) error {
	_, err := c.Send(ctx, command.ActionExecuteMissedTask, map[string]any{"missedTaskId": id})
	return err
}

func (c *Client) DismissMissed(ctx context.Context, id string) error {
	_, err := c.Send(ctx, command.ActionDismissMissedTask, map[string]any{"missedTaskId": id})
	return err
}

// ExecuteAllMissed returns how many records were executed.
func (c *Client) ExecuteAllMissed(ctx context.Context) (int, error) {
	resp, err := c.Send(ctx, command.ActionExecuteAllMissedTasks, nil)
	return count(resp), err
}

func (c *Client) DismissAllMissed(ctx context.Context) (int, error) {
	resp, err := c.Send(ctx, command.ActionDismissAllMissedTasks, nil)
	return count(resp), err
}

// ReportError tells the daemon the page automation failed for a task.
func (c *Client) ReportError(ctx context.Context, taskID, reason string) error {
	_, err := c.Send(ctx, command.ActionTaskError, map[string]any{"taskId": taskID, "error": reason})
	return err
}

func count(resp command.Response) int {
	if resp.Count == nil {
		return 0
	}
	return *resp.Count
}
