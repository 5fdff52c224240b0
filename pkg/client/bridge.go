package autoagent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/movinglive/autoagent/core/command"
	"github.com/movinglive/autoagent/core/types"
)

// The calls below are the browser side of the tab bridge.

func (c *Client) ReportTabs(ctx context.Context, tabs []types.Tab) error {
	if tabs == nil {
		tabs = []types.Tab{}
	}
	return c.do(ctx, http.MethodPut, "/api/bridge/tabs", tabs, nil)
}

func (c *Client) ReportTab(ctx context.Context, tab types.Tab) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/bridge/tabs/%d", tab.ID), tab, nil)
}

func (c *Client) TabClosed(ctx context.Context, id int) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/bridge/tabs/%d", id), nil, nil)
}

// AcknowledgeTab answers an open-tab event.
func (c *Client) AcknowledgeTab(ctx context.Context, request string, tab types.Tab) error {
	return c.do(ctx, http.MethodPost, "/api/bridge/created/"+request, tab, nil)
}

// withAction flattens a command struct into a message carrying its action.
func withAction(payload any, action command.Action) (map[string]any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	msg := map[string]any{}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	msg["action"] = action
	return msg, nil
}
