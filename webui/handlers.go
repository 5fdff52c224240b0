package webui

import (
	fiber "github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/movinglive/autoagent/core/command"
	"github.com/movinglive/autoagent/core/sse"
	"github.com/movinglive/autoagent/core/types"
	"github.com/mudler/xlog"
)

// Message is the popup and content script entry point: one JSON command
// in, one JSON response out.
func (a *App) Message() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		cmd, err := command.Decode(c.Body())
		if err != nil {
			return err
		}

		resp, err := a.config.Dispatcher.Dispatch(c.UserContext(), cmd)
		if err != nil {
			if resp.Error != "" {
				return c.Status(statusFor(err)).JSON(resp)
			}
			return err
		}
		return c.JSON(resp)
	}
}

func (a *App) Tasks() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		var (
			tasks []types.Task
			err   error
		)
		if c.QueryBool("active") {
			tasks, err = a.config.Store.ActiveTasks(c.UserContext())
		} else {
			tasks, err = a.config.Store.GetTasks(c.UserContext())
		}
		if err != nil {
			return err
		}
		return c.JSON(command.TaskList(tasks))
	}
}

func (a *App) Missed() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		records, err := a.config.Store.GetMissedOccurrences(c.UserContext())
		if err != nil {
			return err
		}
		return c.JSON(command.MissedList(records))
	}
}

func (a *App) Counts() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		counts, err := a.config.Store.Counts(c.UserContext())
		if err != nil {
			return err
		}
		return c.JSON(counts)
	}
}

// BridgeStream is the event stream the browser extension listens on.
func (a *App) BridgeStream() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		id := c.Query("client")
		if id == "" {
			id = uuid.New().String()
		}
		xlog.Info("Browser connected", "client", id)
		a.config.Events.Handle(c, sse.NewClient(id))
		return nil
	}
}

// BridgeTabs replaces the known tabs with the browser's full list.
func (a *App) BridgeTabs() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		var tabs []types.Tab
		if err := c.BodyParser(&tabs); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		a.config.Bridge.ReportTabs(tabs)
		return c.SendStatus(fiber.StatusNoContent)
	}
}

func (a *App) BridgeTab() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		id, err := c.ParamsInt("id")
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid tab id")
		}
		var tab types.Tab
		if err := c.BodyParser(&tab); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		tab.ID = id
		a.config.Bridge.ReportTab(tab)
		return c.SendStatus(fiber.StatusNoContent)
	}
}

func (a *App) BridgeTabClosed() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		id, err := c.ParamsInt("id")
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid tab id")
		}
		a.config.Bridge.RemoveTab(id)
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// BridgeCreated answers an open-tab event with the tab the browser opened.
func (a *App) BridgeCreated() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		var tab types.Tab
		if err := c.BodyParser(&tab); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := a.config.Bridge.Acknowledge(c.Params("request"), tab); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}
