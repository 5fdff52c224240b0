package webui

import (
	"errors"
	"net/http"

	fiber "github.com/gofiber/fiber/v2"
	"github.com/movinglive/autoagent/core/command"
	"github.com/movinglive/autoagent/core/types"
	"github.com/movinglive/autoagent/services/bridge"
	"github.com/mudler/xlog"
)

type App struct {
	*fiber.App
	config *Config
}

func NewApp(opts ...Option) *App {
	config := NewConfig(opts...)

	webapp := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	a := &App{
		config: config,
		App:    webapp,
	}

	a.registerRoutes(webapp)

	return a
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrInvalidTask),
		errors.Is(err, command.ErrUnknownAction),
		errors.Is(err, command.ErrMalformed):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, types.ErrDeliveryFailed), errors.Is(err, bridge.ErrNoShim):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		xlog.Error("Request failed", "method", c.Method(), "path", c.Path(), "error", err)
	} else {
		xlog.Debug("Request rejected", "method", c.Method(), "path", c.Path(), "status", status, "error", err)
	}
	return c.Status(status).JSON(command.Failure(err))
}

func statusJSONMessage(c *fiber.Ctx, message string) error {
	return c.JSON(struct {
		Status string `json:"status"`
	}{Status: message})
}
