package webui

import (
	"crypto/subtle"
	"errors"

	"github.com/dave-gray101/v2keyauth"
	fiber "github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
)

func (app *App) registerRoutes(webapp *fiber.App) {
	if len(app.config.ApiKeys) > 0 {
		kaConfig, err := GetKeyAuthConfig(app.config.ApiKeys)
		if err != nil || kaConfig == nil {
			panic(err)
		}
		webapp.Use(v2keyauth.New(*kaConfig))
	}

	webapp.Get("/healthz", func(c *fiber.Ctx) error {
		return statusJSONMessage(c, "ok")
	})

	webapp.Post("/api/message", app.Message())

	webapp.Get("/api/tasks", app.Tasks())
	webapp.Get("/api/missed", app.Missed())
	webapp.Get("/api/counts", app.Counts())

	if app.config.Bridge != nil {
		webapp.Get("/sse/bridge", app.BridgeStream())
		webapp.Put("/api/bridge/tabs", app.BridgeTabs())
		webapp.Post("/api/bridge/tabs/:id", app.BridgeTab())
		webapp.Delete("/api/bridge/tabs/:id", app.BridgeTabClosed())
		webapp.Post("/api/bridge/created/:request", app.BridgeCreated())
	}
}

func GetKeyAuthConfig(apiKeys []string) (*v2keyauth.Config, error) {
	customLookup, err := v2keyauth.MultipleKeySourceLookup([]string{"header:Authorization", "header:x-api-key", "cookie:token", "query:token"}, keyauth.ConfigDefault.AuthScheme)
	if err != nil {
		return nil, err
	}

	return &v2keyauth.Config{
		CustomKeyLookup: customLookup,
		// probes stay reachable without a key
		Next:         func(c *fiber.Ctx) bool { return c.Path() == "/healthz" },
		Validator:    getApiKeyValidationFunction(apiKeys),
		ErrorHandler: getApiKeyErrorHandler(apiKeys),
		AuthScheme:   "Bearer",
	}, nil
}

func getApiKeyErrorHandler(apiKeys []string) fiber.ErrorHandler {
	return func(ctx *fiber.Ctx, err error) error {
		if errors.Is(err, v2keyauth.ErrMissingOrMalformedAPIKey) {
			if len(apiKeys) == 0 {
				return ctx.Next()
			}
			ctx.Set("WWW-Authenticate", "Bearer")
			return ctx.SendStatus(fiber.StatusUnauthorized)
		}
		return ctx.SendStatus(fiber.StatusInternalServerError)
	}
}

func getApiKeyValidationFunction(apiKeys []string) func(*fiber.Ctx, string) (bool, error) {
	return func(ctx *fiber.Ctx, apiKey string) (bool, error) {
		if len(apiKeys) == 0 {
			return true, nil
		}
		for _, validKey := range apiKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(validKey)) == 1 {
				return true, nil
			}
		}
		return false, v2keyauth.ErrMissingOrMalformedAPIKey
	}
}
