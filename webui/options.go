package webui

import (
	"github.com/movinglive/autoagent/core/command"
	"github.com/movinglive/autoagent/core/sse"
	"github.com/movinglive/autoagent/core/taskstore"
	"github.com/movinglive/autoagent/services/bridge"
)

type Config struct {
	ApiKeys    []string
	Store      *taskstore.Store
	Dispatcher *command.Dispatcher
	Bridge     *bridge.Bridge
	Events     sse.Manager
}

type Option func(*Config)

func WithApiKeys(keys ...string) Option {
	return func(c *Config) {
		c.ApiKeys = keys
	}
}

func WithStore(store *taskstore.Store) Option {
	return func(c *Config) {
		c.Store = store
	}
}

func WithDispatcher(d *command.Dispatcher) Option {
	return func(c *Config) {
		c.Dispatcher = d
	}
}

// WithBridge exposes the browser bridge: its event stream and the tab
// report endpoints.
func WithBridge(b *bridge.Bridge, events sse.Manager) Option {
	return func(c *Config) {
		c.Bridge = b
		c.Events = events
	}
}

func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

func NewConfig(opts ...Option) *Config {
	c := &Config{}
	c.Apply(opts...)
	return c
}
