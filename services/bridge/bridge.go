package bridge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"
	"github.com/movinglive/autoagent/core/sse"
	"github.com/movinglive/autoagent/core/types"
	"github.com/movinglive/autoagent/services/notify"
	"github.com/mudler/xlog"
)

const (
	EventOpenTab      = "open-tab"
	EventMissedCount  = "missed-count"
	EventNotification = "notification"
)

// ErrNoShim is returned when a tab must be opened but no browser is
// listening on the event stream.
var ErrNoShim = errors.New("no browser connected")

// OpenTab is the payload of an open-tab event. The browser answers it by
// acknowledging Request with the created tab.
type OpenTab struct {
	Request string `json:"request"`
	URL     string `json:"url"`
	Active  bool   `json:"active"`
	TaskID  string `json:"taskId,omitempty"`
}

type MissedCount struct {
	Count int `json:"count"`
}

// Bridge proxies the tab service to the browser extension connected on the
// event stream. The browser pushes its tab state; the daemon pushes
// commands as events.
type Bridge struct {
	events        sse.Manager
	createTimeout time.Duration

	mu       sync.RWMutex
	tabs     map[int]types.Tab
	pending  map[string]chan types.Tab
	patterns map[string]glob.Glob
}

type Option func(*Bridge)

// WithCreateTimeout bounds the wait for the browser to report a created tab.
func WithCreateTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.createTimeout = d }
}

func New(events sse.Manager, opts ...Option) *Bridge {
	b := &Bridge{
		events:        events,
		createTimeout: 10 * time.Second,
		tabs:          map[int]types.Tab{},
		pending:       map[string]chan types.Tab{},
		patterns:      map[string]glob.Glob{},
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Bridge) Connected() bool {
	return len(b.events.Clients()) > 0
}

// Query returns the reported tabs whose URL matches any of the patterns.
// Without a connected browser the reported state is stale and nothing
// matches.
func (b *Bridge) Query(_ context.Context, q types.TabQuery) ([]types.Tab, error) {
	if !b.Connected() {
		return nil, nil
	}

	globs := make([]glob.Glob, 0, len(q.URLPatterns))
	for _, p := range q.URLPatterns {
		g, err := b.compiled(p)
		if err != nil {
			return nil, err
		}
		globs = append(globs, g)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []types.Tab
	for _, t := range b.tabs {
		if len(globs) == 0 || matchAny(globs, t.URL) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *Bridge) compiled(pattern string) (glob.Glob, error) {
	b.mu.RLock()
	g, ok := b.patterns[pattern]
	b.mu.RUnlock()
	if ok {
		return g, nil
	}

	g, err := compilePattern(pattern)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.patterns[pattern] = g
	b.mu.Unlock()
	return g, nil
}

func matchAny(globs []glob.Glob, url string) bool {
	for _, g := range globs {
		if g.Match(url) {
			return true
		}
	}
	return false
}

// Create asks the browser to open a tab and waits for it to report back.
func (b *Bridge) Create(ctx context.Context, props types.CreateTab) (types.Tab, error) {
	if !b.Connected() {
		return types.Tab{}, ErrNoShim
	}

	req := OpenTab{
		Request: uuid.New().String(),
		URL:     props.URL,
		Active:  props.Active,
		TaskID:  types.TaskIDFrom(ctx),
	}
	msg, err := sse.NewEvent(EventOpenTab, req)
	if err != nil {
		return types.Tab{}, err
	}

	ch := make(chan types.Tab, 1)
	b.mu.Lock()
	b.pending[req.Request] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, req.Request)
		b.mu.Unlock()
	}()

	xlog.Debug("Requesting tab", "request", req.Request, "url", req.URL)
	b.events.Send(msg)

	timer := time.NewTimer(b.createTimeout)
	defer timer.Stop()
	select {
	case tab := <-ch:
		return tab, nil
	case <-timer.C:
		return types.Tab{}, fmt.Errorf("tab request %s: no answer after %s", req.Request, b.createTimeout)
	case <-ctx.Done():
		return types.Tab{}, ctx.Err()
	}
}

func (b *Bridge) Get(_ context.Context, id int) (types.Tab, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.tabs[id]
	if !ok {
		return types.Tab{}, &types.NotFoundError{Kind: "tab", ID: strconv.Itoa(id)}
	}
	return t, nil
}

// ReportTabs replaces the known tabs with the browser's snapshot.
func (b *Bridge) ReportTabs(tabs []types.Tab) {
	next := make(map[int]types.Tab, len(tabs))
	for _, t := range tabs {
		next[t.ID] = t
	}
	b.mu.Lock()
	b.tabs = next
	b.mu.Unlock()
	xlog.Debug("Tab snapshot received", "tabs", len(tabs))
}

// ReportTab records a single tab update.
func (b *Bridge) ReportTab(tab types.Tab) {
	b.mu.Lock()
	b.tabs[tab.ID] = tab
	b.mu.Unlock()
}

// RemoveTab forgets a closed tab.
func (b *Bridge) RemoveTab(id int) {
	b.mu.Lock()
	delete(b.tabs, id)
	b.mu.Unlock()
}

// Acknowledge completes the open-tab request with the tab the browser
// created.
func (b *Bridge) Acknowledge(request string, tab types.Tab) error {
	b.mu.Lock()
	ch, ok := b.pending[request]
	if ok {
		delete(b.pending, request)
	}
	b.tabs[tab.ID] = tab
	b.mu.Unlock()

	if !ok {
		return &types.NotFoundError{Kind: "tab request", ID: request}
	}
	ch <- tab
	return nil
}

// SetMissedCount updates the browser's badge.
func (b *Bridge) SetMissedCount(_ context.Context, count int) {
	msg, err := sse.NewEvent(EventMissedCount, MissedCount{Count: count})
	if err != nil {
		xlog.Error("Failed to encode missed count", "error", err)
		return
	}
	b.events.Send(msg)
}

// Notify shows a transient notification in the browser.
func (b *Bridge) Notify(_ context.Context, n notify.Notification) {
	msg, err := sse.NewEvent(EventNotification, n)
	if err != nil {
		xlog.Error("Failed to encode notification", "error", err)
		return
	}
	b.events.Send(msg)
}
