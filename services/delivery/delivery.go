package delivery

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/movinglive/autoagent/core/types"
	"github.com/mudler/xlog"
)

const DefaultSite = "www.perplexity.ai"

// Deliverer opens the target site's search page with a prompt pre-filled.
// Typing and submitting inside the page belong to the content script.
type Deliverer struct {
	tabs     types.Tabs
	site     string
	attempts int
	backoff  time.Duration
}

type Option func(*Deliverer)

func WithSite(site string) Option {
	return func(d *Deliverer) { d.site = site }
}

// WithLoadPolling bounds the wait for a created tab to finish loading.
func WithLoadPolling(attempts int, backoff time.Duration) Option {
	return func(d *Deliverer) {
		d.attempts = attempts
		d.backoff = backoff
	}
}

func New(tabs types.Tabs, opts ...Option) *Deliverer {
	d := &Deliverer{
		tabs:     tabs,
		site:     DefaultSite,
		attempts: 20,
		backoff:  500 * time.Millisecond,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// SearchURL builds https://<site>/search?q=<prompt>. Spaces are encoded as
// %20, as encodeURIComponent does.
func SearchURL(site, prompt string) string {
	q := strings.ReplaceAll(url.QueryEscape(prompt), "+", "%20")
	return fmt.Sprintf("https://%s/search?q=%s", site, q)
}

// URLPatterns matches any tab already open on the target site.
func (d *Deliverer) URLPatterns() []string {
	return []string{fmt.Sprintf("*://%s/*", d.site)}
}

// HasSurface reports whether a tab on the target site is open.
func (d *Deliverer) HasSurface(ctx context.Context) (bool, error) {
	tabs, err := d.tabs.Query(ctx, types.TabQuery{URLPatterns: d.URLPatterns()})
	if err != nil {
		return false, err
	}
	return len(tabs) > 0, nil
}

// Deliver opens a background tab for prompt and waits, bounded, for it to
// load. Running out of polling attempts is not an error.
func (d *Deliverer) Deliver(ctx context.Context, prompt string) (types.Tab, error) {
	target := SearchURL(d.site, prompt)
	tab, err := d.tabs.Create(ctx, types.CreateTab{URL: target, Active: false})
	if err != nil {
		return types.Tab{}, fmt.Errorf("%w: create tab: %v", types.ErrDeliveryFailed, err)
	}
	xlog.Debug("Tab created", "tab_id", tab.ID, "url", target)

	return d.waitForLoad(ctx, tab), nil
}

func (d *Deliverer) waitForLoad(ctx context.Context, tab types.Tab) types.Tab {
	for attempt := 0; attempt < d.attempts; attempt++ {
		if tab.Status == types.TabStatusComplete {
			return tab
		}
		select {
		case <-ctx.Done():
			return tab
		case <-time.After(d.backoff):
		}
		current, err := d.tabs.Get(ctx, tab.ID)
		if err != nil {
			xlog.Debug("Tab status unavailable", "tab_id", tab.ID, "error", err)
			continue
		}
		tab = current
	}
	if tab.Status != types.TabStatusComplete {
		xlog.Warn("Tab did not finish loading, proceeding", "tab_id", tab.ID, "attempts", d.attempts)
	}
	return tab
}
