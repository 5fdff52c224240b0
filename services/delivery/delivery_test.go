package delivery_test

import (
	"context"
	"errors"
	"time"

	"github.com/movinglive/autoagent/core/types"
	"github.com/movinglive/autoagent/services/delivery"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type scriptedTabs struct {
	open      []types.Tab
	created   []types.CreateTab
	failNew   bool
	loadAfter int
	gets      int
}

func (s *scriptedTabs) Query(_ context.Context, _ types.TabQuery) ([]types.Tab, error) {
	return s.open, nil
}

func (s *scriptedTabs) Create(_ context.Context, props types.CreateTab) (types.Tab, error) {
	if s.failNew {
		return types.Tab{}, errors.New("no window")
	}
	s.created = append(s.created, props)
	return types.Tab{ID: 7, URL: props.URL, Status: types.TabStatusLoading}, nil
}

func (s *scriptedTabs) Get(_ context.Context, id int) (types.Tab, error) {
	s.gets++
	status := types.TabStatusLoading
	if s.gets >= s.loadAfter {
		status = types.TabStatusComplete
	}
	return types.Tab{ID: id, Status: status}, nil
}

var _ = Describe("SearchURL", func() {
	It("percent-encodes the prompt with spaces as %20", func() {
		Expect(delivery.SearchURL("www.perplexity.ai", "what's new in Go 1.26? a&b=c")).
			To(Equal("https://www.perplexity.ai/search?q=what%27s%20new%20in%20Go%201.26%3F%20a%26b%3Dc"))
	})

	It("keeps unicode prompts intact", func() {
		Expect(delivery.SearchURL("example.com", "café")).To(Equal("https://example.com/search?q=caf%C3%A9"))
	})
})

var _ = Describe("Deliverer", func() {
	var (
		ctx  context.Context
		tabs *scriptedTabs
		d    *delivery.Deliverer
	)

	BeforeEach(func() {
		ctx = context.Background()
		tabs = &scriptedTabs{loadAfter: 2}
		d = delivery.New(tabs, delivery.WithSite("example.com"), delivery.WithLoadPolling(5, time.Millisecond))
	})

	It("opens a background tab and waits for it to load", func() {
		tab, err := d.Deliver(ctx, "hello world")
		Expect(err).NotTo(HaveOccurred())
		Expect(tab.Status).To(Equal(types.TabStatusComplete))
		Expect(tabs.created).To(Equal([]types.CreateTab{{URL: "https://example.com/search?q=hello%20world", Active: false}}))
		Expect(tabs.gets).To(Equal(2))
	})

	It("proceeds when the tab never loads", func() {
		tabs.loadAfter = 1000
		tab, err := d.Deliver(ctx, "hello")
		Expect(err).NotTo(HaveOccurred())
		Expect(tab.Status).To(Equal(types.TabStatusLoading))
		Expect(tabs.gets).To(Equal(5))
	})

	It("wraps tab creation failures", func() {
		tabs.failNew = true
		_, err := d.Deliver(ctx, "hello")
		Expect(errors.Is(err, types.ErrDeliveryFailed)).To(BeTrue())
	})

	It("detects an open surface", func() {
		Expect(d.URLPatterns()).To(Equal([]string{"*://example.com/*"}))
		ok, err := d.HasSurface(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())

		tabs.open = []types.Tab{{ID: 1, URL: "https://example.com/"}}
		ok, err = d.HasSurface(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})
})
