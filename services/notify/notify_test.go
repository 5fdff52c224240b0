package notify_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/movinglive/autoagent/services/notify"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type captured struct {
	mu    sync.Mutex
	texts []string
}

func (c *captured) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var msg struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(body, &msg)
	c.mu.Lock()
	c.texts = append(c.texts, msg.Text)
	c.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (c *captured) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}

type recorder struct{ got []notify.Notification }

func (r *recorder) Notify(_ context.Context, n notify.Notification) { r.got = append(r.got, n) }

var _ = Describe("Slack", func() {
	var (
		hook   *captured
		server *httptest.Server
	)

	BeforeEach(func() {
		hook = &captured{}
		server = httptest.NewServer(http.HandlerFunc(hook.handler))
		DeferCleanup(server.Close)
	})

	It("posts notifications to the webhook", func() {
		notify.NewSlack(server.URL).Notify(context.Background(), notify.Error("delivery of %q failed", "news"))
		Expect(hook.all()).To(ConsistOf(`:warning: delivery of "news" failed`))
	})

	It("filters by level", func() {
		s := notify.NewSlack(server.URL, notify.LevelError)
		s.Notify(context.Background(), notify.Info("1 missed task"))
		s.Notify(context.Background(), notify.Error("storage unavailable"))
		Expect(hook.all()).To(ConsistOf(":warning: storage unavailable"))
	})

	It("swallows webhook failures", func() {
		server.Close()
		Expect(func() {
			notify.NewSlack(server.URL).Notify(context.Background(), notify.Info("hello"))
		}).NotTo(Panic())
	})
})

var _ = Describe("Multi", func() {
	It("fans out and skips nil notifiers", func() {
		a, b := &recorder{}, &recorder{}
		notify.Multi{a, nil, b, notify.Log{}}.Notify(context.Background(), notify.Info("%d missed", 2))
		Expect(a.got).To(Equal([]notify.Notification{{Level: notify.LevelInfo, Message: "2 missed"}}))
		Expect(b.got).To(HaveLen(1))
	})
})
