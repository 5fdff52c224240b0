package sse

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/mudler/xlog"
	"github.com/valyala/fasthttp"
)

type (
	// Listener is the receiving end of a stream.
	Listener interface {
		ID() string
		Chan() chan Envelope
	}

	// Envelope is anything that can be written to an event stream.
	Envelope interface {
		Name() string
		String() string
	}

	// Manager fans messages out to the connected clients.
	Manager interface {
		Send(message Envelope)
		Handle(ctx *fiber.Ctx, cl Listener)
		Clients() []string
		Close()
	}
)

type Client struct {
	id string
	ch chan Envelope
}

func NewClient(id string) Listener {
	return &Client{
		id: id,
		ch: make(chan Envelope, 50),
	}
}

func (c *Client) ID() string          { return c.id }
func (c *Client) Chan() chan Envelope { return c.ch }

type Message struct {
	Event string
	Time  time.Time
	Data  string
}

func NewMessage(data string) *Message {
	return &Message{
		Data: data,
		Time: time.Now(),
	}
}

// NewEvent encodes v as JSON and names the message after event.
func NewEvent(event string, v any) (*Message, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", event, err)
	}
	m := NewMessage(string(raw))
	m.Event = event
	return m, nil
}

func (m *Message) Name() string { return m.Event }

func (m *Message) String() string {
	sb := strings.Builder{}

	if m.Event != "" {
		sb.WriteString(fmt.Sprintf("event: %s\n", m.Event))
	}
	// multi-line payloads need one data field per line
	for _, line := range strings.Split(m.Data, "\n") {
		sb.WriteString(fmt.Sprintf("data: %s\n", line))
	}
	sb.WriteString("\n")

	return sb.String()
}

func (m *Message) WithEvent(event string) Envelope {
	m.Event = event
	return m
}

type ManagerOption func(*broadcastManager)

// WithRetained makes the manager replay the latest message of each named
// event to clients as they connect.
func WithRetained(events ...string) ManagerOption {
	return func(m *broadcastManager) {
		for _, e := range events {
			m.retained.track(e)
		}
	}
}

// WithHeartbeat writes a comment line every d so dead connections are
// noticed even when nothing is broadcast.
func WithHeartbeat(d time.Duration) ManagerOption {
	return func(m *broadcastManager) { m.heartbeat = d }
}

// WithOnConnect runs fn whenever the set of connected clients changes.
func WithOnConnect(fn func(clients int)) ManagerOption {
	return func(m *broadcastManager) { m.onChange = fn }
}

type broadcastManager struct {
	clients        sync.Map
	count          int
	countMu        sync.Mutex
	broadcast      chan Envelope
	done           chan struct{}
	closeOnce      sync.Once
	workerPoolSize int
	heartbeat      time.Duration
	retained       *retained
	onChange       func(clients int)
}

func NewManager(opts ...ManagerOption) Manager {
	manager := &broadcastManager{
		broadcast:      make(chan Envelope),
		done:           make(chan struct{}),
		workerPoolSize: 2,
		heartbeat:      15 * time.Second,
		retained:       newRetained(),
	}
	for _, o := range opts {
		o(manager)
	}

	manager.startWorkers()

	return manager
}

// Send broadcasts a message to all connected clients. Messages sent after
// Close are dropped.
func (manager *broadcastManager) Send(message Envelope) {
	manager.retained.Add(message)
	select {
	case manager.broadcast <- message:
	case <-manager.done:
	}
}

func (manager *broadcastManager) Close() {
	manager.closeOnce.Do(func() { close(manager.done) })
}

func (manager *broadcastManager) Handle(c *fiber.Ctx, cl Listener) {
	manager.register(cl)
	ctx := c.Context()

	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.Response.Header.Set("Access-Control-Allow-Origin", "*")
	ctx.Response.Header.Set("Access-Control-Allow-Headers", "Cache-Control")
	ctx.Response.Header.Set("Access-Control-Allow-Credentials", "true")
	ctx.Response.Header.Set("X-Accel-Buffering", "no")

	manager.retained.Send(cl)

	ctx.SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer manager.unregister(cl)

		ticker := time.NewTicker(manager.heartbeat)
		defer ticker.Stop()

		fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\"}\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case msg, ok := <-cl.Chan():
				if !ok {
					return
				}
				if _, err := fmt.Fprint(w, msg.String()); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					xlog.Debug("SSE client went away", "client", cl.ID(), "error", err)
					return
				}
			case <-ticker.C:
				fmt.Fprint(w, ": ping\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			case <-manager.done:
				return
			}
		}
	}))
}

func (manager *broadcastManager) Clients() []string {
	var clients []string
	manager.clients.Range(func(key, value any) bool {
		id, ok := key.(string)
		if ok {
			clients = append(clients, id)
		}
		return true
	})
	return clients
}

func (manager *broadcastManager) startWorkers() {
	for i := 0; i < manager.workerPoolSize; i++ {
		go func() {
			for {
				select {
				case <-manager.done:
					return
				case message := <-manager.broadcast:
					manager.clients.Range(func(key, value any) bool {
						client, ok := value.(Listener)
						if !ok {
							return true
						}
						select {
						case client.Chan() <- message:
						default:
							xlog.Warn("SSE client buffer full, dropping message", "client", client.ID(), "event", message.Name())
						}
						return true
					})
				}
			}
		}()
	}
}

// register adds client. A client reconnecting under the same id takes over
// the slot of its previous stream.
func (manager *broadcastManager) register(client Listener) {
	if _, replaced := manager.clients.Swap(client.ID(), client); replaced {
		xlog.Debug("SSE client reconnected", "client", client.ID())
		return
	}
	manager.changed(1)
}

// unregister removes client unless a newer stream already holds its id.
func (manager *broadcastManager) unregister(client Listener) {
	if !manager.clients.CompareAndDelete(client.ID(), client) {
		return
	}
	manager.changed(-1)
}

func (manager *broadcastManager) changed(delta int) {
	manager.countMu.Lock()
	manager.count += delta
	n := manager.count
	manager.countMu.Unlock()
	if manager.onChange != nil {
		manager.onChange(n)
	}
}

// retained keeps the latest message per tracked event.
type retained struct {
	mu       sync.Mutex
	order    []string
	messages map[string]Envelope
}

func newRetained() *retained {
	return &retained{messages: map[string]Envelope{}}
}

func (r *retained) track(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.messages[event]; ok {
		return
	}
	r.messages[event] = nil
	r.order = append(r.order, event)
}

func (r *retained) Add(message Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.messages[message.Name()]; ok {
		r.messages[message.Name()] = message
	}
}

func (r *retained) Send(c Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, event := range r.order {
		if msg := r.messages[event]; msg != nil {
			select {
			case c.Chan() <- msg:
			default:
			}
		}
	}
}
