package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/mudler/xlog"
)

// EmailConfig describes the SMTP relay used for email notifications.
type EmailConfig struct {
	Server   string // host:port
	Username string
	Password string
	From     string
	To       []string
	// Insecure sends over a plain connection instead of requiring STARTTLS.
	Insecure bool
}

// Email sends each notification as a text and HTML message. The message is
// treated as markdown for the HTML part.
type Email struct {
	cfg    EmailConfig
	levels map[Level]bool
	now    func() time.Time
}

// NewEmail mails every level unless levels narrows it down.
func NewEmail(cfg EmailConfig, levels ...Level) *Email {
	e := &Email{cfg: cfg, now: time.Now}
	if len(levels) > 0 {
		e.levels = make(map[Level]bool, len(levels))
		for _, l := range levels {
			e.levels[l] = true
		}
	}
	return e
}

func (e *Email) Notify(ctx context.Context, n Notification) {
	if e.levels != nil && !e.levels[n.Level] {
		return
	}
	if len(e.cfg.To) == 0 {
		return
	}
	msg, err := e.compose(n)
	if err != nil {
		xlog.Warn("Failed to compose email notification", "error", err)
		return
	}
	if err := e.send(ctx, msg); err != nil {
		xlog.Warn("Failed to send email notification", "server", e.cfg.Server, "error", err)
	}
}

func (e *Email) compose(n Notification) ([]byte, error) {
	var h mail.Header
	h.SetDate(e.now())
	h.SetSubject(subject(n))
	h.SetAddressList("From", []*mail.Address{{Name: "autoagent", Address: e.cfg.From}})
	to := make([]*mail.Address, 0, len(e.cfg.To))
	for _, addr := range e.cfg.To {
		to = append(to, &mail.Address{Address: addr})
	}
	h.SetAddressList("To", to)
	if err := h.GenerateMessageID(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	tw, err := mw.CreateInline()
	if err != nil {
		return nil, err
	}
	if err := writePart(tw, "text/plain", []byte(n.Message)); err != nil {
		return nil, err
	}
	if err := writePart(tw, "text/html", renderHTML(n.Message)); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *Email) send(ctx context.Context, msg []byte) error {
	var auth sasl.Client
	if e.cfg.Username != "" {
		auth = sasl.NewPlainClient("", e.cfg.Username, e.cfg.Password)
	}

	if !e.cfg.Insecure {
		return smtp.SendMail(e.cfg.Server, auth, e.cfg.From, e.cfg.To, bytes.NewReader(msg))
	}

	c, err := smtp.Dial(e.cfg.Server)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer c.Close()
	if deadline, ok := ctx.Deadline(); ok {
		c.CommandTimeout = time.Until(deadline)
	}
	if err := c.Hello("localhost"); err != nil {
		return fmt.Errorf("hello: %w", err)
	}
	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := c.SendMail(e.cfg.From, e.cfg.To, bytes.NewReader(msg)); err != nil {
		return err
	}
	return c.Quit()
}

func writePart(tw *mail.InlineWriter, contentType string, body []byte) error {
	var h mail.InlineHeader
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := tw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, bytes.NewReader(body)); err != nil {
		return err
	}
	return w.Close()
}

func renderHTML(md string) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.NoEmptyLineBeforeBlock)
	r := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags | html.HrefTargetBlank})
	return markdown.ToHTML([]byte(md), p, r)
}

func subject(n Notification) string {
	switch n.Level {
	case LevelError:
		return "autoagent: task failed"
	case LevelSuccess:
		return "autoagent: task done"
	default:
		return "autoagent: missed task"
	}
}
