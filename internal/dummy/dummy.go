// Package dummy provides scripted stand-ins for the Telegram transport and the
// model provider.
//
// Scripts are comma separated actions: "ok", "err:<class>", "sleep:<ms>",
// "msg:<text>" and "msgb64:<base64 text>". The last action repeats.
package dummy

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	cmdpkg "github.com/stupiduntilnot/freepsy/internal/commander"
	ctxpkg "github.com/stupiduntilnot/freepsy/internal/context"
	"github.com/stupiduntilnot/freepsy/internal/replies"
)

type action struct {
	kind string
	arg  string
}

func parseScript(script string) ([]action, error) {
	if strings.TrimSpace(script) == "" {
		return []action{{kind: "ok"}}, nil
	}
	parts := strings.Split(script, ",")
	actions := make([]action, 0, len(parts))
	for _, p := range parts {
		token := strings.TrimSpace(p)
		if token == "" {
			continue
		}
		if token == "ok" {
			actions = append(actions, action{kind: "ok"})
			continue
		}
		kind, arg, found := strings.Cut(token, ":")
		switch {
		case found && (kind == "err" || kind == "sleep" || kind == "msg" || kind == "msgb64"):
			actions = append(actions, action{kind: kind, arg: arg})
		default:
			return nil, fmt.Errorf("invalid dummy action: %s", token)
		}
	}
	if len(actions) == 0 {
		actions = append(actions, action{kind: "ok"})
	}
	return actions, nil
}

type scriptRunner struct {
	actions []action
	index   int
}

func newRunner(script string) (*scriptRunner, error) {
	actions, err := parseScript(script)
	if err != nil {
		return nil, err
	}
	return &scriptRunner{actions: actions}, nil
}

func (r *scriptRunner) next() action {
	if len(r.actions) == 0 {
		return action{kind: "ok"}
	}
	if r.index >= len(r.actions) {
		return r.actions[len(r.actions)-1]
	}
	a := r.actions[r.index]
	r.index++
	return a
}

func (a action) text() (string, error) {
	if a.kind != "msgb64" {
		return a.arg, nil
	}
	raw, err := base64.StdEncoding.DecodeString(a.arg)
	if err != nil {
		return "", fmt.Errorf("dummy msgb64 decode failed: %w", err)
	}
	return string(raw), nil
}

func sleepMillis(ctx context.Context, arg string) {
	ms, _ := strconv.Atoi(arg)
	if ms <= 0 {
		return
	}
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Sent is one outgoing call recorded by Commander.
type Sent struct {
	Kind      string // "text", "html", "edit", "typing", "answer"
	ChatID    int64
	MessageID int64
	Text      string
	Keyboard  cmdpkg.Keyboard
}

// Commander replays a poll script as updates from user 1 in chat 1 and
// records everything the bot sends.
type Commander struct {
	mu       sync.Mutex
	poll     *scriptRunner
	send     *scriptRunner
	updateID int64
	msgID    int64
	sent     []Sent
}

// NewCommander builds a commander. The send script governs SendMessage,
// SendHTML and EditHTML; "err" there fails the call.
func NewCommander(pollScript, sendScript string) (*Commander, error) {
	poll, err := newRunner(pollScript)
	if err != nil {
		return nil, err
	}
	send, err := newRunner(sendScript)
	if err != nil {
		return nil, err
	}
	return &Commander{poll: poll, send: send, updateID: 1, msgID: 100}, nil
}

func (c *Commander) GetUpdates(ctx context.Context, offset int64, timeout int) ([]cmdpkg.Update, error) {
	c.mu.Lock()
	a := c.poll.next()
	c.mu.Unlock()

	switch a.kind {
	case "err":
		return nil, fmt.Errorf("dummy commander error class=%s", emptyAs(a.arg, "command_source_api"))
	case "sleep":
		sleepMillis(ctx, a.arg)
		return nil, nil
	case "msg", "msgb64":
		text, err := a.text()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		c.updateID++
		c.msgID++
		return []cmdpkg.Update{{
			UpdateID: c.updateID,
			Message: &cmdpkg.Message{
				MessageID: c.msgID,
				From:      &cmdpkg.User{ID: 1, FirstName: "dummy"},
				Chat:      cmdpkg.Chat{ID: 1},
				Text:      &text,
				Date:      time.Now().Unix(),
			},
		}}, nil
	default:
		return nil, nil
	}
}

func (c *Commander) SendMessage(ctx context.Context, chatID int64, text string) (int64, error) {
	return c.record(ctx, Sent{Kind: "text", ChatID: chatID, Text: text})
}

func (c *Commander) SendHTML(ctx context.Context, chatID int64, text string, kb cmdpkg.Keyboard) (int64, error) {
	return c.record(ctx, Sent{Kind: "html", ChatID: chatID, Text: text, Keyboard: kb})
}

func (c *Commander) EditHTML(ctx context.Context, chatID, messageID int64, text string, kb cmdpkg.Keyboard) error {
	_, err := c.record(ctx, Sent{Kind: "edit", ChatID: chatID, MessageID: messageID, Text: text, Keyboard: kb})
	return err
}

func (c *Commander) SendTyping(ctx context.Context, chatID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, Sent{Kind: "typing", ChatID: chatID})
	return nil
}

func (c *Commander) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, Sent{Kind: "answer", Text: text})
	return nil
}

func (c *Commander) record(ctx context.Context, s Sent) (int64, error) {
	c.mu.Lock()
	a := c.send.next()
	c.mu.Unlock()

	switch a.kind {
	case "err":
		return 0, fmt.Errorf("dummy commander send error class=%s", emptyAs(a.arg, "command_source_api"))
	case "sleep":
		sleepMillis(ctx, a.arg)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgID++
	if s.MessageID == 0 {
		s.MessageID = c.msgID
	}
	c.sent = append(c.sent, s)
	return s.MessageID, nil
}

// Sent returns a copy of everything recorded so far.
func (c *Commander) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

// Call is one recorded Complete invocation.
type Call struct {
	Messages []ctxpkg.Message
	Model    string
}

// Provider answers Complete from a script and records each call.
type Provider struct {
	mu      sync.Mutex
	script  *scriptRunner
	replies *replies.Catalog
	calls   []Call
}

func NewProvider(script string) (*Provider, error) {
	runner, err := newRunner(script)
	if err != nil {
		return nil, err
	}
	return &Provider{script: runner, replies: replies.NewCatalog("ru")}, nil
}

// Complete follows the script: "msg" answers with its text, "err" answers
// with the generic apology, "sleep" waits and then answers.
func (p *Provider) Complete(ctx context.Context, messages []ctxpkg.Message, model string) string {
	p.mu.Lock()
	a := p.script.next()
	p.calls = append(p.calls, Call{Messages: append([]ctxpkg.Message(nil), messages...), Model: model})
	p.mu.Unlock()

	switch a.kind {
	case "err":
		return p.replies.FromContext(ctx).Generic
	case "sleep":
		sleepMillis(ctx, a.arg)
		return "dummy-after-sleep"
	case "msg", "msgb64":
		text, err := a.text()
		if err != nil || strings.TrimSpace(text) == "" {
			return "..."
		}
		return text
	default:
		return "dummy-ok"
	}
}

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

func emptyAs(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
