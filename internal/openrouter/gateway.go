package openrouter

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	ctxpkg "github.com/stupiduntilnot/freepsy/internal/context"
	"github.com/stupiduntilnot/freepsy/internal/control"
	"github.com/stupiduntilnot/freepsy/internal/replies"
)

// EmptyAnswer replaces a completion that is blank after cleanup.
const EmptyAnswer = "..."

var thinkPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// Completer is the part of Client the gateway needs.
type Completer interface {
	ChatCompletion(ctx context.Context, req ChatRequest) (string, error)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Gateway issues completion calls under a retry policy and turns every
// failure into an apology in the user's language.
type Gateway struct {
	client  Completer
	policy  control.RetryPolicy
	replies *replies.Catalog
	logger  *slog.Logger
	sleep   SleepFunc
}

// NewGateway wires a gateway. A nil logger uses slog.Default().
func NewGateway(client Completer, policy control.RetryPolicy, catalog *replies.Catalog, logger *slog.Logger) *Gateway {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if catalog == nil {
		catalog = replies.NewCatalog("ru")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		client:  client,
		policy:  policy,
		replies: catalog,
		logger:  logger.With("component", "gateway"),
		sleep:   sleepContext,
	}
}

// WithSleep substitutes the backoff sleeper.
func (g *Gateway) WithSleep(fn SleepFunc) *Gateway {
	g.sleep = fn
	return g
}

// Complete returns the model's cleaned answer, or an apology when the call
// failed. The result is never empty.
func (g *Gateway) Complete(ctx context.Context, messages []ctxpkg.Message, model string) string {
	texts := g.replies.FromContext(ctx)
	log := g.logger.With("request_id", uuid.NewString(), "model", model)
	req := ChatRequest{Model: model, Messages: messages, IncludeReasoning: false}

	for attempt := 1; attempt <= g.policy.MaxAttempts; attempt++ {
		started := time.Now()
		content, err := g.attempt(ctx, req)
		if err == nil {
			log.Debug("completion ok", "attempt", attempt, "elapsed", time.Since(started))
			return cleanAnswer(content)
		}

		class := Classify(err)
		if ctx.Err() != nil {
			// The turn itself was abandoned; no attempt can succeed.
			class = control.ClassTransport
		}
		log.Log(ctx, levelFor(class), "completion failed",
			"attempt", attempt, "max_attempts", g.policy.MaxAttempts, "class", class, "error", err)

		if !g.policy.ShouldRetry(class, attempt) {
			return apology(texts, class)
		}
		if d := g.policy.Delay(class, attempt); d > 0 {
			if err := g.sleep(ctx, d); err != nil {
				log.Warn("backoff interrupted", "error", err)
				return texts.Connection
			}
		}
	}
	return texts.NoResponse
}

func (g *Gateway) attempt(ctx context.Context, req ChatRequest) (string, error) {
	if g.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.policy.Timeout)
		defer cancel()
	}
	return g.client.ChatCompletion(ctx, req)
}

func cleanAnswer(content string) string {
	text := strings.TrimSpace(thinkPattern.ReplaceAllString(content, ""))
	if text == "" {
		return EmptyAnswer
	}
	return text
}

func apology(texts replies.Set, class control.ErrorClass) string {
	switch class {
	case control.ClassRateLimited:
		return texts.Overloaded
	case control.ClassTimeout:
		return texts.TimedOut
	case control.ClassUpstreamStatus:
		return texts.UpstreamError
	case control.ClassMalformed:
		return texts.Malformed
	case control.ClassTransport:
		return texts.Connection
	default:
		return texts.Generic
	}
}

func levelFor(class control.ErrorClass) slog.Level {
	if class.Retryable() {
		return slog.LevelWarn
	}
	return slog.LevelError
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
