package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/stupiduntilnot/freepsy/internal/bot"
	"github.com/stupiduntilnot/freepsy/internal/catalog"
	cmdpkg "github.com/stupiduntilnot/freepsy/internal/commander"
	"github.com/stupiduntilnot/freepsy/internal/config"
	ctxpkg "github.com/stupiduntilnot/freepsy/internal/context"
	"github.com/stupiduntilnot/freepsy/internal/control"
	"github.com/stupiduntilnot/freepsy/internal/crisis"
	"github.com/stupiduntilnot/freepsy/internal/db"
	"github.com/stupiduntilnot/freepsy/internal/dummy"
	modelpkg "github.com/stupiduntilnot/freepsy/internal/model"
	"github.com/stupiduntilnot/freepsy/internal/openrouter"
	"github.com/stupiduntilnot/freepsy/internal/ratelimit"
	"github.com/stupiduntilnot/freepsy/internal/replies"
	"github.com/stupiduntilnot/freepsy/internal/telegram"
)

func main() {
	cfg, err := config.LoadBotConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[bot] %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("bot stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.BotConfig, logger *slog.Logger) error {
	database, err := db.OpenDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := db.InitSchema(database); err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}

	processID, err := db.LogEvent(database, nil, db.EventProcessStarted, map[string]any{
		"pid":       os.Getpid(),
		"provider":  cfg.ModelProvider,
		"commander": cfg.Commander,
		"model":     cfg.DefaultModel,
	})
	var parentID *int64
	if err != nil {
		logger.Warn("failed to log process.started", "error", err)
	} else {
		parentID = &processID
	}

	commander, err := newCommander(&cfg)
	if err != nil {
		return fmt.Errorf("failed to init commander: %w", err)
	}
	texts := replies.NewCatalog(cfg.DefaultLanguage)
	client := openrouter.NewClient(cfg.OpenRouterAPIKey, cfg.OpenRouterBaseURL).WithSite(cfg.SiteURL, cfg.SiteName)
	models := catalog.NewCache(client, cfg.ModelsTTL, logger)
	provider, err := newModelProvider(&cfg, client, texts, logger)
	if err != nil {
		return fmt.Errorf("failed to init model provider: %w", err)
	}

	handler := bot.New(newBotOptions(&cfg, database, commander, provider, models, texts, logger, parentID))

	logger.Info("bot running",
		"model", cfg.DefaultModel,
		"provider", cfg.ModelProvider,
		"commander", cfg.Commander,
		"max_concurrent_turns", cfg.MaxConcurrentTurns)

	p := newPoller(&cfg, database, commander, handler.HandleUpdate, logger, parentID)
	err = p.run(ctx)

	if _, logErr := db.LogEvent(database, parentID, db.EventProcessStopped, map[string]any{"pid": os.Getpid()}); logErr != nil {
		logger.Warn("failed to log process.stopped", "error", logErr)
	}
	logger.Info("bot stopped")
	return err
}

func newBotOptions(
	cfg *config.BotConfig,
	database *sql.DB,
	commander cmdpkg.Commander,
	provider modelpkg.Provider,
	models bot.ModelCatalog,
	texts *replies.Catalog,
	logger *slog.Logger,
	processID *int64,
) bot.Options {
	var detector *crisis.Detector
	if cfg.CrisisDetection {
		detector = crisis.NewDetector(cfg.CrisisKeywords)
	}
	return bot.Options{
		DB:        database,
		Commander: commander,
		Provider:  provider,
		Models:    models,
		History:   &ctxpkg.SQLiteProvider{DB: database},
		Assembler: ctxpkg.NewAssembler(ctxpkg.Budget{
			MaxTokens:       cfg.MaxHistoryTokens,
			MaxTaskTokens:   cfg.MaxTaskHistoryTokens,
			TaskAckOverhead: cfg.TaskAckOverhead,
		}, ""),
		Limiter: ratelimit.New(cfg.RateBurst, cfg.RatePerSec,
			ratelimit.WithEviction(cfg.RateEviction),
			ratelimit.WithLightweight(cfg.Lightweight)),
		Routing:        catalog.RoutingTable(cfg.RoutingTable),
		Crisis:         detector,
		Replies:        texts,
		Logger:         logger,
		AdminID:        cfg.AdminID,
		DefaultModel:   cfg.DefaultModel,
		SystemPrompt:   cfg.SystemPrompt,
		ChunkSize:      cfg.ChunkSize,
		TypingInterval: cfg.TypingInterval,
		ModelListMax:   cfg.ModelListMax,
		ModelListTTL:   cfg.ModelListTTL,
		ProcessEventID: processID,
	}
}

// poller long-polls the commander and hands each update to its own
// goroutine, at most maxTurns at a time.
type poller struct {
	commander cmdpkg.Commander
	settings  *db.Settings
	database  *sql.DB
	handle    func(context.Context, cmdpkg.Update)
	circuit   *control.CircuitBreaker
	turns     *semaphore.Weighted
	logger    *slog.Logger
	parentID  *int64
	timeout   int
	pause     time.Duration

	wg sync.WaitGroup
}

func newPoller(
	cfg *config.BotConfig,
	database *sql.DB,
	commander cmdpkg.Commander,
	handle func(context.Context, cmdpkg.Update),
	logger *slog.Logger,
	parentID *int64,
) *poller {
	return &poller{
		commander: commander,
		settings:  &db.Settings{DB: database},
		database:  database,
		handle:    handle,
		circuit:   control.NewCircuitBreaker(cfg.CircuitThreshold, cfg.CircuitCooldown),
		turns:     semaphore.NewWeighted(int64(cfg.MaxConcurrentTurns)),
		logger:    logger.With("component", "poller"),
		parentID:  parentID,
		timeout:   cfg.PollTimeout,
		pause:     time.Duration(cfg.SleepSeconds) * time.Second,
	}
}

// run polls until ctx is cancelled, then waits for in-flight turns. Turns
// run detached from ctx so a shutdown lets them finish their reply.
func (p *poller) run(ctx context.Context) error {
	offset, err := p.settings.Offset()
	if err != nil {
		return fmt.Errorf("failed to load offset: %w", err)
	}
	defer p.wg.Wait()

	turnCtx := context.WithoutCancel(ctx)
	for ctx.Err() == nil {
		wasOpen := p.circuit.State() == control.CircuitOpen
		if !p.circuit.Allow(time.Now()) {
			p.sleep(ctx)
			continue
		}
		if wasOpen {
			p.logger.Info("circuit half-open, probing", "error_class", p.circuit.OpenedClass())
		}

		updates, err := p.commander.GetUpdates(ctx, offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			p.recordFailure(err)
			p.sleep(ctx)
			continue
		}
		p.recordSuccess()

		for _, u := range updates {
			if err := p.turns.Acquire(ctx, 1); err != nil {
				break
			}
			offset = u.UpdateID + 1
			p.wg.Add(1)
			go func(u cmdpkg.Update) {
				defer p.wg.Done()
				defer p.turns.Release(1)
				p.handle(turnCtx, u)
			}(u)
		}
		if len(updates) > 0 {
			if err := p.settings.SetOffset(offset); err != nil {
				p.logger.Error("failed to persist offset", "offset", offset, "error", err)
			}
		} else {
			p.sleep(ctx)
		}
	}
	p.logger.Info("polling stopped, waiting for in-flight turns")
	return nil
}

func (p *poller) recordFailure(err error) {
	class := classifyPollError(err)
	p.logger.Warn("getUpdates failed", "class", class, "error", err)
	p.event(db.EventPollFailed, map[string]any{"error_class": class, "error": truncate(err.Error(), 400)})
	if p.circuit.RecordFailure(class, time.Now()) {
		p.logger.Error("circuit opened", "error_class", class, "cooldown", p.circuit.Cooldown)
		p.event(db.EventCircuitOpened, map[string]any{
			"error_class":      class,
			"threshold":        p.circuit.Threshold,
			"cooldown_seconds": int(p.circuit.Cooldown.Seconds()),
		})
	}
}

func (p *poller) recordSuccess() {
	if p.circuit.State() == control.CircuitClosed {
		p.circuit.RecordSuccess()
		return
	}
	p.circuit.RecordSuccess()
	p.logger.Info("circuit closed")
	p.event(db.EventCircuitClosed, map[string]any{"recovered": true})
}

func (p *poller) event(eventType string, payload map[string]any) {
	if _, err := db.LogEvent(p.database, p.parentID, eventType, payload); err != nil {
		p.logger.Warn("failed to log event", "event_type", eventType, "error", err)
	}
}

func (p *poller) sleep(ctx context.Context) {
	if p.pause <= 0 {
		return
	}
	t := time.NewTimer(p.pause)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func newCommander(cfg *config.BotConfig) (cmdpkg.Commander, error) {
	switch cfg.Commander {
	case "telegram":
		return telegram.NewClient(cfg.TelegramAPIBase, time.Duration(cfg.PollTimeout+20)*time.Second), nil
	case "dummy":
		return dummy.NewCommander(cfg.DummyCommanderScript, cfg.DummySendScript)
	default:
		return nil, fmt.Errorf("unsupported commander: %s", cfg.Commander)
	}
}

func newModelProvider(cfg *config.BotConfig, client *openrouter.Client, texts *replies.Catalog, logger *slog.Logger) (modelpkg.Provider, error) {
	switch cfg.ModelProvider {
	case "openrouter":
		return openrouter.NewGateway(client, cfg.RetryPolicy(), texts, logger), nil
	case "dummy":
		return dummy.NewProvider(cfg.DummyProviderScript)
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.ModelProvider)
	}
}

// classifyPollError maps a getUpdates failure onto the breaker's classes.
func classifyPollError(err error) control.ErrorClass {
	var apiErr *telegram.APIError
	var netErr net.Error
	switch {
	case err == nil:
		return control.ClassNone
	case errors.As(err, &apiErr):
		if apiErr.Code == 429 {
			return control.ClassRateLimited
		}
		return control.ClassUpstreamStatus
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return control.ClassTimeout
	default:
		return control.ClassTransport
	}
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars]) + "...(truncated)"
}
