// Package bot routes Telegram updates: rate-limit admission, commands,
// inline keyboard callbacks and the conversational turn pipeline.
package bot

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/stupiduntilnot/freepsy/internal/catalog"
	cmdpkg "github.com/stupiduntilnot/freepsy/internal/commander"
	ctxpkg "github.com/stupiduntilnot/freepsy/internal/context"
	"github.com/stupiduntilnot/freepsy/internal/crisis"
	"github.com/stupiduntilnot/freepsy/internal/db"
	modelpkg "github.com/stupiduntilnot/freepsy/internal/model"
	"github.com/stupiduntilnot/freepsy/internal/ratelimit"
	"github.com/stupiduntilnot/freepsy/internal/render"
	"github.com/stupiduntilnot/freepsy/internal/replies"
	"github.com/stupiduntilnot/freepsy/internal/roles"
)

// ModelCatalog is the part of catalog.Cache the admin flow and the task
// router need.
type ModelCatalog interface {
	FreeModels(ctx context.Context) []catalog.Descriptor
	Validate(ctx context.Context, model string) error
}

// Options wires a Bot. DB, Commander, Provider and Models are required.
type Options struct {
	DB        *sql.DB
	Commander cmdpkg.Commander
	Provider  modelpkg.Provider
	Models    ModelCatalog

	History   ctxpkg.Provider
	Assembler *ctxpkg.Assembler
	Limiter   *ratelimit.Limiter
	Routing   catalog.RoutingTable
	Roles     *roles.Catalog
	Crisis    *crisis.Detector // nil disables detection
	Replies   *replies.Catalog
	Logger    *slog.Logger

	AdminID        int64
	DefaultModel   string
	SystemPrompt   string
	ChunkSize      int
	TypingInterval time.Duration
	ModelListMax   int
	ModelListTTL   time.Duration
	ProcessEventID *int64
}

// Bot handles one update at a time per call; calls may run concurrently.
type Bot struct {
	db        *sql.DB
	commander cmdpkg.Commander
	provider  modelpkg.Provider
	models    ModelCatalog
	router    *catalog.Router
	history   ctxpkg.Provider
	settings  *db.Settings
	assembler *ctxpkg.Assembler
	limiter   *ratelimit.Limiter
	roles     *roles.Catalog
	crisis    *crisis.Detector
	replies   *replies.Catalog
	logger    *slog.Logger
	pending   *modelLists

	adminID        int64
	defaultModel   string
	systemPrompt   string
	chunkSize      int
	typingInterval time.Duration
	modelListMax   int
	parentEventID  *int64
}

// New builds a Bot, filling unset optional fields with defaults.
func New(opts Options) *Bot {
	if opts.History == nil {
		opts.History = &ctxpkg.SQLiteProvider{DB: opts.DB}
	}
	if opts.Assembler == nil {
		opts.Assembler = ctxpkg.NewAssembler(ctxpkg.Budget{MaxTokens: 4000, MaxTaskTokens: 6000, TaskAckOverhead: 20}, "")
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.New(ratelimit.DefaultBurst, ratelimit.DefaultRate)
	}
	if opts.Routing == nil {
		opts.Routing = catalog.DefaultRoutingTable()
	}
	if opts.Roles == nil {
		opts.Roles = roles.NewCatalog(nil)
	}
	if opts.Replies == nil {
		opts.Replies = replies.NewCatalog("ru")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = render.DefaultChunkSize
	}
	if opts.TypingInterval <= 0 {
		opts.TypingInterval = 4 * time.Second
	}
	if opts.ModelListMax <= 0 {
		opts.ModelListMax = 20
	}
	if opts.ModelListTTL <= 0 {
		opts.ModelListTTL = time.Hour
	}
	return &Bot{
		db:             opts.DB,
		commander:      opts.Commander,
		provider:       opts.Provider,
		models:         opts.Models,
		router:         catalog.NewRouter(opts.Routing, opts.Models),
		history:        opts.History,
		settings:       &db.Settings{DB: opts.DB},
		assembler:      opts.Assembler,
		limiter:        opts.Limiter,
		roles:          opts.Roles,
		crisis:         opts.Crisis,
		replies:        opts.Replies,
		logger:         opts.Logger.With("component", "bot"),
		pending:        newModelLists(pendingListLimit, opts.ModelListTTL),
		adminID:        opts.AdminID,
		defaultModel:   opts.DefaultModel,
		systemPrompt:   opts.SystemPrompt,
		chunkSize:      opts.ChunkSize,
		typingInterval: opts.TypingInterval,
		modelListMax:   opts.ModelListMax,
		parentEventID:  opts.ProcessEventID,
	}
}

// HandleUpdate processes one update. Failures are logged and, where the user
// is waiting for an answer, reported with an apology; nothing is returned.
func (b *Bot) HandleUpdate(ctx context.Context, u cmdpkg.Update) {
	sender := u.Sender()
	if sender == nil {
		return
	}
	ctx = replies.WithLanguage(ctx, sender.LanguageCode)
	texts := b.replies.For(sender.LanguageCode)

	if u.Callback != nil {
		b.handleCallback(ctx, texts, u.Callback)
		return
	}
	if u.Message == nil || u.Message.Text == nil {
		return
	}
	text := strings.TrimSpace(*u.Message.Text)
	if text == "" {
		return
	}
	chatID := u.Message.Chat.ID

	if !b.limiter.Admit(sender.ID, b.limiter.Lightweight(text)) {
		b.logger.Info("turn rejected by rate limiter", "user_id", sender.ID)
		b.event(db.EventTurnRejected, map[string]any{"user_id": sender.ID})
		b.sendPlain(ctx, chatID, texts.PleaseWait)
		return
	}

	if cmd, args, ok := parseCommand(text); ok {
		b.handleCommand(ctx, texts, sender, chatID, cmd, args)
		return
	}
	b.handleTurn(ctx, texts, sender, chatID, text)
}

// parseCommand splits "/cmd@bot args" into ("/cmd", "args").
func parseCommand(text string) (cmd, args string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest := text, ""
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		head, rest = text[:i], text[i:]
	}
	head, _, _ = strings.Cut(head, "@")
	return strings.ToLower(head), strings.TrimSpace(rest), true
}

func (b *Bot) isAdmin(userID int64) bool {
	return b.adminID != 0 && userID == b.adminID
}

// setting reads key, falling back to def when the store fails.
func (b *Bot) setting(key, def string) string {
	v, err := b.settings.Get(key, def)
	if err != nil {
		b.logger.Error("failed to read setting", "key", key, "error", err)
		return def
	}
	return v
}

func (b *Bot) event(eventType string, payload map[string]any) {
	if _, err := db.LogEvent(b.db, b.parentEventID, eventType, payload); err != nil {
		b.logger.Warn("failed to log event", "event_type", eventType, "error", err)
	}
}

func (b *Bot) sendPlain(ctx context.Context, chatID int64, text string) {
	if _, err := b.commander.SendMessage(ctx, chatID, text); err != nil {
		b.logger.Error("send failed", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) sendHTML(ctx context.Context, chatID int64, text string, kb cmdpkg.Keyboard) (int64, error) {
	id, err := b.commander.SendHTML(ctx, chatID, text, kb)
	if err != nil {
		b.logger.Error("html send failed", "chat_id", chatID, "error", err)
	}
	return id, err
}

func (b *Bot) edit(ctx context.Context, chatID, messageID int64, text string, kb cmdpkg.Keyboard) {
	if err := b.commander.EditHTML(ctx, chatID, messageID, text, kb); err != nil {
		b.logger.Error("edit failed", "chat_id", chatID, "message_id", messageID, "error", err)
	}
}

func (b *Bot) answer(ctx context.Context, callbackID, text string, alert bool) {
	if err := b.commander.AnswerCallback(ctx, callbackID, text, alert); err != nil {
		b.logger.Warn("answer callback failed", "callback_id", callbackID, "error", err)
	}
}
