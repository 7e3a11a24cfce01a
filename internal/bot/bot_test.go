package bot

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stupiduntilnot/freepsy/internal/catalog"
	cmdpkg "github.com/stupiduntilnot/freepsy/internal/commander"
	ctxpkg "github.com/stupiduntilnot/freepsy/internal/context"
	"github.com/stupiduntilnot/freepsy/internal/crisis"
	"github.com/stupiduntilnot/freepsy/internal/db"
	"github.com/stupiduntilnot/freepsy/internal/dummy"
	"github.com/stupiduntilnot/freepsy/internal/openrouter"
	"github.com/stupiduntilnot/freepsy/internal/ratelimit"
	"github.com/stupiduntilnot/freepsy/internal/replies"
)

const (
	testUser  = int64(42)
	testChat  = int64(4242)
	testAdmin = int64(7)
)

var ru = replies.NewCatalog("ru").For("ru")

type fakeModels struct {
	mu        sync.Mutex
	models    []catalog.Descriptor
	err       error
	validated []string
}

func (f *fakeModels) FreeModels(context.Context) []catalog.Descriptor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.models
}

func (f *fakeModels) Validate(_ context.Context, model string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validated = append(f.validated, model)
	return f.err
}

type providerFunc func(ctx context.Context, messages []ctxpkg.Message, model string) string

func (f providerFunc) Complete(ctx context.Context, messages []ctxpkg.Message, model string) string {
	return f(ctx, messages, model)
}

type harness struct {
	bot       *Bot
	db        *sql.DB
	commander *dummy.Commander
	provider  *dummy.Provider
	models    *fakeModels
}

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.OpenDB(t.TempDir() + "/bot.db")
	require.NoError(t, err)
	require.NoError(t, db.InitSchema(database))
	t.Cleanup(func() { database.Close() })
	return database
}

func newHarness(t *testing.T, sendScript, providerScript string, tweak func(*Options)) *harness {
	t.Helper()
	database := testDB(t)
	commander, err := dummy.NewCommander("ok", sendScript)
	require.NoError(t, err)
	provider, err := dummy.NewProvider(providerScript)
	require.NoError(t, err)
	models := &fakeModels{}

	opts := Options{
		DB:             database,
		Commander:      commander,
		Provider:       provider,
		Models:         models,
		Limiter:        ratelimit.New(100, 100),
		Crisis:         crisis.NewDetector(nil),
		AdminID:        testAdmin,
		DefaultModel:   "default/model:free",
		SystemPrompt:   "system prompt",
		TypingInterval: time.Hour,
	}
	if tweak != nil {
		tweak(&opts)
	}
	return &harness{bot: New(opts), db: database, commander: commander, provider: provider, models: models}
}

func textUpdate(userID int64, text string) cmdpkg.Update {
	return cmdpkg.Update{
		UpdateID: 1,
		Message: &cmdpkg.Message{
			MessageID: 10,
			From:      &cmdpkg.User{ID: userID, FirstName: "Test"},
			Chat:      cmdpkg.Chat{ID: testChat},
			Text:      &text,
		},
	}
}

func callbackUpdate(userID, messageID int64, data string) cmdpkg.Update {
	return cmdpkg.Update{
		UpdateID: 2,
		Callback: &cmdpkg.Callback{
			ID:      "cb",
			From:    cmdpkg.User{ID: userID},
			Data:    data,
			Message: &cmdpkg.Message{MessageID: messageID, Chat: cmdpkg.Chat{ID: testChat}},
		},
	}
}

func sentOfKind(sent []dummy.Sent, kind string) []dummy.Sent {
	var out []dummy.Sent
	for _, s := range sent {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

func (h *harness) history(t *testing.T, userID int64) []ctxpkg.StoredMessage {
	t.Helper()
	msgs, err := (&ctxpkg.SQLiteProvider{DB: h.db}).FetchOrdered(userID)
	require.NoError(t, err)
	return msgs
}

func TestHandleUpdate_FirstTurn(t *testing.T) {
	h := newHarness(t, "ok", "msg:**Hi** there", nil)

	h.bot.HandleUpdate(context.Background(), textUpdate(testUser, "Hello"))

	calls := h.provider.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "default/model:free", calls[0].Model)
	assert.Equal(t, []ctxpkg.Message{
		{Role: ctxpkg.RoleSystem, Content: "system prompt"},
		{Role: ctxpkg.RoleUser, Content: "Hello"},
	}, calls[0].Messages)

	sent := h.commander.Sent()
	assert.NotEmpty(t, sentOfKind(sent, "typing"))
	html := sentOfKind(sent, "html")
	require.Len(t, html, 1)
	assert.Equal(t, "<b>Hi</b> there", html[0].Text)

	history := h.history(t, testUser)
	require.Len(t, history, 2)
	assert.Equal(t, ctxpkg.RoleUser, history[0].Role)
	assert.Equal(t, ctxpkg.RoleAssistant, history[1].Role)
	assert.Equal(t, "**Hi** there", history[1].Content)

	var firstName string
	require.NoError(t, h.db.QueryRow(`SELECT first_name FROM users WHERE user_id = ?`, testUser).Scan(&firstName))
	assert.Equal(t, "Test", firstName)

	n, err := db.CountEvents(h.db, db.EventTurnCompleted)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHandleUpdate_RateLimited(t *testing.T) {
	h := newHarness(t, "ok", "ok", func(o *Options) {
		o.Limiter = ratelimit.New(1, 0.001)
	})
	ctx := context.Background()

	h.bot.HandleUpdate(ctx, textUpdate(testUser, "first"))
	h.bot.HandleUpdate(ctx, textUpdate(testUser, "second"))
	h.bot.HandleUpdate(ctx, textUpdate(testUser, "/help"))

	assert.Len(t, h.provider.Calls(), 1)
	plain := sentOfKind(h.commander.Sent(), "text")
	require.Len(t, plain, 1)
	assert.Equal(t, ru.PleaseWait, plain[0].Text)

	html := sentOfKind(h.commander.Sent(), "html")
	assert.Equal(t, ru.Help, html[len(html)-1].Text)

	n, err := db.CountEvents(h.db, db.EventTurnRejected)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHandleUpdate_UserLanguage(t *testing.T) {
	h := newHarness(t, "ok", "ok", func(o *Options) {
		o.Limiter = ratelimit.New(1, 0.001)
	})
	u := textUpdate(testUser, "hi")
	u.Message.From.LanguageCode = "en-US"

	h.bot.HandleUpdate(context.Background(), u)
	h.bot.HandleUpdate(context.Background(), u)

	plain := sentOfKind(h.commander.Sent(), "text")
	require.Len(t, plain, 1)
	assert.Equal(t, replies.NewCatalog("ru").For("en").PleaseWait, plain[0].Text)
}

func TestHandleUpdate_Crisis(t *testing.T) {
	h := newHarness(t, "ok", "ok", nil)

	h.bot.HandleUpdate(context.Background(), textUpdate(testUser, "Иногда я ХОЧУ УМЕРЕТЬ"))

	html := sentOfKind(h.commander.Sent(), "html")
	require.Len(t, html, 2)
	assert.Equal(t, ru.Crisis, html[0].Text)
	assert.Equal(t, "dummy-ok", html[1].Text)

	calls := h.provider.Calls()
	require.Len(t, calls, 1)
	last := calls[0].Messages[len(calls[0].Messages)-1]
	assert.Equal(t, ctxpkg.Message{Role: ctxpkg.RoleSystem, Content: ru.CrisisNote}, last)

	var matched string
	require.NoError(t, h.db.QueryRow(`SELECT matched FROM crisis_events WHERE user_id = ?`, testUser).Scan(&matched))
	assert.Equal(t, "хочу умереть", matched)
}

func TestHandleUpdate_CrisisDisabled(t *testing.T) {
	h := newHarness(t, "ok", "ok", func(o *Options) { o.Crisis = nil })

	h.bot.HandleUpdate(context.Background(), textUpdate(testUser, "хочу умереть"))

	html := sentOfKind(h.commander.Sent(), "html")
	require.Len(t, html, 1)
	assert.Equal(t, "dummy-ok", html[0].Text)
}

func TestHandleUpdate_PlainTextFallback(t *testing.T) {
	h := newHarness(t, "err:bad_request,ok", "msg:plain *answer", nil)

	h.bot.HandleUpdate(context.Background(), textUpdate(testUser, "Hello"))

	plain := sentOfKind(h.commander.Sent(), "text")
	require.Len(t, plain, 1)
	assert.Equal(t, "plain *answer", plain[0].Text)

	n, err := db.CountEvents(h.db, db.EventReplyFallback)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHandleUpdate_SplitsLongAnswers(t *testing.T) {
	long := strings.Repeat("a", 30) + "\n\n" + strings.Repeat("b", 30)
	h := newHarness(t, "ok", "msg:"+long, func(o *Options) { o.ChunkSize = 40 })

	h.bot.HandleUpdate(context.Background(), textUpdate(testUser, "Hello"))

	html := sentOfKind(h.commander.Sent(), "html")
	require.Len(t, html, 2)
	assert.Equal(t, strings.Repeat("a", 30), html[0].Text)
	assert.Equal(t, strings.Repeat("b", 30), html[1].Text)
}

func TestHandleUpdate_EmptyAnswerGuard(t *testing.T) {
	h := newHarness(t, "ok", "ok", func(o *Options) {
		o.Provider = providerFunc(func(context.Context, []ctxpkg.Message, string) string { return "  " })
	})

	h.bot.HandleUpdate(context.Background(), textUpdate(testUser, "Hello"))

	html := sentOfKind(h.commander.Sent(), "html")
	require.Len(t, html, 1)
	assert.Equal(t, ru.Generic, html[0].Text)
	history := h.history(t, testUser)
	assert.Equal(t, ru.Generic, history[len(history)-1].Content)
}

func TestHandleUpdate_TypingStopsWithTurn(t *testing.T) {
	h := newHarness(t, "ok", "sleep:60", func(o *Options) { o.TypingInterval = 5 * time.Millisecond })

	h.bot.HandleUpdate(context.Background(), textUpdate(testUser, "Hello"))

	typing := len(sentOfKind(h.commander.Sent(), "typing"))
	assert.GreaterOrEqual(t, typing, 2)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, typing, len(sentOfKind(h.commander.Sent(), "typing")))
}

func TestHandleUpdate_IgnoresEmptyUpdates(t *testing.T) {
	h := newHarness(t, "ok", "ok", nil)
	ctx := context.Background()

	h.bot.HandleUpdate(ctx, cmdpkg.Update{UpdateID: 1})
	h.bot.HandleUpdate(ctx, textUpdate(testUser, "   "))
	u := textUpdate(testUser, "x")
	u.Message.Text = nil
	h.bot.HandleUpdate(ctx, u)

	assert.Empty(t, h.commander.Sent())
	assert.Empty(t, h.provider.Calls())
}

func TestHandleUpdate_HistoryFailure(t *testing.T) {
	h := newHarness(t, "ok", "ok", nil)
	_, err := h.db.Exec(`DROP TABLE conversation_messages`)
	require.NoError(t, err)

	h.bot.HandleUpdate(context.Background(), textUpdate(testUser, "Hello"))

	assert.Empty(t, h.provider.Calls())
	plain := sentOfKind(h.commander.Sent(), "text")
	require.Len(t, plain, 1)
	assert.Equal(t, ru.Generic, plain[0].Text)
}

func TestReset_ConfirmClearsHistoryAndRole(t *testing.T) {
	h := newHarness(t, "ok", "ok", nil)
	ctx := context.Background()
	h.bot.HandleUpdate(ctx, textUpdate(testUser, "Hello"))
	settings := &db.Settings{DB: h.db}
	require.NoError(t, settings.Set(db.UserRoleKey(testUser), "pm"))

	h.bot.HandleUpdate(ctx, textUpdate(testUser, "/reset"))
	html := sentOfKind(h.commander.Sent(), "html")
	last := html[len(html)-1]
	assert.Equal(t, ru.ResetConfirm, last.Text)
	assert.Equal(t, resetKeyboard(ru), last.Keyboard)

	h.bot.HandleUpdate(ctx, callbackUpdate(testUser, last.MessageID, "reset:confirm"))

	edits := sentOfKind(h.commander.Sent(), "edit")
	require.Len(t, edits, 1)
	assert.Equal(t, "История очищена. Удалено сообщений: 2.\nРоль сброшена. Можем начать сначала 💙", edits[0].Text)
	assert.Empty(t, h.history(t, testUser))
	role, err := settings.Get(db.UserRoleKey(testUser), "none")
	require.NoError(t, err)
	assert.Equal(t, "none", role)
	assert.Len(t, sentOfKind(h.commander.Sent(), "answer"), 1)
}

func TestReset_Cancel(t *testing.T) {
	h := newHarness(t, "ok", "ok", nil)
	ctx := context.Background()
	h.bot.HandleUpdate(ctx, textUpdate(testUser, "Hello"))

	h.bot.HandleUpdate(ctx, callbackUpdate(testUser, 5, "reset:cancel"))

	edits := sentOfKind(h.commander.Sent(), "edit")
	require.Len(t, edits, 1)
	assert.Equal(t, ru.ResetCancelled, edits[0].Text)
	assert.Len(t, h.history(t, testUser), 2)
}

func TestRole_SelectTaskRoutesModel(t *testing.T) {
	h := newHarness(t, "ok", "ok", nil)
	h.models.models = []catalog.Descriptor{
		{ID: "meta-llama/llama-3:free", Name: "Llama"},
		{ID: "qwen/qwen3-32b:free", Name: "Qwen"},
	}
	ctx := context.Background()
	h.bot.HandleUpdate(ctx, textUpdate(testUser, "old message"))

	h.bot.HandleUpdate(ctx, callbackUpdate(testUser, 9, "task:analyst:unit"))
	assert.Empty(t, h.history(t, testUser))

	h.bot.HandleUpdate(ctx, textUpdate(testUser, "CAC is 10"))

	calls := h.provider.Calls()
	require.Len(t, calls, 2)
	task, _ := h.bot.roles.Task("analyst", "unit")
	role, _ := h.bot.roles.Role("analyst")
	assert.Equal(t, "qwen/qwen3-32b:free", calls[1].Model)
	require.Len(t, calls[1].Messages, 4)
	assert.Equal(t, ctxpkg.Message{Role: ctxpkg.RoleSystem, Content: role.Prompt}, calls[1].Messages[0])
	assert.Equal(t, ctxpkg.Message{Role: ctxpkg.RoleUser, Content: task.Prompt}, calls[1].Messages[1])
	assert.Equal(t, ctxpkg.RoleAssistant, calls[1].Messages[2].Role)
	assert.Equal(t, ctxpkg.Message{Role: ctxpkg.RoleUser, Content: "CAC is 10"}, calls[1].Messages[3])
}

func TestRole_TaskWithoutCatalogUsesCurrentModel(t *testing.T) {
	h := newHarness(t, "ok", "ok", nil)
	ctx := context.Background()

	h.bot.HandleUpdate(ctx, callbackUpdate(testUser, 9, "task:marketer:copy"))
	h.bot.HandleUpdate(ctx, textUpdate(testUser, "shoes"))

	calls := h.provider.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "default/model:free", calls[0].Model)
}

func TestRole_Flow(t *testing.T) {
	h := newHarness(t, "ok", "ok", nil)
	ctx := context.Background()
	settings := &db.Settings{DB: h.db}

	h.bot.HandleUpdate(ctx, textUpdate(testUser, "/role"))
	html := sentOfKind(h.commander.Sent(), "html")
	require.Len(t, html, 1)
	assert.Equal(t, ru.RoleChoose, html[0].Text)
	require.Len(t, html[0].Keyboard, 2)
	assert.Len(t, html[0].Keyboard[0], 2)

	h.bot.HandleUpdate(ctx, callbackUpdate(testUser, html[0].MessageID, "role:pm"))
	edits := sentOfKind(h.commander.Sent(), "edit")
	require.Len(t, edits, 1)
	assert.Contains(t, edits[0].Text, "<b>Продакт-менеджер</b>")
	kb := edits[0].Keyboard
	assert.Equal(t, "role:chat", kb[len(kb)-2][0].Data)
	assert.Equal(t, "role:back", kb[len(kb)-1][0].Data)
	role, err := settings.Get(db.UserRoleKey(testUser), "")
	require.NoError(t, err)
	assert.Equal(t, "pm", role)

	h.bot.HandleUpdate(ctx, callbackUpdate(testUser, html[0].MessageID, "role:back"))
	edits = sentOfKind(h.commander.Sent(), "edit")
	back := edits[len(edits)-1]
	assert.Equal(t, "✓ 🛠 Продакт-менеджер", back.Keyboard[1][0].Text)
	assert.Equal(t, "role:reset", back.Keyboard[len(back.Keyboard)-1][0].Data)

	h.bot.HandleUpdate(ctx, textUpdate(testUser, "/role"))
	html = sentOfKind(h.commander.Sent(), "html")
	assert.Equal(t, ru.RoleChoose+"\nСейчас: 🛠 <b>Продакт-менеджер</b>", html[len(html)-1].Text)

	h.bot.HandleUpdate(ctx, callbackUpdate(testUser, html[0].MessageID, "role:chat"))
	edits = sentOfKind(h.commander.Sent(), "edit")
	assert.Contains(t, edits[len(edits)-1].Text, "свободный диалог")

	h.bot.HandleUpdate(ctx, callbackUpdate(testUser, html[0].MessageID, "role:reset"))
	edits = sentOfKind(h.commander.Sent(), "edit")
	assert.Equal(t, ru.RoleResetDone, edits[len(edits)-1].Text)
	role, err = settings.Get(db.UserRoleKey(testUser), "")
	require.NoError(t, err)
	assert.Empty(t, role)
}

func TestRole_UnknownIDs(t *testing.T) {
	h := newHarness(t, "ok", "ok", nil)
	ctx := context.Background()

	h.bot.HandleUpdate(ctx, callbackUpdate(testUser, 1, "role:astronaut"))
	h.bot.HandleUpdate(ctx, callbackUpdate(testUser, 1, "task:pm:nope"))
	h.bot.HandleUpdate(ctx, callbackUpdate(testUser, 1, "task:pm"))

	answers := sentOfKind(h.commander.Sent(), "answer")
	require.Len(t, answers, 3)
	assert.Equal(t, ru.RoleNotFound, answers[0].Text)
	assert.Equal(t, ru.TaskNotFound, answers[1].Text)
	assert.Equal(t, ru.BadFormat, answers[2].Text)
	assert.Empty(t, sentOfKind(h.commander.Sent(), "edit"))
}

func TestModelChange_NonAdmin(t *testing.T) {
	h := newHarness(t, "ok", "ok", nil)
	ctx := context.Background()

	h.bot.HandleUpdate(ctx, textUpdate(testUser, "/modelchange"))
	h.bot.HandleUpdate(ctx, textUpdate(testUser, "/setprompt be evil"))
	h.bot.HandleUpdate(ctx, callbackUpdate(testUser, 1, "model:0"))

	plain := sentOfKind(h.commander.Sent(), "text")
	require.Len(t, plain, 2)
	assert.Equal(t, ru.AdminOnly, plain[0].Text)
	assert.Equal(t, ru.AdminOnly, plain[1].Text)
	answers := sentOfKind(h.commander.Sent(), "answer")
	require.Len(t, answers, 1)
	assert.Equal(t, ru.AdminOnlyShort, answers[0].Text)
	assert.Empty(t, h.models.validated)
}

func TestModelChange_SelectAndValidate(t *testing.T) {
	h := newHarness(t, "ok", "ok", nil)
	h.models.models = []catalog.Descriptor{
		{ID: "a/one:free", Name: "One"},
		{ID: "default/model:free", Name: "Default"},
	}
	ctx := context.Background()

	h.bot.HandleUpdate(ctx, textUpdate(testAdmin, "/modelchange"))

	plain := sentOfKind(h.commander.Sent(), "text")
	require.Len(t, plain, 1)
	assert.Equal(t, ru.ModelsLoading, plain[0].Text)
	html := sentOfKind(h.commander.Sent(), "html")
	require.Len(t, html, 1)
	assert.Equal(t, "Текущая модель: <code>default/model:free</code>\n\nВыбери новую модель:", html[0].Text)
	require.Len(t, html[0].Keyboard, 3)
	assert.Equal(t, "✓ Default", html[0].Keyboard[1][0].Text)
	assert.Equal(t, "model:cancel", html[0].Keyboard[2][0].Data)

	h.bot.HandleUpdate(ctx, callbackUpdate(testAdmin, html[0].MessageID, "model:0"))

	assert.Equal(t, []string{"a/one:free"}, h.models.validated)
	edits := sentOfKind(h.commander.Sent(), "edit")
	require.Len(t, edits, 2)
	assert.Equal(t, "Проверяю модель <code>One</code>...", edits[0].Text)
	assert.Equal(t, "Модель изменена на: <b>One</b>\n<code>a/one:free</code>", edits[1].Text)

	current, err := (&db.Settings{DB: h.db}).Get(db.KeyCurrentModel, "")
	require.NoError(t, err)
	assert.Equal(t, "a/one:free", current)

	// The list is consumed by the choice.
	h.bot.HandleUpdate(ctx, callbackUpdate(testAdmin, html[0].MessageID, "model:1"))
	answers := sentOfKind(h.commander.Sent(), "answer")
	assert.Equal(t, ru.ModelListStale, answers[len(answers)-1].Text)

	h.bot.HandleUpdate(ctx, textUpdate(testUser, "Hello"))
	calls := h.provider.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "a/one:free", calls[0].Model)
}

func TestModelChange_Rejected(t *testing.T) {
	h := newHarness(t, "ok", "ok", nil)
	h.models.models = []catalog.Descriptor{{ID: "bad/model:free", Name: "Bad"}}
	h.models.err = &catalog.ValidationError{
		Model: "bad/model:free",
		Err:   &openrouter.StatusError{Status: 400, Body: "no system prompts"},
	}
	ctx := context.Background()

	h.bot.HandleUpdate(ctx, textUpdate(testAdmin, "/modelchange"))
	html := sentOfKind(h.commander.Sent(), "html")
	h.bot.HandleUpdate(ctx, callbackUpdate(testAdmin, html[0].MessageID, "model:0"))

	edits := sentOfKind(h.commander.Sent(), "edit")
	require.Len(t, edits, 2)
	assert.Equal(t,
		"Модель отклонена: Модель <code>bad/model:free</code> вернула ошибку 400. Возможно, она не поддерживает system-промпты.",
		edits[1].Text)
	current, err := (&db.Settings{DB: h.db}).Get(db.KeyCurrentModel, "unset")
	require.NoError(t, err)
	assert.Equal(t, "unset", current)
}

func TestModelChange_EmptyCatalog(t *testing.T) {
	h := newHarness(t, "ok", "ok", nil)

	h.bot.HandleUpdate(context.Background(), textUpdate(testAdmin, "/modelchange"))

	html := sentOfKind(h.commander.Sent(), "html")
	require.Len(t, html, 1)
	assert.Equal(t, "Не удалось получить список моделей.\nТекущая модель: <code>default/model:free</code>", html[0].Text)
	assert.Nil(t, html[0].Keyboard)
}

func TestModelChange_CancelAndBadIndex(t *testing.T) {
	h := newHarness(t, "ok", "ok", nil)
	h.models.models = []catalog.Descriptor{{ID: "a:free", Name: "A"}}
	ctx := context.Background()

	h.bot.HandleUpdate(ctx, textUpdate(testAdmin, "/modelchange"))
	msgID := sentOfKind(h.commander.Sent(), "html")[0].MessageID

	h.bot.HandleUpdate(ctx, callbackUpdate(testAdmin, msgID, "model:x"))
	h.bot.HandleUpdate(ctx, callbackUpdate(testAdmin, msgID, "model:5"))
	h.bot.HandleUpdate(ctx, callbackUpdate(testAdmin, msgID, "model:cancel"))

	answers := sentOfKind(h.commander.Sent(), "answer")
	require.Len(t, answers, 3)
	assert.Equal(t, ru.BadChoice, answers[0].Text)
	assert.Equal(t, ru.ModelNotFound, answers[1].Text)
	edits := sentOfKind(h.commander.Sent(), "edit")
	require.Len(t, edits, 1)
	assert.Equal(t, ru.ModelCancelled, edits[0].Text)
	assert.Equal(t, 0, h.bot.pending.len())
	assert.Empty(t, h.models.validated)
}

func TestModelChange_Truncated(t *testing.T) {
	h := newHarness(t, "ok", "ok", func(o *Options) { o.ModelListMax = 2 })
	h.models.models = []catalog.Descriptor{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}, {ID: "c", Name: "C"}}

	h.bot.HandleUpdate(context.Background(), textUpdate(testAdmin, "/modelchange"))

	html := sentOfKind(h.commander.Sent(), "html")
	require.Len(t, html, 1)
	assert.True(t, strings.HasSuffix(html[0].Text, "\n<i>(показаны первые 2 из 3)</i>"))
	assert.Len(t, html[0].Keyboard, 3)
}

func TestSetPrompt(t *testing.T) {
	h := newHarness(t, "ok", "ok", nil)
	ctx := context.Background()

	h.bot.HandleUpdate(ctx, textUpdate(testAdmin, "/setprompt"))
	h.bot.HandleUpdate(ctx, textUpdate(testAdmin, "/setprompt Be brief.\nAlways."))
	h.bot.HandleUpdate(ctx, textUpdate(testUser, "Hello"))
	h.bot.HandleUpdate(ctx, textUpdate(testAdmin, "/resetprompt"))
	h.bot.HandleUpdate(ctx, textUpdate(testUser, "Again"))

	plain := sentOfKind(h.commander.Sent(), "text")
	require.Len(t, plain, 3)
	assert.Equal(t, "Текущий системный промпт:\n\nsystem prompt", plain[0].Text)
	assert.Equal(t, ru.PromptUpdated, plain[1].Text)
	assert.Equal(t, ru.PromptReset, plain[2].Text)

	calls := h.provider.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "Be brief.\nAlways.", calls[0].Messages[0].Content)
	assert.Equal(t, "system prompt", calls[1].Messages[0].Content)

	n, err := db.CountEvents(h.db, db.EventPromptChanged)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStartAndUnknownCommand(t *testing.T) {
	h := newHarness(t, "ok", "ok", nil)
	ctx := context.Background()

	h.bot.HandleUpdate(ctx, textUpdate(testUser, "/start"))
	h.bot.HandleUpdate(ctx, textUpdate(testUser, "/mood"))

	html := sentOfKind(h.commander.Sent(), "html")
	require.Len(t, html, 2)
	assert.Equal(t, ru.Welcome, html[0].Text)
	assert.Equal(t, ru.Help, html[1].Text)
	assert.Empty(t, h.provider.Calls())
	var users int
	require.NoError(t, h.db.QueryRow(`SELECT COUNT(*) FROM users WHERE user_id = ?`, testUser).Scan(&users))
	assert.Equal(t, 1, users)
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in, cmd, args string
		ok            bool
	}{
		{"/start", "/start", "", true},
		{"/Help@FreePsyBot", "/help", "", true},
		{"/setprompt  be kind ", "/setprompt", "be kind", true},
		{"/setprompt\nline one\nline two", "/setprompt", "line one\nline two", true},
		{"hello /start", "", "", false},
	}
	for _, tc := range tests {
		cmd, args, ok := parseCommand(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.cmd, cmd, tc.in)
		assert.Equal(t, tc.args, args, tc.in)
	}
}

func TestRejection(t *testing.T) {
	got := rejection(ru, "m<1>", &catalog.ValidationError{Model: "m<1>", Err: errors.New("dial <tcp>: refused")})
	assert.Equal(t, "Не удалось проверить модель <code>m&lt;1&gt;</code>: dial &lt;tcp&gt;: refused", got)
}
