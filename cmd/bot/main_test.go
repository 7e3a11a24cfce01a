package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cmdpkg "github.com/stupiduntilnot/freepsy/internal/commander"
	"github.com/stupiduntilnot/freepsy/internal/config"
	"github.com/stupiduntilnot/freepsy/internal/control"
	"github.com/stupiduntilnot/freepsy/internal/db"
	"github.com/stupiduntilnot/freepsy/internal/dummy"
	"github.com/stupiduntilnot/freepsy/internal/openrouter"
	"github.com/stupiduntilnot/freepsy/internal/replies"
	"github.com/stupiduntilnot/freepsy/internal/telegram"
)

func testBotDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.OpenDB(t.TempDir() + "/bot.db")
	require.NoError(t, err)
	require.NoError(t, db.InitSchema(database))
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func testConfig() config.BotConfig {
	cfg := config.Defaults()
	cfg.Commander = "dummy"
	cfg.ModelProvider = "dummy"
	cfg.CircuitThreshold = 2
	cfg.CircuitCooldown = time.Hour
	cfg.MaxConcurrentTurns = 2
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

type recorder struct {
	mu      sync.Mutex
	updates []cmdpkg.Update
}

func (r *recorder) handle(_ context.Context, u cmdpkg.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func TestPoller_DispatchesAndPersistsOffset(t *testing.T) {
	database := testBotDB(t)
	cfg := testConfig()
	commander, err := dummy.NewCommander("msg:hello,msg:second,ok", "ok")
	require.NoError(t, err)
	rec := &recorder{}

	p := newPoller(&cfg, database, commander, rec.handle, quietLogger(), nil)
	p.pause = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.run(ctx) }()

	require.Eventually(t, func() bool { return rec.count() == 2 }, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	offset, err := (&db.Settings{DB: database}).Offset()
	require.NoError(t, err)
	assert.Equal(t, int64(4), offset)
	var texts []string
	for _, u := range rec.updates {
		texts = append(texts, *u.Message.Text)
	}
	assert.ElementsMatch(t, []string{"hello", "second"}, texts)
}

func TestPoller_ResumesFromStoredOffset(t *testing.T) {
	database := testBotDB(t)
	cfg := testConfig()
	require.NoError(t, (&db.Settings{DB: database}).SetOffset(77))

	var seen atomic.Int64
	commander := &offsetCommander{seen: &seen}
	p := newPoller(&cfg, database, commander, func(context.Context, cmdpkg.Update) {}, quietLogger(), nil)
	p.pause = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.run(ctx) }()

	require.Eventually(t, func() bool { return seen.Load() == 77 }, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

type offsetCommander struct {
	*dummy.Commander
	seen *atomic.Int64
}

func (c *offsetCommander) GetUpdates(ctx context.Context, offset int64, timeout int) ([]cmdpkg.Update, error) {
	c.seen.Store(offset)
	return nil, nil
}

func TestPoller_CircuitOpensOnRepeatedFailures(t *testing.T) {
	database := testBotDB(t)
	cfg := testConfig()
	commander, err := dummy.NewCommander("err:command_source_api", "ok")
	require.NoError(t, err)

	p := newPoller(&cfg, database, commander, func(context.Context, cmdpkg.Update) {}, quietLogger(), nil)
	p.pause = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.run(ctx) }()

	require.Eventually(t, func() bool { return p.circuit.State() == control.CircuitOpen }, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	opened, err := db.CountEvents(database, db.EventCircuitOpened)
	require.NoError(t, err)
	assert.Equal(t, 1, opened)
	failed, err := db.CountEvents(database, db.EventPollFailed)
	require.NoError(t, err)
	assert.Equal(t, 2, failed)
}

func TestPoller_CircuitClosesAfterRecovery(t *testing.T) {
	database := testBotDB(t)
	cfg := testConfig()
	cfg.CircuitThreshold = 1
	cfg.CircuitCooldown = time.Millisecond
	commander, err := dummy.NewCommander("err:x,msg:back", "ok")
	require.NoError(t, err)
	rec := &recorder{}

	p := newPoller(&cfg, database, commander, rec.handle, quietLogger(), nil)
	p.pause = 2 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.run(ctx) }()

	require.Eventually(t, func() bool { return rec.count() > 0 }, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, control.CircuitClosed, p.circuit.State())
	closed, err := db.CountEvents(database, db.EventCircuitClosed)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)
}

func TestPoller_WaitsForInFlightTurns(t *testing.T) {
	database := testBotDB(t)
	cfg := testConfig()
	commander, err := dummy.NewCommander("msg:slow,ok", "ok")
	require.NoError(t, err)

	started := make(chan struct{})
	var finished atomic.Bool
	handle := func(ctx context.Context, u cmdpkg.Update) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		assert.NoError(t, ctx.Err())
		finished.Store(true)
	}

	p := newPoller(&cfg, database, commander, handle, quietLogger(), nil)
	p.pause = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.run(ctx) }()

	<-started
	cancel()
	require.NoError(t, <-done)
	assert.True(t, finished.Load())
}

func TestPoller_BoundsConcurrentTurns(t *testing.T) {
	database := testBotDB(t)
	cfg := testConfig()
	cfg.MaxConcurrentTurns = 1
	commander, err := dummy.NewCommander("msg:a,msg:b,msg:c,ok", "ok")
	require.NoError(t, err)

	var active, peak, total atomic.Int32
	handle := func(context.Context, cmdpkg.Update) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		total.Add(1)
	}

	p := newPoller(&cfg, database, commander, handle, quietLogger(), nil)
	p.pause = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.run(ctx) }()

	require.Eventually(t, func() bool { return total.Load() == 3 }, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), peak.Load())
}

func TestClassifyPollError(t *testing.T) {
	assert.Equal(t, control.ClassNone, classifyPollError(nil))
	assert.Equal(t, control.ClassRateLimited, classifyPollError(&telegram.APIError{Method: "getUpdates", Code: 429}))
	assert.Equal(t, control.ClassUpstreamStatus,
		classifyPollError(fmt.Errorf("poll: %w", &telegram.APIError{Method: "getUpdates", Code: 409})))
	assert.Equal(t, control.ClassTimeout, classifyPollError(fmt.Errorf("x: %w", context.DeadlineExceeded)))
	assert.Equal(t, control.ClassTransport, classifyPollError(errors.New("connection refused")))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown", "component", "test")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"component":"test"`)

	buf.Reset()
	newLogger(&buf, "bogus", "text").Info("plain")
	assert.True(t, strings.Contains(buf.String(), "msg=plain"))
}

func TestNewProviders(t *testing.T) {
	cfg := testConfig()
	client := openrouter.NewClient("", "")
	texts := replies.NewCatalog("ru")

	p, err := newModelProvider(&cfg, client, texts, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &dummy.Provider{}, p)

	cfg.ModelProvider = "openrouter"
	p, err = newModelProvider(&cfg, client, texts, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &openrouter.Gateway{}, p)

	cfg.ModelProvider = "openai"
	_, err = newModelProvider(&cfg, client, texts, quietLogger())
	assert.Error(t, err)

	c, err := newCommander(&cfg)
	require.NoError(t, err)
	assert.IsType(t, &dummy.Commander{}, c)
	cfg.Commander = "telegram"
	c, err = newCommander(&cfg)
	require.NoError(t, err)
	assert.IsType(t, &telegram.Client{}, c)
	cfg.Commander = "slack"
	_, err = newCommander(&cfg)
	assert.Error(t, err)
}

func TestNewBotOptions_CrisisToggle(t *testing.T) {
	cfg := testConfig()
	opts := newBotOptions(&cfg, nil, nil, nil, nil, replies.NewCatalog("ru"), quietLogger(), nil)
	assert.NotNil(t, opts.Crisis)
	assert.Equal(t, cfg.MaxTaskHistoryTokens, opts.Assembler.Budget.MaxTaskTokens)

	cfg.CrisisDetection = false
	opts = newBotOptions(&cfg, nil, nil, nil, nil, replies.NewCatalog("ru"), quietLogger(), nil)
	assert.Nil(t, opts.Crisis)
}

func TestRun_DummyEndToEnd(t *testing.T) {
	cfg := testConfig()
	cfg.DBPath = t.TempDir() + "/e2e.db"
	cfg.DummyCommanderScript = "msg:Hello,ok"
	cfg.DummyProviderScript = "msg:**Hi**"

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, run(ctx, cfg, quietLogger()))

	database, err := db.OpenDB(cfg.DBPath)
	require.NoError(t, err)
	defer database.Close()

	var count int
	require.NoError(t, database.QueryRow(`SELECT COUNT(*) FROM conversation_messages WHERE user_id = 1`).Scan(&count))
	assert.Equal(t, 2, count)
	for _, ev := range []string{db.EventProcessStarted, db.EventTurnCompleted, db.EventProcessStopped} {
		n, err := db.CountEvents(database, ev)
		require.NoError(t, err)
		assert.Equal(t, 1, n, ev)
	}
}
