package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/stupiduntilnot/freepsy/internal/control"
	"github.com/stupiduntilnot/freepsy/internal/ratelimit"
)

// DefaultSystemPrompt is used until an admin sets one with /setprompt.
const DefaultSystemPrompt = "Ты FreePsy, бот психологической поддержки. Отвечай тепло и бережно, " +
	"без оценок. Задавай уточняющие вопросы, помогай человеку разобраться в чувствах " +
	"и предлагай простые техники самопомощи. Ты не заменяешь специалиста: при признаках " +
	"опасности мягко советуй обратиться за профессиональной помощью."

// BotConfig holds configuration for the bot process.
type BotConfig struct {
	TelegramAPIBase string
	PollTimeout     int
	SleepSeconds    int
	AdminID         int64

	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	SiteURL           string
	SiteName          string
	DefaultModel      string
	SystemPrompt      string
	DefaultLanguage   string

	DBPath               string
	ModelProvider        string
	Commander            string
	DummyProviderScript  string
	DummyCommanderScript string
	DummySendScript      string

	MaxHistoryTokens     int
	MaxTaskHistoryTokens int
	TaskAckOverhead      int

	LLMTimeout   time.Duration
	RetryBackoff []time.Duration
	ModelsTTL    time.Duration

	RateBurst    int
	RatePerSec   float64
	RateEviction time.Duration
	Lightweight  []string

	ChunkSize          int
	TypingInterval     time.Duration
	MaxConcurrentTurns int
	CircuitThreshold   int
	CircuitCooldown    time.Duration
	ModelListMax       int
	ModelListTTL       time.Duration

	RoutingTable    map[string][]string
	CrisisDetection bool
	CrisisKeywords  []string

	LogLevel  string
	LogFormat string
}

// FileConfig is the optional TOML file named by FREEPSY_CONFIG. Zero values
// leave the built-in defaults in place.
type FileConfig struct {
	SystemPrompt    string `toml:"system_prompt"`
	DefaultModel    string `toml:"default_model"`
	DefaultLanguage string `toml:"default_language"`

	History struct {
		MaxTokens       int `toml:"max_tokens"`
		MaxTaskTokens   int `toml:"max_task_tokens"`
		TaskAckOverhead int `toml:"task_ack_overhead"`
	} `toml:"history"`

	LLM struct {
		TimeoutSeconds   int   `toml:"timeout_seconds"`
		BackoffSeconds   []int `toml:"backoff_seconds"`
		ModelsTTLSeconds int   `toml:"models_ttl_seconds"`
	} `toml:"llm"`

	RateLimit struct {
		Burst           int      `toml:"burst"`
		PerSecond       float64  `toml:"per_second"`
		EvictionSeconds int      `toml:"eviction_seconds"`
		Lightweight     []string `toml:"lightweight_commands"`
	} `toml:"rate_limit"`

	Routing map[string][]string `toml:"routing"`

	Crisis struct {
		Keywords []string `toml:"keywords"`
	} `toml:"crisis"`
}

// Defaults returns the built-in configuration without consulting the
// environment.
func Defaults() BotConfig {
	return BotConfig{
		PollTimeout:          30,
		SleepSeconds:         1,
		OpenRouterBaseURL:    "https://openrouter.ai/api/v1",
		SiteName:             "FreePsy",
		DefaultModel:         "stepfun/step-3.5-flash:free",
		SystemPrompt:         DefaultSystemPrompt,
		DefaultLanguage:      "ru",
		DBPath:               "data/freepsy.db",
		ModelProvider:        "openrouter",
		Commander:            "telegram",
		DummyProviderScript:  "ok",
		DummyCommanderScript: "ok",
		DummySendScript:      "ok",
		MaxHistoryTokens:     4000,
		MaxTaskHistoryTokens: 6000,
		TaskAckOverhead:      20,
		LLMTimeout:           60 * time.Second,
		RetryBackoff:         []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second},
		ModelsTTL:            10 * time.Minute,
		RateBurst:            3,
		RatePerSec:           0.2,
		RateEviction:         time.Hour,
		Lightweight:          slices.Clone(ratelimit.DefaultLightweight),
		ChunkSize:            3500,
		TypingInterval:       4 * time.Second,
		MaxConcurrentTurns:   16,
		CircuitThreshold:     5,
		CircuitCooldown:      30 * time.Second,
		ModelListMax:         20,
		ModelListTTL:         time.Hour,
		RoutingTable: map[string][]string{
			"reasoning":  {"deepseek", "qwen"},
			"creative":   {"llama", "gemma", "mistral"},
			"analytical": {"qwen", "deepseek", "nemotron"},
			"structured": {"deepseek", "qwen"},
		},
		CrisisDetection: true,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// LoadBotConfig reads bot configuration: built-in defaults, then the TOML file
// named by FREEPSY_CONFIG, then environment variables.
func LoadBotConfig() (BotConfig, error) {
	cfg := Defaults()
	if path := os.Getenv("FREEPSY_CONFIG"); path != "" {
		var file FileConfig
		if _, err := toml.DecodeFile(path, &file); err != nil {
			return BotConfig{}, fmt.Errorf("failed to decode FREEPSY_CONFIG %s: %w", path, err)
		}
		cfg.applyFile(file)
	}
	if err := cfg.applyEnv(); err != nil {
		return BotConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return BotConfig{}, err
	}
	return cfg, nil
}

func (c *BotConfig) applyFile(f FileConfig) {
	setString(&c.SystemPrompt, f.SystemPrompt)
	setString(&c.DefaultModel, f.DefaultModel)
	setString(&c.DefaultLanguage, f.DefaultLanguage)
	setInt(&c.MaxHistoryTokens, f.History.MaxTokens)
	setInt(&c.MaxTaskHistoryTokens, f.History.MaxTaskTokens)
	setInt(&c.TaskAckOverhead, f.History.TaskAckOverhead)
	setSeconds(&c.LLMTimeout, f.LLM.TimeoutSeconds)
	setSeconds(&c.ModelsTTL, f.LLM.ModelsTTLSeconds)
	if len(f.LLM.BackoffSeconds) > 0 {
		c.RetryBackoff = make([]time.Duration, len(f.LLM.BackoffSeconds))
		for i, s := range f.LLM.BackoffSeconds {
			c.RetryBackoff[i] = time.Duration(s) * time.Second
		}
	}
	setInt(&c.RateBurst, f.RateLimit.Burst)
	if f.RateLimit.PerSecond != 0 {
		c.RatePerSec = f.RateLimit.PerSecond
	}
	setSeconds(&c.RateEviction, f.RateLimit.EvictionSeconds)
	if f.RateLimit.Lightweight != nil {
		c.Lightweight = f.RateLimit.Lightweight
	}
	if len(f.Routing) > 0 {
		c.RoutingTable = f.Routing
	}
	if f.Crisis.Keywords != nil {
		c.CrisisKeywords = f.Crisis.Keywords
	}
}

func (c *BotConfig) applyEnv() error {
	c.ModelProvider = envOrDefault("FREEPSY_MODEL_PROVIDER", c.ModelProvider)
	c.Commander = envOrDefault("FREEPSY_COMMANDER", c.Commander)

	telegramToken := os.Getenv("TELEGRAM_BOT_TOKEN")
	if c.Commander == "telegram" && telegramToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required in environment when FREEPSY_COMMANDER=telegram")
	}
	c.OpenRouterAPIKey = os.Getenv("OPENROUTER_API_KEY")
	if c.ModelProvider == "openrouter" && c.OpenRouterAPIKey == "" {
		return fmt.Errorf("OPENROUTER_API_KEY is required in environment when FREEPSY_MODEL_PROVIDER=openrouter")
	}
	c.TelegramAPIBase = envOrDefault("TELEGRAM_API_BASE", fmt.Sprintf("https://api.telegram.org/bot%s", telegramToken))

	adminID := os.Getenv("ADMIN_ID")
	if adminID != "" {
		id, err := strconv.ParseInt(adminID, 10, 64)
		if err != nil {
			return fmt.Errorf("ADMIN_ID must be a Telegram user id: %w", err)
		}
		c.AdminID = id
	}

	c.PollTimeout = envIntOrDefault("TG_TIMEOUT", c.PollTimeout)
	c.SleepSeconds = envIntOrDefault("TG_SLEEP_SECONDS", c.SleepSeconds)
	c.OpenRouterBaseURL = envOrDefault("OPENROUTER_BASE_URL", c.OpenRouterBaseURL)
	c.SiteURL = envOrDefault("OPENROUTER_SITE_URL", c.SiteURL)
	c.SiteName = envOrDefault("OPENROUTER_SITE_NAME", c.SiteName)
	c.DefaultModel = envOrDefault("DEFAULT_MODEL", c.DefaultModel)
	c.SystemPrompt = envOrDefault("FREEPSY_SYSTEM_PROMPT", c.SystemPrompt)
	c.DefaultLanguage = envOrDefault("FREEPSY_LANGUAGE", c.DefaultLanguage)
	c.DBPath = envOrDefault("FREEPSY_DB_PATH", c.DBPath)
	c.DummyProviderScript = envOrDefault("FREEPSY_DUMMY_PROVIDER_SCRIPT", c.DummyProviderScript)
	c.DummyCommanderScript = envOrDefault("FREEPSY_DUMMY_COMMANDER_SCRIPT", c.DummyCommanderScript)
	c.DummySendScript = envOrDefault("FREEPSY_DUMMY_COMMANDER_SEND_SCRIPT", c.DummySendScript)
	c.MaxHistoryTokens = envIntOrDefault("FREEPSY_MAX_HISTORY_TOKENS", c.MaxHistoryTokens)
	c.MaxTaskHistoryTokens = envIntOrDefault("FREEPSY_MAX_TASK_HISTORY_TOKENS", c.MaxTaskHistoryTokens)
	c.TaskAckOverhead = envIntOrDefault("FREEPSY_TASK_ACK_OVERHEAD", c.TaskAckOverhead)
	c.LLMTimeout = envSecondsOrDefault("FREEPSY_LLM_TIMEOUT_SECONDS", c.LLMTimeout)
	c.ModelsTTL = envSecondsOrDefault("FREEPSY_MODELS_TTL_SECONDS", c.ModelsTTL)
	c.RateBurst = envIntOrDefault("FREEPSY_RATE_BURST", c.RateBurst)
	c.RatePerSec = envFloatOrDefault("FREEPSY_RATE_PER_SECOND", c.RatePerSec)
	c.RateEviction = envSecondsOrDefault("FREEPSY_RATE_EVICTION_SECONDS", c.RateEviction)
	c.ChunkSize = envIntOrDefault("FREEPSY_CHUNK_SIZE", c.ChunkSize)
	c.TypingInterval = envSecondsOrDefault("FREEPSY_TYPING_INTERVAL_SECONDS", c.TypingInterval)
	c.MaxConcurrentTurns = envIntOrDefault("FREEPSY_MAX_CONCURRENT_TURNS", c.MaxConcurrentTurns)
	c.CircuitThreshold = envIntOrDefault("FREEPSY_CIRCUIT_THRESHOLD", c.CircuitThreshold)
	c.CircuitCooldown = envSecondsOrDefault("FREEPSY_CIRCUIT_COOLDOWN_SECONDS", c.CircuitCooldown)
	c.CrisisDetection = envBoolOrDefault("FREEPSY_CRISIS_DETECTION", c.CrisisDetection)
	c.LogLevel = envOrDefault("FREEPSY_LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOrDefault("FREEPSY_LOG_FORMAT", c.LogFormat)

	if v := os.Getenv("FREEPSY_RETRY_BACKOFF_SECONDS"); v != "" {
		backoff, err := parseSecondsList(v)
		if err != nil {
			return fmt.Errorf("FREEPSY_RETRY_BACKOFF_SECONDS: %w", err)
		}
		c.RetryBackoff = backoff
	}
	return nil
}

// Validate rejects values the bot cannot run with.
func (c BotConfig) Validate() error {
	switch c.ModelProvider {
	case "openrouter", "dummy":
	default:
		return fmt.Errorf("FREEPSY_MODEL_PROVIDER must be openrouter or dummy, got %q", c.ModelProvider)
	}
	switch c.Commander {
	case "telegram", "dummy":
	default:
		return fmt.Errorf("FREEPSY_COMMANDER must be telegram or dummy, got %q", c.Commander)
	}
	if c.MaxHistoryTokens <= 0 {
		return fmt.Errorf("FREEPSY_MAX_HISTORY_TOKENS must be > 0, got %d", c.MaxHistoryTokens)
	}
	if c.MaxTaskHistoryTokens < c.MaxHistoryTokens {
		return fmt.Errorf("FREEPSY_MAX_TASK_HISTORY_TOKENS must be >= FREEPSY_MAX_HISTORY_TOKENS, got %d < %d",
			c.MaxTaskHistoryTokens, c.MaxHistoryTokens)
	}
	if c.TaskAckOverhead < 0 {
		return fmt.Errorf("FREEPSY_TASK_ACK_OVERHEAD must be >= 0, got %d", c.TaskAckOverhead)
	}
	if c.LLMTimeout <= 0 {
		return fmt.Errorf("FREEPSY_LLM_TIMEOUT_SECONDS must be > 0")
	}
	if len(c.RetryBackoff) == 0 {
		return fmt.Errorf("FREEPSY_RETRY_BACKOFF_SECONDS must list at least one delay")
	}
	if c.RateBurst < 1 {
		return fmt.Errorf("FREEPSY_RATE_BURST must be >= 1, got %d", c.RateBurst)
	}
	if c.RatePerSec <= 0 {
		return fmt.Errorf("FREEPSY_RATE_PER_SECOND must be > 0, got %v", c.RatePerSec)
	}
	if c.ChunkSize < 1 || c.ChunkSize > 4096 {
		return fmt.Errorf("FREEPSY_CHUNK_SIZE must be within 1..4096, got %d", c.ChunkSize)
	}
	if c.TypingInterval <= 0 {
		return fmt.Errorf("FREEPSY_TYPING_INTERVAL_SECONDS must be > 0")
	}
	if c.MaxConcurrentTurns < 1 {
		return fmt.Errorf("FREEPSY_MAX_CONCURRENT_TURNS must be >= 1, got %d", c.MaxConcurrentTurns)
	}
	for category, patterns := range c.RoutingTable {
		if len(patterns) == 0 {
			return fmt.Errorf("routing category %q has no model patterns", category)
		}
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("FREEPSY_LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// RetryPolicy makes one completion attempt per configured backoff step.
func (c BotConfig) RetryPolicy() control.RetryPolicy {
	return control.RetryPolicy{
		MaxAttempts: len(c.RetryBackoff),
		Backoff:     c.RetryBackoff,
		Timeout:     c.LLMTimeout,
	}
}

func parseSecondsList(v string) ([]time.Duration, error) {
	var out []time.Duration
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseFloat(part, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid delay %q", part)
		}
		out = append(out, time.Duration(n*float64(time.Second)))
	}
	return out, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setSeconds(dst *time.Duration, v int) {
	if v != 0 {
		*dst = time.Duration(v) * time.Second
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolOrDefault(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envFloatOrDefault(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envSecondsOrDefault(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return time.Duration(n) * time.Second
}
