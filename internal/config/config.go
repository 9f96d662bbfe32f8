// Package config provides YAML-based configuration loading for Switchboard,
// with environment variable overrides for secrets and deployment settings.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable read by Load.
const EnvPrefix = "SWITCHBOARD_"

// Config is the top-level Switchboard configuration, loaded from switchboard.yaml.
type Config struct {
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Database  DatabaseConfig  `yaml:"database" envPrefix:"DATABASE_"`
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
	Channel   ChannelConfig   `yaml:"channel" envPrefix:"CHANNEL_"`
	Provider  ProviderConfig  `yaml:"provider" envPrefix:"PROVIDER_"`
	RAG       RAGConfig       `yaml:"rag" envPrefix:"RAG_"`
	Knowledge KnowledgeConfig `yaml:"knowledge" envPrefix:"KNOWLEDGE_"`
	Dialogs   DialogsConfig   `yaml:"dialogs" envPrefix:"DIALOGS_"`
	Stats     StatsConfig     `yaml:"stats" envPrefix:"STATS_"`
	Admins    []AdminSeed     `yaml:"admins" envPrefix:"ADMINS_"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host" env:"HOST"`
	Port int    `yaml:"port" env:"PORT"`
}

// DatabaseConfig selects the gorm dialector and its DSN.
type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn" env:"DSN"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"FORMAT"` // auto, json, text
}

// ChannelConfig selects the customer-facing chat platform.
type ChannelConfig struct {
	Platform    string         `yaml:"platform" env:"PLATFORM"` // telegram, slack, discord, none
	SendTimeout time.Duration  `yaml:"send_timeout" env:"SEND_TIMEOUT"`
	Telegram    TelegramConfig `yaml:"telegram" envPrefix:"TELEGRAM_"`
	Slack       SlackConfig    `yaml:"slack" envPrefix:"SLACK_"`
	Discord     DiscordConfig  `yaml:"discord" envPrefix:"DISCORD_"`
}

// TelegramConfig holds Telegram bot settings. When WebhookURL is empty the
// adapter long-polls getUpdates.
type TelegramConfig struct {
	Token         string `yaml:"token" env:"TOKEN"`
	WebhookURL    string `yaml:"webhook_url" env:"WEBHOOK_URL"`
	WebhookSecret string `yaml:"webhook_secret" env:"WEBHOOK_SECRET"`
}

// SlackConfig holds Slack Socket Mode credentials.
type SlackConfig struct {
	AppToken string `yaml:"app_token" env:"APP_TOKEN"`
	BotToken string `yaml:"bot_token" env:"BOT_TOKEN"`
}

// DiscordConfig holds Discord Gateway credentials.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token" env:"BOT_TOKEN"`
}

// ProviderConfig selects the LLM and embedding backend.
type ProviderConfig struct {
	Kind           string         `yaml:"kind" env:"KIND"` // none, openai, ollama, gigachat
	BaseURL        string         `yaml:"base_url" env:"BASE_URL"`
	APIKey         string         `yaml:"api_key" env:"API_KEY"`
	Model          string         `yaml:"model" env:"MODEL"`
	EmbeddingModel string         `yaml:"embedding_model" env:"EMBEDDING_MODEL"`
	Timeout        time.Duration  `yaml:"timeout" env:"TIMEOUT"`
	GigaChat       GigaChatConfig `yaml:"gigachat" envPrefix:"GIGACHAT_"`
}

// GigaChatConfig holds the OAuth client credentials for GigaChat.
type GigaChatConfig struct {
	ClientID           string `yaml:"client_id" env:"CLIENT_ID"`
	ClientSecret       string `yaml:"client_secret" env:"CLIENT_SECRET"`
	Scope              string `yaml:"scope" env:"SCOPE"`
	OAuthURL           string `yaml:"oauth_url" env:"OAUTH_URL"`
	APIURL             string `yaml:"api_url" env:"API_URL"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" env:"INSECURE_SKIP_VERIFY"`
}

// RAGConfig tunes chunking and retrieval. The relevance thresholds are
// pointers so an explicit 0 is told apart from an omitted value.
type RAGConfig struct {
	MinChunkSize           int      `yaml:"min_chunk_size" env:"MIN_CHUNK_SIZE"`
	MaxChunkSize           int      `yaml:"max_chunk_size" env:"MAX_CHUNK_SIZE"`
	MinRelevance           *float64 `yaml:"min_relevance" env:"MIN_RELEVANCE"`
	OperatorHighConfidence *float64 `yaml:"operator_high_confidence" env:"OPERATOR_HIGH_CONFIDENCE"`
	HistoryMessageLimit    int      `yaml:"history_message_limit" env:"HISTORY_MESSAGE_LIMIT"`
	TopK                   int      `yaml:"top_k" env:"TOP_K"`
}

// KnowledgeConfig holds upload limits and the storage directory.
type KnowledgeConfig struct {
	FilesDir       string `yaml:"files_dir" env:"FILES_DIR"`
	MaxFileSizeMB  int    `yaml:"max_file_size_mb" env:"MAX_FILE_SIZE_MB"`
	TotalStorageMB int    `yaml:"total_storage_mb" env:"TOTAL_STORAGE_MB"`
}

// DialogsConfig holds handoff and locking settings.
type DialogsConfig struct {
	LockTimeout      time.Duration `yaml:"lock_timeout" env:"LOCK_TIMEOUT"`
	OperatorKeywords []string      `yaml:"operator_keywords" env:"OPERATOR_KEYWORDS" envSeparator:","`
}

// StatsConfig controls the periodic stats snapshot on the system channel.
type StatsConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Cron    string `yaml:"cron" env:"CRON"`
}

// AdminSeed is an operator account created by "sb db migrate".
type AdminSeed struct {
	ExternalID string `yaml:"external_id" env:"EXTERNAL_ID"`
	FullName   string `yaml:"full_name" env:"FULL_NAME"`
	Username   string `yaml:"username" env:"USERNAME"`
	Email      string `yaml:"email" env:"EMAIL"`
	Superadmin bool   `yaml:"superadmin" env:"SUPERADMIN"`
}

// DefaultOperatorKeywords trigger a handoff to a human operator.
var DefaultOperatorKeywords = []string{"оператор", "поддержка", "support", "живой человек"}

// MaxFileSizeBytes returns the per-file upload limit in bytes.
func (k KnowledgeConfig) MaxFileSizeBytes() int64 {
	return int64(k.MaxFileSizeMB) * 1024 * 1024
}

// TotalStorageBytes returns the knowledge storage limit in bytes.
func (k KnowledgeConfig) TotalStorageBytes() int64 {
	return int64(k.TotalStorageMB) * 1024 * 1024
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads a YAML config file from path and returns a validated Config.
// An empty path skips the file and builds the config from defaults and the
// environment alone.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes, applies SWITCHBOARD_* environment overrides,
// and returns a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func ptr[T any](v T) *T { return &v }

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = "switchboard.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "auto"
	}

	if c.Channel.Platform == "" {
		c.Channel.Platform = "telegram"
	}
	if c.Channel.SendTimeout == 0 {
		c.Channel.SendTimeout = 10 * time.Second
	}

	c.applyProviderDefaults()

	if c.RAG.MinChunkSize == 0 {
		c.RAG.MinChunkSize = 500
	}
	if c.RAG.MaxChunkSize == 0 {
		c.RAG.MaxChunkSize = 1500
	}
	if c.RAG.MinRelevance == nil {
		c.RAG.MinRelevance = ptr(0.3)
	}
	if c.RAG.OperatorHighConfidence == nil {
		c.RAG.OperatorHighConfidence = ptr(0.5)
	}
	if c.RAG.HistoryMessageLimit == 0 {
		c.RAG.HistoryMessageLimit = 15
	}
	if c.RAG.TopK == 0 {
		c.RAG.TopK = 5
	}

	if c.Knowledge.FilesDir == "" {
		c.Knowledge.FilesDir = "data/knowledge"
	}
	if c.Knowledge.MaxFileSizeMB == 0 {
		c.Knowledge.MaxFileSizeMB = 2
	}
	if c.Knowledge.TotalStorageMB == 0 {
		c.Knowledge.TotalStorageMB = 10
	}

	if c.Dialogs.LockTimeout == 0 {
		c.Dialogs.LockTimeout = 5 * time.Minute
	}
	if len(c.Dialogs.OperatorKeywords) == 0 {
		c.Dialogs.OperatorKeywords = append([]string(nil), DefaultOperatorKeywords...)
	}

	if c.Stats.Cron == "" {
		c.Stats.Cron = "*/5 * * * *"
	}
}

func (c *Config) applyProviderDefaults() {
	p := &c.Provider
	if p.Kind == "" {
		p.Kind = "none"
	}
	if p.Timeout == 0 {
		p.Timeout = 30 * time.Second
	}
	switch p.Kind {
	case "openai":
		if p.Model == "" {
			p.Model = "gpt-4o-mini"
		}
		if p.EmbeddingModel == "" {
			p.EmbeddingModel = "text-embedding-3-small"
		}
	case "ollama":
		if p.BaseURL == "" {
			p.BaseURL = "http://localhost:11434"
		}
		if p.Model == "" {
			p.Model = "llama3"
		}
		if p.EmbeddingModel == "" {
			p.EmbeddingModel = "nomic-embed-text"
		}
	case "gigachat":
		if p.Model == "" {
			p.Model = "GigaChat"
		}
		if p.EmbeddingModel == "" {
			p.EmbeddingModel = "Embeddings"
		}
		if p.GigaChat.Scope == "" {
			p.GigaChat.Scope = "GIGACHAT_API_PERS"
		}
		if p.GigaChat.OAuthURL == "" {
			p.GigaChat.OAuthURL = "https://ngw.devices.sberbank.ru:9443/api/v2/oauth"
		}
		if p.GigaChat.APIURL == "" {
			p.GigaChat.APIURL = "https://gigachat.devices.sberbank.ru/api/v1"
		}
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string

	switch c.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (sqlite, mysql, postgres)", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, "database.dsn is required")
	}

	switch c.Log.Format {
	case "auto", "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q is not supported (auto, json, text)", c.Log.Format))
	}

	switch c.Channel.Platform {
	case "telegram":
		if c.Channel.Telegram.Token == "" {
			errs = append(errs, "channel.telegram.token is required")
		}
		if c.Channel.Telegram.WebhookURL != "" && c.Channel.Telegram.WebhookSecret == "" {
			errs = append(errs, "channel.telegram.webhook_secret is required with webhook_url")
		}
	case "slack":
		if c.Channel.Slack.AppToken == "" {
			errs = append(errs, "channel.slack.app_token is required")
		}
		if c.Channel.Slack.BotToken == "" {
			errs = append(errs, "channel.slack.bot_token is required")
		}
	case "discord":
		if c.Channel.Discord.BotToken == "" {
			errs = append(errs, "channel.discord.bot_token is required")
		}
	case "none":
	default:
		errs = append(errs, fmt.Sprintf("channel.platform %q is not supported (telegram, slack, discord, none)", c.Channel.Platform))
	}

	switch c.Provider.Kind {
	case "none", "ollama":
	case "openai":
		if c.Provider.APIKey == "" {
			errs = append(errs, "provider.api_key is required for openai")
		}
	case "gigachat":
		if c.Provider.GigaChat.ClientID == "" || c.Provider.GigaChat.ClientSecret == "" {
			errs = append(errs, "provider.gigachat.client_id and client_secret are required")
		}
	default:
		errs = append(errs, fmt.Sprintf("provider.kind %q is not supported (none, openai, ollama, gigachat)", c.Provider.Kind))
	}

	if c.RAG.MinChunkSize < 1 {
		errs = append(errs, "rag.min_chunk_size must be positive")
	}
	if c.RAG.MaxChunkSize < c.RAG.MinChunkSize {
		errs = append(errs, "rag.max_chunk_size must be >= rag.min_chunk_size")
	}
	if v := *c.RAG.MinRelevance; v <= 0 || v > 1 {
		errs = append(errs, "rag.min_relevance must be within (0, 1]")
	}
	if v := *c.RAG.OperatorHighConfidence; v < 0 || v > 1 {
		errs = append(errs, "rag.operator_high_confidence must be within [0, 1]")
	}
	if c.Knowledge.MaxFileSizeMB > c.Knowledge.TotalStorageMB {
		errs = append(errs, "knowledge.max_file_size_mb must be <= knowledge.total_storage_mb")
	}
	if c.Dialogs.LockTimeout < 0 {
		errs = append(errs, "dialogs.lock_timeout must not be negative")
	}

	for i, a := range c.Admins {
		if a.ExternalID == "" {
			errs = append(errs, fmt.Sprintf("admins[%d].external_id is required", i))
		}
		if a.FullName == "" {
			errs = append(errs, fmt.Sprintf("admins[%d].full_name is required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
