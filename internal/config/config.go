package config

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"PatentTriage/internal/classify"
	"PatentTriage/internal/domain"
	"PatentTriage/internal/extract"
)

const (
	configPathEnv      = "PATENT_TRIAGE_CONFIG"
	databasePathEnv    = "DATABASE_PATH"
	classifierVerEnv   = "CLASSIFIER_VERSION"
	openAIAPIKeyEnv    = "OPENAI_API_KEY"
	openAIModelEnv     = "OPENAI_MODEL"
	airtableAPIKeyEnv  = "AIRTABLE_API_KEY"
	airtableBaseIDEnv  = "AIRTABLE_BASE_ID"
	airtableTableEnv   = "AIRTABLE_TABLE_NAME"
	telegramTokenEnv   = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv  = "TELEGRAM_CHAT_ID"
	logLevelEnv        = "LOG_LEVEL"
	defaultDotEnvFile  = ".env"
	defaultServerAddr  = ":8000"
	defaultBatchSize   = 50
	defaultConcurrency = 4
)

// Classifier strategies selectable in config.
const (
	StrategyKeyword = "keyword"
	StrategyChat    = "chat"
	StrategyRemote  = "remote"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Database      DatabaseConfig     `yaml:"database"`
	Classifier    ClassifierConfig   `yaml:"classifier"`
	ChatGPT       ChatGPTConfig      `yaml:"chatgpt"`
	ML            MLConfig           `yaml:"ml"`
	Airtable      AirtableConfig     `yaml:"airtable"`
	Batch         BatchConfig        `yaml:"batch"`
	Sync          SyncConfig         `yaml:"sync"`
	Ingest        IngestConfig       `yaml:"ingest"`
	Notifications NotificationConfig `yaml:"notifications"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Server        ServerConfig       `yaml:"server"`
}

// LoggingConfig selects the slog level and handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig points at the SQLite file.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ClassifierConfig picks the strategy and the version folded into fingerprints.
type ClassifierConfig struct {
	Strategy         string               `yaml:"strategy"`
	Version          string               `yaml:"version"`
	Retry            classify.RetryPolicy `yaml:"retry"`
	Rules            classify.TagRules    `yaml:"rules"`
	PatternCacheSize int                  `yaml:"patternCacheSize"`
}

// ChatGPTConfig defines how to contact the ChatGPT API.
type ChatGPTConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	Model        string  `yaml:"model"`
	APIKey       string  `yaml:"apiKey"`
	Temperature  float64 `yaml:"temperature"`
	SystemPrompt string  `yaml:"systemPrompt"`
}

// MLConfig describes neural-service integration parameters.
type MLConfig struct {
	InferenceURL string `yaml:"inferenceUrl"`
	APIKey       string `yaml:"apiKey"`
}

// AirtableConfig locates the tracking table.
type AirtableConfig struct {
	BaseURL       string  `yaml:"baseUrl"`
	APIKey        string  `yaml:"apiKey"`
	BaseID        string  `yaml:"baseId"`
	TableName     string  `yaml:"tableName"`
	RatePerSecond float64 `yaml:"ratePerSecond"`
}

// BatchConfig holds defaults for queue drains.
type BatchConfig struct {
	Size         int              `yaml:"size"`
	MinRelevance domain.Relevance `yaml:"minRelevance"`
}

// SyncConfig tunes the sync gate.
type SyncConfig struct {
	PruneRemoteLow bool `yaml:"pruneRemoteLow"`
}

// IngestConfig holds CSV header aliases and the multi-file bound.
type IngestConfig struct {
	Columns     extract.Columns `yaml:"columns"`
	Concurrency int             `yaml:"concurrency"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// SchedulerConfig sets the background drain interval; zero disables it.
type SchedulerConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// ServerConfig holds the HTTP listen address.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads .env and YAML configuration (if present) and applies environment overrides.
func Load() Config {
	if err := godotenv.Load(defaultDotEnvFile); err != nil && !os.IsNotExist(err) {
		log.Printf("config: cannot load %s: %v", defaultDotEnvFile, err)
	}

	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		fileCfg, err := ReadFile(path)
		if err != nil {
			log.Printf("config: %v (falling back to defaults)", err)
		} else {
			cfg = mergeConfig(cfg, fileCfg)
		}
	}

	cfg.applyEnvOverrides()
	cfg.normalize()
	return cfg
}

// ReadFile decodes a YAML config file without applying defaults.
func ReadFile(path string) (Config, error) {
	var fileCfg Config
	raw, err := os.ReadFile(path)
	if err != nil {
		return fileCfg, err
	}
	if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
		return fileCfg, err
	}
	return fileCfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databasePathEnv); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(classifierVerEnv); v != "" {
		c.Classifier.Version = v
	}

	if v := os.Getenv(openAIAPIKeyEnv); v != "" {
		c.ChatGPT.APIKey = v
	}
	if v := os.Getenv(openAIModelEnv); v != "" {
		c.ChatGPT.Model = v
	}

	if v := os.Getenv(airtableAPIKeyEnv); v != "" {
		c.Airtable.APIKey = v
	}
	if v := os.Getenv(airtableBaseIDEnv); v != "" {
		c.Airtable.BaseID = v
	}
	if v := os.Getenv(airtableTableEnv); v != "" {
		c.Airtable.TableName = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) normalize() {
	if r, err := domain.ParseRelevance(string(c.Batch.MinRelevance)); err == nil {
		c.Batch.MinRelevance = r
	} else {
		log.Printf("config: %v, reverting to %s", err, domain.RelevanceMedium)
		c.Batch.MinRelevance = domain.RelevanceMedium
	}

	c.Classifier.Rules = c.Classifier.Rules.WithDefaults()
	if err := c.Classifier.Rules.Validate(); err != nil {
		log.Printf("config: %v, reverting to default rules", err)
		c.Classifier.Rules = classify.DefaultRules()
	}

	switch c.Classifier.Strategy {
	case StrategyKeyword, StrategyChat, StrategyRemote:
	default:
		log.Printf("config: unknown classifier strategy %q, reverting to %s", c.Classifier.Strategy, StrategyKeyword)
		c.Classifier.Strategy = StrategyKeyword
	}

	if c.Batch.Size <= 0 {
		c.Batch.Size = defaultBatchSize
	}
	if c.Ingest.Concurrency <= 0 {
		c.Ingest.Concurrency = defaultConcurrency
	}
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	if override.Database.Path != "" {
		base.Database = override.Database
	}

	if override.Classifier.Strategy != "" {
		base.Classifier.Strategy = override.Classifier.Strategy
	}
	if override.Classifier.Version != "" {
		base.Classifier.Version = override.Classifier.Version
	}
	if override.Classifier.Retry.Attempts > 0 {
		base.Classifier.Retry.Attempts = override.Classifier.Retry.Attempts
	}
	if override.Classifier.Retry.Timeout > 0 {
		base.Classifier.Retry.Timeout = override.Classifier.Retry.Timeout
	}
	if override.Classifier.Retry.Backoff > 0 {
		base.Classifier.Retry.Backoff = override.Classifier.Retry.Backoff
	}
	if len(override.Classifier.Rules.Rules) > 0 {
		base.Classifier.Rules.Rules = override.Classifier.Rules.Rules
	}
	if override.Classifier.Rules.HighThreshold > 0 {
		base.Classifier.Rules.HighThreshold = override.Classifier.Rules.HighThreshold
	}
	if override.Classifier.Rules.MediumThreshold > 0 {
		base.Classifier.Rules.MediumThreshold = override.Classifier.Rules.MediumThreshold
	}
	if override.Classifier.PatternCacheSize > 0 {
		base.Classifier.PatternCacheSize = override.Classifier.PatternCacheSize
	}

	if override.ChatGPT.Endpoint != "" {
		base.ChatGPT.Endpoint = override.ChatGPT.Endpoint
	}
	if override.ChatGPT.Model != "" {
		base.ChatGPT.Model = override.ChatGPT.Model
	}
	if override.ChatGPT.APIKey != "" {
		base.ChatGPT.APIKey = override.ChatGPT.APIKey
	}
	if override.ChatGPT.Temperature != 0 {
		base.ChatGPT.Temperature = override.ChatGPT.Temperature
	}
	if override.ChatGPT.SystemPrompt != "" {
		base.ChatGPT.SystemPrompt = override.ChatGPT.SystemPrompt
	}

	if override.ML.InferenceURL != "" {
		base.ML.InferenceURL = override.ML.InferenceURL
	}
	if override.ML.APIKey != "" {
		base.ML.APIKey = override.ML.APIKey
	}

	if override.Airtable.BaseURL != "" {
		base.Airtable.BaseURL = override.Airtable.BaseURL
	}
	if override.Airtable.APIKey != "" {
		base.Airtable.APIKey = override.Airtable.APIKey
	}
	if override.Airtable.BaseID != "" {
		base.Airtable.BaseID = override.Airtable.BaseID
	}
	if override.Airtable.TableName != "" {
		base.Airtable.TableName = override.Airtable.TableName
	}
	if override.Airtable.RatePerSecond > 0 {
		base.Airtable.RatePerSecond = override.Airtable.RatePerSecond
	}

	if override.Batch.Size > 0 {
		base.Batch.Size = override.Batch.Size
	}
	if override.Batch.MinRelevance != "" {
		base.Batch.MinRelevance = override.Batch.MinRelevance
	}

	if override.Sync.PruneRemoteLow {
		base.Sync.PruneRemoteLow = true
	}

	cols := override.Ingest.Columns
	if len(cols.ID) > 0 {
		base.Ingest.Columns.ID = cols.ID
	}
	if len(cols.Title) > 0 {
		base.Ingest.Columns.Title = cols.Title
	}
	if len(cols.Abstract) > 0 {
		base.Ingest.Columns.Abstract = cols.Abstract
	}
	if len(cols.Date) > 0 {
		base.Ingest.Columns.Date = cols.Date
	}
	if len(cols.Source) > 0 {
		base.Ingest.Columns.Source = cols.Source
	}
	if override.Ingest.Concurrency > 0 {
		base.Ingest.Concurrency = override.Ingest.Concurrency
	}

	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}

	if override.Scheduler.Interval > 0 {
		base.Scheduler.Interval = override.Scheduler.Interval
	}

	if override.Server.Addr != "" {
		base.Server.Addr = override.Server.Addr
	}

	return base
}

func defaultConfig() Config {
	return Config{
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Database: DatabaseConfig{Path: "patents.db"},
		Classifier: ClassifierConfig{
			Strategy:         StrategyKeyword,
			Version:          "v1",
			Retry:            classify.DefaultRetryPolicy(),
			Rules:            classify.DefaultRules(),
			PatternCacheSize: classify.DefaultPatternCacheSize,
		},
		ChatGPT: ChatGPTConfig{
			Endpoint: "https://api.openai.com/v1/chat/completions",
			Model:    "gpt-4o-mini",
		},
		Airtable: AirtableConfig{
			BaseURL:       "https://api.airtable.com/v0",
			TableName:     "Patents",
			RatePerSecond: 5,
		},
		Batch:  BatchConfig{Size: defaultBatchSize, MinRelevance: domain.RelevanceMedium},
		Ingest: IngestConfig{Columns: extract.DefaultColumns(), Concurrency: defaultConcurrency},
		Server: ServerConfig{Addr: defaultServerAddr},
	}
}
