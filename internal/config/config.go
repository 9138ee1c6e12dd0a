package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath overrides the config file location.
const EnvConfigPath = "LOANLENS_CONFIG"

// DefaultPath is used when neither a flag nor EnvConfigPath names a file.
const DefaultPath = "configs/config.yml"

// Config holds the application's configuration.
type Config struct {
	Database struct {
		Driver              string `yaml:"driver"` // postgres or sqlite
		URL                 string `yaml:"url"`
		QueryTimeoutSeconds int64  `yaml:"query_timeout_seconds"`
	} `yaml:"database"`
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Transcripts struct {
		Dir             string `yaml:"dir"`
		LoadConcurrency int    `yaml:"load_concurrency"`
	} `yaml:"transcripts"`
	Transcriber struct {
		URL            string `yaml:"url"`
		TimeoutSeconds int64  `yaml:"timeout_seconds"`
	} `yaml:"transcriber"`
	Summarizer struct {
		Enabled      bool   `yaml:"enabled"`
		Provider     string `yaml:"provider"` // http or gemini
		URL          string `yaml:"url"`
		GeminiAPIKey string `yaml:"gemini_api_key"`
		GeminiModel  string `yaml:"gemini_model"`
	} `yaml:"summarizer"`
	Processor struct {
		PollInterval int64 `yaml:"poll_interval_seconds"`
		BatchSize    int   `yaml:"batch_size"`
		MaxAttempts  int   `yaml:"max_attempts"`
		Watch        bool  `yaml:"watch"`
	} `yaml:"processor"`
	Network struct {
		ProcessorPrefixes []string `yaml:"processor_prefixes"`
		ProcessorNumbers  []string `yaml:"processor_numbers"`
	} `yaml:"network"`
	Notify struct {
		Enabled          bool   `yaml:"enabled"`
		TelegramBotToken string `yaml:"telegram_bot_token"`
		TelegramChatID   int64  `yaml:"telegram_chat_id"`
	} `yaml:"notify"`
	Logging struct {
		Mode string `yaml:"mode"` // development or production
	} `yaml:"logging"`
}

// LoadConfig reads configuration from the specified YAML file. An empty
// path falls back to $LOANLENS_CONFIG, then DefaultPath.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = os.Getenv(EnvConfigPath)
	}
	if configPath == "" {
		configPath = DefaultPath
	}

	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.expandEnv()
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) expandEnv() {
	c.Database.URL = os.ExpandEnv(c.Database.URL)
	c.Transcripts.Dir = os.ExpandEnv(c.Transcripts.Dir)
	c.Transcriber.URL = os.ExpandEnv(c.Transcriber.URL)
	c.Summarizer.URL = os.ExpandEnv(c.Summarizer.URL)
	c.Summarizer.GeminiAPIKey = os.ExpandEnv(c.Summarizer.GeminiAPIKey)
	c.Notify.TelegramBotToken = os.ExpandEnv(c.Notify.TelegramBotToken)
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.QueryTimeoutSeconds <= 0 {
		c.Database.QueryTimeoutSeconds = 10
	}
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.Transcripts.Dir == "" {
		c.Transcripts.Dir = "transcripts"
	}
	if c.Transcripts.LoadConcurrency <= 0 {
		c.Transcripts.LoadConcurrency = 8
	}
	if c.Transcriber.TimeoutSeconds <= 0 {
		c.Transcriber.TimeoutSeconds = 300
	}
	if c.Processor.PollInterval <= 0 {
		c.Processor.PollInterval = 60
	}
	if c.Processor.BatchSize <= 0 {
		c.Processor.BatchSize = 50
	}
	if c.Processor.MaxAttempts <= 0 {
		c.Processor.MaxAttempts = 5
	}
	if c.Summarizer.Provider == "" {
		c.Summarizer.Provider = "http"
	}
	if c.Logging.Mode == "" {
		c.Logging.Mode = "development"
	}
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.Summarizer.Enabled {
		switch c.Summarizer.Provider {
		case "http":
			if c.Summarizer.URL == "" {
				return fmt.Errorf("summarizer.url is required when the summarizer is enabled")
			}
		case "gemini":
			if c.Summarizer.GeminiAPIKey == "" {
				return fmt.Errorf("summarizer.gemini_api_key is required for the gemini provider")
			}
		default:
			return fmt.Errorf("unsupported summarizer provider %q", c.Summarizer.Provider)
		}
	}
	switch c.Logging.Mode {
	case "development", "production":
	default:
		return fmt.Errorf("unsupported logging mode %q", c.Logging.Mode)
	}
	return nil
}

func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.Database.QueryTimeoutSeconds) * time.Second
}

func (c *Config) TranscriberTimeout() time.Duration {
	return time.Duration(c.Transcriber.TimeoutSeconds) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Processor.PollInterval) * time.Second
}
