package store

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	ResumeAuto  = "auto"
	ResumeFixed = "fixed"

	OnUnexpectedAbort = "abort"
	OnUnexpectedSkip  = "skip"

	ProviderOpenAI = "OPENAI"
	ProviderClaude = "CLAUDE"
	ProviderNoop   = "NOOP"
)

const defaultSystemPrompt = "You are an AI expert in financial and meme sentiment analysis. " +
	"Analyze the sentiment of the provided Reddit post text. " +
	"Respond with a JSON object containing two keys: " +
	"'sentiment' (string: 'Positive', 'Negative', or 'Neutral') and " +
	"'ai_reason' (string: a brief, one-sentence explanation for the sentiment)."

type Config struct {
	InputPath         string        `yaml:"input_path" validate:"required"`
	OutputPath        string        `yaml:"output_path" validate:"required"`
	TickerFile        string        `yaml:"ticker_file" validate:"required"`
	ChunkSize         int           `yaml:"chunk_size" validate:"gt=0"`
	MaxChunks         int           `yaml:"max_chunks" validate:"gte=0"`
	DelayBetweenCalls time.Duration `yaml:"delay_between_calls" validate:"gte=0"`
	MaxChars          int           `yaml:"max_chars" validate:"gt=0"`
	Resume            struct {
		Mode                   string `yaml:"mode" validate:"oneof=auto fixed"`
		ChunksAlreadyProcessed int    `yaml:"chunks_already_processed" validate:"gte=0"`
	} `yaml:"resume"`
	Classifier struct {
		Provider          string        `yaml:"provider" validate:"oneof=OPENAI CLAUDE NOOP"`
		Model             string        `yaml:"model"`
		Temperature       float64       `yaml:"temperature" validate:"gte=0,lte=2"`
		MaxTokens         int           `yaml:"max_tokens" validate:"gt=0"`
		System            string        `yaml:"system"`
		RateLimitCooldown time.Duration `yaml:"rate_limit_cooldown" validate:"gte=0"`
		OnUnexpected      string        `yaml:"on_unexpected" validate:"oneof=abort skip"`
		MaxRetries        int           `yaml:"max_retries" validate:"gte=0"`
		Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	} `yaml:"classifier"`
	Ledger struct {
		Enabled     bool   `yaml:"enabled"`
		Path        string `yaml:"path"`
		CacheLabels bool   `yaml:"cache_labels"`
	} `yaml:"ledger"`
	Watch struct {
		Debounce time.Duration `yaml:"debounce" validate:"gte=0"`
	} `yaml:"watch"`
	Tickers struct {
		SourceURL string `yaml:"source_url"`
		Selector  string `yaml:"selector"`
	} `yaml:"tickers"`
	Report struct {
		TopN         int    `yaml:"top_n" validate:"gt=0"`
		Period       string `yaml:"period" validate:"oneof=D W M Q"`
		TargetTicker string `yaml:"target_ticker"`
		OutDir       string `yaml:"out_dir"`
	} `yaml:"report"`
}

// Default returns a configuration equivalent to the stock script settings.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.InputPath == "" {
		c.InputPath = "wsb_sub_sentiment.csv"
	}
	if c.OutputPath == "" {
		c.OutputPath = "wsb_sub_processed.csv"
	}
	if c.TickerFile == "" {
		c.TickerFile = "ticker_list.txt"
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = 500
	}
	if c.DelayBetweenCalls == 0 {
		c.DelayBetweenCalls = 20 * time.Millisecond
	}
	if c.MaxChars == 0 {
		c.MaxChars = 1500
	}
	if c.Resume.Mode == "" {
		c.Resume.Mode = ResumeAuto
	}
	c.Classifier.Provider = strings.ToUpper(c.Classifier.Provider)
	if c.Classifier.Provider == "" {
		c.Classifier.Provider = ProviderOpenAI
	}
	if c.Classifier.Model == "" {
		switch c.Classifier.Provider {
		case ProviderClaude:
			c.Classifier.Model = "claude-3-5-haiku-latest"
		default:
			c.Classifier.Model = "gpt-4o-mini"
		}
	}
	if c.Classifier.Temperature == 0 {
		c.Classifier.Temperature = 0.2
	}
	if c.Classifier.MaxTokens == 0 {
		c.Classifier.MaxTokens = 150
	}
	if c.Classifier.System == "" {
		c.Classifier.System = defaultSystemPrompt
	}
	if c.Classifier.RateLimitCooldown == 0 {
		c.Classifier.RateLimitCooldown = 60 * time.Second
	}
	if c.Classifier.OnUnexpected == "" {
		c.Classifier.OnUnexpected = OnUnexpectedAbort
	}
	if c.Classifier.Timeout == 0 {
		c.Classifier.Timeout = 60 * time.Second
	}
	if c.Ledger.Path == "" {
		c.Ledger.Path = "wsb_ledger.db"
	}
	if c.Watch.Debounce == 0 {
		c.Watch.Debounce = 5 * time.Second
	}
	if c.Tickers.Selector == "" {
		c.Tickers.Selector = "table tbody tr td:first-child"
	}
	if c.Report.TopN == 0 {
		c.Report.TopN = 20
	}
	c.Report.Period = strings.ToUpper(c.Report.Period)
	if c.Report.Period == "" {
		c.Report.Period = "W"
	}
	if c.Report.TargetTicker == "" {
		c.Report.TargetTicker = "TSLA"
	}
	if c.Report.OutDir == "" {
		c.Report.OutDir = "reports"
	}
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid %s: failed '%s' check (got %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return err
	}
	if c.InputPath == c.OutputPath {
		return errors.New("input_path and output_path must differ")
	}
	if c.Resume.Mode == ResumeAuto && c.Resume.ChunksAlreadyProcessed != 0 {
		return fmt.Errorf("resume.chunks_already_processed is only used with mode 'fixed', got %d with mode 'auto'", c.Resume.ChunksAlreadyProcessed)
	}
	if c.Ledger.CacheLabels && !c.Ledger.Enabled {
		return errors.New("ledger.cache_labels requires ledger.enabled")
	}
	return nil
}

// LoadConfig reads the YAML file at path. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	var c Config
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}
