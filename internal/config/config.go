package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/deck-audit/internal/resilience"
	"github.com/sells-group/deck-audit/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Raster    RasterConfig    `yaml:"raster" mapstructure:"raster"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Audit     AuditConfig     `yaml:"audit" mapstructure:"audit"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Circuit   CircuitConfig   `yaml:"circuit" mapstructure:"circuit"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the session store backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"` // sqlite or postgres
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string           `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key          string `yaml:"key" mapstructure:"key"`
	ExtractModel string `yaml:"extract_model" mapstructure:"extract_model"`
	AuditModel   string `yaml:"audit_model" mapstructure:"audit_model"`
	MaxTokens    int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// RasterConfig configures PDF page rendering.
type RasterConfig struct {
	PdfToPpmPath string  `yaml:"pdftoppm_path" mapstructure:"pdftoppm_path"`
	PdfInfoPath  string  `yaml:"pdfinfo_path" mapstructure:"pdfinfo_path"`
	Zoom         float64 `yaml:"zoom" mapstructure:"zoom"`
}

// ExtractConfig configures value extraction from PDFs and workbooks.
type ExtractConfig struct {
	Concurrency    int     `yaml:"concurrency" mapstructure:"concurrency"`
	BatchSize      int     `yaml:"batch_size" mapstructure:"batch_size"`
	RequestDelayMs int     `yaml:"request_delay_ms" mapstructure:"request_delay_ms"`
	MaxRows        int     `yaml:"max_rows" mapstructure:"max_rows"`
	MaxCols        int     `yaml:"max_cols" mapstructure:"max_cols"`
	MaxSheets      int     `yaml:"max_sheets" mapstructure:"max_sheets"`
	ScoreThreshold int     `yaml:"score_threshold" mapstructure:"score_threshold"`
	MinLikelihood  float64 `yaml:"min_likelihood" mapstructure:"min_likelihood"`
	Disabled       bool    `yaml:"disabled" mapstructure:"disabled"`
}

// AuditConfig configures cross-validation runs.
type AuditConfig struct {
	BatchSize    int `yaml:"batch_size" mapstructure:"batch_size"`
	CandidateCap int `yaml:"candidate_cap" mapstructure:"candidate_cap"`
	BatchDelayMs int `yaml:"batch_delay_ms" mapstructure:"batch_delay_ms"`
	LowFloor     int `yaml:"low_risk_floor" mapstructure:"low_risk_floor"`
	MediumFloor  int `yaml:"medium_risk_floor" mapstructure:"medium_risk_floor"`
}

// RetryConfig configures LLM call retries.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig configures the circuit breaker guarding LLM calls.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ServerConfig configures the review API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// RetryConfig converts the configured retry values, keeping package
// defaults for anything unset.
func (c *Config) RetryConfig() resilience.RetryConfig {
	rc := resilience.DefaultRetryConfig()
	if c.Retry.MaxAttempts > 0 {
		rc.MaxAttempts = c.Retry.MaxAttempts
	}
	if c.Retry.InitialBackoffMs > 0 {
		rc.InitialBackoff = time.Duration(c.Retry.InitialBackoffMs) * time.Millisecond
	}
	if c.Retry.MaxBackoffMs > 0 {
		rc.MaxBackoff = time.Duration(c.Retry.MaxBackoffMs) * time.Millisecond
	}
	if c.Retry.Multiplier > 0 {
		rc.Multiplier = c.Retry.Multiplier
	}
	if c.Retry.JitterFraction >= 0 {
		rc.JitterFraction = c.Retry.JitterFraction
	}
	return rc
}

// CircuitConfig converts the configured circuit breaker values.
func (c *Config) CircuitConfig() resilience.CircuitBreakerConfig {
	cc := resilience.DefaultCircuitBreakerConfig()
	if c.Circuit.FailureThreshold > 0 {
		cc.FailureThreshold = c.Circuit.FailureThreshold
	}
	if c.Circuit.ResetTimeoutSecs > 0 {
		cc.ResetTimeout = time.Duration(c.Circuit.ResetTimeoutSecs) * time.Second
	}
	return cc
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DECKAUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "deck-audit.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.extract_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.audit_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 8192)
	v.SetDefault("raster.pdftoppm_path", "pdftoppm")
	v.SetDefault("raster.pdfinfo_path", "pdfinfo")
	v.SetDefault("raster.zoom", 2.0)
	v.SetDefault("extract.concurrency", 3)
	v.SetDefault("extract.batch_size", 200)
	v.SetDefault("extract.max_rows", 1000)
	v.SetDefault("extract.max_cols", 100)
	v.SetDefault("extract.max_sheets", 50)
	v.SetDefault("extract.score_threshold", 5)
	v.SetDefault("extract.min_likelihood", 0.3)
	v.SetDefault("audit.batch_size", 5)
	v.SetDefault("audit.candidate_cap", 100)
	v.SetDefault("audit.low_risk_floor", 85)
	v.SetDefault("audit.medium_risk_floor", 70)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 1000)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.2)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 60)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the configuration is usable for the given mode.
// Modes: extract, analyze, audit, sessions, serve.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "extract", "analyze", "audit":
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
		problems = append(problems, c.storeProblems()...)
	case "sessions":
		problems = append(problems, c.storeProblems()...)
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		problems = append(problems, c.storeProblems()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Extract.Concurrency < 1 || c.Extract.Concurrency > 10 {
		problems = append(problems, "extract.concurrency must be between 1 and 10")
	}
	if c.Extract.BatchSize < 1 {
		problems = append(problems, "extract.batch_size must be >= 1")
	}
	if c.Extract.MinLikelihood < 0 || c.Extract.MinLikelihood > 1 {
		problems = append(problems, "extract.min_likelihood must be in [0, 1]")
	}
	if c.Raster.Zoom <= 0 {
		problems = append(problems, "raster.zoom must be > 0")
	}
	if c.Audit.BatchSize < 1 || c.Audit.BatchSize > 20 {
		problems = append(problems, "audit.batch_size must be between 1 and 20")
	}
	if c.Audit.MediumFloor >= c.Audit.LowFloor {
		problems = append(problems, "audit.medium_risk_floor must be below audit.low_risk_floor")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid for mode %s: %s", mode, strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) storeProblems() []string {
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return []string{"store.sqlite_path is required for the sqlite driver"}
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required for the postgres driver"}
		}
	default:
		return []string{"store.driver must be sqlite or postgres"}
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
