package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Supabase  SupabaseConfig  `yaml:"supabase" mapstructure:"supabase"`
	Match     MatchConfig     `yaml:"match" mapstructure:"match"`
	Reconcile ReconcileConfig `yaml:"reconcile" mapstructure:"reconcile"`
	FDC       FDCConfig       `yaml:"fdc" mapstructure:"fdc"`
	Import    ImportConfig    `yaml:"import" mapstructure:"import"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver           string   `yaml:"driver" mapstructure:"driver"`
	DatabaseURL      string   `yaml:"database_url" mapstructure:"database_url"`
	PageSize         int      `yaml:"page_size" mapstructure:"page_size"`
	CandidateSources []string `yaml:"candidate_sources" mapstructure:"candidate_sources"`
	MaxConns         int32    `yaml:"max_conns" mapstructure:"max_conns"`
}

// SupabaseConfig holds the REST API credentials used by the supabase driver.
type SupabaseConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
	Key string `yaml:"key" mapstructure:"key"`
}

// MatchConfig tunes name matching.
type MatchConfig struct {
	MinScore float64 `yaml:"min_score" mapstructure:"min_score"`
	Metric   string  `yaml:"metric" mapstructure:"metric"`
}

// ReconcileConfig tunes the batch runner.
type ReconcileConfig struct {
	ReportLimit            int            `yaml:"report_limit" mapstructure:"report_limit"`
	FlushEvery             int            `yaml:"flush_every" mapstructure:"flush_every"`
	MaxConsecutiveFailures int            `yaml:"max_consecutive_failures" mapstructure:"max_consecutive_failures"`
	WriteDelay             time.Duration  `yaml:"write_delay" mapstructure:"write_delay"`
	Progress               ProgressConfig `yaml:"progress" mapstructure:"progress"`
}

// ProgressConfig selects where per-record progress is kept.
type ProgressConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	Path   string `yaml:"path" mapstructure:"path"`
}

// FDCConfig holds FoodData Central settings.
type FDCConfig struct {
	APIKey    string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL   string        `yaml:"base_url" mapstructure:"base_url"`
	DataDir   string        `yaml:"data_dir" mapstructure:"data_dir"`
	Delay     time.Duration `yaml:"delay" mapstructure:"delay"`
	PageSize  int           `yaml:"page_size" mapstructure:"page_size"`
	DataTypes []string      `yaml:"data_types" mapstructure:"data_types"`
	Retry     RetryConfig   `yaml:"retry" mapstructure:"retry"`
}

// RetryConfig configures retries of FoodData Central calls.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
}

// ImportConfig configures dataset imports.
type ImportConfig struct {
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// envFiles are loaded in order; variables already set are never overridden.
var envFiles = []string{".env.local", ".env"}

// legacyEnv binds variable names shared with the older Supabase tooling.
var legacyEnv = map[string]string{
	"supabase.url":       "VITE_SUPABASE_URL",
	"supabase.key":       "SUPABASE_SERVICE_ROLE_KEY",
	"fdc.api_key":        "USDA_API_KEY",
	"store.database_url": "DATABASE_URL",
}

// LoadEnvFiles loads .env.local then .env from the working directory. Missing
// files are ignored.
func LoadEnvFiles() error {
	for _, name := range envFiles {
		if err := godotenv.Load(name); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return eris.Wrapf(err, "config: load %s", name)
		}
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, err
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("NUTRIMATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envPrefixed := "NUTRIMATCH_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envPrefixed, legacy); err != nil {
			return nil, eris.Wrapf(err, "config: bind %s", legacy)
		}
	}

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.page_size", 1000)
	v.SetDefault("store.candidate_sources", []string{"usda_foundation", "usda_sr_legacy", "usda_api"})
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("match.min_score", 0.5)
	v.SetDefault("match.metric", "ratio")
	v.SetDefault("reconcile.report_limit", 20)
	v.SetDefault("reconcile.flush_every", 25)
	v.SetDefault("reconcile.max_consecutive_failures", 5)
	v.SetDefault("reconcile.write_delay", time.Duration(0))
	v.SetDefault("reconcile.progress.driver", "none")
	v.SetDefault("reconcile.progress.path", ".nutrimatch/progress.json")
	v.SetDefault("fdc.base_url", "https://api.nal.usda.gov/fdc/v1")
	v.SetDefault("fdc.data_dir", "data/fdc")
	v.SetDefault("fdc.delay", 100*time.Millisecond)
	v.SetDefault("fdc.page_size", 1)
	v.SetDefault("fdc.data_types", []string{"Foundation", "SR Legacy"})
	v.SetDefault("fdc.retry.max_attempts", 3)
	v.SetDefault("fdc.retry.initial_backoff", 500*time.Millisecond)
	v.SetDefault("fdc.retry.max_backoff", 30*time.Second)
	v.SetDefault("import.batch_size", 50)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the settings a command needs and reports every problem at
// once. Modes: reconcile, import, backfill, runs, migrate.
func (c *Config) Validate(mode string) error {
	var errs []string

	needStore := func() {
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required for the postgres driver")
			}
		case "sqlite":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url (sqlite file path) is required for the sqlite driver")
			}
		case "supabase":
			if c.Supabase.URL == "" {
				errs = append(errs, "supabase.url is required for the supabase driver")
			}
			if c.Supabase.Key == "" {
				errs = append(errs, "supabase.key is required for the supabase driver")
			}
		default:
			errs = append(errs, "store.driver must be one of postgres, sqlite, supabase")
		}
		if c.Store.PageSize <= 0 {
			errs = append(errs, "store.page_size must be > 0")
		}
	}

	switch mode {
	case "reconcile":
		needStore()
		if c.Match.MinScore < 0 {
			errs = append(errs, "match.min_score must be >= 0")
		}
		if c.Reconcile.ReportLimit <= 0 {
			errs = append(errs, "reconcile.report_limit must be > 0")
		}
		if c.Reconcile.WriteDelay < 0 {
			errs = append(errs, "reconcile.write_delay must be >= 0")
		}
		switch c.Reconcile.Progress.Driver {
		case "", "none":
		case "file", "badger":
			if c.Reconcile.Progress.Path == "" {
				errs = append(errs, "reconcile.progress.path is required when progress is enabled")
			}
		default:
			errs = append(errs, "reconcile.progress.driver must be one of none, file, badger")
		}
	case "import":
		needStore()
		if c.Import.BatchSize <= 0 {
			errs = append(errs, "import.batch_size must be > 0")
		}
	case "backfill":
		needStore()
		if c.FDC.APIKey == "" {
			errs = append(errs, "fdc.api_key is required (USDA_API_KEY)")
		}
		if c.FDC.Delay < 0 {
			errs = append(errs, "fdc.delay must be >= 0")
		}
	case "runs", "migrate":
		needStore()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
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
