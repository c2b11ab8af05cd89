package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"
)

// Config captures every setting required to boot the ephys engine.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Cache      CacheConfig      `yaml:"cache"`
	Analysis   AnalysisConfig   `yaml:"analysis"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Loader     LoaderConfig     `yaml:"loader"`
	Store      StoreConfig      `yaml:"store"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CacheConfig controls caching of query results. With no address the
// in-process memory provider is used.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	QueryTTL     time.Duration `yaml:"queryTTL"`
}

// AnalysisConfig tunes feature extraction.
type AnalysisConfig struct {
	SpikeThreshold       float64 `yaml:"spikeThreshold"`
	DVDTThreshold        float64 `yaml:"dvdtThreshold"`
	SagMaxOnsetMs        float64 `yaml:"sagMaxOnsetMs"`
	SteadyStateMs        float64 `yaml:"steadyStateMs"`
	LeftWindowMs         float64 `yaml:"leftWindowMs"`
	RightWindowMs        float64 `yaml:"rightWindowMs"`
	ReboundRightWindowMs float64 `yaml:"reboundRightWindowMs"`
	Workers              int     `yaml:"workers"`
}

// CriterionConfig is one response criterion, e.g. {property: sweep_time, condition: "<150"}.
type CriterionConfig struct {
	Property  string `yaml:"property"`
	Condition string `yaml:"condition"`
}

// ClassifierConfig points at the discriminant tables and the queries feeding them.
type ClassifierConfig struct {
	TablesPath     string            `yaml:"tablesPath"`
	Type2CutoffMs  float64           `yaml:"type2CutoffMs"`
	ExclusionSigma float64           `yaml:"exclusionSigma"`
	SpikeCriteria  []CriterionConfig `yaml:"spikeCriteria"`
	SagCriteria    []CriterionConfig `yaml:"sagCriteria"`
}

// LoaderConfig selects where recordings come from.
type LoaderConfig struct {
	DataGlob      string            `yaml:"dataGlob"`
	RemoteBaseURL string            `yaml:"remoteBaseURL"`
	CellsPath     string            `yaml:"cellsPath"`
	Timeout       time.Duration     `yaml:"timeout"`
	MaxFileSize   datasize.ByteSize `yaml:"maxFileSize"`
}

// StoreConfig configures persistence of classification runs.
type StoreConfig struct {
	DSN         string `yaml:"dsn"`
	AutoMigrate bool   `yaml:"autoMigrate"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("EPHYS_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			QueryTTL:     30 * time.Minute,
		},
		Analysis: AnalysisConfig{
			SpikeThreshold:       -10,
			DVDTThreshold:        15,
			SagMaxOnsetMs:        80,
			SteadyStateMs:        10,
			LeftWindowMs:         100,
			RightWindowMs:        100,
			ReboundRightWindowMs: 230,
			Workers:              4,
		},
		Classifier: ClassifierConfig{
			TablesPath:     "configs/classifier/discriminant.yaml",
			Type2CutoffMs:  90,
			ExclusionSigma: 1.64,
			SpikeCriteria: []CriterionConfig{
				{Property: "sweep_time", Condition: "<150"},
				{Property: "curr_duration", Condition: "0.3"},
				{Property: "curr_amplitude", Condition: ">0"},
			},
			SagCriteria: []CriterionConfig{
				{Property: "curr_duration", Condition: "0.12"},
				{Property: "curr_amplitude", Condition: "-400"},
			},
		},
		Loader: LoaderConfig{
			DataGlob:    "data/cells/*.json",
			CellsPath:   "/api/v1/cells",
			Timeout:     10 * time.Second,
			MaxFileSize: 256 * datasize.MB,
		},
		Store: StoreConfig{AutoMigrate: true},
	}
}

func (c Config) validate() error {
	if c.Analysis.Workers <= 0 {
		return fmt.Errorf("analysis.workers must be positive, got %d", c.Analysis.Workers)
	}
	if c.Analysis.LeftWindowMs < 0 || c.Analysis.RightWindowMs < 0 || c.Analysis.ReboundRightWindowMs < 0 {
		return fmt.Errorf("analysis window sizes must not be negative")
	}
	if c.Loader.MaxFileSize == 0 {
		return fmt.Errorf("loader.maxFileSize must be set")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EPHYS_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("EPHYS_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("EPHYS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("EPHYS_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("EPHYS_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = truthy(v)
	}
	if v := os.Getenv("EPHYS_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("EPHYS_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("EPHYS_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("EPHYS_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("EPHYS_CACHE_TLS"); truthy(v) {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("EPHYS_CACHE_QUERY_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.QueryTTL = d
		}
	}
	if v := os.Getenv("EPHYS_ANALYSIS_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Analysis.Workers = n
		}
	}
	if v := os.Getenv("EPHYS_CLASSIFIER_TABLES"); v != "" {
		cfg.Classifier.TablesPath = v
	}
	if v := os.Getenv("EPHYS_DATA_GLOB"); v != "" {
		cfg.Loader.DataGlob = v
	}
	if v := os.Getenv("EPHYS_REMOTE_BASE_URL"); v != "" {
		cfg.Loader.RemoteBaseURL = v
	}
	if v := os.Getenv("EPHYS_LOADER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Loader.Timeout = d
		}
	}
	if v := os.Getenv("EPHYS_MAX_FILE_SIZE"); v != "" {
		var size datasize.ByteSize
		if err := size.UnmarshalText([]byte(v)); err == nil {
			cfg.Loader.MaxFileSize = size
		}
	}
	if v := os.Getenv("EPHYS_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
}

func truthy(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}
