// Package config loads the wordfreq run configuration from YAML with
// WORDFREQ_* environment overrides, plus the stoplist and lexicon files the
// lexical annotator uses.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/wordfreq/internal/logging"
	"github.com/cognicore/wordfreq/pkg/wordfreq/chunk"
	"github.com/cognicore/wordfreq/pkg/wordfreq/internalerr"
)

// Store backends.
const (
	BackendSQLite   = "sqlite"
	BackendFlatFile = "flatfile"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Annotator kinds.
const (
	AnnotatorLexical = "lexical"
	AnnotatorRemote  = "remote"
)

// Config is the top-level run configuration.
type Config struct {
	Input     InputConfig     `yaml:"input"`
	Chunk     ChunkConfig     `yaml:"chunk"`
	Annotator AnnotatorConfig `yaml:"annotator"`
	Store     StoreConfig     `yaml:"store"`
	Export    ExportConfig    `yaml:"export"`
	Run       RunConfig       `yaml:"run"`
	Logging   logging.Config  `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// InputConfig names the text source. Path is a file path or s3://bucket/key.
type InputConfig struct {
	Path string   `yaml:"path"`
	HTML bool     `yaml:"html"`
	S3   S3Config `yaml:"s3"`
}

// S3Config holds object storage credentials for s3:// inputs.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	UseSSL    bool   `yaml:"useSSL"`
	Region    string `yaml:"region"`
}

// ChunkConfig controls chunk sizing, in characters.
type ChunkConfig struct {
	Size           int `yaml:"size"`
	SearchDistance int `yaml:"searchDistance"`
}

// Options converts c to chunker options.
func (c ChunkConfig) Options() chunk.Options {
	return chunk.Options{Size: c.Size, SearchDistance: c.SearchDistance}
}

// AnnotatorConfig selects and tunes the annotator.
type AnnotatorConfig struct {
	Kind      string       `yaml:"kind"`
	Workers   int          `yaml:"workers"`
	BatchSize int          `yaml:"batchSize"`
	Stoplist  string       `yaml:"stoplist"`
	Lexicon   string       `yaml:"lexicon"`
	Remote    RemoteConfig `yaml:"remote"`
}

// RemoteConfig points at an HTTP annotation service.
type RemoteConfig struct {
	URL         string        `yaml:"url"`
	APIKey      string        `yaml:"apiKey"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"maxAttempts"`
}

// StoreConfig selects the frequency store backend.
type StoreConfig struct {
	Backend string      `yaml:"backend"`
	Path    string      `yaml:"path"`
	DSN     string      `yaml:"dsn"`
	Table   string      `yaml:"table"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// ExportConfig names the CSV written at the end of a run.
type ExportConfig struct {
	Path string `yaml:"path"`
}

// RunConfig controls resume and memory behaviour of a run.
type RunConfig struct {
	Resume           bool          `yaml:"resume"`
	RunKey           string        `yaml:"runKey"`
	GCEvery          int           `yaml:"gcEvery"`
	ProgressInterval time.Duration `yaml:"progressInterval"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides on top of the defaults. It does not validate.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Chunk: ChunkConfig{
			Size:           500_000,
			SearchDistance: chunk.DefaultSearchDistance,
		},
		Annotator: AnnotatorConfig{
			Kind:      AnnotatorLexical,
			Workers:   2,
			BatchSize: 4,
			Remote: RemoteConfig{
				Timeout:     60 * time.Second,
				MaxAttempts: 3,
			},
		},
		Store: StoreConfig{
			Backend: BackendSQLite,
			Table:   "wc",
			Redis: RedisConfig{
				Addr: "localhost:6379",
				Key:  "wordfreq",
			},
		},
		Run: RunConfig{
			GCEvery:          1,
			ProgressInterval: 10 * time.Second,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

// applyEnvOverrides reads WORDFREQ_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	setString := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	setString("WORDFREQ_INPUT_PATH", &cfg.Input.Path)
	setBool("WORDFREQ_INPUT_HTML", &cfg.Input.HTML)
	setString("WORDFREQ_S3_ENDPOINT", &cfg.Input.S3.Endpoint)
	setString("WORDFREQ_S3_ACCESS_KEY", &cfg.Input.S3.AccessKey)
	setString("WORDFREQ_S3_SECRET_KEY", &cfg.Input.S3.SecretKey)
	setBool("WORDFREQ_S3_USE_SSL", &cfg.Input.S3.UseSSL)
	setString("WORDFREQ_S3_REGION", &cfg.Input.S3.Region)

	setInt("WORDFREQ_CHUNK_SIZE", &cfg.Chunk.Size)
	setInt("WORDFREQ_CHUNK_SEARCH_DISTANCE", &cfg.Chunk.SearchDistance)

	setString("WORDFREQ_ANNOTATOR_KIND", &cfg.Annotator.Kind)
	setInt("WORDFREQ_ANNOTATOR_WORKERS", &cfg.Annotator.Workers)
	setInt("WORDFREQ_ANNOTATOR_BATCH_SIZE", &cfg.Annotator.BatchSize)
	setString("WORDFREQ_ANNOTATOR_URL", &cfg.Annotator.Remote.URL)
	setString("WORDFREQ_ANNOTATOR_API_KEY", &cfg.Annotator.Remote.APIKey)

	setString("WORDFREQ_STORE_BACKEND", &cfg.Store.Backend)
	setString("WORDFREQ_STORE_PATH", &cfg.Store.Path)
	setString("WORDFREQ_STORE_DSN", &cfg.Store.DSN)
	setString("WORDFREQ_REDIS_ADDR", &cfg.Store.Redis.Addr)
	setString("WORDFREQ_REDIS_PASSWORD", &cfg.Store.Redis.Password)
	setInt("WORDFREQ_REDIS_DB", &cfg.Store.Redis.DB)

	setString("WORDFREQ_EXPORT_PATH", &cfg.Export.Path)
	setBool("WORDFREQ_RESUME", &cfg.Run.Resume)

	setString("WORDFREQ_LOGGING_LEVEL", &cfg.Logging.Level)
	setString("WORDFREQ_LOGGING_FORMAT", &cfg.Logging.Format)
	setBool("WORDFREQ_METRICS_ENABLED", &cfg.Metrics.Enabled)
	setString("WORDFREQ_METRICS_ADDR", &cfg.Metrics.Addr)
}

// StorePath returns the store location: Store.Path when set, otherwise the
// export path with its extension replaced by ".db" (".csv" for the flatfile
// backend, which must not collide with the export itself).
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	if c.Export.Path == "" {
		return ""
	}
	base := strings.TrimSuffix(c.Export.Path, filepath.Ext(c.Export.Path))
	if c.Store.Backend == BackendFlatFile {
		return base + ".counts.csv"
	}
	return base + ".db"
}

// Validate reports the first invalid setting, wrapping ErrInvalidConfig.
func (c *Config) Validate() error {
	if _, err := c.Chunk.Options().Validate(); err != nil {
		return err
	}

	switch c.Annotator.Kind {
	case AnnotatorLexical:
	case AnnotatorRemote:
		if c.Annotator.Remote.URL == "" {
			return invalid("annotator.remote.url is required for the remote annotator")
		}
	default:
		return invalid("unknown annotator kind %q", c.Annotator.Kind)
	}
	if c.Annotator.Workers < 1 {
		return invalid("annotator.workers must be at least 1, got %d", c.Annotator.Workers)
	}
	if c.Annotator.BatchSize < 1 {
		return invalid("annotator.batchSize must be at least 1, got %d", c.Annotator.BatchSize)
	}

	switch c.Store.Backend {
	case BackendSQLite, BackendFlatFile:
		if c.StorePath() == "" {
			return invalid("store.path or export.path is required for the %s backend", c.Store.Backend)
		}
	case BackendMemory:
	case BackendPostgres:
		if c.Store.DSN == "" {
			return invalid("store.dsn is required for the postgres backend")
		}
	case BackendRedis:
		if c.Store.Redis.Addr == "" {
			return invalid("store.redis.addr is required for the redis backend")
		}
	default:
		return invalid("unknown store backend %q", c.Store.Backend)
	}

	if c.Run.GCEvery < 0 {
		return invalid("run.gcEvery must not be negative, got %d", c.Run.GCEvery)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", internalerr.ErrInvalidConfig, fmt.Sprintf(format, args...))
}
