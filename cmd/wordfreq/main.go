// Command wordfreq counts lemma frequencies in a large text and exports them
// as CSV rows (lemma, frequency) ordered by frequency.
//
// Usage:
//
//	wordfreq -input corpus.txt -output counts.csv [flags]
//	wordfreq export -output counts.csv [-store-path counts.db]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/cognicore/wordfreq/internal/logging"
	"github.com/cognicore/wordfreq/pkg/wordfreq/annotate"
	"github.com/cognicore/wordfreq/pkg/wordfreq/annotate/lexical"
	"github.com/cognicore/wordfreq/pkg/wordfreq/annotate/remote"
	"github.com/cognicore/wordfreq/pkg/wordfreq/config"
	"github.com/cognicore/wordfreq/pkg/wordfreq/metrics"
	"github.com/cognicore/wordfreq/pkg/wordfreq/pipeline"
	"github.com/cognicore/wordfreq/pkg/wordfreq/source"
	"github.com/cognicore/wordfreq/pkg/wordfreq/store"
	"github.com/cognicore/wordfreq/pkg/wordfreq/store/backend"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "wordfreq:", err)
		}
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	if len(args) > 0 && args[0] == "export" {
		cfg, err := parseFlags("export", args[1:], stderr)
		if err != nil {
			return err
		}
		return exportCmd(ctx, cfg, logging.New(cfg.Logging, stderr))
	}

	cfg, err := parseFlags("wordfreq", args, stderr)
	if err != nil {
		return err
	}
	if cfg.Input.Path == "" {
		return fmt.Errorf("-input required")
	}
	if cfg.Export.Path == "" {
		return fmt.Errorf("-output required")
	}
	_, err = countCmd(ctx, cfg, logging.New(cfg.Logging, stderr))
	return err
}

// parseFlags loads -config and applies explicitly set flags on top of it.
func parseFlags(name string, args []string, stderr io.Writer) (*config.Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		configPath     = fs.String("config", "", "YAML config file (optional)")
		input          = fs.String("input", "", "Input text file or s3://bucket/key (.gz, .zst, .lz4 are decompressed)")
		output         = fs.String("output", "", "CSV export path")
		html           = fs.Bool("html", false, "Strip HTML tags from the input")
		batchSize      = fs.Int("batch-size", 0, "Chunks per worker per annotator call")
		workers        = fs.Int("workers", 0, "Annotator workers")
		chunkSize      = fs.Int("chunk-size", 0, "Target chunk size in characters (min 45)")
		searchDistance = fs.Int("search-distance", 0, "Backward word-boundary search distance in characters")
		backendName    = fs.String("store", "", "Store backend: sqlite, flatfile, memory, postgres, redis")
		storePath      = fs.String("store-path", "", "Store file (default: output path with .db extension)")
		dsn            = fs.String("dsn", "", "Postgres DSN")
		redisAddr      = fs.String("redis-addr", "", "Redis address")
		annotatorKind  = fs.String("annotator", "", "Annotator: lexical or remote")
		annotatorURL   = fs.String("annotator-url", "", "Remote annotator endpoint")
		stoplistPath   = fs.String("stoplist", "", "Stoplist YAML for the lexical annotator")
		lexiconPath    = fs.String("lexicon", "", "Lexicon YAML for the lexical annotator")
		resume         = fs.Bool("resume", false, "Checkpoint every chunk and skip chunks a previous run committed")
		gcEvery        = fs.Int("gc-every", -1, "Force a GC every n chunks (0 disables)")
		logLevel       = fs.String("log-level", "", "Log level: debug, info, warn, error")
		logFormat      = fs.String("log-format", "", "Log format: text or json")
		metricsAddr    = fs.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "input":
			cfg.Input.Path = *input
		case "output":
			cfg.Export.Path = *output
		case "html":
			cfg.Input.HTML = *html
		case "batch-size":
			cfg.Annotator.BatchSize = *batchSize
		case "workers":
			cfg.Annotator.Workers = *workers
		case "chunk-size":
			cfg.Chunk.Size = *chunkSize
		case "search-distance":
			cfg.Chunk.SearchDistance = *searchDistance
		case "store":
			cfg.Store.Backend = *backendName
		case "store-path":
			cfg.Store.Path = *storePath
		case "dsn":
			cfg.Store.DSN = *dsn
		case "redis-addr":
			cfg.Store.Redis.Addr = *redisAddr
		case "annotator":
			cfg.Annotator.Kind = *annotatorKind
		case "annotator-url":
			cfg.Annotator.Remote.URL = *annotatorURL
		case "stoplist":
			cfg.Annotator.Stoplist = *stoplistPath
		case "lexicon":
			cfg.Annotator.Lexicon = *lexiconPath
		case "resume":
			cfg.Run.Resume = *resume
		case "gc-every":
			cfg.Run.GCEvery = *gcEvery
		case "log-level":
			cfg.Logging.Level = *logLevel
		case "log-format":
			cfg.Logging.Format = *logFormat
		case "metrics-addr":
			cfg.Metrics.Enabled = true
			cfg.Metrics.Addr = *metricsAddr
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// countCmd processes the input into the store and exports it.
func countCmd(ctx context.Context, cfg *config.Config, logger *slog.Logger) (pipeline.Stats, error) {
	logger.Info("starting",
		"input", cfg.Input.Path,
		"batch_size", cfg.Annotator.BatchSize,
		"workers", cfg.Annotator.Workers,
		"chunk_size", cfg.Chunk.Size,
		"store", cfg.Store.Backend,
	)
	start := time.Now()

	ann, err := buildAnnotator(cfg, logger)
	if err != nil {
		return pipeline.Stats{}, err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(reg)
		shutdown := metrics.StartServer(cfg.Metrics.Addr, reg, logger)
		defer stopMetrics(shutdown, logger)
	}

	st, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		return pipeline.Stats{}, err
	}
	defer st.Close()

	text, err := source.Read(ctx, cfg.Input.Path, source.Options{
		HTML: cfg.Input.HTML,
		S3: source.S3Options{
			Endpoint:  cfg.Input.S3.Endpoint,
			AccessKey: cfg.Input.S3.AccessKey,
			SecretKey: cfg.Input.S3.SecretKey,
			UseSSL:    cfg.Input.S3.UseSSL,
			Region:    cfg.Input.S3.Region,
		},
		Logger: logger,
	})
	if err != nil {
		return pipeline.Stats{}, err
	}
	text = strings.ToLower(text)

	var runKey string
	if cfg.Run.Resume {
		runKey = cfg.Run.RunKey
		if runKey == "" {
			runKey = pipeline.RunKey(text, cfg.Chunk.Options())
		}
	}

	runner, err := pipeline.New(pipeline.Options{
		Annotator: ann,
		Store:     st,
		Logger:    logger,
		Metrics:   m,
		Chunk:     cfg.Chunk.Options(),
		BatchSize: cfg.Annotator.BatchSize,
		Workers:   cfg.Annotator.Workers,
		GCEvery:   cfg.Run.GCEvery,
		RunKey:    runKey,
		Progress:  cfg.Run.ProgressInterval,
	})
	if err != nil {
		return pipeline.Stats{}, err
	}

	stats, err := runner.Run(ctx, text)
	if err != nil {
		return stats, err
	}

	if err := store.ExportFile(ctx, st, cfg.Export.Path); err != nil {
		return stats, err
	}
	logger.Info("exported counts", "path", cfg.Export.Path, "lemmas", stats.Lemmas)
	logger.Info("time taken", "elapsed", time.Since(start))
	return stats, nil
}

func stopMetrics(shutdown func(context.Context) error, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Warn("metrics server shutdown", "error", err)
	}
}

// exportCmd writes the existing store to the export path without processing.
func exportCmd(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Export.Path == "" {
		return fmt.Errorf("-output required")
	}
	st, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := store.ExportFile(ctx, st, cfg.Export.Path); err != nil {
		return err
	}
	n, err := st.Len(ctx)
	if err != nil {
		return err
	}
	logger.Info("exported counts", "path", cfg.Export.Path, "lemmas", n)
	return nil
}

func buildAnnotator(cfg *config.Config, logger *slog.Logger) (annotate.Annotator, error) {
	switch cfg.Annotator.Kind {
	case config.AnnotatorRemote:
		return &remote.Client{
			URL:         cfg.Annotator.Remote.URL,
			APIKey:      cfg.Annotator.Remote.APIKey,
			MaxAttempts: cfg.Annotator.Remote.MaxAttempts,
			Workers:     cfg.Annotator.Workers,
			HTTPClient:  newHTTPClient(cfg.Annotator.Remote.Timeout),
			Logger:      logger,
		}, nil
	default:
		var opts lexical.Options
		if cfg.Annotator.Stoplist != "" {
			sl, err := config.LoadStoplist(cfg.Annotator.Stoplist)
			if err != nil {
				return nil, fmt.Errorf("load stoplist: %w", err)
			}
			opts.Stopwords = sl.Terms
		}
		if cfg.Annotator.Lexicon != "" {
			lex, err := config.LoadLexicon(cfg.Annotator.Lexicon)
			if err != nil {
				return nil, fmt.Errorf("load lexicon: %w", err)
			}
			opts.Lemmas = lex.Lemmas()
		}
		logger.Info("lexical annotator ready", "stopwords", len(opts.Stopwords), "lemmas", len(opts.Lemmas))
		return annotate.Parallel(lexical.New(opts), cfg.Annotator.Workers), nil
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
