package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"precursor/internal/collect"
	"precursor/internal/config"
	"precursor/internal/embedding"
	"precursor/internal/errors"
	"precursor/internal/feedback"
	"precursor/internal/model"
	"precursor/internal/pipeline"
	"precursor/internal/slogutil"
	"precursor/internal/storage"
	"precursor/internal/validation"
)

// Signal sources selectable with --source.
const (
	sourceDir = "dir"
	sourceGit = "git"
)

// modelStore is the persistence surface the commands need. Both
// *storage.Store and storage.Null satisfy it.
type modelStore interface {
	pipeline.Persister
	LoadModel(ctx context.Context, version string) (*model.Bundle, error)
	SaveValidationReport(ctx context.Context, r *validation.Report) (string, error)
	SaveRetrainingSignal(ctx context.Context, sig *feedback.RetrainingSignal) error
	Close() error
}

// app bundles everything a command needs.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   modelStore
	source  collect.Source
	engine  *pipeline.Engine
	metrics *prometheus.Registry
	closers []func() error
}

// appMode controls how much of the app a command needs.
type appMode int

const (
	// modeTrain needs a temporal configuration only
	modeTrain appMode = iota

	// modeScore also needs scoring calibration and a saved model
	modeScore
)

// loadConfig loads the configuration from --config or --root.
func loadConfig() (*config.Config, error) {
	if configFlag != "" {
		return config.LoadConfigFromPath(configFlag)
	}
	return config.LoadConfig(rootFlag)
}

// newLogger builds the CLI logger. -v and --quiet override the configured
// level; --log-file tees every record to a file.
func newLogger(cfg *config.Config, verbositySet bool) (*slog.Logger, func() error, error) {
	level := slogutil.LevelFromString(cfg.Logging.Level)
	if verbositySet || quietFlag {
		level = slogutil.LevelFromVerbosity(verbosity, quietFlag)
	}
	stderr := slogutil.NewFormatLogger(os.Stderr, cfg.Logging.Format, level)
	if logFileFlag == "" {
		return stderr, func() error { return nil }, nil
	}

	// The file always gets debug output regardless of the terminal level.
	fileLogger, f, err := slogutil.NewFileLogger(logFileFlag, slog.LevelDebug)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	tee := slog.New(slogutil.NewTeeHandler(stderr.Handler(), fileLogger.Handler()))
	return tee, f.Close, nil
}

// newApp wires config, logging, storage, the signal source, the embedder
// and the pipeline engine. In modeScore the saved model is loaded into the
// engine's registry.
func newApp(ctx context.Context, verbositySet bool, mode appMode) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if mode == modeScore {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	logger, closeLog, err := newLogger(cfg, verbositySet)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, closers: []func() error{closeLog}}

	a.store, err = openStore(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.store.Close)

	a.source, err = newSource(logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	embedder, err := embedding.New(cfg.Embedding, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.metrics = prometheus.NewRegistry()
	a.engine, err = pipeline.New(pipeline.Options{
		Config:    cfg,
		Embedder:  embedder,
		Persister: a.store,
		Metrics:   pipeline.NewMetrics(a.metrics),
		Logger:    logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	if mode == modeScore {
		if err := a.loadModel(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	logger.Debug("Initialized",
		"root", rootFlag,
		"embedding", embedder.Name(),
		"source", sourceFlag,
		"storage", cfg.Storage.Enabled,
	)
	return a, nil
}

// loadModel publishes the saved model selected by --model.
func (a *app) loadModel(ctx context.Context) error {
	b, err := a.store.LoadModel(ctx, modelFlag)
	if err != nil {
		return err
	}
	if err := a.engine.Registry().Publish(b); err != nil {
		return err
	}
	a.logger.Info("Loaded model", "version", b.Version, "clusters", len(b.Model.Clusters()), "corpus", len(b.Corpus))
	return nil
}

// Close releases resources in reverse order and logs collected metrics.
func (a *app) Close() {
	if a.metrics != nil {
		logMetrics(a.logger, a.metrics)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.logger != nil {
			a.logger.Warn("Failed to release resource", "error", err.Error())
		}
	}
	a.closers = nil
}

// openStore opens SQLite storage, or a Null store when storage is disabled.
func openStore(cfg *config.Config, logger *slog.Logger) (modelStore, error) {
	if !cfg.Storage.Enabled {
		return storage.Null{}, nil
	}
	path := cfg.Storage.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(rootFlag, path)
	}
	s, err := storage.OpenStore(path, logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// newSource builds the signal collector selected by --source.
func newSource(logger *slog.Logger) (collect.Source, error) {
	root := signalsFlag
	if !filepath.IsAbs(root) {
		root = filepath.Join(rootFlag, root)
	}
	switch sourceFlag {
	case sourceDir:
		return collect.NewDirSource(root, logger), nil
	case sourceGit:
		return collect.NewGitSource(root, collect.DefaultGitTimeout, logger), nil
	default:
		return nil, errors.Newf(errors.ConfigInvalid, "unknown source %q: want %s or %s", sourceFlag, sourceDir, sourceGit)
	}
}

// logMetrics reports the collected pipeline metrics at debug level.
func logMetrics(logger *slog.Logger, g prometheus.Gatherer) {
	if logger == nil || !logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	families, err := g.Gather()
	if err != nil {
		logger.Debug("Failed to gather metrics", "error", err.Error())
		return
	}
	for _, mf := range families {
		logger.Debug("Metric", "name", mf.GetName(), "series", len(mf.GetMetric()))
	}
}

// newContext returns a context cancelled on SIGINT or SIGTERM.
func newContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
