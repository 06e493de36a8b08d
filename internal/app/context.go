package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"weave/internal/completion"
	"weave/internal/config"
	"weave/internal/db"
	"weave/internal/discovery"
	"weave/internal/engine"
	"weave/internal/ledger"
	"weave/internal/matching"
	"weave/internal/migrate"
	"weave/internal/pipeline"
	"weave/internal/planning"
	"weave/internal/repo"
)

// App holds every wired component. Nothing is looked up globally.
type App struct {
	DB         *sql.DB
	Config     *config.Config
	Log        *zap.Logger
	Repo       repo.Repo
	Engine     engine.Engine
	Completion completion.Service
	Runner     pipeline.Runner
	Queue      *pipeline.Queue
}

type Options struct {
	Workspace    string
	Config       *config.Config
	GeminiAPIKey string
	Logger       *zap.Logger
	// Completion replaces the configured provider when set.
	Completion completion.Service
	Now        func() time.Time
	OnOutcome  func(pipeline.Outcome)
}

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg *config.Config, verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Logging.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logging level: %w", err)
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// Build opens the workspace database, applies migrations and wires the
// pipeline. The queue is created but not started.
func Build(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.LoadOptional(opts.Workspace); err != nil {
			return nil, err
		}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	version, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Debug("database ready", zap.String("path", db.Path(opts.Workspace)), zap.Int("schema_version", version))

	svc, err := completionService(ctx, cfg, opts, log)
	if err != nil {
		conn.Close()
		return nil, err
	}

	r := repo.Repo{DB: conn}
	lw := ledger.Writer{Repo: r, Now: now}
	eng := engine.New(conn, cfg, log.Named("engine"))
	eng.Now = now
	runner := pipeline.Runner{
		Classifier: discovery.Classifier{Repo: r, Completion: svc, Ledger: lw, Log: log.Named("discovery"), Now: now},
		Decomposer: planning.Decomposer{Repo: r, Completion: svc, Ledger: lw, Log: log.Named("planning"), Now: now},
		Matcher: matching.Engine{
			Repo: r, Ledger: lw, Log: log.Named("matching"), Now: now,
			MaxConcurrentTasks: cfg.Matching.MaxConcurrentTasks,
			StrictCapacity:     cfg.Matching.StrictCapacity,
		},
		Log: log.Named("runner"),
	}
	queue := pipeline.NewQueue(runner, pipeline.QueueOptions{
		Workers:     cfg.Pipeline.Workers,
		Size:        cfg.Pipeline.QueueSize,
		MaxAttempts: cfg.Pipeline.MaxAttempts,
		OnOutcome:   opts.OnOutcome,
	}, log)

	return &App{
		DB:         conn,
		Config:     cfg,
		Log:        log,
		Repo:       r,
		Engine:     eng,
		Completion: svc,
		Runner:     runner,
		Queue:      queue,
	}, nil
}

func completionService(ctx context.Context, cfg *config.Config, opts Options, log *zap.Logger) (completion.Service, error) {
	if opts.Completion != nil {
		return opts.Completion, nil
	}
	if cfg.Completion.Provider == config.ProviderNone {
		return completion.Unavailable{}, nil
	}
	g, err := completion.NewGemini(ctx, opts.GeminiAPIKey, cfg.Completion, log)
	if errors.Is(err, completion.ErrNotConfigured) {
		log.Warn("no Gemini API key; every stage will use its local fallback")
		return completion.Unavailable{}, nil
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Close drains the queue and closes the database.
func (a *App) Close() error {
	qerr := a.Queue.Close()
	derr := a.DB.Close()
	return errors.Join(qerr, derr)
}
