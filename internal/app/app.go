// Package app wires the components from configuration. The server and worker
// binaries share it so both see the same stores.
package app

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/ShieldVault/internal/activity"
	"github.com/dharsanguruparan/ShieldVault/internal/api"
	"github.com/dharsanguruparan/ShieldVault/internal/config"
	"github.com/dharsanguruparan/ShieldVault/internal/custody"
	"github.com/dharsanguruparan/ShieldVault/internal/database"
	"github.com/dharsanguruparan/ShieldVault/internal/documents"
	"github.com/dharsanguruparan/ShieldVault/internal/queue"
	"github.com/dharsanguruparan/ShieldVault/internal/repository"
	"github.com/dharsanguruparan/ShieldVault/internal/retention"
	"github.com/dharsanguruparan/ShieldVault/internal/s3storage"
	"github.com/dharsanguruparan/ShieldVault/internal/signature"
	"github.com/dharsanguruparan/ShieldVault/internal/signing"
	"github.com/dharsanguruparan/ShieldVault/internal/storage"
	"github.com/dharsanguruparan/ShieldVault/internal/tracker"
	"github.com/dharsanguruparan/ShieldVault/internal/verification"
)

// App holds the wired components.
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	Store      storage.Store
	Content    storage.ContentStore
	Objects    *s3storage.Storage
	Registry   *documents.Registry
	Resolver   *retention.Resolver
	Custody    *custody.Manager
	Signatures *signature.Engine
	Tracker    *tracker.Tracker
	Verifier   tracker.Verifier
	Compactor  *activity.Compactor

	pool   *pgxpool.Pool
	queue  *asynq.Client
	worker *tracker.Pool
}

// New builds every component. PostgreSQL, S3 and Redis are used when
// configured; otherwise the in-memory stores and the in-process pool stand in.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: log}
	catalog, err := retention.Load(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load retention catalog: %w", err)
	}
	a.Resolver = retention.NewResolver(catalog)

	if cfg.DatabaseURL != "" {
		a.pool, err = database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if err := database.EnsureSchema(ctx, a.pool); err != nil {
			a.Close()
			return nil, err
		}
		a.Store = repository.NewRecordRepository(a.pool)
	} else {
		log.Warn("SHIELDVAULT_DATABASE_URL not set, records are kept in memory")
		a.Store = storage.NewMemoryStore()
	}

	if cfg.S3Endpoint != "" {
		a.Objects, err = s3storage.New(cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := a.Objects.EnsureBuckets(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("ensure buckets: %w", err)
		}
		a.Content = a.Objects
	} else {
		a.Content = storage.NewMemoryContent()
	}

	recorder := activity.NewRecorder()
	tokens := signing.NewSigner(cfg.SigningSecret)
	regOpts := []documents.Option{documents.WithLogger(log.Named("documents"))}
	if a.Objects != nil {
		regOpts = append(regOpts, documents.WithArchive(a.Objects))
	}
	a.Registry = documents.NewRegistry(a.Store, a.Content, recorder, regOpts...)
	a.Custody = custody.NewManager(a.Store, a.Resolver, recorder,
		custody.WithLogger(log.Named("custody")),
		custody.WithAutoLock(cfg.AutoLockOnSign))
	a.Signatures = signature.NewEngine(a.Store, recorder, tokens,
		signature.WithTTL(cfg.SignatureTTL),
		signature.WithNotifier(a.Custody),
		signature.WithLogger(log.Named("signature")))
	a.Tracker = tracker.New(a.Store, recorder,
		tracker.WithPollInterval(cfg.PollInterval),
		tracker.WithLogger(log.Named("tracker")))
	a.Verifier = verification.NewContentVerifier(a.Content, tokens, log.Named("verification"))

	if cfg.RedisAddr != "" {
		a.queue = asynq.NewClient(RedisOpt(cfg))
		a.Tracker.SetDispatcher(queue.NewDispatcher(a.queue))
	} else {
		a.worker = tracker.NewPool(a.Tracker, a.Verifier, cfg.WorkerCount, log.Named("pool"))
		a.Tracker.SetDispatcher(a.worker)
	}

	if a.Objects != nil && cfg.ActivityMaxEntries > 0 {
		a.Compactor = activity.NewCompactor(a.Store, a.Objects, cfg.ActivityMaxEntries, log.Named("compactor"))
	}
	return a, nil
}

// Start launches the background loops: the in-process verification pool and
// the activity compactor. They stop with ctx.
func (a *App) Start(ctx context.Context) {
	if a.worker != nil {
		a.worker.Start(ctx)
	}
	if a.Compactor != nil {
		go a.Compactor.Run(ctx, a.Config.CompactionInterval)
	}
}

// Server returns the HTTP API over the wired components.
func (a *App) Server() *api.Server {
	deps := api.Deps{
		Registry:   a.Registry,
		Resolver:   a.Resolver,
		Custody:    a.Custody,
		Signatures: a.Signatures,
		Tracker:    a.Tracker,
		Logger:     a.Logger.Named("api"),
	}
	if a.Objects != nil {
		deps.Presigner = a.Objects
	}
	return api.New(a.Config, deps)
}

// Close releases connections.
func (a *App) Close() {
	if a.queue != nil {
		_ = a.queue.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// RedisOpt is the asynq connection for cfg.
func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}
