// Package app wires the stores, providers and services shared by the API
// server, the worker and the CLI.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dharsanguruparan/AthleteDocs/internal/athleteid"
	"github.com/dharsanguruparan/AthleteDocs/internal/blobstore"
	"github.com/dharsanguruparan/AthleteDocs/internal/config"
	"github.com/dharsanguruparan/AthleteDocs/internal/database"
	"github.com/dharsanguruparan/AthleteDocs/internal/extraction"
	"github.com/dharsanguruparan/AthleteDocs/internal/model"
	"github.com/dharsanguruparan/AthleteDocs/internal/processing"
	"github.com/dharsanguruparan/AthleteDocs/internal/queue"
	"github.com/dharsanguruparan/AthleteDocs/internal/repository"
	"github.com/dharsanguruparan/AthleteDocs/internal/signing"
	"github.com/dharsanguruparan/AthleteDocs/internal/storage"
	"github.com/dharsanguruparan/AthleteDocs/internal/upload"
	"github.com/dharsanguruparan/AthleteDocs/internal/vertex"
	"github.com/dharsanguruparan/AthleteDocs/internal/worker"
)

// Store is everything the services need from persistence. Both the Postgres
// repositories and the memory store satisfy it.
type Store interface {
	processing.Store
	upload.Store
	queue.Store
	athleteid.Store
	NotificationsByEntity(ctx context.Context, entityType model.EntityType, entityID int64) ([]model.Notification, error)
}

var (
	_ Store = (*repository.Store)(nil)
	_ Store = (*storage.MemoryStore)(nil)
)

// App holds the constructed services.
type App struct {
	Config    *config.Config
	Logger    *logrus.Logger
	Store     Store
	Blobs     blobstore.Store
	Queue     *queue.Queue
	IDs       *athleteid.Generator
	Pipeline  *extraction.Pipeline
	Processor *processing.Processor
	Uploads   *upload.Handler
	Signer    *signing.Signer

	closers []func()
}

type options struct {
	store  Store
	blobs  blobstore.Store
	vision extraction.VisionProvider
	llm    extraction.LanguageModel
	extra  []extraction.Option
}

type Option func(*options)

// WithStore skips the backend selected by config.
func WithStore(s Store) Option {
	return func(o *options) { o.store = s }
}

func WithBlobs(b blobstore.Store) Option {
	return func(o *options) { o.blobs = b }
}

// WithProviders replaces the Vertex AI clients.
func WithProviders(vision extraction.VisionProvider, llm extraction.LanguageModel) Option {
	return func(o *options) {
		o.vision = vision
		o.llm = llm
	}
}

// WithPipelineOptions appends extraction options.
func WithPipelineOptions(opts ...extraction.Option) Option {
	return func(o *options) { o.extra = append(o.extra, opts...) }
}

// New builds every service. On error anything already opened is closed.
func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger, opts ...Option) (a *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	a = &App{Config: cfg, Logger: logger}
	built := a
	defer func() {
		if err != nil {
			built.Close()
		}
	}()

	if a.Store = o.store; a.Store == nil {
		if a.Store, err = a.openStore(ctx); err != nil {
			return nil, err
		}
	}
	if a.Blobs = o.blobs; a.Blobs == nil {
		if a.Blobs, err = blobstore.New(ctx, cfg); err != nil {
			return nil, fmt.Errorf("init blob storage: %w", err)
		}
		if c, ok := a.Blobs.(interface{ Close() error }); ok {
			a.onClose(func() { _ = c.Close() })
		}
	}
	if o.vision == nil || o.llm == nil {
		client, err := a.openVertex(ctx)
		if err != nil {
			return nil, err
		}
		o.vision, o.llm = client, client
	}

	var queueOpts []queue.Option
	if redis := a.RedisOpt(); redis != nil {
		inspector := asynq.NewInspector(*redis)
		a.onClose(func() { _ = inspector.Close() })
		queueOpts = append(queueOpts, queue.WithInspector(inspector))
	}
	a.Queue = queue.New(a.Store, logger, queueOpts...)
	a.IDs = athleteid.New(a.Store, logger)

	pipelineOpts := append([]extraction.Option{
		extraction.WithPDFTextLayer(),
		extraction.WithStageHook(processing.StageProgress),
		extraction.WithLogger(logger),
	}, o.extra...)
	a.Pipeline = extraction.NewPipeline(o.vision, o.llm, pipelineOpts...)
	a.Processor = processing.New(a.Store, a.Blobs, a.Pipeline, a.IDs, a.Queue, logger, processing.WithStallTimeout(cfg.StallTimeout))
	a.Uploads = upload.NewHandler(a.Store, a.Blobs, a.Queue, upload.LimitsFromConfig(cfg), logger)
	a.Signer = signing.NewSigner([]byte(cfg.SigningSecret), cfg.SignedURLTTL)
	return a, nil
}

func (a *App) openStore(ctx context.Context) (Store, error) {
	if a.Config.StoreBackend == "memory" {
		a.Logger.Warn("using in-memory store, data is lost on exit")
		return storage.NewMemoryStore(), nil
	}
	pool, err := database.Connect(ctx, a.Config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.onClose(pool.Close)
	if err := database.EnsureSchema(ctx, pool); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return repository.New(pool), nil
}

func (a *App) openVertex(ctx context.Context) (*vertex.Client, error) {
	if a.Config.GCPProject == "" {
		return nil, fmt.Errorf("set %s_GCP_PROJECT for the vision and language model providers", config.Prefix)
	}
	client, err := vertex.NewClient(ctx, a.Config.GCPProject, a.Config.VertexRegion, a.Config.VertexModel)
	if err != nil {
		return nil, fmt.Errorf("init vertex ai: %w", err)
	}
	a.onClose(func() { _ = client.Close() })
	return client, nil
}

// RedisOpt is nil when no Redis address is configured.
func (a *App) RedisOpt() *asynq.RedisClientOpt {
	if a.Config.RedisAddr == "" {
		return nil
	}
	return &asynq.RedisClientOpt{
		Addr:     a.Config.RedisAddr,
		Password: a.Config.RedisPassword,
		DB:       a.Config.RedisDB,
	}
}

// NewPool returns a worker pool with every job type registered.
func (a *App) NewPool(workerID string) *queue.Pool {
	pool := queue.NewPool(a.Queue, queue.PoolConfig{
		WorkerID:          workerID,
		PollInterval:      a.Config.PollInterval,
		HeartbeatInterval: a.Config.HeartbeatInterval,
	})
	pool.Register(model.JobDocumentProcessing, a.Processor.HandleDocumentJob)
	pool.Register(model.JobOCRExtraction, a.Processor.HandleOCRJob)
	pool.Register(model.JobDataValidation, a.Processor.HandleValidationJob)
	pool.Register(model.JobAuthenticityCheck, a.Processor.HandleAuthenticityJob)
	return pool
}

// NewMaintenance returns the periodic queue upkeep runner.
func (a *App) NewMaintenance() *worker.Maintenance {
	return worker.NewMaintenance(a.Queue, worker.RetentionFromConfig(a.Config), a.Config.MaintenanceInterval, a.Logger)
}

// WorkerID names this process in job locks: hostname-pid.
func WorkerID() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// EmbeddedWorkers reports whether the API process has to run the workers
// itself. A memory store is private to its process, so no separate worker
// can see its jobs.
func (a *App) EmbeddedWorkers() bool {
	return a.Config.StoreBackend == "memory"
}

// RunWorkers runs the worker pool and queue maintenance until ctx is done.
func (a *App) RunWorkers(ctx context.Context, workerID string) error {
	pool := a.NewPool(workerID)
	maintenance := a.NewMaintenance()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(ctx) })
	g.Go(func() error { return maintenance.Run(ctx, a.RedisOpt()) })
	a.Logger.WithField("worker_id", workerID).Info("workers started")
	return g.Wait()
}

// FileURL returns a download link for key: presigned by the blob backend
// when it can, otherwise an HMAC signed URL under base.
func (a *App) FileURL(ctx context.Context, base, key string) (string, time.Time, error) {
	expires := time.Now().Add(a.Config.SignedURLTTL)
	if p, ok := a.Blobs.(blobstore.Presigner); ok {
		url, err := p.PresignGet(ctx, key, a.Config.SignedURLTTL)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("presign %s: %w", key, err)
		}
		return url, expires, nil
	}
	return a.Signer.URL(base, key), expires, nil
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
