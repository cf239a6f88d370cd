package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"cv-backend/internal/generations"
	"cv-backend/internal/latex"
	"cv-backend/internal/queue"
	"cv-backend/internal/services/health"
	"cv-backend/internal/shared/config"
	"cv-backend/internal/shared/server"
	"cv-backend/internal/shared/server/middleware"
	"cv-backend/internal/shared/storage/db"
	"cv-backend/internal/shared/storage/object"
	localstore "cv-backend/internal/shared/storage/object/local"
	s3store "cv-backend/internal/shared/storage/object/s3"
	"cv-backend/internal/workerproc"
)

// App holds shared dependencies for every entrypoint.
type App struct {
	Config              config.Config
	Router              *gin.Engine
	DB                  *sql.DB
	Store               object.ObjectStore
	Queue               queue.Client
	LocalQueue          *queue.LocalQueue
	Compiler            *latex.PDFLatex
	GenerationsRepo     generations.Repo
	GenerationsService  *generations.Service
	GenerationProcessor workerproc.Processor
	GenerationHandler   *generations.Handler
	Health              *health.Service
}

// Build prepares shared dependencies and the router.
func Build(cfg config.Config) (*App, error) {
	cfg = config.Normalize(cfg)
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	queueClient, localQueue, err := buildQueue(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir %s: %w", cfg.WorkDir, err)
	}

	app := &App{
		Config:     cfg,
		DB:         sqlDB,
		Store:      store,
		Queue:      queueClient,
		LocalQueue: localQueue,
		Compiler:   latex.NewPDFLatex(cfg.CompilerPath, cfg.CompileTimeout),
	}
	buildServices(app)

	app.Router = server.NewRouter(server.RouterDeps{
		Config:            app.Config,
		GenerationHandler: app.GenerationHandler,
		Health:            app.Health,
		RateLimiter:       middleware.NewRateLimiter(nil),
	})

	return app, nil
}

// StartWorkers launches in-process consumers when no external queue is configured.
func (a *App) StartWorkers(ctx context.Context) {
	if a.LocalQueue == nil {
		return
	}
	a.LocalQueue.Start(ctx, a.Config.WorkerConcurrency, func(ctx context.Context, msg queue.Message) error {
		return workerproc.HandleMessage(ctx, a.GenerationProcessor, msg)
	})
	log.Printf("bootstrap: local queue started workers=%d buffer=%d", a.Config.WorkerConcurrency, a.Config.QueueBuffer)
}

// Close drains local workers and releases the database pool.
func (a *App) Close() {
	if a.LocalQueue != nil {
		a.LocalQueue.Close()
	}
	if a.DB != nil && !db.IsLambdaRuntime() {
		if err := a.DB.Close(); err != nil {
			log.Printf("bootstrap: close database: %v", err)
		}
	}
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if cfg.IsDevLike() {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	var (
		sqlDB *sql.DB
		err   error
	)
	if db.IsLambdaRuntime() {
		opts := db.OptionsFromEnv(db.DefaultLambdaOptions())
		sqlDB, err = db.GetSingleton(ctx, cfg.DatabaseURL, opts)
	} else {
		opts := db.OptionsFromEnv(db.DefaultServerOptions())
		sqlDB, err = db.ConnectAndMigrate(ctx, cfg.DatabaseURL, opts)
	}
	if err != nil {
		if cfg.IsDevLike() {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}

	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=s3 requires S3_BUCKET")
		}
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildQueue(ctx context.Context, cfg config.Config) (queue.Client, *queue.LocalQueue, error) {
	if strings.TrimSpace(cfg.QueueURL) == "" {
		local := queue.NewLocalQueue(cfg.QueueBuffer)
		return local, local, nil
	}
	client, err := queue.NewSQSClient(ctx, cfg.AWSRegion, cfg.QueueURL)
	if err != nil {
		return nil, nil, err
	}
	return client, nil, nil
}

func buildServices(app *App) {
	var repo generations.Repo
	if app.DB != nil {
		repo = &generations.PGRepo{DB: app.DB}
	} else {
		repo = generations.NewMemoryRepo()
	}

	svc := generations.NewService(repo, app.Store, app.Compiler, app.Queue, generations.Config{
		TemplatePath:          app.Config.TemplatePath,
		Placeholder:           app.Config.Placeholder,
		WorkDir:               app.Config.WorkDir,
		KeepWorkDirs:          app.Config.KeepWorkDirs,
		MaxConcurrentCompiles: app.Config.MaxConcurrentCompiles,
	})

	checks := health.NewService().
		Register("template", health.FileReadable(app.Config.TemplatePath)).
		Register("compiler", health.Available(app.Compiler))
	if app.DB != nil {
		checks.Register("database", health.Ping(app.DB))
	}

	app.GenerationsRepo = repo
	app.GenerationsService = svc
	app.GenerationProcessor = svc
	app.GenerationHandler = generations.NewHandler(svc)
	app.Health = checks
}
