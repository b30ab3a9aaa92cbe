// Package server initializes and runs the document vault application:
// database and migrations, crypto envelope, blob storage backend, the
// service layer and the periodic trash purge loop.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dmitrijs2005/docvault/internal/cryptox"
	"github.com/dmitrijs2005/docvault/internal/logging"
	"github.com/dmitrijs2005/docvault/internal/server/config"
	"github.com/dmitrijs2005/docvault/internal/server/ocr"
	"github.com/dmitrijs2005/docvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/docvault/internal/server/services"
	"github.com/dmitrijs2005/docvault/internal/server/storage"
)

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB

	DocumentService   *services.DocumentService
	CategoryService   *services.CategoryService
	CategorizeService *services.CategorizeService
	OCRService        *services.OCRService
	SearchService     *services.SearchService
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	env, err := cryptox.New(cfg.MasterSecret)
	if err != nil {
		return nil, fmt.Errorf("crypto init error: %w", err)
	}

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm, err := repomanager.NewPostgresRepositoryManager(env)
	if err != nil {
		return nil, fmt.Errorf("repository manager init error: %w", err)
	}
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	store, err := newBlobStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage init error: %w", err)
	}

	categorizeService := services.NewCategorizeService(db, rm, env, logger)
	extractor := ocr.NewExtractor(cfg.OCRLanguages, cfg.OCRDPI, cfg.OCRMaxPages)
	ocrService := services.NewOCRService(db, rm, cfg, store, env, extractor, categorizeService, logger)

	documentService := services.NewDocumentService(db, rm, cfg, store, env, logger).
		WithEnricher(func(userID, docID int64) {
			// Enrichment runs after the upload transaction and must never
			// fail it; errors are logged and the document stays usable.
			go func() {
				ctx := context.Background()
				if err := ocrService.ProcessDocument(ctx, userID, docID); err != nil {
					logger.Warn(ctx, "ocr enrichment failed",
						"user_id", userID, "document_id", docID, "error", err)
				}
			}()
		})

	return &App{
		config:            cfg,
		logger:            logger,
		db:                db,
		DocumentService:   documentService,
		CategoryService:   services.NewCategoryService(db, rm, env, logger),
		CategorizeService: categorizeService,
		OCRService:        ocrService,
		SearchService:     services.NewSearchService(db, rm, env, logger),
	}, nil
}

func newBlobStore(ctx context.Context, cfg *config.Config) (storage.BlobStore, error) {
	switch cfg.StorageBackend {
	case "s3":
		return storage.NewS3Store(ctx, cfg)
	case "local", "":
		return storage.NewLocalStore(cfg.FilesDir)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// runPurgeLoop hard-deletes expired trash once at startup and then on every
// tick until the context is cancelled.
func (app *App) runPurgeLoop(ctx context.Context) {
	run := func() {
		purgeCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		if _, err := app.DocumentService.PurgeExpired(purgeCtx); err != nil {
			app.logger.Error(ctx, "trash purge failed", "error", err)
		}
	}

	run()

	ticker := time.NewTicker(app.config.PurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		app.runPurgeLoop(ctx)
	}()

	<-ctx.Done()
	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err)
	}
	app.logger.Info(ctx, "App stopped")
}
