// Package cli wires configuration into services and exposes them as cobra
// subcommands of carecontextd.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/cloo-solutions/carecontext/internal/config"
	"github.com/cloo-solutions/carecontext/internal/database"
	"github.com/cloo-solutions/carecontext/internal/domain"
	"github.com/cloo-solutions/carecontext/internal/embedding"
	"github.com/cloo-solutions/carecontext/internal/logging"
	"github.com/cloo-solutions/carecontext/internal/repository"
	"github.com/cloo-solutions/carecontext/internal/service"
	"github.com/cloo-solutions/carecontext/internal/storage"
	"github.com/cloo-solutions/carecontext/internal/telemetry"
)

// App holds the process-wide components. They are built once and shared by
// every request.
type App struct {
	Config    *config.Config
	Embedder  *embedding.Gateway
	Index     service.VectorIndex
	Ingestion *service.IngestionService
	Retrieval *service.RetrievalService
	Summaries *service.SummaryService

	pool     *pgxpool.Pool
	closeFns []func()
}

type appOptions struct {
	migrate bool
}

// NewApp builds every component named in cfg. Close releases them.
func NewApp(ctx context.Context, cfg *config.Config, opts appOptions) (*App, error) {
	app := &App{Config: cfg}
	logger := logging.GetLogger(ctx)

	if cfg.HasSentry() {
		sampleRate := 0.1
		if cfg.Environment == "development" {
			sampleRate = 1.0
		}
		shutdown, err := telemetry.Init(telemetry.Config{
			DSN:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			TracesSampleRate: sampleRate,
			Debug:            cfg.Debug,
		})
		if err != nil {
			logger.Warn("telemetry init failed, continuing without tracing", zap.Error(err))
		} else {
			app.closeFns = append(app.closeFns, shutdown)
		}
	}

	gw, err := embedding.New(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to create embedding gateway: %w", err)
	}
	app.Embedder = gw

	var records service.PatientRecordReader = unavailableRecords{}
	if cfg.DatabaseURL != "" {
		if opts.migrate {
			if err := runMigrations(ctx, cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
				app.Close()
				return nil, err
			}
		}
		pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
		if err != nil {
			app.Close()
			return nil, err
		}
		app.pool = pool
		app.closeFns = append(app.closeFns, pool.Close)
		records = repository.NewPatientRecordRepository(pool)
		logger.Info("connected to database")
	}

	switch cfg.VectorBackend {
	case config.BackendPostgres:
		app.Index = repository.NewVectorIndex(app.pool, repository.TableConfig{
			Knowledge:      cfg.KnowledgeTable,
			PatientRecords: cfg.PatientRecordsTable,
		})
	case config.BackendMemory:
		app.Index = repository.NewMemoryIndex()
		logger.Warn("using in-memory vector index; data is lost on exit")
	default:
		app.Close()
		return nil, fmt.Errorf("unknown vector backend %q", cfg.VectorBackend)
	}

	chunker, err := service.NewChunker(service.ChunkConfig{Size: cfg.ChunkSize, Overlap: cfg.ChunkOverlap})
	if err != nil {
		app.Close()
		return nil, err
	}

	ingestOpts := []service.IngestionOption{}
	if cfg.HasS3() {
		s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			UsePathStyle:    true,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		ingestOpts = append(ingestOpts, service.WithSourceFetcher(s3Client))
	}

	app.Ingestion = service.NewIngestionService(chunker, gw, app.Index, ingestOpts...)
	app.Retrieval = service.NewRetrievalService(gw, app.Index, service.RetrievalConfig{
		TopK:                cfg.TopK,
		ClinicalTopK:        cfg.ClinicalTopK,
		ScoreFloor:          cfg.ScoreFloor,
		RedundancyThreshold: cfg.RedundancyThreshold,
		MaxChunks:           cfg.ContextMaxChunks,
	})
	app.Summaries = service.NewSummaryService(records, app.Ingestion)

	logger.Info("components ready",
		zap.String("vector_backend", cfg.VectorBackend),
		zap.String("embedding_provider", cfg.EmbeddingProvider),
		zap.String("embedding_model", gw.Model()),
		zap.Int("embedding_dimensions", gw.Dimensions()))
	return app, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}

var errNoPatientRecords = errors.New("patient records require CARECONTEXT_DATABASE_URL")

// unavailableRecords stands in for the record store when no database is configured.
type unavailableRecords struct{}

func (unavailableRecords) FetchPatientRecord(context.Context, string) (*domain.PatientRecord, error) {
	return nil, domain.IndexUnavailable(errNoPatientRecords)
}

func (unavailableRecords) ListPatientIDs(context.Context) ([]string, error) {
	return nil, domain.IndexUnavailable(errNoPatientRecords)
}
