package bootstrap

import (
	"context"

	"github.com/turtacn/MedRecord-Ingest/internal/application/ingest"
	"github.com/turtacn/MedRecord-Ingest/internal/config"
	"github.com/turtacn/MedRecord-Ingest/internal/domain/matching"
	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/database/postgres"
	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/database/redis"
	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/extraction"
	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/search/milvus"
	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/storage/minio"
	httpserver "github.com/turtacn/MedRecord-Ingest/internal/interfaces/http"
	"github.com/turtacn/MedRecord-Ingest/internal/interfaces/http/handlers"
	"github.com/turtacn/MedRecord-Ingest/internal/interfaces/http/middleware"
	"github.com/turtacn/MedRecord-Ingest/pkg/types/common"
)

// Version is stamped at build time via ldflags.
var Version = "dev"

// App owns the wired components and their teardown order.
type App struct {
	Server       *httpserver.Server
	Orchestrator *ingest.Orchestrator

	db       *postgres.Connection
	redis    *redis.Client
	indexer  *milvus.Indexer
	producer *kafka.Producer
	logger   logging.Logger
}

// BuildApp wires the infrastructure, the pipeline and the HTTP surface.
func BuildApp(ctx context.Context, cfg *config.Config, logger logging.Logger, migrate bool) (*App, error) {
	if migrate {
		dbURL := postgres.BuildURL(cfg.Database, "pgx5")
		if err := postgres.RunMigrations(dbURL, cfg.Database.MigrationPath); err != nil {
			return nil, err
		}
	}

	db, err := postgres.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	redisClient, err := redis.NewClient(cfg.Redis, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	blobs, err := minio.NewBlobStore(cfg.MinIO, logger)
	if err != nil {
		redisClient.Close()
		db.Close()
		return nil, err
	}
	embedder := milvus.NewHashingEmbedder(cfg.Milvus.EmbeddingDim)
	indexer, err := milvus.NewIndexer(ctx, cfg.Milvus, embedder, logger)
	if err != nil {
		redisClient.Close()
		db.Close()
		return nil, err
	}

	var events ingest.EventPublisher
	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka, logger)
		events = producer
	} else {
		events = kafka.NopPublisher{}
	}

	metrics := prometheus.NewMetrics()
	sessions := repositories.NewSessionRepository(db.Pool(), logger)
	patients := repositories.NewPatientRepository(db.Pool(), logger)
	documents := repositories.NewDocumentRepository(db.Pool(), logger)
	cache := redis.NewCreationCache(redisClient, cfg.Redis.SessionTTL, logger)
	extractor := extraction.NewClient(cfg.Extraction, logger)

	matcher := matching.NewMatcher(patients, matching.Config{
		Weights: matching.Weights{
			Levenshtein: cfg.Matching.LevenshteinWeight,
			TokenSort:   cfg.Matching.TokenSortWeight,
			TokenSet:    cfg.Matching.TokenSetWeight,
		},
		RecordNumberBonus:   cfg.Matching.RecordNumberBonus,
		AutoAssignThreshold: cfg.Matching.AutoAssignThreshold,
		ReviewThreshold:     cfg.Matching.ReviewThreshold,
		TieBandWidth:        cfg.Matching.TieBandWidth,
		MaxCandidates:       cfg.Matching.MaxCandidates,
	})

	processor := ingest.NewProcessor(extractor, indexer, blobs, documents, logger)
	orch := ingest.NewOrchestrator(sessions, patients, matcher, processor, blobs, cache, events, metrics, cfg.Pipeline, logger)

	adminCapability := ingest.CapabilityFunc(func(ctx context.Context, _ common.UserID) bool {
		return middleware.ContextIsAdmin(ctx)
	})
	review := ingest.NewReviewGateway(sessions, orch, adminCapability, logger)
	service := ingest.NewService(orch, review, sessions, blobs, cache, logger)

	health := handlers.NewHealthHandler(Version,
		handlers.CheckerFunc{CheckerName: "postgres", Fn: db.Ping},
		handlers.CheckerFunc{CheckerName: "redis", Fn: redisClient.Ping},
	)
	router := httpserver.NewRouter(httpserver.RouterConfig{
		SessionHandler: handlers.NewSessionHandler(service, cfg.Server.MaxUploadBytes, logger),
		ReviewHandler:  handlers.NewReviewHandler(service, logger),
		HealthHandler:  health,
		AdminHeader:    cfg.Server.AdminHeader,
		Logger:         logger,
		Metrics:        metrics,
	})

	return &App{
		Server:       httpserver.NewServer(cfg.Server, router, logger),
		Orchestrator: orch,
		db:           db,
		redis:        redisClient,
		indexer:      indexer,
		producer:     producer,
		logger:       logger,
	}, nil
}

// Close tears the infrastructure down in reverse dependency order.
func (a *App) Close() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("kafka producer close failed", logging.Err(err))
		}
	}
	if a.indexer != nil {
		if err := a.indexer.Close(); err != nil {
			a.logger.Warn("milvus indexer close failed", logging.Err(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close failed", logging.Err(err))
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}
