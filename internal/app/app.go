package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/docsage-ai/docsage-backend/internal/config"
	"github.com/docsage-ai/docsage-backend/internal/core"
	db "github.com/docsage-ai/docsage-backend/internal/core/database"
	"github.com/docsage-ai/docsage-backend/internal/core/gate"
	"github.com/docsage-ai/docsage-backend/internal/core/ingestion"
	"github.com/docsage-ai/docsage-backend/internal/core/llm"
	objectclient "github.com/docsage-ai/docsage-backend/internal/core/object-client"
	"github.com/docsage-ai/docsage-backend/internal/core/rag"
	"github.com/docsage-ai/docsage-backend/internal/core/redisx"
	"github.com/docsage-ai/docsage-backend/internal/logger"
	"github.com/docsage-ai/docsage-backend/internal/services"
)

// App owns every long-lived component and their shutdown order.
type App struct {
	Log      *logger.Logger
	DBClient *db.DatabaseClient
	Redis    *redisx.Client
	Server   *Server

	embedder *llm.GeminiEmbedder
	model    *llm.GeminiLLM
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	log, err := logger.New(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	bootCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dbClient, err := db.NewDatabaseClient(bootCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	log.Info("database initialized and ready")

	redisClient, err := redisx.New(bootCtx, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	if redisClient == nil {
		log.Warn("REDIS_URL not set; shared caches and rate budgets are disabled")
	}

	objClient, err := newObjectClient(bootCtx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("object storage: %w", err)
	}

	// Without an API key the system still runs: embeddings degrade to zero
	// vectors, generation answers with the quota message and vision analysis
	// is skipped.
	var (
		geminiEmbedder *llm.GeminiEmbedder
		model          *llm.GeminiLLM
	)
	if cfg.AIAPIKey == "" {
		log.Warn("GEMINI_API_KEY not set; running without embeddings, generation or vision")
	} else {
		geminiEmbedder, err = llm.NewGeminiEmbedder(bootCtx, cfg.AIAPIKey, cfg.EmbedModel)
		if err != nil {
			return nil, fmt.Errorf("embedder: %w", err)
		}
		model, err = llm.NewGeminiLLM(bootCtx, cfg.AIAPIKey, cfg.GenModel)
		if err != nil {
			return nil, fmt.Errorf("llm: %w", err)
		}
	}

	store, err := rag.NewVectorStore(bootCtx, cfg, dbClient, log)
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}
	if err := store.EnsureReady(bootCtx); err != nil {
		return nil, fmt.Errorf("vector store not ready: %w", err)
	}

	gates := gate.NewGates(cfg)
	embedSvc := newEmbeddingService(geminiEmbedder, cfg, redisClient, gates, log)
	generator := newGenerator(model, cfg, redisClient, gates, log)
	retriever := rag.NewRetriever(store, embedSvc, dbClient, log)

	parser := ingestion.NewParser(cfg, log)
	renderer := ingestion.NewRenderer(cfg, log)
	var visionModel core.LLMProvider
	if model != nil {
		visionModel = model
	}
	vision := ingestion.NewVisionAnalyzer(visionModel, nil, cfg.VisionBatchSize, log)

	ingestor := services.NewDocumentIngestor(cfg, dbClient, objClient, parser,
		renderer, vision, embedSvc, store, gates.Documents, log)
	ingestor.Start(ctx, cfg.MaxConcurrentDocuments)

	userSvc := services.NewUserService(dbClient)
	docSvc := services.NewDocumentService(dbClient, objClient, store, ingestor,
		cfg.BucketName, cfg.UploadDir, log)
	searchSvc := services.NewSearchService(retriever, generator, dbClient, gates.Search, log)

	server := NewServer(cfg, userSvc, docSvc, searchSvc, log)

	return &App{
		Log:      log,
		DBClient: dbClient,
		Redis:    redisClient,
		Server:   server,
		embedder: geminiEmbedder,
		model:    model,
	}, nil
}

// newEmbeddingService and newGenerator pass a literal nil downstream when
// no model is configured; a typed-nil pointer would defeat the services'
// degraded-mode checks.
func newEmbeddingService(e *llm.GeminiEmbedder, cfg *config.Config, state *redisx.Client, gates *gate.Gates, log *logger.Logger) *rag.EmbeddingService {
	if e == nil {
		return rag.NewEmbeddingService(nil, cfg, state, gates.Embed, log)
	}
	return rag.NewEmbeddingService(e, cfg, state, gates.Embed, log)
}

func newGenerator(m *llm.GeminiLLM, cfg *config.Config, state *redisx.Client, gates *gate.Gates, log *logger.Logger) *rag.Generator {
	if m == nil {
		return rag.NewGenerator(nil, cfg, state, gates.LLM, log)
	}
	return rag.NewGenerator(m, cfg, state, gates.LLM, log)
}

// newObjectClient picks S3 when credentials are configured and falls back
// to local disk for development.
func newObjectClient(ctx context.Context, cfg *config.Config, log *logger.Logger) (core.ObjectClient, error) {
	if cfg.AwsAccessKey != "" && cfg.AwsSecretKey != "" {
		return objectclient.NewS3Client(ctx, cfg)
	}
	log.Warn("AWS credentials not set; storing objects on local disk", "dir", cfg.UploadDir)
	return objectclient.NewLocalClient(filepath.Join(cfg.UploadDir, "objects"))
}

func (a *App) Close() {
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
	if a.model != nil {
		_ = a.model.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
