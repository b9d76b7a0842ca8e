package rag

import (
	"context"
	"fmt"

	"github.com/docsage-ai/docsage-backend/internal/config"
	"github.com/docsage-ai/docsage-backend/internal/core"
	db "github.com/docsage-ai/docsage-backend/internal/core/database"
	"github.com/docsage-ai/docsage-backend/internal/logger"
)

// NewVectorStore selects the similarity index from config: "qdrant",
// "pgvector", or disabled (anything else) which degrades to zero hits.
func NewVectorStore(ctx context.Context, cfg *config.Config, dbClient *db.DatabaseClient, log *logger.Logger) (core.VectorStore, error) {
	switch cfg.VectorProvider {
	case "qdrant":
		store, err := NewQdrantStore(cfg, log)
		if err != nil {
			return nil, fmt.Errorf("qdrant vector store: %w", err)
		}
		if err := store.EnsureReady(ctx); err != nil {
			return nil, fmt.Errorf("qdrant vector store: %w", err)
		}
		return store, nil
	case "pgvector":
		if dbClient == nil {
			return nil, fmt.Errorf("pgvector vector store requires a database")
		}
		return NewPgvectorStore(dbClient.DB(), cfg.EmbedDim, log), nil
	default:
		log.Warn("vector store disabled; search will return no results",
			"provider", cfg.VectorProvider)
		return DisabledStore{}, nil
	}
}

// DisabledStore is the degraded no-op index: writes vanish, searches come
// back empty, the rest of the system keeps working.
type DisabledStore struct{}

func (DisabledStore) EnsureReady(ctx context.Context) error { return nil }

func (DisabledStore) Upsert(ctx context.Context, records []core.VectorRecord) error { return nil }

func (DisabledStore) Search(ctx context.Context, q core.VectorQuery) ([]core.VectorHit, error) {
	if q.OwnerID == "" {
		return nil, opErr("query", OperationErrorValidation, "owner id is required", nil)
	}
	return nil, nil
}

func (DisabledStore) DeleteByDocument(ctx context.Context, ownerID, documentID string) error {
	return nil
}
