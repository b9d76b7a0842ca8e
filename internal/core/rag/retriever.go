package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/docsage-ai/docsage-backend/internal/core"
	"github.com/docsage-ai/docsage-backend/internal/core/ingestion"
	"github.com/docsage-ai/docsage-backend/internal/logger"
	"github.com/docsage-ai/docsage-backend/internal/security"
)

const (
	defaultSearchLimit = 10
	// Rough token budget for the context block handed to the generator.
	contextTokenBudget = 4000
)

// SearchResult is one retrieved chunk enriched with document and page
// metadata for display.
type SearchResult struct {
	ChunkID       string  `json:"chunk_id"`
	DocumentID    string  `json:"document_id"`
	DocumentName  string  `json:"document_name"`
	Content       string  `json:"content"`
	Score         float32 `json:"score"`
	PageNumber    int     `json:"page_number"`
	ChunkType     string  `json:"chunk_type"`
	ImageURL      string  `json:"image_url,omitempty"`
	PageHasCharts bool    `json:"page_has_charts"`
	PageHasTables bool    `json:"page_has_tables"`
	PageHasImages bool    `json:"page_has_images"`
}

// Retriever turns a user query into enriched search results and generator
// context.
type Retriever struct {
	store    core.VectorStore
	embedder core.EmbeddingProvider
	db       core.DbClient
	log      *logger.Logger
}

func NewRetriever(store core.VectorStore, embedder core.EmbeddingProvider, db core.DbClient, log *logger.Logger) *Retriever {
	return &Retriever{
		store:    store,
		embedder: embedder,
		db:       db,
		log:      log.With("service", "retriever"),
	}
}

// Search embeds the query and returns enriched hits scoped to the user.
// includeImages controls whether results carry page-image URLs; the hits
// themselves are the same either way.
func (r *Retriever) Search(ctx context.Context, userID, query string, documentIDs []string, limit int, includeImages bool) ([]SearchResult, error) {
	clean, err := security.SanitizeSearchQuery(query)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	vec, err := r.embedder.EmbedQuery(ctx, clean)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := r.store.Search(ctx, core.VectorQuery{
		Vector:      vec,
		OwnerID:     userID,
		DocumentIDs: documentIDs,
		Limit:       limit,
	})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}
	return r.enrich(ctx, hits, includeImages)
}

// enrich attaches document names and page flags, one batched query per
// table regardless of hit count.
func (r *Retriever) enrich(ctx context.Context, hits []core.VectorHit, includeImages bool) ([]SearchResult, error) {
	seen := make(map[string]struct{})
	var docIDs []string
	for _, h := range hits {
		if _, ok := seen[h.Payload.DocumentID]; ok {
			continue
		}
		seen[h.Payload.DocumentID] = struct{}{}
		docIDs = append(docIDs, h.Payload.DocumentID)
	}

	docs, err := r.db.GetDocumentsByIDs(ctx, docIDs)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	docByID := make(map[string]string, len(docs))
	for _, d := range docs {
		docByID[d.ID] = d.OriginalFilename
	}

	pages, err := r.db.GetPagesForDocuments(ctx, docIDs)
	if err != nil {
		return nil, fmt.Errorf("load pages: %w", err)
	}
	type pageKey struct {
		doc  string
		page int
	}
	pageByKey := make(map[pageKey]struct {
		charts, tables, images bool
	}, len(pages))
	for _, p := range pages {
		pageByKey[pageKey{p.DocumentID, p.PageNumber}] = struct {
			charts, tables, images bool
		}{p.HasCharts, p.HasTables, p.HasImages}
	}

	out := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		res := SearchResult{
			ChunkID:      h.ID,
			DocumentID:   h.Payload.DocumentID,
			DocumentName: docByID[h.Payload.DocumentID],
			Content:      h.Payload.Content,
			Score:        h.Score,
			PageNumber:   h.Payload.PageNumber,
			ChunkType:    h.Payload.ChunkType,
		}
		if h.Payload.PageNumber > 0 {
			if includeImages {
				res.ImageURL = fmt.Sprintf("/api/documents/%s/pages/%d/image",
					h.Payload.DocumentID, h.Payload.PageNumber)
			}
			if flags, ok := pageByKey[pageKey{h.Payload.DocumentID, h.Payload.PageNumber}]; ok {
				res.PageHasCharts = flags.charts
				res.PageHasTables = flags.tables
				res.PageHasImages = flags.images
			}
		}
		out = append(out, res)
	}
	return out, nil
}

// RetrieveForContext builds the generator's context block: results are
// taken greedily in score order until the next one would overflow the
// token budget. Returns the formatted context and the results actually
// included.
func (r *Retriever) RetrieveForContext(ctx context.Context, userID, query string, documentIDs []string) (string, []SearchResult, error) {
	results, err := r.Search(ctx, userID, query, documentIDs, defaultSearchLimit, true)
	if err != nil {
		return "", nil, err
	}

	var (
		blocks []string
		used   []SearchResult
		tokens int
	)
	for _, res := range results {
		block := fmt.Sprintf("[Source: %s, Page %d]\n%s",
			res.DocumentName, res.PageNumber, res.Content)
		cost := ingestion.EstimateTokens(block)
		if tokens+cost > contextTokenBudget {
			break
		}
		tokens += cost
		blocks = append(blocks, block)
		used = append(used, res)
	}
	return strings.Join(blocks, "\n---\n"), used, nil
}
