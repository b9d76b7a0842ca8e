package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/docsage-ai/docsage-backend/internal/core"
	"github.com/docsage-ai/docsage-backend/internal/core/gate"
	"github.com/docsage-ai/docsage-backend/internal/core/rag"
	"github.com/docsage-ai/docsage-backend/internal/logger"
	"github.com/docsage-ai/docsage-backend/internal/models"
	"github.com/docsage-ai/docsage-backend/internal/security"
)

const (
	noContextAnswer     = "I couldn't find anything relevant in your documents for that question."
	searchLogMaxAnswer  = 2000
	searchLogTimeout    = 5 * time.Second
)

// contextRetriever and answerGenerator keep the service testable without a
// vector store or a live model behind it.
type contextRetriever interface {
	Search(ctx context.Context, userID, query string, documentIDs []string, limit int, includeImages bool) ([]rag.SearchResult, error)
	RetrieveForContext(ctx context.Context, userID, query string, documentIDs []string) (string, []rag.SearchResult, error)
}

type answerGenerator interface {
	Generate(ctx context.Context, query, contextText string) (*rag.GenerationResult, error)
}

// AskResponse is the full answer to a question: generated text plus the
// sources that fed it.
type AskResponse struct {
	Answer    string             `json:"answer"`
	Model     string             `json:"model,omitempty"`
	Sources   []rag.SearchResult `json:"sources"`
	Blocked   bool               `json:"blocked,omitempty"`
	FromCache bool               `json:"from_cache,omitempty"`
}

type SearchService struct {
	retriever contextRetriever
	generator answerGenerator
	db        core.DbClient
	gate      *gate.Gate
	log       *logger.Logger
}

func NewSearchService(retriever contextRetriever, generator answerGenerator, db core.DbClient, g *gate.Gate, log *logger.Logger) *SearchService {
	return &SearchService{
		retriever: retriever,
		generator: generator,
		db:        db,
		gate:      g,
		log:       log.With("service", "search"),
	}
}

// Search returns raw retrieval results without generation.
func (s *SearchService) Search(ctx context.Context, userID, query string, documentIDs []string, limit int, includeImages bool) ([]rag.SearchResult, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.retriever.Search(ctx, userID, query, documentIDs, limit, includeImages)
}

// Ask retrieves context and generates an answer with citations. Throttle
// and quota failures come back as degraded answers, not errors; the query
// is logged asynchronously either way.
func (s *SearchService) Ask(ctx context.Context, userID, query string, documentIDs []string) (*AskResponse, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	started := time.Now()

	contextText, sources, err := s.retriever.RetrieveForContext(ctx, userID, query, documentIDs)
	if err != nil {
		if errors.Is(err, security.ErrPromptInjection) {
			resp := &AskResponse{Answer: rag.MsgBlocked, Blocked: true, Sources: []rag.SearchResult{}}
			s.logAsync(userID, query, resp.Answer, 0, started)
			return resp, nil
		}
		return nil, err
	}

	var resp *AskResponse
	if contextText == "" {
		resp = &AskResponse{Answer: noContextAnswer, Sources: []rag.SearchResult{}}
	} else {
		result, err := s.generator.Generate(ctx, query, contextText)
		switch {
		case err == nil:
			resp = &AskResponse{
				Answer:    result.Answer,
				Model:     result.Model,
				Sources:   sources,
				Blocked:   result.Blocked,
				FromCache: result.FromCache,
			}
		case core.IsThrottled(err):
			resp = &AskResponse{Answer: rag.MsgThrottled, Sources: sources}
		case core.IsQuota(err):
			resp = &AskResponse{Answer: rag.MsgQuota, Sources: sources}
		default:
			return nil, err
		}
	}

	s.logAsync(userID, query, resp.Answer, len(resp.Sources), started)
	return resp, nil
}

// acquire returns the matching release func; without a gate both are
// no-ops.
func (s *SearchService) acquire(ctx context.Context) (func(), error) {
	if s.gate == nil {
		return func() {}, nil
	}
	if err := s.gate.Acquire(ctx); err != nil {
		return nil, err
	}
	return s.gate.Release, nil
}

// logAsync records the query in the background with its own deadline.
// Analytics must never slow down or fail a search.
func (s *SearchService) logAsync(userID, query, answer string, sources int, started time.Time) {
	elapsed := time.Since(started)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), searchLogTimeout)
		defer cancel()

		if len(answer) > searchLogMaxAnswer {
			answer = answer[:searchLogMaxAnswer]
		}
		entry := &models.SearchLog{
			ID:              uuid.NewString(),
			UserID:          userID,
			Query:           query,
			Response:        answer,
			ChunksRetrieved: sources,
			ResponseTimeMs:  int(elapsed.Milliseconds()),
		}
		if err := s.db.InsertSearchLog(ctx, entry); err != nil {
			s.log.Warn("search log write failed", "error", err)
		}
	}()
}
