package rag

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/docsage-ai/docsage-backend/internal/config"
	"github.com/docsage-ai/docsage-backend/internal/core"
	"github.com/docsage-ai/docsage-backend/internal/core/gate"
	"github.com/docsage-ai/docsage-backend/internal/core/redisx"
	"github.com/docsage-ai/docsage-backend/internal/logger"
)

// rawEmbedder is the model-side contract of the Gemini embedder, kept
// narrow so tests can stand in for it.
type rawEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	EmbedOne(ctx context.Context, text string, taskType string) ([]float32, error)
	ModelName() string
}

// sharedState is the slice of the Redis client these services use: JSON
// cache plus the shared per-minute budget. A nil *redisx.Client satisfies
// it with no-ops.
type sharedState interface {
	CacheGetJSON(ctx context.Context, key string, dest any) (bool, error)
	CacheSetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	EnforceRateLimit(ctx context.Context, name string, perMinute int) error
}

const (
	embedBatchSize    = 100
	embedCacheTTL     = 24 * time.Hour
	embedBudgetName   = "gemini:embed"
	embedCachePrefix  = "emb"
	queryCacheVariant = "q"
)

// EmbeddingService produces document and query embeddings with caching and
// a shared rate budget. Without a configured model it degrades to zero
// vectors so ingestion still completes.
type EmbeddingService struct {
	embedder rawEmbedder
	dim      int
	state    sharedState
	gate     *gate.Gate
	rpm      int
	log      *logger.Logger
}

func NewEmbeddingService(embedder rawEmbedder, cfg *config.Config, state *redisx.Client, g *gate.Gate, log *logger.Logger) *EmbeddingService {
	return &EmbeddingService{
		embedder: embedder,
		dim:      cfg.EmbedDim,
		state:    state,
		gate:     g,
		rpm:      cfg.EmbedRequestsPerMinute,
		log:      log.With("service", "embeddings"),
	}
}

// EmbedTexts embeds document content in batches, serving repeats from the
// cache. Items that fail even individually come back as zero vectors so a
// single bad chunk cannot fail the document.
func (s *EmbeddingService) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}
	if s.embedder == nil {
		for i := range out {
			out[i] = s.zeroVector()
		}
		return out, nil
	}

	// Cache pass.
	var missIdx []int
	for i, t := range texts {
		var cached []float32
		if hit, err := s.cacheGet(ctx, s.cacheKey(t, core.EmbedTaskDocument), &cached); err == nil && hit {
			out[i] = cached
			continue
		}
		missIdx = append(missIdx, i)
	}

	for start := 0; start < len(missIdx); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(missIdx) {
			end = len(missIdx)
		}
		group := missIdx[start:end]

		batch := make([]string, len(group))
		for j, i := range group {
			batch[j] = texts[i]
		}

		release, err := s.admit(ctx)
		if err != nil {
			return nil, err
		}
		vectors, err := s.embedder.EmbedBatch(ctx, batch)
		release()
		if err == nil && len(vectors) == len(batch) {
			for j, i := range group {
				out[i] = vectors[j]
				s.cachePut(ctx, s.cacheKey(texts[i], core.EmbedTaskDocument), vectors[j])
			}
			continue
		}
		if err != nil {
			s.log.Warn("batch embed failed, retrying items individually",
				"batch_size", len(batch), "error", err)
		}

		// Per-item fallback inside the failed batch.
		for _, i := range group {
			release, err := s.admit(ctx)
			if err != nil {
				return nil, err
			}
			vec, err := s.embedder.EmbedOne(ctx, texts[i], core.EmbedTaskDocument)
			release()
			if err != nil {
				s.log.Warn("embedding failed for item, storing zero vector",
					"index", i, "error", err)
				vec = s.zeroVector()
			} else {
				s.cachePut(ctx, s.cacheKey(texts[i], core.EmbedTaskDocument), vec)
			}
			out[i] = vec
		}
	}
	return out, nil
}

// EmbedQuery embeds a search query with the query task type. Unlike
// document embedding, a failure here is returned to the caller: searching
// with a garbage vector would silently return garbage results.
func (s *EmbeddingService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if s.embedder == nil {
		return s.zeroVector(), nil
	}

	key := s.cacheKey(text, queryCacheVariant)
	var cached []float32
	if hit, err := s.cacheGet(ctx, key, &cached); err == nil && hit {
		return cached, nil
	}

	release, err := s.admit(ctx)
	if err != nil {
		return nil, err
	}
	vec, err := s.embedder.EmbedOne(ctx, text, core.EmbedTaskQuery)
	release()
	if err != nil {
		return nil, err
	}
	s.cachePut(ctx, key, vec)
	return vec, nil
}

// admit applies the shared per-minute budget, then enters the
// process-local gate. The returned func releases the gate slot.
func (s *EmbeddingService) admit(ctx context.Context) (func(), error) {
	if s.state != nil {
		if err := s.state.EnforceRateLimit(ctx, embedBudgetName, s.rpm); err != nil {
			return nil, err
		}
	}
	if s.gate != nil {
		if err := s.gate.Acquire(ctx); err != nil {
			return nil, err
		}
		return s.gate.Release, nil
	}
	return func() {}, nil
}

func (s *EmbeddingService) cacheKey(text, variant string) string {
	return redisx.CacheKey(embedCachePrefix,
		redisx.StableHash(s.embedder.ModelName(), variant, normalizeForCache(text)))
}

func (s *EmbeddingService) cacheGet(ctx context.Context, key string, dest any) (bool, error) {
	if s.state == nil {
		return false, nil
	}
	return s.state.CacheGetJSON(ctx, key, dest)
}

func (s *EmbeddingService) cachePut(ctx context.Context, key string, vec []float32) {
	if s.state == nil {
		return
	}
	if err := s.state.CacheSetJSON(ctx, key, vec, embedCacheTTL); err != nil {
		s.log.Debug("embedding cache write failed", "error", err)
	}
}

func (s *EmbeddingService) zeroVector() []float32 {
	return make([]float32, s.dim)
}

var cacheWS = regexp.MustCompile(`\s+`)

// normalizeForCache keeps cache hits stable across insignificant
// whitespace differences.
func normalizeForCache(text string) string {
	return cacheWS.ReplaceAllString(strings.TrimSpace(text), " ")
}

var _ core.EmbeddingProvider = (*EmbeddingService)(nil)
