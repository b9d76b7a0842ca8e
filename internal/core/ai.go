package core

import "context"

// Embedding task types. Document embeddings and query embeddings use
// different task hints so the model optimises each side of retrieval.
const (
	EmbedTaskDocument = "retrieval_document"
	EmbedTaskQuery    = "retrieval_query"
)

type EmbeddingProvider interface {
	// EmbedTexts embeds document content. One vector per input, same order.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a search query with the query task type.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
	// GenerateVision sends a prompt together with a PNG page image.
	GenerateVision(ctx context.Context, prompt string, pngImage []byte) (string, error)
}

// VectorPayload is the metadata stored alongside every vector. UserID is the
// security boundary: every search carries it as a mandatory filter.
type VectorPayload struct {
	UserID     string `json:"user_id"`
	DocumentID string `json:"document_id"`
	Content    string `json:"content"`
	ChunkIndex int    `json:"chunk_index"`
	PageNumber int    `json:"page_number"`
	ChunkType  string `json:"chunk_type"`
	StartChar  int    `json:"start_char"`
	EndChar    int    `json:"end_char"`
}

type VectorRecord struct {
	ID      string
	Vector  []float32
	Payload VectorPayload
}

type VectorQuery struct {
	Vector []float32
	// OwnerID is required; implementations must reject queries without it.
	OwnerID string
	// DocumentIDs, when non-empty, narrows the search to those documents.
	DocumentIDs    []string
	Limit          int
	ScoreThreshold float32
}

type VectorHit struct {
	ID      string
	Score   float32
	Payload VectorPayload
}

// VectorStore abstracts the similarity index. The disabled implementation
// answers every search with zero hits so the rest of the system degrades
// instead of failing.
type VectorStore interface {
	EnsureReady(ctx context.Context) error
	Upsert(ctx context.Context, records []VectorRecord) error
	Search(ctx context.Context, q VectorQuery) ([]VectorHit, error)
	DeleteByDocument(ctx context.Context, ownerID string, documentID string) error
}
