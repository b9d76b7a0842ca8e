package models

import (
	"time"
)

// Document status values. Transitions are monotonic:
// pending -> processing -> completed|failed.
const (
	DocStatusPending    = "pending"
	DocStatusProcessing = "processing"
	DocStatusCompleted  = "completed"
	DocStatusFailed     = "failed"
)

// Chunk types stored on DocumentChunk and in the vector payload.
const (
	ChunkTypeText             = "text"
	ChunkTypeImageDescription = "image_description"
)

// User represents an authenticated user of the system.
type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"hashed_password" json:"-"`
	FullName     string    `db:"full_name" json:"full_name"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Document represents an uploaded PDF and its processing state.
type Document struct {
	ID               string     `db:"id" json:"id"`
	OwnerID          string     `db:"owner_id" json:"owner_id"`
	OriginalFilename string     `db:"original_filename" json:"original_filename"`
	StoredFilename   string     `db:"stored_filename" json:"stored_filename"`
	FilePath         string     `db:"file_path" json:"-"`
	FileSizeBytes    int64      `db:"file_size_bytes" json:"file_size_bytes"`
	MimeType         string     `db:"mime_type" json:"mime_type"`
	Status           string     `db:"status" json:"status"`
	TotalPages       int        `db:"total_pages" json:"total_pages"`
	ProcessingError  string     `db:"processing_error" json:"processing_error,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
	ProcessedAt      *time.Time `db:"processed_at" json:"processed_at,omitempty"`
}

// DocumentPage is one rendered page of a document, created during ingestion
// and immutable afterwards (except through document deletion).
type DocumentPage struct {
	ID                string    `db:"id" json:"id"`
	DocumentID        string    `db:"document_id" json:"document_id"`
	PageNumber        int       `db:"page_number" json:"page_number"`
	ImagePath         string    `db:"image_path" json:"-"`
	Width             int       `db:"width" json:"width"`
	Height            int       `db:"height" json:"height"`
	VisionDescription string    `db:"vision_description" json:"vision_description,omitempty"`
	HasCharts         bool      `db:"has_charts" json:"has_charts"`
	HasTables         bool      `db:"has_tables" json:"has_tables"`
	HasImages         bool      `db:"has_images" json:"has_images"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// DocumentChunk is one retrievable text segment of a document.
//
// ChunkIndex is dense and zero-based across the whole document: text chunks
// first, then one image_description chunk per page that produced a vision
// description. VectorID links the row to its record in the vector store.
type DocumentChunk struct {
	ID          string    `db:"id" json:"id"`
	DocumentID  string    `db:"document_id" json:"document_id"`
	Content     string    `db:"content" json:"content"`
	ChunkIndex  int       `db:"chunk_index" json:"chunk_index"`
	PageNumbers string    `db:"page_numbers" json:"page_numbers,omitempty"`
	StartChar   int       `db:"start_char" json:"start_char"`
	EndChar     int       `db:"end_char" json:"end_char"`
	VectorID    string    `db:"vector_id" json:"vector_id,omitempty"`
	ChunkType   string    `db:"chunk_type" json:"chunk_type"`
	TokenCount  int       `db:"token_count" json:"token_count"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// SearchLog is an append-only analytics record. It is written best-effort in
// the background and never read back by the pipeline.
type SearchLog struct {
	ID              string    `db:"id" json:"id"`
	UserID          string    `db:"user_id" json:"user_id"`
	Query           string    `db:"query" json:"query"`
	Response        string    `db:"response" json:"response"`
	ChunksRetrieved int       `db:"chunks_retrieved" json:"chunks_retrieved"`
	ResponseTimeMs  int       `db:"response_time_ms" json:"response_time_ms"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}
