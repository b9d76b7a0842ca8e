package core

import (
	"context"
	"io"

	"github.com/docsage-ai/docsage-backend/internal/models"
)

// DbClient defines all persistence operations the services need.
// It abstracts Postgres so higher layers never depend on a specific DB.
type DbClient interface {
	CreateUser(ctx context.Context, user *models.User) (err error)
	GetUserByEmail(ctx context.Context, email string) (user *models.User, err error)
	GetUserByID(ctx context.Context, id string) (user *models.User, err error)

	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string, ownerID string) (*models.Document, error)
	ListDocumentsByUser(ctx context.Context, userID string) ([]models.Document, error)
	GetDocumentsByIDs(ctx context.Context, ids []string) ([]models.Document, error)

	// ClaimDocumentForProcessing flips status pending -> processing for the
	// given document iff it belongs to ownerID and is still pending. Returns
	// false when another worker already claimed it (or it never was pending).
	ClaimDocumentForProcessing(ctx context.Context, id string, ownerID string) (bool, error)
	MarkDocumentCompleted(ctx context.Context, id string, totalPages int) error
	MarkDocumentFailed(ctx context.Context, id string, reason string) error

	InsertDocumentPages(ctx context.Context, pages []models.DocumentPage) error
	GetPage(ctx context.Context, documentID string, pageNumber int) (*models.DocumentPage, error)
	GetPagesForDocuments(ctx context.Context, documentIDs []string) ([]models.DocumentPage, error)

	InsertDocumentChunks(ctx context.Context, chunks []models.DocumentChunk) error
	GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error)

	// DeleteDocument removes the row; pages and chunks go with it via
	// ON DELETE CASCADE.
	DeleteDocument(ctx context.Context, id string, ownerID string) error

	InsertSearchLog(ctx context.Context, entry *models.SearchLog) error
}

// ObjectClient defines interactions with S3 or any object storage.
// Abstract so AWS can be swapped for MinIO, local disk, etc.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)

	GetObjectReader(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}
