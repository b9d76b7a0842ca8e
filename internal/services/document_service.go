package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/docsage-ai/docsage-backend/internal/core"
	"github.com/docsage-ai/docsage-backend/internal/logger"
	"github.com/docsage-ai/docsage-backend/internal/models"
	"github.com/docsage-ai/docsage-backend/internal/security"
)

var (
	ErrNotPDF           = errors.New("only PDF uploads are supported")
	ErrDocumentNotFound = errors.New("document not found")
)

var pdfMagic = []byte("%PDF")

type DocumentService struct {
	db       core.DbClient
	storage  core.ObjectClient
	vectors  core.VectorStore
	ingestor *DocumentIngestor
	bucket   string
	pagesDir string
	log      *logger.Logger
}

func NewDocumentService(db core.DbClient, storage core.ObjectClient, vectors core.VectorStore, ingestor *DocumentIngestor, bucket, uploadDir string, log *logger.Logger) *DocumentService {
	return &DocumentService{
		db:       db,
		storage:  storage,
		vectors:  vectors,
		ingestor: ingestor,
		bucket:   bucket,
		pagesDir: filepath.Join(uploadDir, "pages"),
		log:      log.With("service", "documents"),
	}
}

// UploadAndCreate stores the PDF, records the document as pending and
// queues it for ingestion.
func (s *DocumentService) UploadAndCreate(ctx context.Context, userID, filename string, data []byte) (*models.Document, error) {
	safeName := security.SanitizeFilename(filename)
	if !strings.HasSuffix(strings.ToLower(safeName), ".pdf") || !bytes.HasPrefix(data, pdfMagic) {
		return nil, ErrNotPDF
	}

	docID := uuid.NewString()
	storedName := docID + "_" + safeName
	key := path.Join("users", userID, "documents", docID, storedName)

	if _, err := s.storage.UploadFile(ctx, s.bucket, key, data, "application/pdf"); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	doc := &models.Document{
		ID:               docID,
		OwnerID:          userID,
		OriginalFilename: safeName,
		StoredFilename:   storedName,
		FilePath:         key,
		FileSizeBytes:    int64(len(data)),
		MimeType:         "application/pdf",
		Status:           models.DocStatusPending,
	}
	if err := s.db.CreateDocument(ctx, doc); err != nil {
		// The stored object is orphaned at this point; remove it so failed
		// creates do not leak storage.
		if dErr := s.storage.DeleteFile(ctx, s.bucket, key); dErr != nil {
			s.log.Warn("cleanup of orphaned upload failed", "key", key, "error", dErr)
		}
		return nil, fmt.Errorf("create document: %w", err)
	}

	if s.ingestor != nil {
		s.ingestor.Enqueue(IngestJob{DocumentID: docID, OwnerID: userID})
	}
	return doc, nil
}

func (s *DocumentService) Get(ctx context.Context, userID, docID string) (*models.Document, error) {
	doc, err := s.db.GetDocumentByID(ctx, docID, userID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

func (s *DocumentService) ListByUser(ctx context.Context, userID string) ([]models.Document, error) {
	return s.db.ListDocumentsByUser(ctx, userID)
}

// Delete removes a document everywhere it lives: the vector index, the
// database (pages and chunks cascade) and storage. The three deletes are
// independent; cleanup failures after the database row is gone are logged
// and swallowed so a half-dead index can never block deletion.
func (s *DocumentService) Delete(ctx context.Context, userID, docID string) error {
	doc, err := s.Get(ctx, userID, docID)
	if err != nil {
		return err
	}

	if err := s.vectors.DeleteByDocument(ctx, userID, docID); err != nil {
		s.log.Warn("vector cleanup failed", "document_id", docID, "error", err)
	}

	if err := s.db.DeleteDocument(ctx, docID, userID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	if err := s.storage.DeleteFile(ctx, s.bucket, doc.FilePath); err != nil {
		s.log.Warn("original file cleanup failed", "document_id", docID, "error", err)
	}
	if err := os.RemoveAll(filepath.Join(s.pagesDir, docID)); err != nil {
		s.log.Warn("page image cleanup failed", "document_id", docID, "error", err)
	}
	return nil
}

// PageImagePath returns the on-disk image for one page after checking the
// caller owns the document.
func (s *DocumentService) PageImagePath(ctx context.Context, userID, docID string, pageNumber int) (string, error) {
	if _, err := s.Get(ctx, userID, docID); err != nil {
		return "", err
	}
	page, err := s.db.GetPage(ctx, docID, pageNumber)
	if err != nil {
		return "", err
	}
	if page == nil || page.ImagePath == "" {
		return "", ErrDocumentNotFound
	}
	return page.ImagePath, nil
}
