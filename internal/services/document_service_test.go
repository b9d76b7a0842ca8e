package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/docsage-ai/docsage-backend/internal/logger"
	"github.com/docsage-ai/docsage-backend/internal/models"
)

func documentService(t *testing.T, db *stubDB, storage *memStorage, store *capturingStore) *DocumentService {
	t.Helper()
	return NewDocumentService(db, storage, store, nil, "test-bucket", t.TempDir(), logger.NewNop())
}

func TestUploadAndCreateStoresAndQueues(t *testing.T) {
	db := &stubDB{}
	storage := newMemStorage()
	svc := documentService(t, db, storage, &capturingStore{})

	doc, err := svc.UploadAndCreate(context.Background(), "user-1", "Q3 Report.pdf", []byte("%PDF-1.4 data"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if doc.Status != models.DocStatusPending {
		t.Fatalf("status: want=%q got=%q", models.DocStatusPending, doc.Status)
	}
	if doc.OwnerID != "user-1" {
		t.Fatalf("owner: got=%q", doc.OwnerID)
	}
	if !strings.HasPrefix(doc.FilePath, "users/user-1/documents/"+doc.ID+"/") {
		t.Fatalf("object key: got=%q", doc.FilePath)
	}
	if _, ok := storage.files[doc.FilePath]; !ok {
		t.Fatalf("file not stored under %q", doc.FilePath)
	}
	if len(db.createdDocs) != 1 {
		t.Fatalf("created rows: want=1 got=%d", len(db.createdDocs))
	}
}

func TestUploadAndCreateSanitizesFilename(t *testing.T) {
	db := &stubDB{}
	svc := documentService(t, db, newMemStorage(), &capturingStore{})

	doc, err := svc.UploadAndCreate(context.Background(), "user-1", "../../etc/passwd.pdf", []byte("%PDF-1.4"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if strings.Contains(doc.OriginalFilename, "/") || strings.Contains(doc.OriginalFilename, "..") {
		t.Fatalf("filename not sanitized: %q", doc.OriginalFilename)
	}
}

func TestUploadAndCreateRejectsNonPDF(t *testing.T) {
	svc := documentService(t, &stubDB{}, newMemStorage(), &capturingStore{})

	cases := []struct {
		name     string
		filename string
		data     []byte
	}{
		{"wrong extension", "notes.txt", []byte("%PDF-1.4")},
		{"wrong magic", "notes.pdf", []byte("GIF89a")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.UploadAndCreate(context.Background(), "user-1", tc.filename, tc.data); !errors.Is(err, ErrNotPDF) {
				t.Fatalf("want ErrNotPDF, got %v", err)
			}
		})
	}
}

func TestGetUnknownDocument(t *testing.T) {
	svc := documentService(t, &stubDB{}, newMemStorage(), &capturingStore{})

	if _, err := svc.Get(context.Background(), "user-1", "missing"); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("want ErrDocumentNotFound, got %v", err)
	}
}

func TestDeleteRemovesEverywhere(t *testing.T) {
	doc := &models.Document{ID: "doc-1", OwnerID: "user-1", FilePath: "users/user-1/documents/doc-1/f.pdf"}
	db := &stubDB{doc: doc}
	storage := newMemStorage()
	storage.files[doc.FilePath] = []byte("%PDF")
	store := &capturingStore{}
	svc := documentService(t, db, storage, store)

	if err := svc.Delete(context.Background(), "user-1", "doc-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(store.deletes) != 1 || store.deletes[0] != "doc-1" {
		t.Fatalf("vector delete: got=%v", store.deletes)
	}
	if len(db.deletedDocs) != 1 || db.deletedDocs[0] != "doc-1" {
		t.Fatalf("db delete: got=%v", db.deletedDocs)
	}
	if len(storage.deleted) != 1 || storage.deleted[0] != doc.FilePath {
		t.Fatalf("storage delete: got=%v", storage.deleted)
	}
}

func TestDeleteSurvivesVectorCleanupFailure(t *testing.T) {
	doc := &models.Document{ID: "doc-1", OwnerID: "user-1", FilePath: "users/user-1/documents/doc-1/f.pdf"}
	db := &stubDB{doc: doc}
	store := &capturingStore{deleteErr: errors.New("qdrant unreachable")}
	svc := documentService(t, db, newMemStorage(), store)

	if err := svc.Delete(context.Background(), "user-1", "doc-1"); err != nil {
		t.Fatalf("vector cleanup failure must not block deletion: %v", err)
	}
	if len(db.deletedDocs) != 1 {
		t.Fatalf("db delete skipped")
	}
}

func TestPageImagePathChecksOwnership(t *testing.T) {
	page := &models.DocumentPage{DocumentID: "doc-1", PageNumber: 3, ImagePath: "/data/pages/doc-1/page_0003.png"}
	db := &stubDB{
		doc:  &models.Document{ID: "doc-1", OwnerID: "user-1"},
		page: page,
	}
	svc := documentService(t, db, newMemStorage(), &capturingStore{})

	path, err := svc.PageImagePath(context.Background(), "user-1", "doc-1", 3)
	if err != nil {
		t.Fatalf("page image: %v", err)
	}
	if path != page.ImagePath {
		t.Fatalf("path: want=%q got=%q", page.ImagePath, path)
	}

	// Another user never sees the document, let alone the page.
	if _, err := svc.PageImagePath(context.Background(), "user-2", "doc-1", 3); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("want ErrDocumentNotFound for foreign owner, got %v", err)
	}
}
