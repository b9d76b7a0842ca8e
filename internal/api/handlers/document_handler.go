package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	middleware "github.com/docsage-ai/docsage-backend/internal/api/middlewares"
	"github.com/docsage-ai/docsage-backend/internal/logger"
	"github.com/docsage-ai/docsage-backend/internal/models"
	"github.com/docsage-ai/docsage-backend/internal/services"
)

type DocumentHandler struct {
	docs     *services.DocumentService
	maxBytes int64
	log      *logger.Logger
}

func NewDocumentHandler(docs *services.DocumentService, maxBytes int64, log *logger.Logger) *DocumentHandler {
	return &DocumentHandler{docs: docs, maxBytes: maxBytes, log: log.With("handler", "documents")}
}

// Upload handles the multipart upload, records the document and queues it
// for background processing.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read file")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	doc, err := h.docs.UploadAndCreate(ctx, userID, header.Filename, data)
	if err != nil {
		if errors.Is(err, services.ErrNotPDF) {
			writeError(w, http.StatusBadRequest, "only PDF files are supported")
			return
		}
		h.log.Error("upload failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	writeJSON(w, http.StatusAccepted, doc)
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	docs, err := h.docs.ListByUser(r.Context(), userID)
	if err != nil {
		h.log.Error("list failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not list documents")
		return
	}
	if docs == nil {
		docs = []models.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	doc, err := h.docs.Get(r.Context(), userID, chi.URLParam(r, "document_id"))
	if err != nil {
		if errors.Is(err, services.ErrDocumentNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "could not load document")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	docID := chi.URLParam(r, "document_id")
	if err := h.docs.Delete(r.Context(), userID, docID); err != nil {
		if errors.Is(err, services.ErrDocumentNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		h.log.Error("delete failed", "document_id", docID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not delete document")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PageImage serves one rendered page image after the ownership check.
func (h *DocumentHandler) PageImage(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	pageNumber, err := strconv.Atoi(chi.URLParam(r, "page_number"))
	if err != nil || pageNumber < 1 {
		writeError(w, http.StatusBadRequest, "invalid page number")
		return
	}

	path, err := h.docs.PageImagePath(r.Context(), userID, chi.URLParam(r, "document_id"), pageNumber)
	if err != nil {
		if errors.Is(err, services.ErrDocumentNotFound) {
			writeError(w, http.StatusNotFound, "page not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "could not load page image")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeFile(w, r, path)
}
