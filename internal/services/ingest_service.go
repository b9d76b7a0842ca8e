package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"

	"github.com/docsage-ai/docsage-backend/internal/config"
	"github.com/docsage-ai/docsage-backend/internal/core"
	"github.com/docsage-ai/docsage-backend/internal/core/gate"
	"github.com/docsage-ai/docsage-backend/internal/core/ingestion"
	"github.com/docsage-ai/docsage-backend/internal/logger"
	"github.com/docsage-ai/docsage-backend/internal/models"
)

// IngestJob identifies one document to process on behalf of its owner. The
// same pair drives the in-process queue today and would drive an
// out-of-process worker unchanged.
type IngestJob struct {
	DocumentID string
	OwnerID    string
}

// pageAnalyzer and pageRenderer keep the ingestor testable without poppler
// or a vision model on the machine.
type pageRenderer interface {
	RenderPages(ctx context.Context, pdfPath, outDir string) ([]ingestion.RenderedPage, int, error)
}

type pageAnalyzer interface {
	AnalyzePages(ctx context.Context, pages []ingestion.RenderedPage) []ingestion.PageAnalysis
}

type pageParser interface {
	ExtractPages(ctx context.Context, pdfPath string) ([]ingestion.PageText, error)
}

// DocumentIngestor orchestrates the background ingestion pipeline:
// claim -> fetch -> parse -> render -> analyze -> chunk -> embed -> upsert
// -> persist -> complete. Any failure marks the document failed with the
// error text; a second run over the same document is a no-op because the
// claim only succeeds once.
type DocumentIngestor struct {
	db       core.DbClient
	storage  core.ObjectClient
	bucket   string
	parser   pageParser
	renderer pageRenderer
	vision   pageAnalyzer
	chunker  *ingestion.Chunker
	embedder core.EmbeddingProvider
	vectors  core.VectorStore
	gate     *gate.Gate
	pagesDir string
	log      *logger.Logger
	jobs     chan IngestJob
}

func NewDocumentIngestor(
	cfg *config.Config,
	db core.DbClient,
	storage core.ObjectClient,
	parser pageParser,
	renderer pageRenderer,
	vision pageAnalyzer,
	embedder core.EmbeddingProvider,
	vectors core.VectorStore,
	g *gate.Gate,
	log *logger.Logger,
) *DocumentIngestor {
	return &DocumentIngestor{
		db:       db,
		storage:  storage,
		bucket:   cfg.BucketName,
		parser:   parser,
		renderer: renderer,
		vision:   vision,
		chunker:  ingestion.NewChunker(),
		embedder: embedder,
		vectors:  vectors,
		gate:     g,
		pagesDir: filepath.Join(cfg.UploadDir, "pages"),
		log:      log.With("service", "ingestor"),
		jobs:     make(chan IngestJob, cfg.QueueBufferSize),
	}
}

// Start runs numWorkers goroutines reading from the job queue until ctx is
// cancelled.
func (i *DocumentIngestor) Start(ctx context.Context, numWorkers int) {
	if numWorkers < 1 {
		numWorkers = 1
	}
	for w := 0; w < numWorkers; w++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-i.jobs:
					if err := i.ProcessOne(ctx, job.DocumentID, job.OwnerID); err != nil {
						i.log.Error("ingestion failed",
							"document_id", job.DocumentID, "error", err)
					}
				}
			}
		}()
	}
}

// Enqueue schedules a document for ingestion. Blocks when the queue is
// full; the queue bound is the back-pressure on uploads.
func (i *DocumentIngestor) Enqueue(job IngestJob) {
	i.jobs <- job
}

// ProcessOne runs the pipeline for a single document. Exactly one caller
// wins the pending->processing claim; everyone else returns nil without
// touching the document.
func (i *DocumentIngestor) ProcessOne(ctx context.Context, documentID, ownerID string) error {
	if i.gate != nil {
		if err := i.gate.Acquire(ctx); err != nil {
			return fmt.Errorf("document gate: %w", err)
		}
		defer i.gate.Release()
	}

	claimed, err := i.db.ClaimDocumentForProcessing(ctx, documentID, ownerID)
	if err != nil {
		return fmt.Errorf("claim document: %w", err)
	}
	if !claimed {
		i.log.Info("document already claimed or not pending", "document_id", documentID)
		return nil
	}

	doc, err := i.db.GetDocumentByID(ctx, documentID, ownerID)
	if err == nil && doc == nil {
		err = fmt.Errorf("document %s not found", documentID)
	}

	var totalPages int
	if err == nil {
		totalPages, err = i.runPipeline(ctx, doc)
	}
	if err != nil {
		// Best effort: recording the failure must never mask the original
		// pipeline error.
		if mErr := i.db.MarkDocumentFailed(ctx, documentID, err.Error()); mErr != nil {
			i.log.Error("failed to record processing failure",
				"document_id", documentID, "error", mErr)
		}
		return err
	}

	if err := i.db.MarkDocumentCompleted(ctx, documentID, totalPages); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	i.log.Info("document processed", "document_id", documentID, "pages", totalPages)
	return nil
}

func (i *DocumentIngestor) runPipeline(ctx context.Context, doc *models.Document) (int, error) {
	pdfPath, cleanup, err := i.fetchToTemp(ctx, doc)
	if err != nil {
		return 0, err
	}
	defer cleanup()

	pageTexts, err := i.parser.ExtractPages(ctx, pdfPath)
	if err != nil {
		return 0, fmt.Errorf("parse: %w", err)
	}

	outDir := filepath.Join(i.pagesDir, doc.ID)
	rendered, totalPages, err := i.renderer.RenderPages(ctx, pdfPath, outDir)
	if err != nil {
		return 0, fmt.Errorf("render: %w", err)
	}

	analyses := i.vision.AnalyzePages(ctx, rendered)

	pageRows := make([]models.DocumentPage, 0, len(rendered))
	analysisByPage := make(map[int]ingestion.PageAnalysis, len(analyses))
	for _, a := range analyses {
		analysisByPage[a.PageNumber] = a
	}
	for _, rp := range rendered {
		a := analysisByPage[rp.PageNumber]
		absPath, err := filepath.Abs(rp.Path)
		if err != nil {
			absPath = rp.Path
		}
		pageRows = append(pageRows, models.DocumentPage{
			ID:                uuid.NewString(),
			DocumentID:        doc.ID,
			PageNumber:        rp.PageNumber,
			ImagePath:         absPath,
			Width:             rp.Width,
			Height:            rp.Height,
			VisionDescription: a.Description,
			HasCharts:         a.HasCharts,
			HasTables:         a.HasTables,
			HasImages:         a.HasImages,
		})
	}
	if err := i.db.InsertDocumentPages(ctx, pageRows); err != nil {
		return 0, fmt.Errorf("insert pages: %w", err)
	}

	chunks := i.buildChunks(pageTexts, analyses)
	if len(chunks) == 0 {
		i.log.Warn("document produced no chunks", "document_id", doc.ID)
		return totalPages, nil
	}

	texts := make([]string, len(chunks))
	for k, ch := range chunks {
		texts[k] = ch.Content
	}
	vectors, err := i.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed: %w", err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("embed size mismatch: got %d want %d", len(vectors), len(chunks))
	}

	records := make([]core.VectorRecord, len(chunks))
	rows := make([]models.DocumentChunk, len(chunks))
	for k, ch := range chunks {
		vectorID := uuid.NewString()
		records[k] = core.VectorRecord{
			ID:     vectorID,
			Vector: vectors[k],
			Payload: core.VectorPayload{
				UserID:     doc.OwnerID,
				DocumentID: doc.ID,
				Content:    ch.Content,
				ChunkIndex: ch.Index,
				PageNumber: ch.PageNumber,
				ChunkType:  ch.Type,
				StartChar:  ch.StartChar,
				EndChar:    ch.EndChar,
			},
		}
		rows[k] = models.DocumentChunk{
			ID:          uuid.NewString(),
			DocumentID:  doc.ID,
			Content:     ch.Content,
			ChunkIndex:  ch.Index,
			PageNumbers: strconv.Itoa(ch.PageNumber),
			StartChar:   ch.StartChar,
			EndChar:     ch.EndChar,
			VectorID:    vectorID,
			ChunkType:   ch.Type,
			TokenCount:  ch.TokenCount,
		}
	}

	if err := i.vectors.Upsert(ctx, records); err != nil {
		return 0, fmt.Errorf("upsert vectors: %w", err)
	}
	if err := i.db.InsertDocumentChunks(ctx, rows); err != nil {
		return 0, fmt.Errorf("insert chunks: %w", err)
	}
	return totalPages, nil
}

// indexedChunk is a chunk with its final type, after text and vision
// chunks are merged.
type indexedChunk struct {
	Content    string
	Index      int
	PageNumber int
	StartChar  int
	EndChar    int
	TokenCount int
	Type       string
}

// buildChunks produces the document's retrievable segments: text chunks
// first, then one image_description chunk per page that yielded a vision
// description, indexed densely across both.
func (i *DocumentIngestor) buildChunks(pageTexts []ingestion.PageText, analyses []ingestion.PageAnalysis) []indexedChunk {
	var out []indexedChunk
	for _, ch := range i.chunker.ChunkPages(pageTexts) {
		out = append(out, indexedChunk{
			Content:    ch.Content,
			PageNumber: ch.PageNumber,
			StartChar:  ch.StartChar,
			EndChar:    ch.EndChar,
			TokenCount: ch.TokenCount,
			Type:       models.ChunkTypeText,
		})
	}
	for _, a := range analyses {
		if a.Err != nil || a.Description == "" {
			continue
		}
		out = append(out, indexedChunk{
			Content:    a.Description,
			PageNumber: a.PageNumber,
			EndChar:    len(a.Description),
			TokenCount: ingestion.EstimateTokens(a.Description),
			Type:       models.ChunkTypeImageDescription,
		})
	}
	for k := range out {
		out[k].Index = k
	}
	return out
}

// fetchToTemp pulls the original PDF out of object storage into a local
// temp file for the tools that need a real path.
func (i *DocumentIngestor) fetchToTemp(ctx context.Context, doc *models.Document) (string, func(), error) {
	data, err := i.storage.GetFile(ctx, i.bucket, doc.FilePath)
	if err != nil {
		return "", nil, fmt.Errorf("fetch original: %w", err)
	}

	tmp, err := os.CreateTemp("", "ingest-*.pdf")
	if err != nil {
		return "", nil, fmt.Errorf("temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("close temp file: %w", err)
	}
	return tmp.Name(), func() { os.Remove(tmp.Name()) }, nil
}
