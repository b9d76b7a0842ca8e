package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/docsage-ai/docsage-backend/internal/config"
	"github.com/docsage-ai/docsage-backend/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Sensible pool settings for an API service; adjust as needed.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// DB exposes the underlying pool for collaborators that need raw SQL, such
// as the pgvector similarity store.
func (c *DatabaseClient) DB() *sql.DB {
	return c.db
}

// Users

func (c *DatabaseClient) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	const q = `
		INSERT INTO users (id, email, hashed_password, full_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()), COALESCE($6, now()))
	`
	_, err := c.db.ExecContext(ctx, q,
		user.ID, user.Email, user.PasswordHash, user.FullName,
		nullableTime(user.CreatedAt), nullableTime(user.UpdatedAt))
	return err
}

// nullableTime maps the zero time to SQL NULL so COALESCE defaults fire.
// The driver would otherwise encode it as a year-1 timestamp.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func (c *DatabaseClient) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const q = `
		SELECT id, email, hashed_password, full_name, created_at, updated_at
		FROM users WHERE email = $1
	`
	var u models.User
	err := c.db.QueryRowContext(ctx, q, email).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *DatabaseClient) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	const q = `
		SELECT id, email, hashed_password, full_name, created_at, updated_at
		FROM users WHERE id = $1
	`
	var u models.User
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Documents

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	const q = `
		INSERT INTO documents
			(id, owner_id, original_filename, stored_filename, file_path,
			 file_size_bytes, mime_type, status, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, now()), COALESCE($10, now()))
	`
	_, err := c.db.ExecContext(ctx, q,
		doc.ID, doc.OwnerID, doc.OriginalFilename, doc.StoredFilename, doc.FilePath,
		doc.FileSizeBytes, doc.MimeType, doc.Status,
		nullableTime(doc.CreatedAt), nullableTime(doc.UpdatedAt))
	return err
}

const documentColumns = `
	id, owner_id, original_filename, stored_filename, file_path,
	file_size_bytes, mime_type, status, total_pages, processing_error,
	created_at, updated_at, processed_at
`

func scanDocument(row interface{ Scan(...any) error }) (*models.Document, error) {
	var d models.Document
	err := row.Scan(
		&d.ID, &d.OwnerID, &d.OriginalFilename, &d.StoredFilename, &d.FilePath,
		&d.FileSizeBytes, &d.MimeType, &d.Status, &d.TotalPages, &d.ProcessingError,
		&d.CreatedAt, &d.UpdatedAt, &d.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string, ownerID string) (*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1 AND owner_id = $2`
	d, err := scanDocument(c.db.QueryRowContext(ctx, q, id, ownerID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (c *DatabaseClient) ListDocumentsByUser(ctx context.Context, userID string) ([]models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE owner_id = $1 ORDER BY created_at DESC`
	rows, err := c.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// GetDocumentsByIDs fetches a batch of documents in one query. Missing IDs
// are simply absent from the result.
func (c *DatabaseClient) GetDocumentsByIDs(ctx context.Context, ids []string) ([]models.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id IN (` + strings.Join(placeholders, ", ") + `)`
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// ClaimDocumentForProcessing is the single-winner transition: the conditional
// UPDATE succeeds for exactly one caller, everyone else sees zero rows.
func (c *DatabaseClient) ClaimDocumentForProcessing(ctx context.Context, id string, ownerID string) (bool, error) {
	const q = `
		UPDATE documents
		SET status = 'processing', updated_at = now()
		WHERE id = $1 AND owner_id = $2 AND status = 'pending'
	`
	res, err := c.db.ExecContext(ctx, q, id, ownerID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *DatabaseClient) MarkDocumentCompleted(ctx context.Context, id string, totalPages int) error {
	const q = `
		UPDATE documents
		SET status = 'completed', total_pages = $2, processing_error = '',
		    processed_at = now(), updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, totalPages)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document not found: %s", id)
	}
	return nil
}

func (c *DatabaseClient) MarkDocumentFailed(ctx context.Context, id string, reason string) error {
	const q = `
		UPDATE documents
		SET status = 'failed', processing_error = $2, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, reason)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document not found: %s", id)
	}
	return nil
}

func (c *DatabaseClient) DeleteDocument(ctx context.Context, id string, ownerID string) error {
	const q = `DELETE FROM documents WHERE id = $1 AND owner_id = $2`
	res, err := c.db.ExecContext(ctx, q, id, ownerID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document not found: %s", id)
	}
	return nil
}

// Pages

// InsertDocumentPages inserts pages in a single transaction.
func (c *DatabaseClient) InsertDocumentPages(ctx context.Context, pages []models.DocumentPage) error {
	if len(pages) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO document_pages
			(id, document_id, page_number, image_path, width, height,
			 vision_description, has_charts, has_tables, has_images, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, now()))
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range pages {
		p := &pages[i]
		if _, err := stmt.ExecContext(ctx,
			p.ID, p.DocumentID, p.PageNumber, p.ImagePath, p.Width, p.Height,
			p.VisionDescription, p.HasCharts, p.HasTables, p.HasImages,
			nullableTime(p.CreatedAt),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

const pageColumns = `
	id, document_id, page_number, image_path, width, height,
	vision_description, has_charts, has_tables, has_images, created_at
`

func (c *DatabaseClient) GetPage(ctx context.Context, documentID string, pageNumber int) (*models.DocumentPage, error) {
	q := `SELECT ` + pageColumns + ` FROM document_pages WHERE document_id = $1 AND page_number = $2`
	var p models.DocumentPage
	err := c.db.QueryRowContext(ctx, q, documentID, pageNumber).Scan(
		&p.ID, &p.DocumentID, &p.PageNumber, &p.ImagePath, &p.Width, &p.Height,
		&p.VisionDescription, &p.HasCharts, &p.HasTables, &p.HasImages, &p.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *DatabaseClient) GetPagesForDocuments(ctx context.Context, documentIDs []string) ([]models.DocumentPage, error) {
	if len(documentIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(documentIDs))
	args := make([]any, len(documentIDs))
	for i, id := range documentIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	q := `SELECT ` + pageColumns + ` FROM document_pages WHERE document_id IN (` +
		strings.Join(placeholders, ", ") + `) ORDER BY document_id, page_number`
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DocumentPage
	for rows.Next() {
		var p models.DocumentPage
		if err := rows.Scan(
			&p.ID, &p.DocumentID, &p.PageNumber, &p.ImagePath, &p.Width, &p.Height,
			&p.VisionDescription, &p.HasCharts, &p.HasTables, &p.HasImages, &p.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Chunks

// InsertDocumentChunks inserts chunks in a single transaction.
func (c *DatabaseClient) InsertDocumentChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO document_chunks
			(id, document_id, content, chunk_index, page_numbers, start_char,
			 end_char, vector_id, chunk_type, token_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, now()))
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.DocumentID, ch.Content, ch.ChunkIndex, ch.PageNumbers,
			ch.StartChar, ch.EndChar, ch.VectorID, ch.ChunkType, ch.TokenCount,
			nullableTime(ch.CreatedAt),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	const q = `
		SELECT id, document_id, content, chunk_index, page_numbers, start_char,
		       end_char, vector_id, chunk_type, token_count, created_at
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY chunk_index ASC
	`
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DocumentChunk
	for rows.Next() {
		var ch models.DocumentChunk
		if err := rows.Scan(
			&ch.ID, &ch.DocumentID, &ch.Content, &ch.ChunkIndex, &ch.PageNumbers,
			&ch.StartChar, &ch.EndChar, &ch.VectorID, &ch.ChunkType, &ch.TokenCount, &ch.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// Search logs

func (c *DatabaseClient) InsertSearchLog(ctx context.Context, entry *models.SearchLog) error {
	if entry == nil {
		return errors.New("nil search log")
	}
	const q = `
		INSERT INTO search_logs
			(id, user_id, query, response, chunks_retrieved, response_time_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))
	`
	_, err := c.db.ExecContext(ctx, q,
		entry.ID, entry.UserID, entry.Query, entry.Response,
		entry.ChunksRetrieved, entry.ResponseTimeMs, nullableTime(entry.CreatedAt))
	return err
}
