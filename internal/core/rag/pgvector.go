package rag

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/docsage-ai/docsage-backend/internal/core"
	"github.com/docsage-ai/docsage-backend/internal/logger"
)

// PgvectorStore keeps the similarity index in Postgres next to the rest of
// the data, using cosine distance over the vector_records table.
type PgvectorStore struct {
	db        *sql.DB
	vectorDim int
	log       *logger.Logger
}

func NewPgvectorStore(db *sql.DB, vectorDim int, log *logger.Logger) *PgvectorStore {
	return &PgvectorStore{
		db:        db,
		vectorDim: vectorDim,
		log:       log.With("service", "PgvectorStore"),
	}
}

// EnsureReady verifies the table exists; the bootstrap script creates it.
func (s *PgvectorStore) EnsureReady(ctx context.Context) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
		  SELECT 1 FROM information_schema.tables
		  WHERE table_name = 'vector_records'
		)`).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check vector_records: %w", err)
	}
	if !exists {
		return fmt.Errorf("vector_records table missing; run bootstrap")
	}
	return nil
}

func (s *PgvectorStore) Upsert(ctx context.Context, records []core.VectorRecord) error {
	const op = "upsert"
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}

	const q = `
		INSERT INTO vector_records
			(id, user_id, document_id, content, chunk_index, page_number,
			 chunk_type, start_char, end_char, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if r.ID == "" {
			_ = tx.Rollback()
			return opErr(op, OperationErrorValidation, "vector id is required", nil)
		}
		if r.Payload.UserID == "" {
			_ = tx.Rollback()
			return opErr(op, OperationErrorValidation,
				fmt.Sprintf("vector %q has no owner in payload", r.ID), nil)
		}
		if s.vectorDim > 0 && len(r.Vector) != s.vectorDim {
			_ = tx.Rollback()
			return opErr(op, OperationErrorValidation,
				fmt.Sprintf("vector %q dimension mismatch: expected=%d got=%d",
					r.ID, s.vectorDim, len(r.Vector)), nil)
		}
		p := r.Payload
		if _, err := stmt.ExecContext(ctx,
			pointID(r.ID), p.UserID, p.DocumentID, p.Content, p.ChunkIndex,
			p.PageNumber, p.ChunkType, p.StartChar, p.EndChar,
			pgvector.NewVector(r.Vector),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert vector %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

func (s *PgvectorStore) Search(ctx context.Context, q core.VectorQuery) ([]core.VectorHit, error) {
	const op = "query"
	if len(q.Vector) == 0 {
		return nil, opErr(op, OperationErrorValidation, "query vector required", nil)
	}
	if q.OwnerID == "" {
		return nil, opErr(op, OperationErrorValidation, "owner id is required", nil)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	threshold := q.ScoreThreshold
	if threshold <= 0 {
		threshold = defaultScoreThreshold
	}

	vec := pgvector.NewVector(q.Vector)
	args := []any{vec, q.OwnerID, threshold}
	where := `user_id = $2`
	if len(q.DocumentIDs) > 0 {
		placeholders := make([]string, len(q.DocumentIDs))
		for i, id := range q.DocumentIDs {
			placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
			args = append(args, id)
		}
		where += ` AND document_id IN (` + strings.Join(placeholders, ", ") + `)`
	}
	args = append(args, limit)

	// Cosine similarity = 1 - cosine distance.
	query := fmt.Sprintf(`
		SELECT id, user_id, document_id, content, chunk_index, page_number,
		       chunk_type, start_char, end_char,
		       1 - (embedding <=> $1) AS score
		FROM vector_records
		WHERE %s AND 1 - (embedding <=> $1) >= $3
		ORDER BY embedding <=> $1
		LIMIT $%d`, where, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}
	defer rows.Close()

	var out []core.VectorHit
	for rows.Next() {
		var h core.VectorHit
		if err := rows.Scan(
			&h.ID, &h.Payload.UserID, &h.Payload.DocumentID, &h.Payload.Content,
			&h.Payload.ChunkIndex, &h.Payload.PageNumber, &h.Payload.ChunkType,
			&h.Payload.StartChar, &h.Payload.EndChar, &h.Score,
		); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *PgvectorStore) DeleteByDocument(ctx context.Context, ownerID, documentID string) error {
	const op = "delete"
	if ownerID == "" || documentID == "" {
		return opErr(op, OperationErrorValidation, "owner id and document id are required", nil)
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM vector_records WHERE user_id = $1 AND document_id = $2`,
		ownerID, documentID)
	if err != nil {
		return fmt.Errorf("pgvector delete: %w", err)
	}
	return nil
}

var _ core.VectorStore = (*PgvectorStore)(nil)
