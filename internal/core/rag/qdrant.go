package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docsage-ai/docsage-backend/internal/config"
	"github.com/docsage-ai/docsage-backend/internal/core"
	"github.com/docsage-ai/docsage-backend/internal/logger"
)

const (
	defaultScoreThreshold = 0.3
	maxErrorBodyBytes     = 1024
)

var pointIDNamespaceUUID = uuid.MustParse("8a6e1fd4-9c2b-4f57-9d0e-3b7a54c21c6a")

// QdrantStore talks to Qdrant over its plain HTTP API. Every search carries
// a mandatory owner filter; a query without one is rejected before it
// leaves the process.
type QdrantStore struct {
	baseURL    string
	apiKey     string
	collection string
	vectorDim  int
	http       *http.Client
	log        *logger.Logger
}

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

type qdrantSearchItem struct {
	ID      json.RawMessage    `json:"id"`
	Score   float32            `json:"score"`
	Payload core.VectorPayload `json:"payload"`
}

func NewQdrantStore(cfg *config.Config, log *logger.Logger) (*QdrantStore, error) {
	if cfg.QdrantURL == "" {
		return nil, fmt.Errorf("QDRANT_URL is empty")
	}
	if cfg.QdrantCollection == "" {
		return nil, fmt.Errorf("QDRANT_COLLECTION is empty")
	}
	return &QdrantStore{
		baseURL:    strings.TrimRight(cfg.QdrantURL, "/"),
		apiKey:     cfg.QdrantAPIKey,
		collection: cfg.QdrantCollection,
		vectorDim:  cfg.EmbedDim,
		http:       &http.Client{Timeout: 10 * time.Second},
		log:        log.With("service", "QdrantVectorStore"),
	}, nil
}

// EnsureReady checks liveness and creates the collection if it does not
// exist yet, then verifies the configured vector size against it.
func (s *QdrantStore) EnsureReady(ctx context.Context) error {
	const op = "bootstrap_verify"

	readyReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/readyz", nil)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build ready request failed", err)
	}
	s.setHeaders(readyReq)
	readyResp, err := s.http.Do(readyReq)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant ready check failed", err)
	}
	_ = readyResp.Body.Close()
	if readyResp.StatusCode < 200 || readyResp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: readyResp.StatusCode,
			Message:    fmt.Sprintf("qdrant ready check returned status=%d", readyResp.StatusCode),
		}
	}

	var info struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	err = s.doJSON(ctx, op, http.MethodGet, s.collectionPath(""), nil, &info)
	var qerr *OperationError
	if errors.As(err, &qerr) && qerr.StatusCode == http.StatusNotFound {
		createReq := map[string]any{
			"vectors": map[string]any{"size": s.vectorDim, "distance": "Cosine"},
		}
		if err := s.doJSON(ctx, op, http.MethodPut, s.collectionPath(""), createReq, nil); err != nil {
			return err
		}
		s.log.Info("created qdrant collection", "collection", s.collection, "dim", s.vectorDim)
		return nil
	}
	if err != nil {
		return err
	}

	if size := info.Config.Params.Vectors.Size; size != 0 && size != s.vectorDim {
		return &OperationError{
			Code:      OperationErrorValidation,
			Operation: op,
			Message: fmt.Sprintf("collection %q vector size mismatch: expected=%d actual=%d",
				s.collection, s.vectorDim, size),
		}
	}
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, records []core.VectorRecord) error {
	const op = "upsert"
	if len(records) == 0 {
		return nil
	}

	points := make([]map[string]any, 0, len(records))
	for _, r := range records {
		id := strings.TrimSpace(r.ID)
		if id == "" {
			return opErr(op, OperationErrorValidation, "vector id is required", nil)
		}
		if len(r.Vector) == 0 {
			return opErr(op, OperationErrorValidation,
				fmt.Sprintf("vector %q has empty values", id), nil)
		}
		if s.vectorDim > 0 && len(r.Vector) != s.vectorDim {
			return opErr(op, OperationErrorValidation,
				fmt.Sprintf("vector %q dimension mismatch: expected=%d got=%d",
					id, s.vectorDim, len(r.Vector)), nil)
		}
		if r.Payload.UserID == "" {
			return opErr(op, OperationErrorValidation,
				fmt.Sprintf("vector %q has no owner in payload", id), nil)
		}
		points = append(points, map[string]any{
			"id":      pointID(id),
			"vector":  r.Vector,
			"payload": r.Payload,
		})
	}

	req := map[string]any{"points": points}
	return s.doJSON(ctx, op, http.MethodPut, s.collectionPath("/points?wait=true"), req, nil)
}

func (s *QdrantStore) Search(ctx context.Context, q core.VectorQuery) ([]core.VectorHit, error) {
	const op = "query"
	if len(q.Vector) == 0 {
		return nil, opErr(op, OperationErrorValidation, "query vector required", nil)
	}
	if q.OwnerID == "" {
		return nil, opErr(op, OperationErrorValidation, "owner id is required", nil)
	}
	if s.vectorDim > 0 && len(q.Vector) != s.vectorDim {
		return nil, opErr(op, OperationErrorValidation,
			fmt.Sprintf("query vector dimension mismatch: expected=%d got=%d",
				s.vectorDim, len(q.Vector)), nil)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	threshold := q.ScoreThreshold
	if threshold <= 0 {
		threshold = defaultScoreThreshold
	}

	req := map[string]any{
		"vector":          q.Vector,
		"limit":           limit,
		"with_payload":    true,
		"with_vector":     false,
		"score_threshold": threshold,
		"filter":          searchFilter(q.OwnerID, q.DocumentIDs),
	}

	var items []qdrantSearchItem
	if err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/search"), req, &items); err != nil {
		return nil, err
	}

	out := make([]core.VectorHit, 0, len(items))
	for _, item := range items {
		out = append(out, core.VectorHit{
			ID:      decodePointID(item.ID),
			Score:   item.Score,
			Payload: item.Payload,
		})
	}
	return out, nil
}

func (s *QdrantStore) DeleteByDocument(ctx context.Context, ownerID, documentID string) error {
	const op = "delete"
	if ownerID == "" || documentID == "" {
		return opErr(op, OperationErrorValidation, "owner id and document id are required", nil)
	}
	req := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "user_id", "match": map[string]any{"value": ownerID}},
				{"key": "document_id", "match": map[string]any{"value": documentID}},
			},
		},
	}
	return s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/delete?wait=true"), req, nil)
}

// searchFilter builds the must clause: owner always, document set when given.
func searchFilter(ownerID string, documentIDs []string) map[string]any {
	must := []map[string]any{
		{"key": "user_id", "match": map[string]any{"value": ownerID}},
	}
	if len(documentIDs) > 0 {
		must = append(must, map[string]any{
			"key": "document_id", "match": map[string]any{"any": documentIDs},
		})
	}
	return map[string]any{"must": must}
}

// pointID maps a vector ID to a Qdrant point ID. IDs that are already UUIDs
// pass through; anything else is hashed into the point namespace.
func pointID(vectorID string) string {
	if _, err := uuid.Parse(vectorID); err == nil {
		return vectorID
	}
	return uuid.NewSHA1(pointIDNamespaceUUID, []byte(vectorID)).String()
}

func decodePointID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.Trim(string(raw), `"`)
}

func (s *QdrantStore) collectionPath(suffix string) string {
	return "/collections/" + s.collection + suffix
}

func (s *QdrantStore) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
}

func (s *QdrantStore) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	s.setHeaders(req)

	resp, err := s.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant request failed", err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 10*maxErrorBodyBytes))
	if readErr != nil {
		return opErr(op, OperationErrorDecodeFailed, "read response failed", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant http status=%d body=%q", resp.StatusCode, truncateBody(raw)),
		}
	}

	var envelope qdrantEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant envelope failed", err)
	}
	if statusErr := parseEnvelopeStatus(envelope.Status); statusErr != "" {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    statusErr,
		}
	}

	if out == nil {
		return nil
	}
	if len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant result failed", err)
	}
	return nil
}

func classifyHTTPCallError(op, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	return opErr(op, OperationErrorTransportFailed, message, err)
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}

	var statusString string
	if err := json.Unmarshal(raw, &statusString); err == nil {
		if strings.EqualFold(statusString, "ok") {
			return ""
		}
		return fmt.Sprintf("qdrant status=%q", statusString)
	}

	var statusObject struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &statusObject); err == nil {
		if strings.TrimSpace(statusObject.Error) != "" {
			return strings.TrimSpace(statusObject.Error)
		}
	}

	return fmt.Sprintf("qdrant status=%s", status)
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}

var _ core.VectorStore = (*QdrantStore)(nil)
