package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/docsage-ai/docsage-backend/internal/config"
	"github.com/docsage-ai/docsage-backend/internal/logger"
)

// Parser extracts per-page text from a PDF. The cloud parser is preferred
// when an API key is configured; on any cloud failure (or an empty result)
// it falls back to local extraction. Both failing is fatal for the document.
type Parser struct {
	apiKey  string
	baseURL string
	http    *http.Client
	log     *logger.Logger

	pollInterval time.Duration
	pollTimeout  time.Duration
}

func NewParser(cfg *config.Config, log *logger.Logger) *Parser {
	return &Parser{
		apiKey:       cfg.ParseAPIKey,
		baseURL:      strings.TrimRight(cfg.ParseURL, "/"),
		http:         &http.Client{Timeout: 60 * time.Second},
		log:          log.With("service", "parser"),
		pollInterval: 2 * time.Second,
		pollTimeout:  2 * time.Minute,
	}
}

// ExtractPages returns the text of every page, 1-based, in order.
func (p *Parser) ExtractPages(ctx context.Context, pdfPath string) ([]PageText, error) {
	if p.apiKey != "" {
		pages, err := p.extractCloud(ctx, pdfPath)
		if err == nil && len(pages) > 0 {
			return pages, nil
		}
		if err != nil {
			p.log.Warn("cloud parse failed, falling back to local extraction",
				"file", filepath.Base(pdfPath), "error", err)
		} else {
			p.log.Warn("cloud parse returned no pages, falling back to local extraction",
				"file", filepath.Base(pdfPath))
		}
	}

	pages, err := extractLocal(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("extract text: %w", err)
	}
	return pages, nil
}

type parseJob struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type parseResult struct {
	Pages []struct {
		Page int    `json:"page"`
		Text string `json:"text"`
	} `json:"pages"`
}

func (p *Parser) extractCloud(ctx context.Context, pdfPath string) ([]PageText, error) {
	jobID, err := p.uploadForParsing(ctx, pdfPath)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(p.pollTimeout)
	for {
		job, err := p.getJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		switch strings.ToUpper(job.Status) {
		case "SUCCESS":
			return p.getResult(ctx, jobID)
		case "ERROR", "CANCELED":
			return nil, fmt.Errorf("parse job %s ended with status %s", jobID, job.Status)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("parse job %s timed out", jobID)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.pollInterval):
		}
	}
}

func (p *Parser) uploadForParsing(ctx context.Context, pdfPath string) (string, error) {
	f, err := os.Open(pdfPath)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(pdfPath))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/upload", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var job parseJob
	if err := p.doJSON(req, &job); err != nil {
		return "", fmt.Errorf("upload for parsing: %w", err)
	}
	if job.ID == "" {
		return "", fmt.Errorf("upload for parsing: no job id in response")
	}
	return job.ID, nil
}

func (p *Parser) getJob(ctx context.Context, jobID string) (*parseJob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/job/"+jobID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	var job parseJob
	if err := p.doJSON(req, &job); err != nil {
		return nil, fmt.Errorf("poll parse job: %w", err)
	}
	return &job, nil
}

func (p *Parser) getResult(ctx context.Context, jobID string) ([]PageText, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/job/"+jobID+"/result/json", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	var res parseResult
	if err := p.doJSON(req, &res); err != nil {
		return nil, fmt.Errorf("fetch parse result: %w", err)
	}

	out := make([]PageText, 0, len(res.Pages))
	for i, pg := range res.Pages {
		n := pg.Page
		if n == 0 {
			n = i + 1
		}
		out = append(out, PageText{PageNumber: n, Text: pg.Text})
	}
	return out, nil
}

func (p *Parser) doJSON(req *http.Request, dest any) error {
	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("http %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}
	return json.Unmarshal(raw, dest)
}

// extractLocal reads page text directly from the PDF, one page at a time.
// Pages whose text cannot be decoded come back empty rather than failing
// the document.
func extractLocal(pdfPath string) ([]PageText, error) {
	f, reader, err := pdf.Open(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	total := reader.NumPage()
	out := make([]PageText, 0, total)
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			out = append(out, PageText{PageNumber: i})
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			text = ""
		}
		out = append(out, PageText{PageNumber: i, Text: text})
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
