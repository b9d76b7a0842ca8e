package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	xdraw "golang.org/x/image/draw"

	"github.com/docsage-ai/docsage-backend/internal/config"
	"github.com/docsage-ai/docsage-backend/internal/logger"
)

// RenderedPage is one page image written to disk.
type RenderedPage struct {
	PageNumber int
	Path       string
	Width      int
	Height     int
}

const (
	baseRenderDPI    = 150
	reducedRenderDPI = 100
	// Documents past this page count render at the reduced DPI.
	dpiReductionThreshold = 50
	// Either dimension past this is downscaled before storage.
	maxImageDimension = 2048
)

// Renderer rasterizes PDF pages to PNG via poppler (pdfinfo + pdftoppm),
// one page per invocation so a single bad page cannot take the whole
// document down with it.
type Renderer struct {
	maxPages int
	log      *logger.Logger
}

func NewRenderer(cfg *config.Config, log *logger.Logger) *Renderer {
	maxPages := cfg.MaxRenderPages
	if maxPages <= 0 {
		maxPages = 100
	}
	return &Renderer{maxPages: maxPages, log: log.With("service", "renderer")}
}

// PageCount asks pdfinfo how many pages the document has.
func (r *Renderer) PageCount(ctx context.Context, pdfPath string) (int, error) {
	out, err := exec.CommandContext(ctx, "pdfinfo", pdfPath).Output()
	if err != nil {
		return 0, fmt.Errorf("pdfinfo: %w", err)
	}
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "Pages:") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "Pages:")))
		if err != nil {
			return 0, fmt.Errorf("pdfinfo pages line %q: %w", line, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("pdfinfo: no Pages line for %s", filepath.Base(pdfPath))
}

// RenderPages rasterizes up to maxPages pages into outDir and returns the
// written pages together with the document's true page count.
func (r *Renderer) RenderPages(ctx context.Context, pdfPath, outDir string) ([]RenderedPage, int, error) {
	total, err := r.PageCount(ctx, pdfPath)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return nil, 0, fmt.Errorf("document has no pages")
	}

	renderCount := total
	if renderCount > r.maxPages {
		r.log.Warn("truncating page rendering",
			"file", filepath.Base(pdfPath), "pages", total, "max", r.maxPages)
		renderCount = r.maxPages
	}
	dpi := dpiForPageCount(total)

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, 0, fmt.Errorf("create page dir: %w", err)
	}

	pages := make([]RenderedPage, 0, renderCount)
	for n := 1; n <= renderCount; n++ {
		p, err := r.renderOne(ctx, pdfPath, outDir, n, dpi)
		if err != nil {
			return nil, 0, fmt.Errorf("render page %d: %w", n, err)
		}
		pages = append(pages, *p)
	}
	return pages, total, nil
}

func (r *Renderer) renderOne(ctx context.Context, pdfPath, outDir string, pageNumber, dpi int) (*RenderedPage, error) {
	prefix := filepath.Join(outDir, strings.TrimSuffix(pageFilename(pageNumber), ".png"))

	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-r", strconv.Itoa(dpi),
		"-png",
		"-f", strconv.Itoa(pageNumber),
		"-l", strconv.Itoa(pageNumber),
		"-singlefile",
		pdfPath, prefix)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, truncate(string(out), 200))
	}

	path := prefix + ".png"
	w, h, err := normalizeImage(path)
	if err != nil {
		return nil, err
	}
	return &RenderedPage{PageNumber: pageNumber, Path: path, Width: w, Height: h}, nil
}

// normalizeImage downscales the PNG in place when it exceeds the dimension
// cap and returns the final width and height.
func normalizeImage(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open page image: %w", err)
	}
	img, err := png.Decode(f)
	f.Close()
	if err != nil {
		return 0, 0, fmt.Errorf("decode page image: %w", err)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxImageDimension && h <= maxImageDimension {
		return w, h, nil
	}

	nw, nh := fitWithin(w, h, maxImageDimension)
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)

	out, err := os.Create(path)
	if err != nil {
		return 0, 0, fmt.Errorf("rewrite page image: %w", err)
	}
	defer out.Close()
	if err := png.Encode(out, dst); err != nil {
		return 0, 0, fmt.Errorf("encode page image: %w", err)
	}
	return nw, nh, nil
}

// dpiForPageCount drops render resolution for long documents.
func dpiForPageCount(pages int) int {
	if pages > dpiReductionThreshold {
		return reducedRenderDPI
	}
	return baseRenderDPI
}

// fitWithin scales (w, h) down to fit a max square, preserving aspect.
// Dimensions never round down to zero.
func fitWithin(w, h, max int) (int, int) {
	if w <= max && h <= max {
		return w, h
	}
	if w >= h {
		nh := h * max / w
		if nh < 1 {
			nh = 1
		}
		return max, nh
	}
	nw := w * max / h
	if nw < 1 {
		nw = 1
	}
	return nw, max
}

// pageFilename is the canonical on-disk name for a page image.
func pageFilename(pageNumber int) string {
	return fmt.Sprintf("page_%04d.png", pageNumber)
}
