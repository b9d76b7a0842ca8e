package ingestion

import (
	"context"
	"os"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/docsage-ai/docsage-backend/internal/core"
	"github.com/docsage-ai/docsage-backend/internal/logger"
)

// visionPrompt asks for a structured description the classifier and data
// extractor can work with.
const visionPrompt = `Analyze this document page image and respond with the following sections:

TEXT SUMMARY:
A concise summary of the text content visible on the page.

VISUAL ELEMENTS:
Describe any charts, graphs, tables, diagrams, photos or other visual elements. Say "none" if the page is text only.

KEY DATA:
List the most important figures, percentages, dates and totals exactly as they appear.

ELEMENT TYPES:
List the kinds of elements present (e.g. bar chart, table, photo).`

// PageAnalysis is the vision result for one page. A failed page carries Err
// and empty fields; the pipeline keeps going without it.
type PageAnalysis struct {
	PageNumber  int
	Description string
	HasCharts   bool
	HasTables   bool
	HasImages   bool
	KeyData     []string
	Err         error
}

// PageFlags are the visual-element indicators derived from a description.
type PageFlags struct {
	HasCharts bool
	HasTables bool
	HasImages bool
}

// PageClassifier decides which visual elements a page description implies.
// The keyword implementation is deliberately replaceable once models return
// structured output.
type PageClassifier interface {
	Classify(description string) PageFlags
}

var (
	chartIndicators = []string{"chart", "graph", "bar", "line", "pie", "histogram", "plot"}
	tableIndicators = []string{"table", "grid", "rows", "columns", "spreadsheet"}
	imageIndicators = []string{"image", "photo", "picture", "diagram", "illustration", "figure"}
)

// KeywordClassifier flags pages by scanning the description for indicator
// words.
type KeywordClassifier struct{}

func (KeywordClassifier) Classify(description string) PageFlags {
	d := strings.ToLower(description)
	return PageFlags{
		HasCharts: containsAny(d, chartIndicators),
		HasTables: containsAny(d, tableIndicators),
		HasImages: containsAny(d, imageIndicators),
	}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// Data points worth surfacing: currency amounts, percentages,
// quarter-year references and bare years.
var keyDataPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\$[\d,]+(?:\.\d{2})?[MBK]?`),
	regexp.MustCompile(`\d+(?:\.\d+)?%`),
	regexp.MustCompile(`Q[1-4]\s*\d{4}`),
	regexp.MustCompile(`\d{4}`),
}

// ExtractKeyData pulls notable figures out of a description, deduplicated
// in first-seen order.
func ExtractKeyData(description string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, p := range keyDataPatterns {
		for _, m := range p.FindAllString(description, -1) {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	return out
}

// VisionAnalyzer runs the vision model over rendered page images.
type VisionAnalyzer struct {
	llm         core.LLMProvider
	classifier  PageClassifier
	concurrency int
	log         *logger.Logger
}

func NewVisionAnalyzer(llm core.LLMProvider, classifier PageClassifier, concurrency int, log *logger.Logger) *VisionAnalyzer {
	if classifier == nil {
		classifier = KeywordClassifier{}
	}
	if concurrency < 1 {
		concurrency = 2
	}
	return &VisionAnalyzer{
		llm:         llm,
		classifier:  classifier,
		concurrency: concurrency,
		log:         log.With("service", "vision"),
	}
}

// AnalyzePage describes a single page image. Failures are soft: the result
// carries Err instead of aborting the document.
func (v *VisionAnalyzer) AnalyzePage(ctx context.Context, pageNumber int, pngImage []byte) PageAnalysis {
	if v.llm == nil {
		return PageAnalysis{PageNumber: pageNumber}
	}
	desc, err := v.llm.GenerateVision(ctx, visionPrompt, pngImage)
	if err != nil {
		v.log.Warn("page analysis failed", "page", pageNumber, "error", err)
		return PageAnalysis{PageNumber: pageNumber, Err: err}
	}

	flags := v.classifier.Classify(desc)
	return PageAnalysis{
		PageNumber:  pageNumber,
		Description: desc,
		HasCharts:   flags.HasCharts,
		HasTables:   flags.HasTables,
		HasImages:   flags.HasImages,
		KeyData:     ExtractKeyData(desc),
	}
}

// AnalyzePages describes every rendered page under the analyzer's own
// concurrency cap. Results come back in input order regardless of which
// page finished first.
func (v *VisionAnalyzer) AnalyzePages(ctx context.Context, pages []RenderedPage) []PageAnalysis {
	results := make([]PageAnalysis, len(pages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency)
	for i, page := range pages {
		i, page := i, page
		g.Go(func() error {
			data, err := os.ReadFile(page.Path)
			if err != nil {
				v.log.Warn("page image unreadable", "page", page.PageNumber, "error", err)
				results[i] = PageAnalysis{PageNumber: page.PageNumber, Err: err}
				return nil
			}
			results[i] = v.AnalyzePage(gctx, page.PageNumber, data)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
