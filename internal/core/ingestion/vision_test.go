package ingestion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"sync"
	"testing"

	"github.com/docsage-ai/docsage-backend/internal/logger"
)

func writeBytes(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}

func TestKeywordClassifier(t *testing.T) {
	cases := []struct {
		desc string
		want PageFlags
	}{
		{"Plain paragraphs of prose only.", PageFlags{}},
		{"A bar chart showing revenue growth.", PageFlags{HasCharts: true}},
		{"A table with rows of quarterly data.", PageFlags{HasTables: true}},
		{"A photo of the new headquarters.", PageFlags{HasImages: true}},
		{"A pie chart next to a spreadsheet and a diagram.",
			PageFlags{HasCharts: true, HasTables: true, HasImages: true}},
		{"THE LINE GRAPH TRENDS UP", PageFlags{HasCharts: true}},
	}
	var c KeywordClassifier
	for _, tc := range cases {
		if got := c.Classify(tc.desc); got != tc.want {
			t.Fatalf("Classify(%q): want=%+v got=%+v", tc.desc, tc.want, got)
		}
	}
}

func TestExtractKeyData(t *testing.T) {
	desc := "Revenue was $1,200.50M in Q3 2024, up 12.5% from 2023. Budget $900K."
	got := ExtractKeyData(desc)

	want := []string{"$1,200.50M", "$900K", "12.5%", "Q3 2024", "2024", "2023"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ExtractKeyData: want=%v got=%v", want, got)
	}
}

func TestExtractKeyDataDedupesInOrder(t *testing.T) {
	got := ExtractKeyData("Growth of 10% in 2024, then 10% again in 2024.")
	want := []string{"10%", "2024"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("dedupe: want=%v got=%v", want, got)
	}
}

// fakeVisionLLM counts concurrent calls and answers from a per-page script.
type fakeVisionLLM struct {
	mu       sync.Mutex
	inFlight int
	peak     int
	failOn   map[int]bool
	calls    int
}

func (f *fakeVisionLLM) Generate(ctx context.Context, system, user string) (string, error) {
	return "", errors.New("not used")
}

func (f *fakeVisionLLM) GenerateVision(ctx context.Context, prompt string, png []byte) (string, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.inFlight++
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
	fail := f.failOn[len(png)]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if fail {
		return "", fmt.Errorf("model unavailable (call %d)", call)
	}
	return fmt.Sprintf("A table describing item %d.", len(png)), nil
}

func TestAnalyzePageSoftFailure(t *testing.T) {
	llm := &fakeVisionLLM{failOn: map[int]bool{3: true}}
	v := NewVisionAnalyzer(llm, nil, 2, logger.NewNop())

	got := v.AnalyzePage(context.Background(), 7, []byte("abc"))
	if got.Err == nil {
		t.Fatalf("expected soft error on failed page")
	}
	if got.PageNumber != 7 {
		t.Fatalf("page number: want=7 got=%d", got.PageNumber)
	}
	if got.Description != "" || got.HasCharts || got.HasTables || got.HasImages {
		t.Fatalf("failed page should carry empty analysis: %+v", got)
	}
}

func TestAnalyzePageClassifiesAndExtracts(t *testing.T) {
	llm := &fakeVisionLLM{}
	v := NewVisionAnalyzer(llm, nil, 2, logger.NewNop())

	got := v.AnalyzePage(context.Background(), 1, []byte("ab"))
	if got.Err != nil {
		t.Fatalf("analyze: %v", got.Err)
	}
	if !got.HasTables {
		t.Fatalf("description mentions a table, HasTables should be set: %+v", got)
	}
	if got.HasCharts || got.HasImages {
		t.Fatalf("unexpected flags: %+v", got)
	}
}

func TestAnalyzePagesKeepsOrder(t *testing.T) {
	dir := t.TempDir()
	var pages []RenderedPage
	for n := 1; n <= 6; n++ {
		p := writeTempPage(t, dir, n)
		pages = append(pages, p)
	}

	llm := &fakeVisionLLM{}
	v := NewVisionAnalyzer(llm, nil, 2, logger.NewNop())

	results := v.AnalyzePages(context.Background(), pages)
	if len(results) != len(pages) {
		t.Fatalf("result count: want=%d got=%d", len(pages), len(results))
	}
	for i, res := range results {
		if res.PageNumber != pages[i].PageNumber {
			t.Fatalf("result %d out of order: page=%d", i, res.PageNumber)
		}
	}
	if llm.peak > 2 {
		t.Fatalf("concurrency cap exceeded: peak=%d", llm.peak)
	}
}

// writeTempPage writes a fake page image whose size encodes its number so
// the fake model can tell pages apart.
func writeTempPage(t *testing.T, dir string, n int) RenderedPage {
	t.Helper()
	path := fmt.Sprintf("%s/page_%04d.png", dir, n)
	if err := writeBytes(path, make([]byte, n)); err != nil {
		t.Fatalf("write page %d: %v", n, err)
	}
	return RenderedPage{PageNumber: n, Path: path}
}

func TestAnalyzePagesMissingImageIsSoft(t *testing.T) {
	dir := t.TempDir()
	ok := writeTempPage(t, dir, 1)
	missing := RenderedPage{PageNumber: 2, Path: dir + "/page_0002.png"}

	llm := &fakeVisionLLM{}
	v := NewVisionAnalyzer(llm, nil, 2, logger.NewNop())

	results := v.AnalyzePages(context.Background(), []RenderedPage{ok, missing})
	if results[0].Err != nil {
		t.Fatalf("readable page failed: %v", results[0].Err)
	}
	if results[1].Err == nil {
		t.Fatalf("missing image should produce a soft error")
	}
}
