package ingestion

import (
	"regexp"
	"strings"
)

// PageText is the extracted text of one page.
type PageText struct {
	PageNumber int
	Text       string
}

// Chunk is one retrievable segment produced by the chunker. Indexes are
// dense and zero-based across the whole document; char offsets are relative
// to the page the chunk came from.
type Chunk struct {
	Content    string
	Index      int
	PageNumber int
	StartChar  int
	EndChar    int
	TokenCount int
}

// Chunker splits page text into overlapping segments. It is a pure value:
// same input, same output, no I/O.
type Chunker struct {
	chunkSize int
	overlap   int
	minChunk  int
}

const (
	defaultChunkSize = 1000
	defaultOverlap   = 200
	defaultMinChunk  = 100
)

func NewChunker() *Chunker {
	return &Chunker{
		chunkSize: defaultChunkSize,
		overlap:   defaultOverlap,
		minChunk:  defaultMinChunk,
	}
}

var paragraphSplit = regexp.MustCompile(`\n\s*\n`)

// ChunkPages chunks every page and re-indexes the result densely across the
// document.
func (c *Chunker) ChunkPages(pages []PageText) []Chunk {
	var out []Chunk
	for _, p := range pages {
		out = append(out, c.ChunkText(p.Text, p.PageNumber)...)
	}
	for i := range out {
		out[i].Index = i
	}
	return out
}

// ChunkText splits one page into chunks of roughly chunkSize characters.
// Paragraphs are the unit of accumulation; a chunk closes only once it holds
// at least minChunk characters, otherwise the next paragraph is merged in
// even past the size target. Consecutive chunks share an overlap tail.
func (c *Chunker) ChunkText(text string, pageNumber int) []Chunk {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var paras []string
	for _, p := range paragraphSplit.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			paras = append(paras, p)
		}
	}
	if len(paras) == 0 {
		return nil
	}

	var (
		chunks  []Chunk
		current string
		start   int
	)
	emit := func() {
		chunks = append(chunks, Chunk{
			Content:    current,
			PageNumber: pageNumber,
			StartChar:  start,
			EndChar:    start + len(current),
			TokenCount: estimateTokens(current),
		})
	}

	for _, para := range paras {
		switch {
		case current == "":
			current = para
		case len(current)+2+len(para) <= c.chunkSize || len(current) < c.minChunk:
			current += "\n\n" + para
		default:
			emit()
			tail := c.overlapTail(current)
			start += len(current) - len(tail)
			if tail != "" {
				current = tail + "\n\n" + para
			} else {
				start += 2 // the paragraph gap
				current = para
			}
		}
	}

	if current != "" {
		// A trailing fragment below the minimum folds into the previous
		// chunk rather than standing alone.
		if len(current) < c.minChunk && len(chunks) > 0 {
			last := &chunks[len(chunks)-1]
			last.Content += "\n\n" + current
			last.EndChar = last.StartChar + len(last.Content)
			last.TokenCount = estimateTokens(last.Content)
		} else {
			emit()
		}
	}
	return chunks
}

// overlapTail returns the last overlap-sized slice of s, preferring to cut
// at a sentence boundary, then a word boundary, then raw bytes.
func (c *Chunker) overlapTail(s string) string {
	if c.overlap <= 0 || len(s) <= c.overlap {
		return s
	}
	tail := s[len(s)-c.overlap:]
	if i := strings.Index(tail, ". "); i >= 0 && i+2 < len(tail) {
		return tail[i+2:]
	}
	if i := strings.Index(tail, " "); i >= 0 && i+1 < len(tail) {
		return tail[i+1:]
	}
	return tail
}

// estimateTokens is the rough chars/4 heuristic used for budgeting.
func estimateTokens(s string) int {
	return len(s) / 4
}

// EstimateTokens exposes the budgeting heuristic to other packages.
func EstimateTokens(s string) int {
	return estimateTokens(s)
}
