package services

import (
	"strings"
	"sync"

	"github.com/jdkato/prose/v2"

	"rag-engine/internal/models"
)

const (
	// MinChunkSize is the smallest chunk the splitter aims for. Only the
	// final chunk of a text may come out shorter.
	MinChunkSize = 512

	// maxChunkSize bounds greedy packing so chunks stay embeddable in one
	// piece. A single sentence longer than this still becomes one chunk;
	// sentences are never split.
	maxChunkSize = 3 * MinChunkSize
)

// segmenterOnce warms the sentence segmenter's model data exactly once, so
// concurrent first users do not race its lazy initialization.
var segmenterOnce sync.Once

func initSegmenter() {
	segmenterOnce.Do(func() {
		_, _ = prose.NewDocument("Init.", prose.WithTagging(false), prose.WithExtraction(false))
	})
}

// SplitPiece is one output chunk of the intelligent splitter. NCharIndex is
// the char offset of the chunk's start in the normalized text; ContentIndex
// is the zero-based chunk counter.
type SplitPiece struct {
	Content      string
	NCharIndex   int
	ContentIndex int
}

// Splitter packs whole sentences into chunks. It normalizes whitespace,
// sentence-tokenizes, then greedily fills each chunk to at least
// MinChunkSize characters without crossing maxChunkSize mid-text.
type Splitter struct{}

// NewSplitter creates a new sentence-packing splitter.
func NewSplitter() *Splitter {
	return &Splitter{}
}

// Split breaks text into sentence-aligned chunks. Empty or whitespace-only
// input yields no chunks.
func (s *Splitter) Split(text string) ([]SplitPiece, error) {
	normalized := normalizeWhitespace(text)
	if normalized == "" {
		return []SplitPiece{}, nil
	}

	sentences, err := tokenizeSentences(normalized)
	if err != nil {
		return nil, models.NewUpstreamError("tokenizer", "sentence split", err)
	}
	if len(sentences) == 0 {
		sentences = []string{normalized}
	}

	pieces := make([]SplitPiece, 0)
	var buffer strings.Builder
	searchFrom := 0
	chunkStart := 0

	flush := func() {
		if buffer.Len() == 0 {
			return
		}
		content := buffer.String()
		pieces = append(pieces, SplitPiece{
			Content:      content,
			NCharIndex:   chunkStart,
			ContentIndex: len(pieces),
		})
		searchFrom = chunkStart + len(content)
		buffer.Reset()
	}

	for _, sentence := range sentences {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}

		if buffer.Len() > 0 && buffer.Len()+1+len(sentence) > maxChunkSize {
			flush()
		}

		if buffer.Len() == 0 {
			chunkStart = locateSentence(normalized, sentence, searchFrom)
		} else {
			buffer.WriteByte(' ')
		}
		buffer.WriteString(sentence)
	}
	flush()

	return pieces, nil
}

// tokenizeSentences runs the prose segmenter over normalized text.
func tokenizeSentences(text string) ([]string, error) {
	initSegmenter()

	doc, err := prose.NewDocument(text, prose.WithTagging(false), prose.WithExtraction(false))
	if err != nil {
		return nil, err
	}

	sentences := doc.Sentences()
	out := make([]string, 0, len(sentences))
	for _, sentence := range sentences {
		out = append(out, sentence.Text)
	}
	return out, nil
}

// normalizeWhitespace collapses all whitespace runs to single spaces.
func normalizeWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// locateSentence finds where a sentence starts in the normalized text, never
// looking behind searchFrom. Falls back to searchFrom when the segmenter
// rewrote the sentence enough that an exact match fails.
func locateSentence(normalized, sentence string, searchFrom int) int {
	if searchFrom >= len(normalized) {
		return searchFrom
	}
	if idx := strings.Index(normalized[searchFrom:], sentence); idx >= 0 {
		return searchFrom + idx
	}
	return searchFrom
}
