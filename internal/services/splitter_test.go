package services

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sentencesOfRoughly builds n period-terminated sentences of ~55 chars each.
func sentencesOfRoughly(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "This is sentence number %03d and it covers topic %03d. ", i, i)
	}
	return b.String()
}

func TestSplitter_EmptyInput(t *testing.T) {
	splitter := NewSplitter()

	for _, input := range []string{"", "   ", "\n\t  \n"} {
		pieces, err := splitter.Split(input)
		require.NoError(t, err)
		assert.Empty(t, pieces)
	}
}

func TestSplitter_ShortTextSingleChunk(t *testing.T) {
	splitter := NewSplitter()

	pieces, err := splitter.Split("A short note. Nothing more to say here.")
	require.NoError(t, err)
	require.Len(t, pieces, 1)
	assert.Equal(t, 0, pieces[0].ContentIndex)
	assert.Equal(t, 0, pieces[0].NCharIndex)
	assert.Equal(t, "A short note. Nothing more to say here.", pieces[0].Content)
}

func TestSplitter_MidSizeTextStaysWhole(t *testing.T) {
	splitter := NewSplitter()

	// Around 1.2 KB of prose fits one chunk: the splitter only cuts when
	// packing would overrun the upper bound.
	text := sentencesOfRoughly(20)
	require.Greater(t, len(text), MinChunkSize)

	pieces, err := splitter.Split(text)
	require.NoError(t, err)
	require.Len(t, pieces, 1)
	assert.Equal(t, 0, pieces[0].NCharIndex)
	assert.Equal(t, 0, pieces[0].ContentIndex)
}

func TestSplitter_LongTextPacksSentences(t *testing.T) {
	splitter := NewSplitter()

	text := sentencesOfRoughly(80)
	normalized := strings.Join(strings.Fields(text), " ")

	pieces, err := splitter.Split(text)
	require.NoError(t, err)
	require.Greater(t, len(pieces), 1)

	for i, piece := range pieces {
		assert.Equal(t, i, piece.ContentIndex)

		// Never split mid-sentence: every chunk ends on a terminator.
		assert.True(t, strings.HasSuffix(piece.Content, "."),
			"chunk %d must end at a sentence boundary: %q", i, piece.Content)

		// Offsets point at the chunk's position in the normalized text.
		require.LessOrEqual(t, piece.NCharIndex+len(piece.Content), len(normalized))
		assert.Equal(t, piece.Content,
			normalized[piece.NCharIndex:piece.NCharIndex+len(piece.Content)],
			"chunk %d nchar_index mismatch", i)

		if i < len(pieces)-1 {
			assert.GreaterOrEqual(t, len(piece.Content), MinChunkSize,
				"non-final chunk %d shorter than the minimum", i)
		}
	}

	// Chunks are emitted in document order.
	for i := 1; i < len(pieces); i++ {
		assert.Greater(t, pieces[i].NCharIndex, pieces[i-1].NCharIndex)
	}
}

func TestSplitter_NormalizesWhitespace(t *testing.T) {
	splitter := NewSplitter()

	pieces, err := splitter.Split("First   line.\n\nSecond\tline here.")
	require.NoError(t, err)
	require.Len(t, pieces, 1)
	assert.Equal(t, "First line. Second line here.", pieces[0].Content)
}

func TestSplitter_OversizedSentenceStaysWhole(t *testing.T) {
	splitter := NewSplitter()

	// One sentence far beyond the packing bound must not be cut.
	long := "The report covers " + strings.Repeat("many subsidiaries, ", 120) + "and concludes."
	pieces, err := splitter.Split(long)
	require.NoError(t, err)

	for _, piece := range pieces {
		assert.NotEmpty(t, piece.Content)
	}
	joined := strings.Join(strings.Fields(long), " ")
	var rebuilt []string
	for _, piece := range pieces {
		rebuilt = append(rebuilt, piece.Content)
	}
	assert.Equal(t, joined, strings.Join(rebuilt, " "))
}

func TestSplitter_ConcurrentFirstUse(t *testing.T) {
	splitter := NewSplitter()
	text := sentencesOfRoughly(30)

	var wg sync.WaitGroup
	results := make([][]SplitPiece, 8)
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			results[slot], errs[slot] = splitter.Split(text)
		}(i)
	}
	wg.Wait()

	for i := 0; i < len(results); i++ {
		require.NoError(t, errs[i])
	}
	for i := 1; i < len(results); i++ {
		assert.Equal(t, results[0], results[i], "splitting must be deterministic under concurrency")
	}
}
