package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"graphmemory/internal/util"
)

func TestChunkRespectsTargetSize(t *testing.T) {
	sentence := "The quick brown fox jumps over the lazy dog. "
	text := strings.Repeat(sentence, 40)

	chunks := Chunk(text, Options{TargetTokens: 50, OverlapTokens: 10})
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		require.LessOrEqual(t, c.TokenCount, 60) // target + one sentence slack
	}
}

func TestChunkSequenceIsOrdered(t *testing.T) {
	text := "First sentence here. Second sentence here. Third sentence here."
	chunks := Chunk(text, Options{TargetTokens: 5, OverlapTokens: 2})
	for i, c := range chunks {
		require.Equal(t, i, c.Sequence)
	}
}

func TestChunkCarriesSectionPath(t *testing.T) {
	text := "# Title\n\nIntro text.\n\n## Sub\n\nSub text here."
	chunks := Chunk(text, DefaultOptions())
	require.NotEmpty(t, chunks)

	var sawTitle, sawSub bool
	for _, c := range chunks {
		if len(c.SectionPath) >= 1 && c.SectionPath[0] == "Title" {
			sawTitle = true
		}
		if len(c.SectionPath) >= 2 && c.SectionPath[1] == "Sub" {
			sawSub = true
		}
	}
	require.True(t, sawTitle)
	require.True(t, sawSub)
}

func TestChunkTerminatesOnLongDocument(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 2000; i++ {
		sb.WriteString("Sentence number ")
		sb.WriteString(strings.Repeat("x", 3))
		sb.WriteString(". ")
	}
	chunks := Chunk(sb.String(), Options{TargetTokens: 20, OverlapTokens: 15})
	require.NotEmpty(t, chunks)
	require.Less(t, len(chunks), 5000) // bounded, not runaway
}

func TestChunkHandlesEmptyText(t *testing.T) {
	chunks := Chunk("", DefaultOptions())
	require.Empty(t, chunks)
}

func TestSplitSentencesToleratesFrenchEllipsis(t *testing.T) {
	sentences := splitSentences("Il a dit… Puis il est parti. Fin.")
	require.GreaterOrEqual(t, len(sentences), 2)
}

func TestCountTokensMatchesWordHeuristic(t *testing.T) {
	require.Equal(t, 2, util.CountTokens("hello world"))
}
