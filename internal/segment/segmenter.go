// Package segment splits free-form text into overlapping, sentence-bounded
// chunks suitable for embedding and vector indexing.
package segment

import (
	"strings"
	"unicode"
)

const (
	// DefaultChunkSizeWords is the target chunk size in words.
	DefaultChunkSizeWords = 500

	// DefaultOverlapWords is the target overlap between adjacent chunks in
	// words. Overlap is applied at sentence granularity: the last
	// overlap/10 sentences of a closed chunk seed the next one.
	DefaultOverlapWords = 100
)

// Segmenter splits text into overlapping chunks at sentence boundaries.
//
// Segmentation is a pure function of its inputs: the same text and
// parameters always produce the same chunks, which keeps re-indexing
// reproducible.
type Segmenter struct {
	chunkSizeWords int
	overlapWords   int
}

// New creates a Segmenter. Non-positive parameters fall back to defaults.
func New(chunkSizeWords, overlapWords int) *Segmenter {
	if chunkSizeWords <= 0 {
		chunkSizeWords = DefaultChunkSizeWords
	}
	if overlapWords < 0 {
		overlapWords = DefaultOverlapWords
	}
	return &Segmenter{
		chunkSizeWords: chunkSizeWords,
		overlapWords:   overlapWords,
	}
}

// Segment splits text into ordered chunks.
//
// Sentences accumulate into a chunk until adding the next sentence would
// exceed the word budget; the chunk is then closed and the next chunk is
// seeded with the trailing overlap sentences of the closed one. A single
// sentence longer than the budget is emitted whole - sentences are never
// split. Empty or whitespace-only input yields nil. The final partial
// accumulation is always flushed, and no returned chunk is empty.
func (s *Segmenter) Segment(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	overlapSentences := s.overlapWords / 10

	var chunks []string
	var current []string
	wordCount := 0

	for _, sentence := range sentences {
		n := countWords(sentence)

		if wordCount+n > s.chunkSizeWords && len(current) > 0 {
			chunk := strings.Join(current, " ")
			if strings.TrimSpace(chunk) != "" {
				chunks = append(chunks, chunk)
			}

			// Seed the next chunk with the tail of this one.
			seed := ""
			if overlapSentences > 0 && len(current) > 1 {
				start := len(current) - overlapSentences
				if start < 0 {
					start = 0
				}
				seed = strings.Join(current[start:], " ")
			}
			if seed != "" {
				current = []string{seed}
				wordCount = countWords(seed)
			} else {
				current = nil
				wordCount = 0
			}
		}

		current = append(current, sentence)
		wordCount += n
	}

	if len(current) > 0 {
		chunk := strings.Join(current, " ")
		if strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
	}

	return chunks
}

// SplitSentences splits text at sentence-final punctuation followed by
// whitespace. Trailing text without terminal punctuation forms the last
// sentence. Whitespace runs inside sentences are preserved as-is; leading
// and trailing whitespace around each sentence is trimmed.
func SplitSentences(text string) []string {
	var sentences []string
	runes := []rune(text)

	start := 0
	for i := 0; i < len(runes); i++ {
		if !isSentenceTerminal(runes[i]) {
			continue
		}
		// Consume a run of terminal punctuation ("?!", "...").
		j := i
		for j+1 < len(runes) && isSentenceTerminal(runes[j+1]) {
			j++
		}
		// Boundary only when punctuation is followed by whitespace or EOF.
		if j+1 < len(runes) && !unicode.IsSpace(runes[j+1]) {
			i = j
			continue
		}
		sentence := strings.TrimSpace(string(runes[start : j+1]))
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
		start = j + 1
		i = j
	}

	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		sentences = append(sentences, tail)
	}

	return sentences
}

func isSentenceTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func countWords(s string) int {
	return len(strings.Fields(s))
}
