// Package chunker produces the finite, ordered sequence of retrieval
// chunks described in §4.5 of the ingestion pipeline, grounded on
// rag/chunker/chunker.go's markdownChunk heading-aware packing,
// generalized with a section tree, a sentence splitter, and an explicit
// overlap-discard termination rule the teacher's fixedChunk does not carry.
package chunker

import (
	"regexp"
	"strings"

	"graphmemory/internal/util"
)

// Chunk is one retrieval-ready unit of text.
type Chunk struct {
	Sequence    int
	SectionPath []string
	TokenCount  int
	Text        string
}

// Options tunes the packing target and overlap, matching spec §4.5 and
// internal/config's GRAPHMEMORY_CHUNK_SIZE / GRAPHMEMORY_CHUNK_OVERLAP.
type Options struct {
	TargetTokens  int
	OverlapTokens int
}

func DefaultOptions() Options {
	return Options{TargetTokens: 500, OverlapTokens: 50}
}

type section struct {
	path []string
	text string
}

// Chunk splits text into a section tree by Markdown-style headings, sentence
// splits within each section, then greedily packs sentences into
// target-sized chunks with a bounded overlap window carried between chunks.
func Chunk(text string, opt Options) []Chunk {
	if opt.TargetTokens <= 0 {
		opt.TargetTokens = 500
	}
	if opt.OverlapTokens < 0 {
		opt.OverlapTokens = 0
	}

	sections := splitSections(text)
	var out []Chunk
	seq := 0
	var carry []string // overlap sentences carried from the previous chunk
	carryTokens := 0

	for _, sec := range sections {
		sentences := splitSentences(sec.text)
		var buf []string
		bufTokens := 0

		if len(carry) > 0 {
			buf = append(buf, carry...)
			bufTokens = carryTokens
			carry, carryTokens = nil, 0
		}

		flush := func() {
			if len(buf) == 0 {
				return
			}
			text := strings.TrimSpace(strings.Join(buf, " "))
			if text != "" {
				out = append(out, Chunk{
					Sequence:    seq,
					SectionPath: sec.path,
					TokenCount:  bufTokens,
					Text:        text,
				})
				seq++
			}
		}

		for _, s := range sentences {
			st := util.CountTokens(s)

			if bufTokens > 0 && bufTokens+st > opt.TargetTokens {
				flush()
				carry, carryTokens = takeOverlap(buf, opt.OverlapTokens)
				// Termination invariant: if the overlap plus the next
				// sentence would still exceed target, drop the overlap
				// rather than looping on an ever-growing buffer.
				if carryTokens+st > opt.TargetTokens {
					carry, carryTokens = nil, 0
				}
				buf = append(append([]string{}, carry...), s)
				bufTokens = carryTokens + st
				continue
			}

			buf = append(buf, s)
			bufTokens += st
		}

		flush()
		carry, carryTokens = nil, 0
	}

	return out
}

// takeOverlap returns the trailing sentences of buf whose combined token
// count is closest to, but not exceeding, overlapTokens.
func takeOverlap(buf []string, overlapTokens int) ([]string, int) {
	if overlapTokens <= 0 || len(buf) == 0 {
		return nil, 0
	}
	var kept []string
	total := 0
	for i := len(buf) - 1; i >= 0; i-- {
		t := util.CountTokens(buf[i])
		if total+t > overlapTokens {
			break
		}
		kept = append([]string{buf[i]}, kept...)
		total += t
	}
	return kept, total
}

var headingRe = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)

// splitSections walks the text line by line, treating ATX Markdown headings
// (one to six leading '#') as section boundaries, and builds a heading-path
// stack (section_path[]). Underlined (setext) headings and other line-class
// cues are not detected and stay in the surrounding section's text.
func splitSections(text string) []section {
	lines := strings.Split(text, "\n")
	var sections []section
	var stack []string
	var buf strings.Builder

	flush := func() {
		if s := strings.TrimSpace(buf.String()); s != "" {
			sections = append(sections, section{path: append([]string{}, stack...), text: s})
		}
		buf.Reset()
	}

	for _, ln := range lines {
		if m := headingRe.FindStringSubmatch(ln); m != nil {
			flush()
			level := len(m[1])
			title := strings.TrimSpace(m[2])
			if level-1 > len(stack) {
				level = len(stack) + 1
			}
			stack = append(stack[:min(level-1, len(stack))], title)
			continue
		}
		buf.WriteString(ln)
		buf.WriteString("\n")
	}
	flush()

	if len(sections) == 0 {
		return []section{{path: nil, text: text}}
	}
	return sections
}

// sentenceEndRe splits on ./!/? boundaries while tolerating the French
// ellipsis character and common closing-quote punctuation that follows
// terminal punctuation before the next sentence starts.
var sentenceEndRe = regexp.MustCompile(`([.!?…]+["'”’»]?)\s+`)

func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	marked := sentenceEndRe.ReplaceAllString(text, "$1\x00")
	parts := strings.Split(marked, "\x00")
	var out []string
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return []string{text}
	}
	return out
}
