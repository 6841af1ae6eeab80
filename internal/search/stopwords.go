// Package search implements the graph search tier of spec §4.7:
// tokenisation, the accent-folding full-text tier, and the CONTAINS
// fallback, grounded on rag/retrieve/candidates.go's parallel-candidate
// shape and dan-solli-gognee/pkg/search/graph.go's CONTAINS-fallback
// ranking (tokens matched desc, mentions desc).
package search

import (
	"bufio"
	"os"
	"strings"
)

// defaultStopwordsFR is the French-biased stopword list spec §9 calls out
// as an Open Question, kept as a configurable language resource rather than
// guessed locale detection.
var defaultStopwordsFR = []string{
	"le", "la", "les", "un", "une", "des", "de", "du", "au", "aux",
	"et", "ou", "mais", "donc", "or", "ni", "car",
	"ce", "cet", "cette", "ces", "son", "sa", "ses", "leur", "leurs",
	"mon", "ma", "mes", "ton", "ta", "tes", "notre", "votre", "nos", "vos",
	"je", "tu", "il", "elle", "on", "nous", "vous", "ils", "elles",
	"qui", "que", "quoi", "dont", "où",
	"est", "sont", "etait", "etaient", "sera", "seront", "ete",
	"a", "avoir", "avait", "avez", "avons", "ai",
	"pour", "par", "avec", "sans", "dans", "sur", "sous", "entre", "vers",
	"ne", "pas", "plus", "moins", "tres", "bien", "tout", "toute", "tous", "toutes",
	"se", "sa", "soi", "y", "en", "si", "comme", "alors", "ainsi",
	"the", "and", "or", "of", "to", "in", "a", "an", "is", "are", "was", "were",
}

// Stopwords is the active stopword set, defaulting to defaultStopwordsFR and
// overridable via GRAPHMEMORY_STOPWORDS_PATH (one word per line).
type Stopwords struct {
	set map[string]struct{}
}

// NewStopwords builds the default French-biased set.
func NewStopwords() *Stopwords {
	return newStopwordsFrom(defaultStopwordsFR)
}

// LoadStopwords reads a newline-delimited word list from path, falling back
// to the default set if path is empty. A missing file is treated as "no
// override" rather than a startup error, since the stopword list is a
// tuning knob, not a required dependency.
func LoadStopwords(path string) (*Stopwords, error) {
	if strings.TrimSpace(path) == "" {
		return NewStopwords(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewStopwords(), nil
		}
		return nil, err
	}
	defer f.Close()

	var words []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		w := strings.TrimSpace(scanner.Text())
		if w == "" || strings.HasPrefix(w, "#") {
			continue
		}
		words = append(words, w)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return newStopwordsFrom(words), nil
}

func newStopwordsFrom(words []string) *Stopwords {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[strings.ToLower(w)] = struct{}{}
	}
	return &Stopwords{set: set}
}

// Contains reports whether word is a stopword.
func (s *Stopwords) Contains(word string) bool {
	_, ok := s.set[strings.ToLower(word)]
	return ok
}
