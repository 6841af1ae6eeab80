package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"graphmemory/internal/llmclient"
	"graphmemory/internal/ontology"
)

// ChunkText splits raw extraction text into roughly chunkSize-character
// windows on paragraph boundaries where possible, the character-budgeted
// unit spec §4.4 stage 4 runs one LLM call over (distinct from the
// token-budgeted retrieval chunks internal/chunker produces for §4.5 — the
// two passes never share a type, per the extraction-chunk vs
// retrieval-chunk Open Question decision).
func ChunkText(text string, chunkSize int) []string {
	if chunkSize <= 0 {
		chunkSize = 25000
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	paras := strings.Split(text, "\n\n")
	var chunks []string
	var buf strings.Builder
	flush := func() {
		if s := strings.TrimSpace(buf.String()); s != "" {
			chunks = append(chunks, s)
		}
		buf.Reset()
	}
	for _, p := range paras {
		if buf.Len() > 0 && buf.Len()+len(p) > chunkSize {
			flush()
		}
		if len(p) > chunkSize {
			// A single paragraph exceeding the budget is hard-split.
			flush()
			for len(p) > chunkSize {
				chunks = append(chunks, p[:chunkSize])
				p = p[chunkSize:]
			}
			buf.WriteString(p)
			continue
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(p)
	}
	flush()
	return chunks
}

// cumulativeContext is the bounded running summary of entities/relations
// seen so far, injected into every chunk's extraction prompt so the model
// can recognise recurring names across chunk boundaries (spec §9). It is
// kept to a character budget by evicting the lowest-mention entries first.
type cumulativeContext struct {
	budgetChars int
	entities    map[string]*Entity // key: normalised name|type
	mentions    map[string]int
	order       []string
}

func newCumulativeContext(budgetChars int) *cumulativeContext {
	if budgetChars <= 0 {
		budgetChars = 4000
	}
	return &cumulativeContext{
		budgetChars: budgetChars,
		entities:    make(map[string]*Entity),
		mentions:    make(map[string]int),
	}
}

func mergeKey(name, typ string) string {
	return strings.ToLower(strings.TrimSpace(name)) + "|" + strings.ToLower(strings.TrimSpace(typ))
}

func (c *cumulativeContext) absorb(entities []Entity) {
	for i := range entities {
		e := entities[i]
		key := mergeKey(e.Name, e.Type)
		if existing, ok := c.entities[key]; ok {
			if len(e.Description) > len(existing.Description) {
				existing.Description = e.Description
			}
		} else {
			ec := e
			c.entities[key] = &ec
			c.order = append(c.order, key)
		}
		c.mentions[key]++
	}
	c.evict()
}

// evict drops the lowest-mention entries until the serialized summary fits
// the character budget, per spec §9's bounded-context decision.
func (c *cumulativeContext) evict() {
	for c.serializedLen() > c.budgetChars && len(c.order) > 0 {
		sort.Slice(c.order, func(i, j int) bool {
			return c.mentions[c.order[i]] < c.mentions[c.order[j]]
		})
		drop := c.order[0]
		c.order = c.order[1:]
		delete(c.entities, drop)
		delete(c.mentions, drop)
	}
}

func (c *cumulativeContext) serializedLen() int {
	return len(c.render())
}

func (c *cumulativeContext) render() string {
	if len(c.entities) == 0 {
		return "(none yet)"
	}
	keys := append([]string{}, c.order...)
	sort.Slice(keys, func(i, j int) bool { return c.mentions[keys[i]] > c.mentions[keys[j]] })
	var b strings.Builder
	for _, k := range keys {
		e := c.entities[k]
		fmt.Fprintf(&b, "- %s (%s): %s\n", e.Name, e.Type, e.Description)
	}
	return b.String()
}

// Extract runs chunked LLM extraction with cumulative cross-chunk context
// over chunks, merging results per spec §4.4 stages 4-5. A chunk whose LLM
// call fails or returns unparseable JSON is skipped and counted in
// ChunksFailed rather than aborting the whole document.
func Extract(ctx context.Context, client llmclient.Client, chatModel string, o *ontology.Ontology, chunks []string, perChunkTimeout time.Duration) Result {
	cum := newCumulativeContext(4000)
	entityAcc := make(map[string]*Entity)
	entityMentions := make(map[string]int)
	relationSeen := make(map[string]*Relation)

	result := Result{ChunksTotal: len(chunks)}

	for i, chunkText := range chunks {
		cctx := ctx
		var cancel context.CancelFunc
		if perChunkTimeout > 0 {
			cctx, cancel = context.WithTimeout(ctx, perChunkTimeout)
		}
		parsed, err := extractChunk(cctx, client, chatModel, o, chunkText, cum.render())
		if cancel != nil {
			cancel()
		}
		if err != nil {
			log.Warn().Err(err).Int("chunk", i).Msg("extractor: chunk extraction failed, skipping")
			result.ChunksFailed++
			continue
		}

		for j := range parsed.Entities {
			parsed.Entities[j].Type = o.NormalizeEntityType(parsed.Entities[j].Type)
		}
		for j := range parsed.Relations {
			parsed.Relations[j].Type = o.NormalizeRelationType(parsed.Relations[j].Type)
		}

		for _, e := range parsed.Entities {
			key := mergeKey(e.Name, e.Type)
			if existing, ok := entityAcc[key]; ok {
				if len(e.Description) > len(existing.Description) {
					existing.Description = e.Description
				}
			} else {
				ec := e
				entityAcc[key] = &ec
			}
			entityMentions[key]++
		}
		for _, r := range parsed.Relations {
			key := strings.ToLower(r.From) + "|" + strings.ToLower(r.To) + "|" + strings.ToLower(r.Type)
			if existing, ok := relationSeen[key]; ok {
				if len(r.Description) > len(existing.Description) {
					existing.Description = r.Description
				}
			} else {
				rc := r
				relationSeen[key] = &rc
			}
		}

		cum.absorb(parsed.Entities)
	}

	for _, e := range entityAcc {
		result.Entities = append(result.Entities, *e)
	}
	sort.Slice(result.Entities, func(i, j int) bool {
		ki, kj := mergeKey(result.Entities[i].Name, result.Entities[i].Type), mergeKey(result.Entities[j].Name, result.Entities[j].Type)
		return entityMentions[ki] > entityMentions[kj]
	})
	for _, r := range relationSeen {
		result.Relations = append(result.Relations, *r)
	}
	return result
}

// extractChunk issues one extraction LLM call for a single chunk and parses
// the response, with a lenient fallback that recovers the first balanced
// `{...}` span when the model wraps its JSON in prose or code fences.
func extractChunk(ctx context.Context, client llmclient.Client, chatModel string, o *ontology.Ontology, chunkText, cumulativeSummary string) (chunkResult, error) {
	prompt := buildPrompt(o, chunkText, cumulativeSummary)
	raw, err := client.Complete(ctx, chatModel, []llmclient.Message{
		{Role: "system", Content: systemPrompt(o)},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return chunkResult{}, fmt.Errorf("extractor: llm call: %w", err)
	}
	return parseChunkResult(raw)
}

func systemPrompt(o *ontology.Ontology) string {
	var b strings.Builder
	b.WriteString("You extract entities and relations from text for a knowledge graph. ")
	b.WriteString("Respond with a single JSON object of the form ")
	b.WriteString(`{"entities":[{"name":"","type":"","description":""}],"relations":[{"from":"","to":"","type":"","description":""}]}. `)
	b.WriteString("No prose, no markdown fences, JSON only.\n\n")
	b.WriteString("Permitted entity types:\n")
	for _, t := range o.EntityTypes {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
	}
	b.WriteString("Permitted relation types:\n")
	for _, t := range o.RelationTypes {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
	}
	if len(o.PriorityEntities) > 0 {
		fmt.Fprintf(&b, "Prioritise these entity types when present: %s\n", strings.Join(o.PriorityEntities, ", "))
	}
	if o.Instructions != "" {
		b.WriteString(o.Instructions)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Extract at most %s entities and %s relations from this chunk.\n",
		strconv.Itoa(o.MaxEntities), strconv.Itoa(o.MaxRelations))
	return b.String()
}

func buildPrompt(o *ontology.Ontology, chunkText, cumulativeSummary string) string {
	var b strings.Builder
	b.WriteString("Entities already known from earlier chunks of this document (reuse their exact name/type when the same entity recurs):\n")
	b.WriteString(cumulativeSummary)
	b.WriteString("\n\nText chunk to extract from:\n")
	b.WriteString(chunkText)
	return b.String()
}

// parseChunkResult parses raw as the {entities, relations} JSON object,
// falling back to the first balanced brace span if the model wrapped its
// answer in prose or a markdown code fence.
func parseChunkResult(raw string) (chunkResult, error) {
	var out chunkResult
	trimmed := strings.TrimSpace(raw)
	if err := json.Unmarshal([]byte(trimmed), &out); err == nil {
		return out, nil
	}
	if span := firstBalancedObject(trimmed); span != "" {
		if err := json.Unmarshal([]byte(span), &out); err == nil {
			return out, nil
		}
	}
	return chunkResult{}, fmt.Errorf("extractor: could not parse extraction JSON")
}

func firstBalancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
