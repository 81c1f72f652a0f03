// Package chunker splits document text into overlapping, boundary-respecting
// chunks with stable indices. Chunking is pure and deterministic: the same
// (text, config) always yields the same chunk sequence.
package chunker

import (
	"strings"

	"github.com/hyperjump/chishiki/internal/models"
	"github.com/hyperjump/chishiki/pkg/utils"
)

// Boundary is a text boundary type, strongest first in Config.Boundaries.
type Boundary string

const (
	BoundaryParagraph Boundary = "paragraph"
	BoundaryHeading   Boundary = "heading"
	BoundarySentence  Boundary = "sentence"
)

// DefaultBoundaries is the default boundary preference order.
var DefaultBoundaries = []Boundary{BoundaryParagraph, BoundaryHeading, BoundarySentence}

// ParseBoundaries converts config strings to boundaries, skipping unknown names.
func ParseBoundaries(names []string) []Boundary {
	var out []Boundary
	for _, n := range names {
		switch Boundary(strings.ToLower(n)) {
		case BoundaryParagraph, BoundaryHeading, BoundarySentence:
			out = append(out, Boundary(strings.ToLower(n)))
		}
	}
	if len(out) == 0 {
		return DefaultBoundaries
	}
	return out
}

// Config holds chunking settings. All sizes are in tokens under the shared
// tokenizer contract (utils.SplitWords).
type Config struct {
	// TargetSize is the preferred chunk size in tokens.
	TargetSize int
	// OverlapFraction of TargetSize is re-included from the tail of chunk i
	// as the head of chunk i+1.
	OverlapFraction float64
	// MinChunkTokens: a trailing chunk below this is merged into its
	// neighbor rather than emitted standalone.
	MinChunkTokens int
	// HardCeiling is the token count beyond which a unit with no internal
	// boundary may be split mid-sentence. Units above TargetSize but at or
	// below HardCeiling are emitted oversized instead.
	HardCeiling int
	// Boundaries is the boundary preference order, strongest first.
	Boundaries []Boundary
}

// Chunker splits text into chunks according to its Config.
type Chunker struct {
	cfg Config
}

// New creates a chunker, applying defaults for zero config values.
func New(cfg Config) *Chunker {
	if cfg.TargetSize <= 0 {
		cfg.TargetSize = 300
	}
	if cfg.OverlapFraction <= 0 {
		cfg.OverlapFraction = 0.15
	}
	if cfg.MinChunkTokens <= 0 {
		cfg.MinChunkTokens = 20
	}
	if cfg.HardCeiling <= 0 {
		cfg.HardCeiling = 2 * cfg.TargetSize
	}
	if len(cfg.Boundaries) == 0 {
		cfg.Boundaries = DefaultBoundaries
	}
	return &Chunker{cfg: cfg}
}

// unit is a boundary-delimited text segment awaiting packing. sep is the
// separator to use when this unit follows another inside the same chunk.
type unit struct {
	text   string
	tokens int
	sep    string
}

func boundarySep(b Boundary) string {
	switch b {
	case BoundaryParagraph:
		return "\n\n"
	case BoundaryHeading:
		return "\n"
	default:
		return " "
	}
}

// Chunk splits text into chunks for docID. Empty or whitespace-only text
// yields nil. Chunk indices are contiguous from 0.
func (c *Chunker) Chunk(docID, text string) []*models.Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	units := c.segment(unit{text: text, tokens: utils.CountTokens(text), sep: "\n\n"}, 0)
	packed := c.pack(units)
	packed = c.mergeSmallTail(packed)
	c.applyOverlap(packed)

	chunks := make([]*models.Chunk, len(packed))
	for i, p := range packed {
		chunks[i] = &models.Chunk{
			DocumentID: docID,
			ChunkIndex: i,
			Content:    p.content,
			TokenCount: utils.CountTokens(p.content),
		}
	}
	return chunks
}

// segment recursively splits u at the boundary at level and weaker ones until
// every resulting unit fits TargetSize, is unsplittable within HardCeiling,
// or must be cut at raw token windows.
func (c *Chunker) segment(u unit, level int) []unit {
	if u.tokens <= c.cfg.TargetSize {
		return []unit{u}
	}
	if level >= len(c.cfg.Boundaries) {
		// No boundary left. Only split mid-sentence past the hard ceiling;
		// otherwise emit one oversized unit (never loop forever on a unit
		// that cannot be split, e.g. a single huge token).
		if u.tokens <= c.cfg.HardCeiling {
			return []unit{u}
		}
		return splitTokenWindows(u, c.cfg.TargetSize)
	}
	b := c.cfg.Boundaries[level]
	parts := splitAt(b, u.text)
	if len(parts) <= 1 {
		return c.segment(u, level+1)
	}
	var out []unit
	for i, p := range parts {
		sep := boundarySep(b)
		if i == 0 {
			sep = u.sep
		}
		out = append(out, c.segment(unit{text: p, tokens: utils.CountTokens(p), sep: sep}, level+1)...)
	}
	return out
}

// splitAt splits text at the given boundary type and returns trimmed,
// non-empty parts.
func splitAt(b Boundary, text string) []string {
	switch b {
	case BoundaryParagraph:
		return splitParagraphs(text)
	case BoundaryHeading:
		return splitHeadings(text)
	case BoundarySentence:
		return splitSentences(text)
	default:
		return []string{text}
	}
}

// splitParagraphs splits on blank lines.
func splitParagraphs(text string) []string {
	var parts []string
	var b strings.Builder
	lines := strings.Split(text, "\n")
	flush := func() {
		p := strings.TrimSpace(b.String())
		if p != "" {
			parts = append(parts, p)
		}
		b.Reset()
	}
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	flush()
	return parts
}

// splitHeadings starts a new part at each markdown heading line.
func splitHeadings(text string) []string {
	var parts []string
	var b strings.Builder
	flush := func() {
		p := strings.TrimSpace(b.String())
		if p != "" {
			parts = append(parts, p)
		}
		b.Reset()
	}
	for _, line := range strings.Split(text, "\n") {
		if isHeading(line) {
			flush()
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	flush()
	return parts
}

func isHeading(line string) bool {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "#") {
		return false
	}
	rest := strings.TrimLeft(trimmed, "#")
	return len(trimmed)-len(rest) <= 6 && strings.HasPrefix(rest, " ")
}

// splitSentences splits after words ending a sentence (., !, ?) when the
// next word starts a new one (uppercase or digit).
func splitSentences(text string) []string {
	words := utils.SplitWords(text)
	if len(words) == 0 {
		return nil
	}
	var parts []string
	start := 0
	for i := 0; i < len(words)-1; i++ {
		if endsSentence(words[i]) && startsSentence(words[i+1]) {
			parts = append(parts, strings.Join(words[start:i+1], " "))
			start = i + 1
		}
	}
	parts = append(parts, strings.Join(words[start:], " "))
	return parts
}

func endsSentence(word string) bool {
	// Strip closing quotes and brackets so `dog."` still ends a sentence.
	word = strings.TrimRight(word, `"')]`)
	if word == "" {
		return false
	}
	last := word[len(word)-1]
	return last == '.' || last == '!' || last == '?'
}

func startsSentence(word string) bool {
	r := []rune(word)[0]
	return (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// splitTokenWindows cuts u into raw token windows of at most size tokens.
// A single token longer than size still yields one (oversized) window.
func splitTokenWindows(u unit, size int) []unit {
	words := utils.SplitWords(u.text)
	var out []unit
	for i := 0; i < len(words); i += size {
		end := i + size
		if end > len(words) {
			end = len(words)
		}
		sep := " "
		if i == 0 {
			sep = u.sep
		}
		text := strings.Join(words[i:end], " ")
		out = append(out, unit{text: text, tokens: end - i, sep: sep})
	}
	return out
}

// packedChunk is an assembled chunk before overlap is applied.
type packedChunk struct {
	content string
	tokens  int
	// lastUnitText/lastUnitTokens track the final boundary unit so overlap
	// never duplicates more than one unit into the next chunk.
	lastUnitText   string
	lastUnitTokens int
}

// pack greedily accumulates units into chunks of at most TargetSize tokens.
// A unit that alone exceeds TargetSize becomes its own chunk.
func (c *Chunker) pack(units []unit) []*packedChunk {
	var chunks []*packedChunk
	var cur *packedChunk
	for _, u := range units {
		if cur != nil && cur.tokens+u.tokens > c.cfg.TargetSize {
			chunks = append(chunks, cur)
			cur = nil
		}
		if cur == nil {
			cur = &packedChunk{content: u.text, tokens: u.tokens, lastUnitText: u.text, lastUnitTokens: u.tokens}
			continue
		}
		cur.content += u.sep + u.text
		cur.tokens += u.tokens
		cur.lastUnitText = u.text
		cur.lastUnitTokens = u.tokens
	}
	if cur != nil {
		chunks = append(chunks, cur)
	}
	return chunks
}

// mergeSmallTail folds a trailing chunk below MinChunkTokens into its
// predecessor. A document shorter than MinChunkTokens still produces
// exactly one chunk.
func (c *Chunker) mergeSmallTail(chunks []*packedChunk) []*packedChunk {
	if len(chunks) < 2 {
		return chunks
	}
	last := chunks[len(chunks)-1]
	if last.tokens >= c.cfg.MinChunkTokens {
		return chunks
	}
	prev := chunks[len(chunks)-2]
	prev.content += "\n\n" + last.content
	prev.tokens += last.tokens
	prev.lastUnitText = last.lastUnitText
	prev.lastUnitTokens = last.lastUnitTokens
	return chunks[:len(chunks)-1]
}

// applyOverlap prepends the trailing overlap tokens of chunk i to chunk i+1.
// The overlap is capped at chunk i's final boundary unit.
func (c *Chunker) applyOverlap(chunks []*packedChunk) {
	overlap := int(c.cfg.OverlapFraction * float64(c.cfg.TargetSize))
	if overlap <= 0 || len(chunks) < 2 {
		return
	}
	// Compute all tails from the pre-overlap contents first so overlap
	// never cascades across more than one chunk boundary.
	tails := make([]string, len(chunks))
	for i := 0; i < len(chunks)-1; i++ {
		n := overlap
		if chunks[i].lastUnitTokens < n {
			n = chunks[i].lastUnitTokens
		}
		words := utils.SplitWords(chunks[i].lastUnitText)
		tails[i] = strings.Join(words[len(words)-n:], " ")
	}
	for i := 1; i < len(chunks); i++ {
		if tails[i-1] == "" {
			continue
		}
		chunks[i].content = tails[i-1] + " " + chunks[i].content
		chunks[i].tokens += utils.CountTokens(tails[i-1])
	}
}
