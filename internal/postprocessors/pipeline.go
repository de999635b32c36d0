package postprocessors

import (
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/domain"
	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.MentionPipeline = (*Pipeline)(nil)

// Pipeline implements MentionPipeline.
// It applies each processor to a page of mentions in Order.
type Pipeline struct {
	mu         sync.RWMutex
	processors []driven.MentionProcessor
	sorted     bool
}

// NewPipeline creates a new empty pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{
		processors: make([]driven.MentionProcessor, 0),
	}
}

// Add adds a processor to the pipeline.
// Processors are sorted by Order() before processing.
func (p *Pipeline) Add(processor driven.MentionProcessor) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.processors = append(p.processors, processor)
	p.sorted = false
}

// Process applies all processors in order.
func (p *Pipeline) Process(mentions []*domain.Mention) []*domain.Mention {
	p.mu.Lock()
	if !p.sorted {
		sort.SliceStable(p.processors, func(i, j int) bool {
			return p.processors[i].Order() < p.processors[j].Order()
		})
		p.sorted = true
	}
	processors := make([]driven.MentionProcessor, len(p.processors))
	copy(processors, p.processors)
	p.mu.Unlock()

	for _, proc := range processors {
		mentions = proc.Process(mentions)
	}
	return mentions
}

// List returns processor names in order.
func (p *Pipeline) List() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, len(p.processors))
	for i, proc := range p.processors {
		names[i] = proc.Name()
	}
	return names
}

// DefaultPipeline keys, cleans and caps mentions.
func DefaultPipeline() *Pipeline {
	p := NewPipeline()
	p.Add(NewDeduplicator())
	p.Add(NewWhitespaceNormalizer())
	p.Add(NewTruncator(DefaultMaxTextLength))
	return p
}

// Deduplicator drops mentions without an external ID and keeps only the
// last occurrence of each ID within a page, in first-seen position.
type Deduplicator struct{}

// Verify interface compliance
var _ driven.MentionProcessor = (*Deduplicator)(nil)

// NewDeduplicator creates a new deduplicator.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{}
}

// Process removes unkeyed and repeated mentions.
func (d *Deduplicator) Process(mentions []*domain.Mention) []*domain.Mention {
	index := make(map[string]int, len(mentions))
	result := make([]*domain.Mention, 0, len(mentions))

	for _, m := range mentions {
		if m == nil {
			continue
		}
		id := strings.TrimSpace(m.ExternalID)
		if id == "" {
			continue
		}
		m.ExternalID = id
		if i, ok := index[id]; ok {
			result[i] = m
			continue
		}
		index[id] = len(result)
		result = append(result, m)
	}
	return result
}

// Name returns the processor name.
func (d *Deduplicator) Name() string {
	return "deduplicator"
}

// Order returns 0 - deduplication runs first.
func (d *Deduplicator) Order() int {
	return 0
}

// WhitespaceNormalizer normalizes whitespace in mention text and author.
// Mentions are never dropped, even when the text ends up empty.
type WhitespaceNormalizer struct{}

// Verify interface compliance
var _ driven.MentionProcessor = (*WhitespaceNormalizer)(nil)

// NewWhitespaceNormalizer creates a new whitespace normalizer.
func NewWhitespaceNormalizer() *WhitespaceNormalizer {
	return &WhitespaceNormalizer{}
}

// Process normalizes whitespace in place.
func (w *WhitespaceNormalizer) Process(mentions []*domain.Mention) []*domain.Mention {
	for _, m := range mentions {
		m.Text = normalizeText(m.Text)
		m.Author = strings.Join(strings.Fields(m.Author), " ")
		m.URL = strings.TrimSpace(m.URL)
	}
	return mentions
}

func normalizeText(content string) string {
	// Normalize line endings
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")

	// Collapse runs of spaces and tabs, keeping newlines
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	content = strings.Join(lines, "\n")

	for strings.Contains(content, "\n\n\n") {
		content = strings.ReplaceAll(content, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(content)
}

// Name returns the processor name.
func (w *WhitespaceNormalizer) Name() string {
	return "whitespace-normalizer"
}

// Order returns 5 - runs after deduplication.
func (w *WhitespaceNormalizer) Order() int {
	return 5
}

// DefaultMaxTextLength caps stored mention text, in runes.
const DefaultMaxTextLength = 10000

// Truncator caps mention text at a rune count.
type Truncator struct {
	maxRunes int
}

// Verify interface compliance
var _ driven.MentionProcessor = (*Truncator)(nil)

// NewTruncator creates a truncator. maxRunes <= 0 uses DefaultMaxTextLength.
func NewTruncator(maxRunes int) *Truncator {
	if maxRunes <= 0 {
		maxRunes = DefaultMaxTextLength
	}
	return &Truncator{maxRunes: maxRunes}
}

// Process truncates over-long text on a rune boundary.
func (t *Truncator) Process(mentions []*domain.Mention) []*domain.Mention {
	for _, m := range mentions {
		if utf8.RuneCountInString(m.Text) <= t.maxRunes {
			continue
		}
		runes := []rune(m.Text)
		m.Text = string(runes[:t.maxRunes])
	}
	return mentions
}

// Name returns the processor name.
func (t *Truncator) Name() string {
	return "truncator"
}

// Order returns 10 - truncation runs last.
func (t *Truncator) Order() int {
	return 10
}
