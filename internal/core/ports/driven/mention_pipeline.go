package driven

import "github.com/alejandrogutier/claro-data-ai-sub002/internal/core/domain"

// MentionProcessor transforms one page of mentions before it is persisted.
// Processors may drop, rewrite or reorder mentions.
type MentionProcessor interface {
	// Name identifies the processor in logs
	Name() string

	// Order determines execution order; lower runs first
	Order() int

	Process(mentions []*domain.Mention) []*domain.Mention
}

// MentionPipeline chains MentionProcessors in Order.
type MentionPipeline interface {
	Process(mentions []*domain.Mention) []*domain.Mention

	// List returns processor names in execution order
	List() []string
}
