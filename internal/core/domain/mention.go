package domain

import "time"

// Mention is one social/news item fetched for a binding.
type Mention struct {
	ExternalID  string    `json:"id"`
	URL         string    `json:"url"`
	Author      string    `json:"author"`
	Text        string    `json:"text"`
	PublishedAt time.Time `json:"published_at"`
	Confidence  float64   `json:"confidence"`

	// NeedsReview is set when Confidence falls under the review threshold.
	NeedsReview bool `json:"needs_review"`
}

// FlagForReview marks every mention whose confidence is under threshold
// and returns how many were flagged.
func FlagForReview(mentions []*Mention, threshold float64) int {
	flagged := 0
	for _, m := range mentions {
		m.NeedsReview = m.Confidence < threshold
		if m.NeedsReview {
			flagged++
		}
	}
	return flagged
}
