package domain

import (
	"encoding/json"
	"math"
	"strconv"
)

// Metadata keys written by the binding store.
const (
	MetaBackfillPagesTotal = "backfill_pages_processed_total"
	MetaLastRun            = "last_run"
	MetaLastMode           = "last_mode"
	MetaLastRequestID      = "last_request_id"
	MetaLastStartedAt      = "last_started_at"
	MetaLastError          = "last_error"
	MetaLastErrorAt        = "last_error_at"
)

// BindingMetadata is the free-form JSON metadata attached to a binding.
type BindingMetadata map[string]any

// BackfillPagesProcessed returns the lifetime backfill page counter, or 0.
func (m BindingMetadata) BackfillPagesProcessed() int {
	return m.Int(MetaBackfillPagesTotal)
}

// Int reads key as an integer. JSON decoding yields float64 and json.Number
// depending on the decoder, so both are accepted along with numeric strings.
func (m BindingMetadata) Int(key string) int {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return int(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return 0
			}
			return int(f)
		}
		return int(n)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}

// String reads key as a string, or "".
func (m BindingMetadata) String(key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// Map reads key as a nested object, or nil.
func (m BindingMetadata) Map(key string) map[string]any {
	if m == nil {
		return nil
	}
	switch v := m[key].(type) {
	case map[string]any:
		return v
	case SyncMetrics:
		return v
	}
	return nil
}

// Clone returns a shallow copy.
func (m BindingMetadata) Clone() BindingMetadata {
	out := make(BindingMetadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
