package metrics

import "sync"

// ErrorKey identifies a deduplication bucket for tracked errors.
type ErrorKey struct {
	Scenario string
	Action   string
	Status   int
	Message  string
}

// ErrorRecord is one deduplicated error bucket: first-seen metadata plus a
// running count.
type ErrorRecord struct {
	Key       ErrorKey
	Count     int64
	FirstSeen int64 // ms
}

// ErrorTracker deduplicates errors by (scenario, action, status, message).
type ErrorTracker struct {
	mu      sync.Mutex
	records map[ErrorKey]*ErrorRecord
}

// NewErrorTracker builds an empty ErrorTracker.
func NewErrorTracker() *ErrorTracker {
	return &ErrorTracker{records: make(map[ErrorKey]*ErrorRecord)}
}

// Track records one occurrence of the given error at timestampMs.
func (t *ErrorTracker) Track(key ErrorKey, timestampMs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[key]
	if !ok {
		t.records[key] = &ErrorRecord{Key: key, Count: 1, FirstSeen: timestampMs}
		return
	}
	rec.Count++
}

// Records returns a snapshot of every tracked error bucket.
func (t *ErrorTracker) Records() []ErrorRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ErrorRecord, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, *r)
	}
	return out
}
