package observability

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/idp-org/idp-go/pkg/canonical"
)

// TimelineEntryType categorizes audit entries.
type TimelineEntryType string

const (
	EntryTypeValidation   TimelineEntryType = "VALIDATION"
	EntryTypeVerification TimelineEntryType = "VERIFICATION"
	EntryTypeTransition   TimelineEntryType = "TRANSITION"
	EntryTypeDisclosure   TimelineEntryType = "DISCLOSURE"
)

// TimelineEntry is a single auditable event.
type TimelineEntry struct {
	EntryID     string            `json:"entry_id"`
	EntryType   TimelineEntryType `json:"entry_type"`
	SubjectID   string            `json:"subject_id"`
	Actor       string            `json:"actor,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	Summary     string            `json:"summary"`
	ContentHash string            `json:"content_hash"`
	Details     map[string]any    `json:"details,omitempty"`
}

// TimelineQuery filters timeline entries.
type TimelineQuery struct {
	SubjectID string             `json:"subject_id,omitempty"`
	Actor     string             `json:"actor,omitempty"`
	EntryType *TimelineEntryType `json:"entry_type,omitempty"`
	After     *time.Time         `json:"after,omitempty"`
	Before    *time.Time         `json:"before,omitempty"`
	Limit     int                `json:"limit,omitempty"`
}

// AuditTimeline collects and queries audit events.
type AuditTimeline struct {
	mu      sync.RWMutex
	entries []TimelineEntry
	index   map[string][]int // subjectID → entry indices
	seq     int64
	clock   func() time.Time
}

// NewAuditTimeline creates a new timeline.
func NewAuditTimeline() *AuditTimeline {
	return &AuditTimeline{
		entries: make([]TimelineEntry, 0),
		index:   make(map[string][]int),
		clock:   time.Now,
	}
}

// WithClock overrides clock for testing.
func (t *AuditTimeline) WithClock(clock func() time.Time) *AuditTimeline {
	t.clock = clock
	return t
}

// Record adds an entry to the timeline. A nil timeline drops the entry, so
// auditing stays optional for library users.
func (t *AuditTimeline) Record(entry TimelineEntry) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	if entry.EntryID == "" {
		entry.EntryID = fmt.Sprintf("tl-%d", t.seq)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = t.clock()
	}

	data, err := json.Marshal(entry.Details)
	if err != nil {
		return err
	}
	entry.ContentHash = canonical.HashBytes(data)

	idx := len(t.entries)
	t.entries = append(t.entries, entry)

	if entry.SubjectID != "" {
		t.index[entry.SubjectID] = append(t.index[entry.SubjectID], idx)
	}

	return nil
}

// Query retrieves entries matching the query.
func (t *AuditTimeline) Query(q TimelineQuery) []TimelineEntry {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	var candidates []TimelineEntry

	if q.SubjectID != "" {
		indices, ok := t.index[q.SubjectID]
		if !ok {
			return nil
		}
		for _, i := range indices {
			candidates = append(candidates, t.entries[i])
		}
	} else {
		candidates = make([]TimelineEntry, len(t.entries))
		copy(candidates, t.entries)
	}

	var results []TimelineEntry
	for _, e := range candidates {
		if q.Actor != "" && e.Actor != q.Actor {
			continue
		}
		if q.EntryType != nil && e.EntryType != *q.EntryType {
			continue
		}
		if q.After != nil && e.Timestamp.Before(*q.After) {
			continue
		}
		if q.Before != nil && e.Timestamp.After(*q.Before) {
			continue
		}
		results = append(results, e)
	}

	// Stable so entries recorded at the same instant keep insertion order.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Timestamp.Before(results[j].Timestamp)
	})

	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}

	return results
}

// Count returns total entries.
func (t *AuditTimeline) Count() int {
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
