package ledger

import (
	"github.com/google/uuid"

	"github.com/autoloop-io/autoloop/internal/domain"
)

// Merger accumulates paginated history fetched from multiple passes or
// sources, deduplicating by record ID while preserving arrival order of
// first sightings.
type Merger struct {
	seen map[uuid.UUID]struct{}
	recs []domain.ExecutionRecord
}

func NewMerger() *Merger {
	return &Merger{seen: make(map[uuid.UUID]struct{})}
}

// Add folds one page into the merged set and reports whether pagination
// is exhausted. A short page always exhausts. A full page consisting
// entirely of already-seen records also exhausts, so overlapping windows
// cannot loop forever.
func (m *Merger) Add(page Page, limit int) (exhausted bool) {
	added := 0
	for _, rec := range page.Records {
		if _, dup := m.seen[rec.ID]; dup {
			continue
		}
		m.seen[rec.ID] = struct{}{}
		m.recs = append(m.recs, rec)
		added++
	}

	if limit > 0 && len(page.Records) < limit {
		return true
	}
	if !page.HasMore {
		return true
	}
	return added == 0
}

// Records returns the merged records in first-seen order.
func (m *Merger) Records() []domain.ExecutionRecord {
	out := make([]domain.ExecutionRecord, len(m.recs))
	copy(out, m.recs)
	return out
}

// Len reports how many unique records have been merged.
func (m *Merger) Len() int {
	return len(m.recs)
}
