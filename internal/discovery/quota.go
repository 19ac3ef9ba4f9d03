package discovery

import (
	"slices"

	"github.com/google/uuid"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/domain"
)

// Selection is the quota-bounded pick for one job.
type Selection struct {
	Candidates   []Candidate
	RegionCounts domain.RegionCounts
}

// SelectTop orders candidates by score, highest first, breaking ties by
// first-seen order, and keeps at most quota of them. Region counts describe
// the pick and are never used as caps.
func SelectTop(candidates []Candidate, quota int) Selection {
	sorted := slices.Clone(candidates)
	slices.SortStableFunc(sorted, func(a, b Candidate) int {
		if d := b.Components.Total() - a.Components.Total(); d != 0 {
			return d
		}
		return a.Order - b.Order
	})

	if quota < 0 {
		quota = 0
	}
	if len(sorted) > quota {
		sorted = sorted[:quota]
	}

	counts := domain.RegionCounts{}
	for _, c := range sorted {
		counts[c.Region]++
	}

	return Selection{Candidates: sorted, RegionCounts: counts}
}

// QueueItems converts the selection into pending queue items.
func (s Selection) QueueItems() []domain.QueueItem {
	items := make([]domain.QueueItem, len(s.Candidates))
	for i, c := range s.Candidates {
		items[i] = domain.QueueItem{
			ID:                 uuid.NewString(),
			ExternalID:         c.Item.ExternalID,
			ContentType:        c.Item.ContentType,
			Source:             domain.QueueSourceDiscovery,
			Region:             c.Region,
			Title:              c.Item.Title,
			PriorityComponents: c.Components,
			Priority:           c.Components.Total(),
			Status:             domain.QueueStatusPending,
		}
	}
	return items
}
