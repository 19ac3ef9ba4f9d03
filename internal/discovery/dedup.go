package discovery

import (
	"context"
	"fmt"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/domain"
)

// KeyChecker reports which keys are neither persisted nor queued.
type KeyChecker interface {
	UnknownKeys(ctx context.Context, keys []domain.ItemKey) ([]domain.ItemKey, error)
}

// DedupFilter drops candidates the store already knows about.
type DedupFilter struct {
	store KeyChecker
}

// NewDedupFilter creates a filter over store.
func NewDedupFilter(store KeyChecker) *DedupFilter {
	return &DedupFilter{store: store}
}

// Filter returns the candidates absent from both the content set and the
// queue, in their original order, using a single bulk lookup.
func (f *DedupFilter) Filter(ctx context.Context, candidates []Candidate) ([]Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	keys := make([]domain.ItemKey, len(candidates))
	for i, c := range candidates {
		keys[i] = c.Key()
	}

	unknown, err := f.store.UnknownKeys(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}

	fresh := make(map[domain.ItemKey]struct{}, len(unknown))
	for _, k := range unknown {
		fresh[k] = struct{}{}
	}

	out := make([]Candidate, 0, len(unknown))
	for _, c := range candidates {
		if _, ok := fresh[c.Key()]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}
