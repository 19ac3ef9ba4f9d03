package domain_test

import (
	"errors"
	"testing"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/domain"
)

func TestValidateJobTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		from    domain.JobStatus
		to      domain.JobStatus
		wantErr bool
	}{
		{"pending to running", domain.JobStatusPending, domain.JobStatusRunning, false},
		{"pending to failed", domain.JobStatusPending, domain.JobStatusFailed, false},
		{"running to completed", domain.JobStatusRunning, domain.JobStatusCompleted, false},
		{"running to failed", domain.JobStatusRunning, domain.JobStatusFailed, false},
		{"completed is terminal", domain.JobStatusCompleted, domain.JobStatusRunning, true},
		{"failed is terminal", domain.JobStatusFailed, domain.JobStatusRunning, true},
		{"pending cannot complete", domain.JobStatusPending, domain.JobStatusCompleted, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := domain.ValidateJobTransition(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateJobTransition(%s, %s) error = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
				t.Errorf("error = %v, want ErrInvalidTransition", err)
			}
		})
	}
}

func TestRegionCounts_ScanValue(t *testing.T) {
	t.Parallel()

	in := domain.RegionCounts{"KR": 3, "JP": 2}
	raw, err := in.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}

	var out domain.RegionCounts
	if scanErr := out.Scan(raw); scanErr != nil {
		t.Fatalf("Scan() error = %v", scanErr)
	}
	if out["KR"] != 3 || out["JP"] != 2 {
		t.Errorf("Scan() = %v, want %v", out, in)
	}

	var empty domain.RegionCounts
	if scanErr := empty.Scan(nil); scanErr != nil || empty == nil {
		t.Errorf("Scan(nil) = %v, %v; want empty map", empty, scanErr)
	}
}

func TestPriorityComponents_Total(t *testing.T) {
	t.Parallel()

	p := domain.PriorityComponents{RegionScore: 20, TypeScore: 8, PopularityScore: 10, RecencyBonus: 5}
	if got := p.Total(); got != 43 {
		t.Errorf("Total() = %d, want 43", got)
	}
}
