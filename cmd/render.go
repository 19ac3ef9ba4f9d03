package cmd

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/domain"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

// renderStatus writes the status report as a set of light-style tables.
func renderStatus(w io.Writer, report *domain.StatusReport) {
	summary := table.NewWriter()
	summary.SetOutputMirror(w)
	summary.SetStyle(table.StyleLight)
	summary.SetTitle("Sync")
	summary.AppendRow(table.Row{"Paused", pauseLabel(report.Pause)})
	if job := report.ActiveJob; job != nil {
		summary.AppendRow(table.Row{"Active job", jobLabel(job)})
	} else if job := report.LatestJob; job != nil {
		summary.AppendRow(table.Row{"Latest job", jobLabel(job)})
	}
	summary.AppendRow(table.Row{"Content", fmt.Sprintf("%d titles (%d movies, %d tv), %d people (%d enriched)",
		report.Content.Total, report.Content.Movies, report.Content.TV,
		report.Content.People, report.Content.PeopleEnriched)})
	summary.AppendRow(table.Row{"Generated", report.GeneratedAt.Format(time.RFC3339)})
	summary.Render()

	queue := table.NewWriter()
	queue.SetOutputMirror(w)
	queue.SetStyle(table.StyleLight)
	queue.SetTitle("Queue")
	queue.AppendHeader(table.Row{"Pending", "Processing", "Completed", "Failed", "Skipped"})
	q := report.Queue
	queue.AppendRow(table.Row{q.Pending, q.Processing, q.Completed, q.Failed, q.Skipped})
	queue.Render()

	gaps := table.NewWriter()
	gaps.SetOutputMirror(w)
	gaps.SetStyle(table.StyleLight)
	gaps.SetTitle("Unresolved gaps")
	gaps.AppendHeader(table.Row{"Type", "Count"})
	types := make([]string, 0, len(report.GapsByType))
	for gt := range report.GapsByType {
		types = append(types, string(gt))
	}
	sort.Strings(types)
	for _, gt := range types {
		gaps.AppendRow(table.Row{gt, report.GapsByType[domain.GapType(gt)]})
	}
	gaps.AppendFooter(table.Row{"Total", report.UnresolvedGaps})
	gaps.Render()

	if len(report.RecentFailures) == 0 {
		return
	}
	failures := table.NewWriter()
	failures.SetOutputMirror(w)
	failures.SetStyle(table.StyleLight)
	failures.SetTitle("Recent failures")
	failures.AppendHeader(table.Row{"Title", "Attempts", "Error", "At"})
	for _, f := range report.RecentFailures {
		failures.AppendRow(table.Row{
			domain.ItemKey{ExternalID: f.ExternalID, ContentType: f.ContentType}.String(),
			f.Attempts,
			f.LastError,
			f.UpdatedAt.Format(time.RFC3339),
		})
	}
	failures.Render()
}

func pauseLabel(p domain.PauseState) string {
	if !p.Paused {
		return "no"
	}
	label := "yes"
	if p.UpdatedBy != "" {
		label += " (by " + p.UpdatedBy
		if p.UpdatedAt != nil {
			label += " at " + p.UpdatedAt.Format(time.RFC3339)
		}
		label += ")"
	}
	return label
}

func jobLabel(job *domain.SyncJob) string {
	return fmt.Sprintf("%s %s: %d/%d processed, %d ok, %d failed, %d skipped",
		job.ID, job.Status, job.Processed, job.Queued, job.Succeeded, job.Failed, job.Skipped)
}
