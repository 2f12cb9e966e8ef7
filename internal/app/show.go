package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"infra-anomaly-alerts/internal/storage"
)

// Show prints recently archived reports.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	archive, closeArchive, err := a.openArchive(ctx)
	if err != nil {
		return err
	}
	if closeArchive != nil {
		defer closeArchive()
	}

	records, err := archive.ListRecentReports(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no reports found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tTrigger\tSignals\tDegraded\tTop Finding")

	for _, record := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%d\t%d\t%s\n",
			record.CreatedAt.UTC().Format(time.RFC3339),
			record.Trigger,
			record.Signals,
			record.Degraded,
			topFinding(record),
		)
	}

	writer.Flush()
	return nil
}

func topFinding(record storage.ReportRecord) string {
	if record.Report == nil || len(record.Report.Findings) == 0 {
		return "-"
	}
	finding := record.Report.Findings[0]
	if len(finding.Candidates) == 0 {
		return "-"
	}
	top := finding.Candidates[0]
	return sanitizeInline(fmt.Sprintf("%s/%s (%.2f)", top.Event.Scope, top.Event.Name, finding.Confidence))
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
