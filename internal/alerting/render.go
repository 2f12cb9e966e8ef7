package alerting

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"infra-anomaly-alerts/internal/engine"
)

// RenderReport formats an evaluation report as alert text.
func RenderReport(report *engine.AnomalyReport) string {
	builder := strings.Builder{}
	builder.WriteString("[Infra Anomaly Report]\n")
	builder.WriteString(fmt.Sprintf("Trigger: %s\n", report.Trigger))
	builder.WriteString(fmt.Sprintf("At: %s UTC\n", report.CreatedAt.UTC().Format(time.RFC3339)))

	if report.SignalCount() == 0 {
		builder.WriteString("No anomalies confirmed.\n")
	}

	scopes := make([]string, 0, len(report.Batch.ByScope))
	for scope := range report.Batch.ByScope {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	for _, scope := range scopes {
		builder.WriteString(fmt.Sprintf("\nScope %s:\n", scope))
		for _, sig := range report.Batch.ByScope[scope] {
			builder.WriteString(renderSignal(sig))
		}
	}

	for _, finding := range report.Findings {
		if len(finding.Candidates) == 0 {
			continue
		}
		top := finding.Candidates[0]
		builder.WriteString(fmt.Sprintf("\nLikely cause for %s: deploy %s/%s at %s (confidence %.2f)\n",
			finding.Signal.Metric.String(),
			top.Event.Scope,
			top.Event.Name,
			top.Event.Timestamp.UTC().Format(time.RFC3339),
			finding.Confidence,
		))
	}

	if report.DegradedCount() > 0 {
		builder.WriteString("\nDegraded sources:\n")
		for _, deg := range report.Batch.Degraded {
			builder.WriteString(fmt.Sprintf("  %s: %s\n", deg.Metric.String(), deg.Reason))
		}
	}

	if report.Deadline {
		builder.WriteString("\nCycle deadline expired before all metrics were evaluated.\n")
	}

	return builder.String()
}

func renderSignal(sig engine.AnomalySignal) string {
	line := fmt.Sprintf("  %s [%s/%s] observed %.3f",
		sig.Metric.String(), sig.BreachType, sig.Severity, sig.Observed)
	if sig.Baseline != nil {
		line += fmt.Sprintf(" baseline %.3f", *sig.Baseline)
	}
	line += fmt.Sprintf(" delta %.3f threshold %.3f (%d consecutive)\n",
		sig.Delta, sig.Threshold, sig.Consecutive)
	return line
}
