package storage

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"infra-anomaly-alerts/internal/engine"
)

// MemoryArchive keeps the most recent reports in memory. It backs
// deployments that run without a database and the simulation path.
type MemoryArchive struct {
	mu      sync.Mutex
	nextID  int64
	cap     int
	records []ReportRecord
}

// NewMemoryArchive builds an archive retaining at most capacity reports.
func NewMemoryArchive(capacity int) *MemoryArchive {
	if capacity <= 0 {
		capacity = 32
	}
	return &MemoryArchive{cap: capacity}
}

// InsertReport archives a report, evicting the oldest entry when full.
func (m *MemoryArchive) InsertReport(_ context.Context, report *engine.AnomalyReport) (ReportRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	rec := ReportRecord{
		ID:        m.nextID,
		Trigger:   report.Trigger,
		Signals:   report.SignalCount(),
		Degraded:  report.DegradedCount(),
		Report:    report,
		CreatedAt: report.CreatedAt,
	}
	m.records = append(m.records, rec)
	if len(m.records) > m.cap {
		m.records = m.records[len(m.records)-m.cap:]
	}
	return rec, nil
}

// ListRecentReports returns up to limit reports, newest first.
func (m *MemoryArchive) ListRecentReports(_ context.Context, limit int) ([]ReportRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	out := make([]ReportRecord, 0, limit)
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}

// LatestReport returns the newest archived report.
func (m *MemoryArchive) LatestReport(_ context.Context) (ReportRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.records) == 0 {
		return ReportRecord{}, pgx.ErrNoRows
	}
	return m.records[len(m.records)-1], nil
}

// DeleteReportsBefore drops reports created before the cutoff.
func (m *MemoryArchive) DeleteReportsBefore(_ context.Context, olderThan time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.records[:0]
	for _, rec := range m.records {
		if !rec.CreatedAt.Before(olderThan) {
			kept = append(kept, rec)
		}
	}
	m.records = kept
	return nil
}

var _ ReportArchive = (*MemoryArchive)(nil)
var _ ReportArchive = (*Store)(nil)
