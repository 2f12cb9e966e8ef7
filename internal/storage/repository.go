package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"infra-anomaly-alerts/internal/engine"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	createReportsSQL = `CREATE TABLE IF NOT EXISTS anomaly_reports (
        id         BIGSERIAL PRIMARY KEY,
        trigger    TEXT        NOT NULL,
        signals    INTEGER     NOT NULL,
        degraded   INTEGER     NOT NULL,
        payload    JSONB       NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	insertReportSQL = `INSERT INTO anomaly_reports (
        trigger,
        signals,
        degraded,
        payload,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    RETURNING id;`

	listRecentReportsSQL = `SELECT
        id,
        trigger,
        signals,
        degraded,
        payload,
        created_at
    FROM anomaly_reports
    ORDER BY created_at DESC
    LIMIT $1;`

	latestReportSQL = `SELECT
        id,
        trigger,
        signals,
        degraded,
        payload,
        created_at
    FROM anomaly_reports
    ORDER BY created_at DESC
    LIMIT 1;`

	deleteReportsBeforeSQL = `DELETE FROM anomaly_reports WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ReportArchive defines operations for report persistence.
type ReportArchive interface {
	InsertReport(ctx context.Context, report *engine.AnomalyReport) (ReportRecord, error)
	ListRecentReports(ctx context.Context, limit int) ([]ReportRecord, error)
	LatestReport(ctx context.Context) (ReportRecord, error)
	DeleteReportsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store archives reports in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the reports table when absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, createReportsSQL); execErr != nil {
		return fmt.Errorf("ensure schema: %w", execErr)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertReport persists an evaluation report.
func (s *Store) InsertReport(ctx context.Context, report *engine.AnomalyReport) (ReportRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return ReportRecord{}, err
	}

	payload, marshalErr := json.Marshal(report)
	if marshalErr != nil {
		return ReportRecord{}, fmt.Errorf("marshal report: %w", marshalErr)
	}

	rec := ReportRecord{
		Trigger:   report.Trigger,
		Signals:   report.SignalCount(),
		Degraded:  report.DegradedCount(),
		Report:    report,
		CreatedAt: report.CreatedAt,
	}

	row := pool.QueryRow(ctx, insertReportSQL,
		rec.Trigger,
		rec.Signals,
		rec.Degraded,
		payload,
		rec.CreatedAt,
	)
	if scanErr := row.Scan(&rec.ID); scanErr != nil {
		return ReportRecord{}, fmt.Errorf("insert report: %w", scanErr)
	}

	return rec, nil
}

// ListRecentReports lists the most recent reports ordered by descending creation time.
func (s *Store) ListRecentReports(ctx context.Context, limit int) ([]ReportRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentReportsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent reports: %w", queryErr)
	}
	defer rows.Close()

	records := make([]ReportRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanReportRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// LatestReport returns the most recently archived report.
func (s *Store) LatestReport(ctx context.Context) (ReportRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return ReportRecord{}, err
	}

	rows, queryErr := pool.Query(ctx, latestReportSQL)
	if queryErr != nil {
		return ReportRecord{}, fmt.Errorf("latest report: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return ReportRecord{}, rows.Err()
		}
		return ReportRecord{}, pgx.ErrNoRows
	}
	return scanReportRecord(rows)
}

// DeleteReportsBefore deletes historical reports.
func (s *Store) DeleteReportsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteReportsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete reports before: %w", execErr)
	}
	return nil
}

func scanReportRecord(rows pgx.Rows) (ReportRecord, error) {
	var (
		rec     ReportRecord
		payload []byte
	)

	if err := rows.Scan(
		&rec.ID,
		&rec.Trigger,
		&rec.Signals,
		&rec.Degraded,
		&payload,
		&rec.CreatedAt,
	); err != nil {
		return ReportRecord{}, err
	}

	var report engine.AnomalyReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return ReportRecord{}, fmt.Errorf("unmarshal report payload: %w", err)
	}
	rec.Report = &report

	return rec, nil
}
