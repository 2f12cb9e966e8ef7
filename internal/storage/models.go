package storage

import (
	"time"

	"infra-anomaly-alerts/internal/engine"
)

// ReportRecord is an archived evaluation report.
type ReportRecord struct {
	ID        int64                 `json:"id"`
	Trigger   string                `json:"trigger"`
	Signals   int                   `json:"signals"`
	Degraded  int                   `json:"degraded"`
	Report    *engine.AnomalyReport `json:"report"`
	CreatedAt time.Time             `json:"created_at"`
}
