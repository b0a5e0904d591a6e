package domain

import "time"

// RunRecord is the metadata kept for a completed pipeline run.
type RunRecord struct {
	ID            string            `json:"run_id" db:"run_id"`
	Country       string            `json:"country" db:"country"`
	WorldBankName string            `json:"wb_country" db:"wb_country"`
	Rows          int               `json:"rows" db:"rows"`
	StartedAt     time.Time         `json:"started_at" db:"started_at"`
	FinishedAt    time.Time         `json:"finished_at" db:"finished_at"`
	Digests       map[string]string `json:"source_digests,omitempty" db:"source_digests"`
}
