package service

import (
	"time"

	"github.com/google/uuid"

	"github.com/voyagen/ptepg/internal/store"
)

// Run results, also used as the metrics label.
const (
	ResultOK                = "ok"
	ResultNoChannels        = "no_channels"
	ResultPersistenceFailed = "persistence_failed"
	ResultCancelled         = "cancelled"
	ResultSkipped           = "skipped"
)

// Report describes one ingestion run.
type Report struct {
	ID            uuid.UUID         `json:"id"`
	Result        string            `json:"result"`
	Error         string            `json:"error,omitempty"`
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    time.Time         `json:"finished_at"`
	Duration      time.Duration     `json:"duration_ns"`
	WindowDays    int               `json:"window_days"`
	WindowStart   time.Time         `json:"window_start"`
	WindowEnd     time.Time         `json:"window_end"`
	Channels      int               `json:"channels"`
	Programs      int               `json:"programs"`
	FailedDetails int               `json:"failed_details"`
	OutboundCalls int64             `json:"outbound_calls"`
	Stats         store.UpsertStats `json:"stats"`
}
