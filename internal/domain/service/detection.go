package service

import (
	"context"

	"StreamSentinel/internal/domain/models"
)

// SnapshotSource serves the latest consolidated detection state per symbol.
type SnapshotSource interface {
	Snapshot(ctx context.Context, symbol string) (*models.DetectionSnapshot, error)
}

// AlertSource serves recent alerts with optional severity filtering.
type AlertSource interface {
	RecentAlerts(n int, severity models.Severity) []models.Alert
	AlertSummary() map[string]int
}
