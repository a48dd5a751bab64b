package models

// Requests for detection HTTP endpoints. Defined in domain for consistency and reuse.

type EnsembleRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
}

type DriftRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
}

type RegimeRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
}

type SnapshotRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
}

type AlertsRequest struct {
	N        int    `query:"n" json:"n" default:"10" validate:"gte=1,lte=100"`
	Severity string `query:"severity" json:"severity" validate:"omitempty,oneof=info warning critical"`
}

type ObservationsRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
	From   string `query:"from" json:"from"`
	To     string `query:"to" json:"to"`
	Limit  int    `query:"limit" json:"limit" default:"1000" validate:"gte=1,lte=50000"`
}
