package usecase

import (
	"context"
	"fmt"
	"time"

	"StreamSentinel/internal/domain/models"
	domrepo "StreamSentinel/internal/domain/repository"
)

// HistoryUseCase provides business logic for retrieving recorded observations.
type HistoryUseCase struct {
	store domrepo.HistoryStore
}

func NewHistoryUseCase(store domrepo.HistoryStore) *HistoryUseCase {
	return &HistoryUseCase{store: store}
}

type GetObservationsParams struct {
	Symbol string
	From   time.Time
	To     time.Time
	Limit  int
}

type GetObservationsResult struct {
	Symbol       string
	From         time.Time
	To           time.Time
	Count        int
	Observations []models.Observation
}

func (uc *HistoryUseCase) GetObservations(ctx context.Context, p GetObservationsParams) (*GetObservationsResult, error) {
	if p.Symbol == "" {
		return nil, fmt.Errorf("symbol required")
	}
	if p.From.After(p.To) {
		return nil, fmt.Errorf("from must be <= to")
	}
	if p.Limit <= 0 {
		p.Limit = 10000
	}
	if p.Limit > 50000 {
		p.Limit = 50000
	}

	obs, err := uc.store.GetRange(ctx, p.Symbol, p.From, p.To, p.Limit)
	if err != nil {
		return nil, fmt.Errorf("get observations: %w", err)
	}

	return &GetObservationsResult{
		Symbol:       p.Symbol,
		From:         p.From,
		To:           p.To,
		Count:        len(obs),
		Observations: obs,
	}, nil
}
