package usecase

import (
	"context"
	"fmt"
	"time"

	pkgcache "StreamSentinel/pkg/cache"
	"StreamSentinel/pkg/queue"
)

// fitLockTTL bounds how long a symbol's fit lock can be held if a worker dies.
const fitLockTTL = 2 * time.Minute

// FitModelsJob refits a symbol's models off the hot path. Enqueued by the
// engine whenever a refit interval elapses. A per-symbol lock keeps multiple
// workers from fitting the same symbol concurrently.
type FitModelsJob struct {
	engine *DetectorEngine
	locks  pkgcache.Service
}

func NewFitModelsJob(engine *DetectorEngine, locks pkgcache.Service) *FitModelsJob {
	return &FitModelsJob{engine: engine, locks: locks}
}

func (j *FitModelsJob) Name() string { return "fit_models_job" }

func (j *FitModelsJob) Type() string { return FitJobType }

func (j *FitModelsJob) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[FitJobPayload](payload)
	if err != nil {
		return fmt.Errorf("parse fit payload: %w", err)
	}
	if p.Symbol == "" {
		return fmt.Errorf("fit payload missing symbol")
	}

	if j.locks != nil {
		lockKey := "fit_lock:" + p.Symbol
		ok, err := j.locks.TryLock(ctx, lockKey, fitLockTTL)
		if err != nil {
			return fmt.Errorf("fit lock: %w", err)
		}
		if !ok {
			// another worker is already fitting this symbol
			return nil
		}
		defer func() { _ = j.locks.Unlock(ctx, lockKey) }()
	}

	return j.engine.FitSymbol(ctx, p.Symbol)
}

var _ queue.Job = (*FitModelsJob)(nil)
