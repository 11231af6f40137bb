package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/shopcore/commerce-backend/internal/reservations"
	"github.com/shopcore/commerce-backend/pkg/logger"
)

const defaultExpiryBatch = 200

type staleHoldExpirer interface {
	ExpireStale(ctx context.Context, now time.Time, limit int) (reservations.ExpireResult, error)
}

type ReservationExpiryJobParams struct {
	Logger       *logger.Logger
	Reservations staleHoldExpirer
	BatchSize    int
	Clock        func() time.Time
}

// NewReservationExpiryJob returns held stock to the pool once holds pass
// their TTL. Each tick handles at most one batch; a backlog drains over
// successive ticks.
func NewReservationExpiryJob(params ReservationExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reservations == nil {
		return nil, fmt.Errorf("reservation manager required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultExpiryBatch
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &reservationExpiryJob{
		logg:  params.Logger,
		holds: params.Reservations,
		batch: batch,
		now:   clock,
	}, nil
}

type reservationExpiryJob struct {
	logg  *logger.Logger
	holds staleHoldExpirer
	batch int
	now   func() time.Time
}

func (j *reservationExpiryJob) Name() string { return "reservation-expiry" }

func (j *reservationExpiryJob) Run(ctx context.Context) error {
	result, err := j.holds.ExpireStale(ctx, j.now().UTC(), j.batch)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"scanned": result.Scanned,
		"expired": result.Expired,
		"skipped": result.Skipped,
	})
	if result.Scanned == j.batch {
		j.logg.Warn(logCtx, "expiry batch full; backlog carried to next tick")
	}
	if err != nil {
		return fmt.Errorf("expire stale reservations: %w", err)
	}
	if result.Scanned > 0 {
		j.logg.Info(logCtx, "stale reservations expired")
	}
	return nil
}
