package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/shopcore/commerce-backend/internal/cart"
	"github.com/shopcore/commerce-backend/pkg/logger"
)

type abandonmentSweeper interface {
	Sweep(ctx context.Context, now time.Time) (cart.SweepResult, error)
}

type CartAbandonmentJobParams struct {
	Logger      *logger.Logger
	Abandonment abandonmentSweeper
	Clock       func() time.Time
}

func NewCartAbandonmentJob(params CartAbandonmentJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Abandonment == nil {
		return nil, fmt.Errorf("abandonment sweeper required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &cartAbandonmentJob{logg: params.Logger, sweeper: params.Abandonment, now: clock}, nil
}

type cartAbandonmentJob struct {
	logg    *logger.Logger
	sweeper abandonmentSweeper
	now     func() time.Time
}

func (j *cartAbandonmentJob) Name() string { return "cart-abandonment" }

func (j *cartAbandonmentJob) Run(ctx context.Context) error {
	result, err := j.sweeper.Sweep(ctx, j.now())
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"identified": result.Identified,
		"reminded":   result.Reminded,
		"expired":    result.Expired,
	}), "cart abandonment sweep complete")
	if err != nil {
		return fmt.Errorf("cart abandonment sweep: %w", err)
	}
	return nil
}
