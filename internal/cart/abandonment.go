package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopcore/commerce-backend/internal/reservations"
	"github.com/shopcore/commerce-backend/pkg/config"
	"github.com/shopcore/commerce-backend/pkg/db/models"
	"github.com/shopcore/commerce-backend/pkg/enums"
	"github.com/shopcore/commerce-backend/pkg/logger"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

type reminderSender interface {
	SendCartReminder(ctx context.Context, email string, cart models.Cart, stage int)
}

type cartReleaser interface {
	ReleaseForCart(ctx context.Context, tx *gorm.DB, cartID uuid.UUID, reason string) (int, error)
}

// reminderStage describes one step of the reminder sequence.
type reminderStage struct {
	number    int
	next      enums.AbandonmentStatus
	stampedAt string
	final     bool
}

var reminderStages = map[enums.AbandonmentStatus]reminderStage{
	enums.AbandonmentStatusIdentified:    {number: 1, next: enums.AbandonmentStatusReminderSent, stampedAt: "reminder_1_sent_at"},
	enums.AbandonmentStatusReminderSent:  {number: 2, next: enums.AbandonmentStatusReminder2Sent, stampedAt: "reminder_2_sent_at"},
	enums.AbandonmentStatusReminder2Sent: {number: 3, next: enums.AbandonmentStatusReminder3Sent, stampedAt: "reminder_3_sent_at", final: true},
}

type AbandonmentParams struct {
	DB           txRunner
	Carts        CartRepository
	Trackers     TrackerRepository
	Reservations cartReleaser
	Notifier     reminderSender
	Logger       *logger.Logger
	Config       config.AbandonmentConfig
}

// Abandonment runs the detect, remind and expire stages of the abandoned
// cart sweep.
type Abandonment struct {
	db           txRunner
	carts        CartRepository
	trackers     TrackerRepository
	reservations cartReleaser
	notifier     reminderSender
	logg         *logger.Logger
	cfg          config.AbandonmentConfig
}

type SweepResult struct {
	Identified int
	Reminded   int
	Expired    int
}

func NewAbandonment(params AbandonmentParams) (*Abandonment, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Carts == nil || params.Trackers == nil {
		return nil, fmt.Errorf("cart and tracker repositories required")
	}
	if params.Reservations == nil {
		return nil, fmt.Errorf("reservation manager required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	cfg := params.Config
	if cfg.IdleThreshold <= 0 || cfg.ReminderSpacing <= 0 || cfg.Retention <= 0 {
		return nil, fmt.Errorf("abandonment thresholds must be positive")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Abandonment{
		db:           params.DB,
		carts:        params.Carts,
		trackers:     params.Trackers,
		reservations: params.Reservations,
		notifier:     params.Notifier,
		logg:         params.Logger,
		cfg:          cfg,
	}, nil
}

// Sweep runs the three stages in order. A failing stage does not stop the
// following ones.
func (a *Abandonment) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	now = now.UTC()
	var result SweepResult
	var errs error

	identified, err := a.Detect(ctx, now)
	result.Identified = identified
	errs = multierr.Append(errs, err)

	reminded, err := a.Remind(ctx, now)
	result.Reminded = reminded
	errs = multierr.Append(errs, err)

	expired, err := a.Expire(ctx, now)
	result.Expired = expired
	errs = multierr.Append(errs, err)

	return result, errs
}

// Detect marks idle active carts abandoned and opens a tracker for each.
func (a *Abandonment) Detect(ctx context.Context, now time.Time) (int, error) {
	idle, err := a.carts.ListIdle(ctx, now.Add(-a.cfg.IdleThreshold), a.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list idle carts: %w", err)
	}

	var count int
	var errs error
	for _, cart := range idle {
		cart := cart
		var identified bool
		err := a.db.WithTx(ctx, func(tx *gorm.DB) error {
			trackers := a.trackers.WithTx(tx)
			existing, err := trackers.FindByCartID(ctx, cart.ID)
			if err != nil || existing != nil {
				return err
			}
			ok, err := a.carts.WithTx(tx).UpdateStatus(ctx, cart.ID,
				[]enums.CartStatus{enums.CartStatusActive}, enums.CartStatusAbandoned, nil)
			if err != nil || !ok {
				return err
			}
			next := now.Add(a.cfg.ReminderSpacing)
			identified = true
			return trackers.Create(ctx, &models.AbandonedCartTracker{
				CartID:         cart.ID,
				CustomerEmail:  cart.CustomerEmail,
				Status:         enums.AbandonmentStatusIdentified,
				IdentifiedAt:   now,
				NextReminderAt: &next,
			})
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("identify cart %s: %w", cart.ID, err))
			continue
		}
		if identified {
			count++
		}
	}
	return count, errs
}

// Remind advances due trackers one stage and sends that stage's reminder once
// the stamp has committed.
func (a *Abandonment) Remind(ctx context.Context, now time.Time) (int, error) {
	due, err := a.trackers.ListDue(ctx, []enums.AbandonmentStatus{
		enums.AbandonmentStatusIdentified,
		enums.AbandonmentStatusReminderSent,
		enums.AbandonmentStatusReminder2Sent,
	}, now, a.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list due trackers: %w", err)
	}

	var count int
	var errs error
	for _, tracker := range due {
		stage, ok := reminderStages[tracker.Status]
		if !ok {
			continue
		}
		fields := map[string]any{stage.stampedAt: now}
		if stage.final {
			fields["next_reminder_at"] = nil
		} else {
			fields["next_reminder_at"] = now.Add(a.cfg.ReminderSpacing)
		}

		advanced, err := a.trackers.Advance(ctx, tracker.ID, tracker.Status, stage.next, fields)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("advance tracker %s: %w", tracker.ID, err))
			continue
		}
		if !advanced {
			continue
		}

		cart, err := a.carts.FindByID(ctx, tracker.CartID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("load cart %s: %w", tracker.CartID, err))
			continue
		}
		if cart == nil {
			a.logg.Warn(a.logg.WithField(ctx, "cart_id", tracker.CartID.String()), "abandoned cart missing; reminder skipped")
			continue
		}
		a.notifier.SendCartReminder(ctx, tracker.CustomerEmail, *cart, stage.number)
		count++
	}
	return count, errs
}

// Expire clears carts whose tracker outlived the retention window and releases
// any holds still attached to them.
func (a *Abandonment) Expire(ctx context.Context, now time.Time) (int, error) {
	stale, err := a.trackers.ListExpirable(ctx, now.Add(-a.cfg.Retention), a.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list expirable trackers: %w", err)
	}

	var count int
	var errs error
	for _, tracker := range stale {
		tracker := tracker
		var expired bool
		err := a.db.WithTx(ctx, func(tx *gorm.DB) error {
			ok, err := a.trackers.WithTx(tx).Advance(ctx, tracker.ID, tracker.Status, enums.AbandonmentStatusExpired, map[string]any{
				"expired_at":       now,
				"next_reminder_at": nil,
			})
			if err != nil || !ok {
				return err
			}
			if _, err := a.reservations.ReleaseForCart(ctx, tx, tracker.CartID, reservations.ReasonAbandoned); err != nil {
				return err
			}
			carts := a.carts.WithTx(tx)
			if err := carts.DeleteItems(ctx, tracker.CartID); err != nil {
				return err
			}
			if _, err := carts.UpdateStatus(ctx, tracker.CartID,
				[]enums.CartStatus{enums.CartStatusAbandoned, enums.CartStatusActive},
				enums.CartStatusAbandoned,
				map[string]any{"subtotal": decimal.Zero},
			); err != nil {
				return err
			}
			expired = true
			return nil
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire tracker %s: %w", tracker.ID, err))
			continue
		}
		if expired {
			count++
		}
	}
	return count, errs
}
