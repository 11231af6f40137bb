package admin

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopcore/commerce-backend/api/controllers/dto"
	"github.com/shopcore/commerce-backend/api/responses"
	"github.com/shopcore/commerce-backend/api/validators"
	monnifywebhook "github.com/shopcore/commerce-backend/internal/webhooks/monnify"
	"github.com/shopcore/commerce-backend/pkg/db/models"
	"github.com/shopcore/commerce-backend/pkg/enums"
	pkgerrors "github.com/shopcore/commerce-backend/pkg/errors"
	"github.com/shopcore/commerce-backend/pkg/logger"
	"github.com/shopcore/commerce-backend/pkg/outbox"
)

const (
	defaultDLQLimit = 50
	maxDLQLimit     = 200
)

type dlqLister interface {
	List(ctx context.Context, filter outbox.DLQFilter) ([]models.OutboxDLQ, error)
}

type receiptReplayer interface {
	Replay(ctx context.Context, receiptID uuid.UUID) (monnifywebhook.Result, error)
}

// OutboxDLQ lists events the publisher gave up on, newest first, optionally
// filtered by ?reason=.
func OutboxDLQ(repo dlqLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", defaultDLQLimit, 1, maxDLQLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reason := enums.OutboxDLQErrorReason(r.URL.Query().Get("reason"))
		if reason != "" && !reason.IsValid() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid dlq reason"))
			return
		}
		rows, err := repo.List(r.Context(), outbox.DLQFilter{Reason: reason, Limit: limit})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list outbox dlq"))
			return
		}
		responses.WriteSuccess(w, dto.NewDLQEntries(rows))
	}
}

// ReplayWebhook re-runs a stored payment callback.
func ReplayWebhook(replayer receiptReplayer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		receiptID, err := validators.PathUUID(r, "receiptId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := replayer.Replay(r.Context(), receiptID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
