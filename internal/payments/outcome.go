package payments

import (
	"strings"

	"github.com/shopcore/commerce-backend/pkg/monnify"
)

// Outcome is what a gateway status means for the order.
type Outcome string

const (
	OutcomePaid    Outcome = "paid"
	OutcomeFailed  Outcome = "failed"
	OutcomePending Outcome = "pending"
)

// OutcomeFor maps a provider payment status onto an order outcome. Unknown
// statuses are treated as pending so nothing is decided on a guess.
func OutcomeFor(status string) Outcome {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case monnify.StatusPaid, monnify.StatusOverpaid:
		return OutcomePaid
	case monnify.StatusFailed, monnify.StatusReversed, monnify.StatusExpired,
		monnify.StatusCancelled, monnify.StatusAbandoned:
		return OutcomeFailed
	default:
		return OutcomePending
	}
}
