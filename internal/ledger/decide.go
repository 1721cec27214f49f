package ledger

import (
	"time"

	"github.com/iliyamo/reservation-ledger/internal/model"
)

type verdict int

const (
	// verdictSettled: the reservation has already left HELD.
	verdictSettled verdict = iota
	// verdictOpen: still HELD and the deadline has not been reached.
	verdictOpen
	// verdictLapsed: still HELD and now >= deadline.
	verdictLapsed
)

// decideOutcome is the single deadline comparison shared by ConfirmPayment,
// ExpireIfDue and the sweeper's candidate query.  A payment landing exactly
// on the deadline is denied.
func decideOutcome(status model.Status, now, deadline time.Time) verdict {
	if status != model.StatusHeld {
		return verdictSettled
	}
	if now.Before(deadline) {
		return verdictOpen
	}
	return verdictLapsed
}

// isDue reports whether a HELD reservation with the given deadline should
// be expired at now.
func isDue(now, deadline time.Time) bool {
	return decideOutcome(model.StatusHeld, now, deadline) == verdictLapsed
}
