package wheel

import (
	"log/slog"

	"lucky-wheel/internal/models"
)

type State string

const (
	StateRequested            State = "requested"
	StatePendingPaymentCheck  State = "pending_payment_check"
	StatePendingQuotaCheck    State = "pending_quota_check"
	StateCommitted            State = "committed"
	StateRejected             State = "rejected"
	StateFulfillmentSucceeded State = "fulfillment_succeeded"
	StateFulfillmentFailed    State = "fulfillment_failed"
	StateResolved             State = "resolved"
)

var transitions = map[State][]State{
	StateRequested:            {StatePendingPaymentCheck, StateRejected},
	StatePendingPaymentCheck:  {StatePendingQuotaCheck, StateRejected},
	StatePendingQuotaCheck:    {StateCommitted, StateRejected},
	StateCommitted:            {StateFulfillmentSucceeded, StateFulfillmentFailed, StateResolved},
	StateFulfillmentSucceeded: {StateResolved},
	StateFulfillmentFailed:    {StateResolved},
}

func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// stateOf maps a stored fulfillment status back onto the machine.
func stateOf(status models.FulfillmentStatus) State {
	switch status {
	case models.FulfillmentSucceeded:
		return StateFulfillmentSucceeded
	case models.FulfillmentFailed:
		return StateFulfillmentFailed
	default:
		return StateCommitted
	}
}

// flow tracks one spin through the machine and logs each step.
type flow struct {
	spinID  string
	wallet  string
	variant models.VariantID
	state   State
	path    []State
	logger  *slog.Logger
}

func newFlow(spinID, wallet string, variant models.VariantID, from State, logger *slog.Logger) *flow {
	return &flow{spinID: spinID, wallet: wallet, variant: variant, state: from, path: []State{from}, logger: logger}
}

// to moves the flow forward. An invalid step is logged and ignored so a
// bug in sequencing never fails a committed spin.
func (f *flow) to(next State) {
	if !CanTransition(f.state, next) {
		f.logger.Error("invalid spin transition", "spinId", f.spinID, "from", f.state, "to", next)
		return
	}
	f.logger.Debug("spin transition", "spinId", f.spinID, "wallet", f.wallet, "variant", f.variant, "from", f.state, "to", next)
	f.state = next
	f.path = append(f.path, next)
}
