// Package checkout drives a checkout attempt through an explicit state
// machine. Each payment method is a distinct transition path over named
// states; the orchestrator owns the transitions and every provider or
// backend call happens inside exactly one state.
package checkout

// State names a position in the checkout state machine.
type State string

const (
	StateIdle           State = "idle"
	StateValidatingCart State = "validating_cart"

	// Shared by bank transfer, cash on delivery, and the standard card path.
	StateCreatingOrder State = "creating_order"

	// Redirect providers (PayPal, webhook-settled).
	StateCreatingPendingOrder State = "creating_pending_order"
	StateAwaitingApproval     State = "awaiting_provider_approval"
	StateCapturing            State = "capturing"
	StateUpdatingOrder        State = "updating_order"
	StateAwaitingWebhook      State = "awaiting_webhook"

	// Card, standard path.
	StateCreatingIntent    State = "creating_payment_intent"
	StateConfirmingPayment State = "confirming_payment"

	// Card, constrained-device path.
	StateCreatingMethod        State = "creating_payment_method"
	StateCreatingOrderWithCard State = "creating_order_with_payment_method"
	StateStepUpAuthentication  State = "step_up_authentication"

	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// transitions is the legal edge set. Every state may additionally move to
// Failed; AwaitingApproval may also move to Cancelled.
var transitions = map[State][]State{
	StateIdle:           {StateValidatingCart},
	StateValidatingCart: {StateCreatingOrder, StateCreatingPendingOrder, StateCreatingMethod, StateAwaitingWebhook},

	StateCreatingOrder: {StateSucceeded, StateCreatingIntent},

	StateCreatingPendingOrder: {StateAwaitingApproval},
	StateAwaitingApproval:     {StateCapturing, StateCancelled},
	StateCapturing:            {StateUpdatingOrder},
	StateUpdatingOrder:        {StateSucceeded},
	StateAwaitingWebhook:      {StateUpdatingOrder, StateSucceeded},

	StateCreatingIntent:    {StateConfirmingPayment},
	StateConfirmingPayment: {StateUpdatingOrder, StateStepUpAuthentication},

	StateCreatingMethod:        {StateCreatingOrderWithCard},
	StateCreatingOrderWithCard: {StateUpdatingOrder, StateStepUpAuthentication},
	StateStepUpAuthentication:  {StateUpdatingOrder},
}

// canTransition reports whether from → to is a legal edge.
func canTransition(from, to State) bool {
	if to == StateFailed {
		return !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
