// Package payment abstracts the payment providers the checkout orchestrator
// drives. Every provider call is reduced to a uniform result: a status the
// state machine can branch on, a transaction reference, and an optional
// user-facing message. Provider-specific wire details stay behind the
// interfaces.
package payment

import "context"

// Status is the uniform outcome of a provider call.
type Status string

const (
	// StatusSucceeded means the charge is complete.
	StatusSucceeded Status = "succeeded"
	// StatusRequiresAction means the provider mandates a step-up
	// authentication challenge before the charge can complete.
	StatusRequiresAction Status = "requires_action"
	// StatusDeclined means the provider rejected the charge.
	StatusDeclined Status = "declined"
	// StatusPending means final confirmation arrives asynchronously via a
	// server-to-server callback.
	StatusPending Status = "pending"
)

// Result is the reduced outcome of a provider call.
type Result struct {
	Status        Status
	TransactionID string
	// IntentID identifies the provider-side payment object for follow-up
	// calls (step-up completion, server-side confirmation).
	IntentID string
	// ChallengeData carries whatever the in-page step-up challenge needs
	// (client secret, redirect URL). Opaque to the orchestrator.
	ChallengeData string
	// Message is a provider-supplied decline reason, suitable for display.
	Message string
}

// CardDetails is an opaque tokenized card reference. Raw card numbers never
// reach this layer.
type CardDetails struct {
	Token string
}

// ChargeRequest describes the charge being created.
type ChargeRequest struct {
	Amount    int64 // minor units
	Currency  string
	OrderID   int
	AttemptID string // idempotency key, one per checkout attempt
	Email     string
}

// CardProvider is a synchronous card processor with an optional step-up
// challenge. The normal path is CreateIntent then Confirm. Constrained
// browsers that cannot run the provider's confirmation script instead use
// CreateMethod and ChargeMethod, where the charge happens server-side.
type CardProvider interface {
	CreateIntent(ctx context.Context, req ChargeRequest) (*Result, error)
	Confirm(ctx context.Context, intentID string, card CardDetails) (*Result, error)

	CreateMethod(ctx context.Context, card CardDetails) (string, error)
	ChargeMethod(ctx context.Context, methodID string, req ChargeRequest) (*Result, error)

	// CompleteStepUp finishes a charge after the in-page challenge. Only
	// valid when a prior call returned StatusRequiresAction.
	CompleteStepUp(ctx context.Context, intentID string) (*Result, error)
}

// Session is a provider-hosted approval session.
type Session struct {
	ID          string
	ApprovalURL string
}

// RedirectProvider is a provider whose approval happens on its own hosted
// page. PayPal-style providers capture synchronously on return;
// webhook-settled providers confirm via callback and Capture reports
// StatusPending.
type RedirectProvider interface {
	CreateSession(ctx context.Context, req ChargeRequest) (*Session, error)
	Capture(ctx context.Context, sessionID string) (*Result, error)
}
