package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine's failure taxonomy.
// Use errors.Is() to check against these.
var (
	ErrValidation     = errors.New("validation failed")
	ErrStock          = errors.New("stock unavailable")
	ErrCoupon         = errors.New("coupon rejected")
	ErrGiftEvaluation = errors.New("gift evaluation failed")
	ErrPayment        = errors.New("payment failed")
	ErrNetwork        = errors.New("network failure")
	ErrNotFound       = errors.New("not found")
	ErrCancelled      = errors.New("cancelled by user")
)

// EngineError is a structured error carrying a stable code and a user-facing
// message. The wrapped cause is for logs only; Message never contains raw
// transport errors.
type EngineError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"` // Wrapped cause, not serialized
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewValidationError reports a missing or invalid checkout field.
// Blocks submission, fully recoverable by fixing the field.
func NewValidationError(field, reason string) *EngineError {
	return &EngineError{
		Code:    "VALIDATION_ERROR",
		Message: fmt.Sprintf("invalid %s: %s", field, reason),
		Err:     ErrValidation,
	}
}

// NewStockError reports a blocking stock problem. Recoverable by editing the
// cart; the issue list travels separately.
func NewStockError(reason string) *EngineError {
	return &EngineError{
		Code:    "STOCK_ERROR",
		Message: reason,
		Err:     ErrStock,
	}
}

// NewCouponError reports a coupon that was rejected or invalidated. The
// coupon is always dropped before this surfaces, never left "maybe applied".
func NewCouponError(code, reason string) *EngineError {
	msg := reason
	if code != "" {
		msg = fmt.Sprintf("coupon %q: %s", code, reason)
	}
	return &EngineError{
		Code:    "COUPON_ERROR",
		Message: msg,
		Err:     ErrCoupon,
	}
}

// NewGiftError wraps a gift-endpoint failure. Non-fatal: callers log it and
// leave existing gift lines untouched.
func NewGiftError(err error) *EngineError {
	return &EngineError{
		Code:    "GIFT_EVALUATION_ERROR",
		Message: "gift rules could not be evaluated",
		Err:     fmt.Errorf("%w: %v", ErrGiftEvaluation, err),
	}
}

// NewPaymentError reports a provider decline, step-up failure, or
// capture/update failure. The reason is provider-supplied or generic, never a
// raw transport error.
func NewPaymentError(reason string) *EngineError {
	return &EngineError{
		Code:    "PAYMENT_ERROR",
		Message: reason,
		Err:     ErrPayment,
	}
}

// NewNetworkError reports a transport failure against the named service.
// Surfaced as a generic retry-able message.
func NewNetworkError(service string, err error) *EngineError {
	return &EngineError{
		Code:    "NETWORK_ERROR",
		Message: fmt.Sprintf("%s request failed, please try again", service),
		Err:     fmt.Errorf("%w: %v", ErrNetwork, err),
	}
}

// NewNotFoundError reports a missing backend resource.
func NewNotFoundError(resource string) *EngineError {
	return &EngineError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found", resource),
		Err:     ErrNotFound,
	}
}

// UserMessage extracts the user-facing message from any error. EngineErrors
// surface their Message; anything else collapses to a generic line so raw
// causes never leak to the UI.
func UserMessage(err error) string {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Message
	}
	return "something went wrong, please try again"
}
