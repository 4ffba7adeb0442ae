package payment

import "context"

// MockCard implements CardProvider for testing.
type MockCard struct {
	CreateIntentFunc   func(ctx context.Context, req ChargeRequest) (*Result, error)
	ConfirmFunc        func(ctx context.Context, intentID string, card CardDetails) (*Result, error)
	CreateMethodFunc   func(ctx context.Context, card CardDetails) (string, error)
	ChargeMethodFunc   func(ctx context.Context, methodID string, req ChargeRequest) (*Result, error)
	CompleteStepUpFunc func(ctx context.Context, intentID string) (*Result, error)
}

func (m *MockCard) CreateIntent(ctx context.Context, req ChargeRequest) (*Result, error) {
	if m.CreateIntentFunc != nil {
		return m.CreateIntentFunc(ctx, req)
	}
	return &Result{Status: StatusSucceeded, IntentID: "pi_test", TransactionID: "txn_test"}, nil
}

func (m *MockCard) Confirm(ctx context.Context, intentID string, card CardDetails) (*Result, error) {
	if m.ConfirmFunc != nil {
		return m.ConfirmFunc(ctx, intentID, card)
	}
	return &Result{Status: StatusSucceeded, IntentID: intentID, TransactionID: "txn_test"}, nil
}

func (m *MockCard) CreateMethod(ctx context.Context, card CardDetails) (string, error) {
	if m.CreateMethodFunc != nil {
		return m.CreateMethodFunc(ctx, card)
	}
	return "pm_test", nil
}

func (m *MockCard) ChargeMethod(ctx context.Context, methodID string, req ChargeRequest) (*Result, error) {
	if m.ChargeMethodFunc != nil {
		return m.ChargeMethodFunc(ctx, methodID, req)
	}
	return &Result{Status: StatusSucceeded, TransactionID: "txn_test"}, nil
}

func (m *MockCard) CompleteStepUp(ctx context.Context, intentID string) (*Result, error) {
	if m.CompleteStepUpFunc != nil {
		return m.CompleteStepUpFunc(ctx, intentID)
	}
	return &Result{Status: StatusSucceeded, IntentID: intentID, TransactionID: "txn_test"}, nil
}

// MockRedirect implements RedirectProvider for testing.
type MockRedirect struct {
	CreateSessionFunc func(ctx context.Context, req ChargeRequest) (*Session, error)
	CaptureFunc       func(ctx context.Context, sessionID string) (*Result, error)
}

func (m *MockRedirect) CreateSession(ctx context.Context, req ChargeRequest) (*Session, error) {
	if m.CreateSessionFunc != nil {
		return m.CreateSessionFunc(ctx, req)
	}
	return &Session{ID: "sess_test", ApprovalURL: "https://provider.example/approve/sess_test"}, nil
}

func (m *MockRedirect) Capture(ctx context.Context, sessionID string) (*Result, error) {
	if m.CaptureFunc != nil {
		return m.CaptureFunc(ctx, sessionID)
	}
	return &Result{Status: StatusSucceeded, TransactionID: "txn_test"}, nil
}
