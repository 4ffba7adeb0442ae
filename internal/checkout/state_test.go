package checkout

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateValidatingCart, true},
		{StateValidatingCart, StateCreatingOrder, true},
		{StateAwaitingApproval, StateCancelled, true},
		{StateAwaitingApproval, StateCapturing, true},
		{StateConfirmingPayment, StateStepUpAuthentication, true},
		{StateStepUpAuthentication, StateUpdatingOrder, true},

		// Every non-terminal state may fail.
		{StateCapturing, StateFailed, true},
		{StateValidatingCart, StateFailed, true},

		// Terminal states are final.
		{StateSucceeded, StateFailed, false},
		{StateCancelled, StateValidatingCart, false},
		{StateFailed, StateFailed, false},

		// Skipping states is not allowed.
		{StateIdle, StateCapturing, false},
		{StateValidatingCart, StateSucceeded, false},
		{StateCreatingPendingOrder, StateCapturing, false},
	}
	for _, tt := range tests {
		if got := canTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("canTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []State{StateSucceeded, StateFailed, StateCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []State{StateIdle, StateValidatingCart, StateCapturing} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
