package request_test

import (
	"errors"
	"testing"

	"github.com/poolvest/fund-engine/internal/model"
	"github.com/poolvest/fund-engine/internal/request"
)

func pendingRequest(kind string) *model.Request {
	return &model.Request{
		ID:     "req-1",
		FundID: "fund-1",
		UserID: "user-1",
		Kind:   kind,
		Status: model.StatusPending,
	}
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		status  string
		want    request.Decision
		wantErr bool
	}{
		{model.StatusApproved, request.Approve, false},
		{model.StatusDeclined, request.Decline, false},
		{model.StatusCanceled, "", true},
		{model.StatusPending, "", true},
		{"rejected", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := request.ParseDecision(tt.status)
		if tt.wantErr {
			if !errors.Is(err, request.ErrInvalidDecision) {
				t.Errorf("ParseDecision(%q): expected ErrInvalidDecision, got %v", tt.status, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseDecision(%q) = %v, %v; want %v", tt.status, got, err, tt.want)
		}
	}
}

func TestCancel_RefundsSubscription(t *testing.T) {
	r := pendingRequest(model.KindSubscription)

	refund, err := request.Cancel(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !refund {
		t.Error("pending subscription cancel should refund the debited amount")
	}
	if r.Status != model.StatusCanceled || !r.Refunded {
		t.Errorf("got status=%s refunded=%v, want canceled/true", r.Status, r.Refunded)
	}
}

func TestCancel_RedemptionNoRefund(t *testing.T) {
	r := pendingRequest(model.KindRedemption)

	refund, err := request.Cancel(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if refund || r.Refunded {
		t.Error("redemption holds no debited money; nothing to refund")
	}
}

func TestCancel_AlreadyCanceled(t *testing.T) {
	r := pendingRequest(model.KindSubscription)
	if _, err := request.Cancel(r); err != nil {
		t.Fatalf("first cancel failed: %v", err)
	}

	// Second cancel must fail and leave state untouched.
	_, err := request.Cancel(r)
	if !errors.Is(err, request.ErrCannotCancel) {
		t.Fatalf("expected ErrCannotCancel, got %v", err)
	}
	if r.Status != model.StatusCanceled {
		t.Errorf("status changed to %s on failed cancel", r.Status)
	}
}

func TestCancel_TerminalStatuses(t *testing.T) {
	for _, status := range []string{model.StatusApproved, model.StatusDeclined, model.StatusCanceled} {
		r := pendingRequest(model.KindSubscription)
		r.Status = status
		if _, err := request.Cancel(r); !errors.Is(err, request.ErrCannotCancel) {
			t.Errorf("cancel on %s: expected ErrCannotCancel, got %v", status, err)
		}
	}
}

func TestDecide_Transitions(t *testing.T) {
	tests := []struct {
		kind     string
		decision request.Decision
		want     string
	}{
		{model.KindSubscription, request.Approve, model.StatusApproved},
		{model.KindSubscription, request.Decline, model.StatusDeclined},
		{model.KindRedemption, request.Approve, model.StatusApproved},
		{model.KindRedemption, request.Decline, model.StatusDeclined},
	}

	for _, tt := range tests {
		r := pendingRequest(tt.kind)
		if err := request.Decide(r, tt.decision); err != nil {
			t.Errorf("Decide(%s, %s): unexpected error: %v", tt.kind, tt.decision, err)
			continue
		}
		if r.Status != tt.want {
			t.Errorf("Decide(%s, %s) left status %s, want %s", tt.kind, tt.decision, r.Status, tt.want)
		}
	}
}

func TestDecide_LockedRequest(t *testing.T) {
	for _, status := range []string{model.StatusApproved, model.StatusDeclined, model.StatusCanceled} {
		r := pendingRequest(model.KindSubscription)
		r.Status = status
		if err := request.Decide(r, request.Approve); !errors.Is(err, request.ErrCannotPatch) {
			t.Errorf("decide on %s: expected ErrCannotPatch, got %v", status, err)
		}
	}
}

func TestDecide_EmailUnverified(t *testing.T) {
	r := pendingRequest(model.KindSubscription)
	r.Status = model.StatusPendingEmailVerification
	if err := request.Decide(r, request.Approve); !errors.Is(err, request.ErrCannotPatch) {
		t.Errorf("decide before activation: expected ErrCannotPatch, got %v", err)
	}
}

func TestActivate(t *testing.T) {
	r := pendingRequest(model.KindSubscription)
	r.Status = model.StatusPendingEmailVerification
	r.AuthToken = "tok-123"

	if err := request.Activate(r, "user-1", "tok-123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Status != model.StatusPending {
		t.Errorf("got status %s, want pending", r.Status)
	}
}

func TestActivate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		status string
		userID string
		token  string
	}{
		{"wrong token", model.StatusPendingEmailVerification, "user-1", "tok-bad"},
		{"wrong user", model.StatusPendingEmailVerification, "user-2", "tok-123"},
		{"empty token", model.StatusPendingEmailVerification, "user-1", ""},
		{"already pending", model.StatusPending, "user-1", "tok-123"},
	}

	for _, tt := range tests {
		r := pendingRequest(model.KindSubscription)
		r.Status = tt.status
		r.AuthToken = "tok-123"
		if err := request.Activate(r, tt.userID, tt.token); !errors.Is(err, request.ErrNoActivation) {
			t.Errorf("%s: expected ErrNoActivation, got %v", tt.name, err)
		}
	}
}

func TestDerivedProperties(t *testing.T) {
	pending := pendingRequest(model.KindSubscription)
	if !request.IsCancelable(pending) || request.IsLocked(pending) {
		t.Error("pending subscription should be cancelable and unlocked")
	}
	if !request.Refundable(pending) {
		t.Error("pending subscription holds debited money; should be refundable")
	}

	approved := pendingRequest(model.KindRedemption)
	approved.Status = model.StatusApproved
	if request.IsCancelable(approved) || !request.IsLocked(approved) {
		t.Error("approved request should be locked and not cancelable")
	}
}
