// Package request models the lifecycle of subscription and redemption
// requests:
//
//	pending_email_verification → pending → {approved, declined, canceled}
//
// The cancelable/locked/refundable properties are derived from the request
// each time they are needed — they are never stored, so they cannot drift
// out of sync with the status.
package request

import (
	"errors"
	"fmt"

	"github.com/poolvest/fund-engine/internal/model"
)

var (
	// ErrCannotCancel is returned when a request is past the point where
	// the user may cancel it.
	ErrCannotCancel = errors.New("request: cannot cancel request")

	// ErrCannotPatch is returned when an admin decision targets a locked
	// or already-terminal request.
	ErrCannotPatch = errors.New("request: cannot patch request")

	// ErrInvalidDecision is returned for a decision outside {approve, decline}.
	ErrInvalidDecision = errors.New("request: invalid decision")

	// ErrInvalidKind is returned for a kind outside {subscription, redemption}.
	ErrInvalidKind = errors.New("request: invalid kind")

	// ErrNoActivation is returned when an activation token or user does
	// not match; surfaced to callers as a missing request.
	ErrNoActivation = errors.New("request: no matching activation")
)

// Decision is an admin verdict on a pending request.
type Decision string

const (
	Approve Decision = "approve"
	Decline Decision = "decline"
)

// ParseDecision maps a target status from the PATCH body to a Decision.
func ParseDecision(status string) (Decision, error) {
	switch status {
	case model.StatusApproved:
		return Approve, nil
	case model.StatusDeclined:
		return Decline, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDecision, status)
}

// Status returns the terminal status a decision resolves to.
func (d Decision) Status() string {
	if d == Approve {
		return model.StatusApproved
	}
	return model.StatusDeclined
}

// IsCancelable reports whether the user may still cancel the request.
// True only while pending: once an approval has moved money into the fund
// pool (or any terminal status is reached), cancellation is off the table.
func IsCancelable(r *model.Request) bool {
	return r.Status == model.StatusPending || r.Status == model.StatusPendingEmailVerification
}

// IsLocked reports whether the request refuses admin decisions. A request
// is locked once terminal; the row lock held by a concurrent operation
// covers the in-flight case.
func IsLocked(r *model.Request) bool {
	return r.Terminal()
}

// Refundable reports whether canceling the request must return money to
// the user. Only a subscription holds debited fiat before approval;
// redemptions move nothing at creation, so there is nothing to refund.
func Refundable(r *model.Request) bool {
	return r.Kind == model.KindSubscription && IsCancelable(r)
}

// Cancel transitions the request to canceled, reporting whether a refund
// is owed. Fails with ErrCannotCancel when the request is past cancelable.
func Cancel(r *model.Request) (refund bool, err error) {
	if !IsCancelable(r) {
		return false, fmt.Errorf("%w: status %s", ErrCannotCancel, r.Status)
	}
	refund = Refundable(r)
	r.Status = model.StatusCanceled
	r.Refunded = refund
	return refund, nil
}

// Activate moves a request out of pending_email_verification when the
// presenting user and token match. Any mismatch is reported as a missing
// request rather than disclosing that the id exists.
func Activate(r *model.Request, userID, token string) error {
	if r.Status != model.StatusPendingEmailVerification ||
		r.UserID != userID || token == "" || r.AuthToken != token {
		return ErrNoActivation
	}
	r.Status = model.StatusPending
	return nil
}

// Decide applies an admin decision, moving the request to the decision's
// terminal status. Fails with ErrCannotPatch unless the request is pending.
func Decide(r *model.Request, d Decision) error {
	if d != Approve && d != Decline {
		return fmt.Errorf("%w: %q", ErrInvalidDecision, d)
	}
	if IsLocked(r) || r.Status != model.StatusPending {
		return fmt.Errorf("%w: status %s", ErrCannotPatch, r.Status)
	}
	switch r.Kind {
	case model.KindSubscription, model.KindRedemption:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidKind, r.Kind)
	}
	r.Status = d.Status()
	return nil
}
