// Package policy enforces the redemption wait-time rule: a fund with a
// configured wait period will not settle a redemption until that many days
// have elapsed since the user's most recent approved subscription.
//
// The check runs before the settlement transaction commits; a rejection
// aborts the whole approval with nothing persisted.
package policy

import (
	"errors"
	"fmt"
	"time"

	"github.com/poolvest/fund-engine/internal/model"
)

// ErrRedemptionNotMature is returned when the wait period has not elapsed.
var ErrRedemptionNotMature = errors.New("policy: redemption wait time has not elapsed")

// CheckRedemption validates the wait-time rule against the user's approved
// request history for the fund. A fund with no wait period always passes.
func CheckRedemption(fund *model.Fund, approved []model.Request, now time.Time) error {
	if fund.RedemptionWaitDays <= 0 {
		return nil
	}

	var lastSubscribed time.Time
	for _, r := range approved {
		if r.Kind == model.KindSubscription && r.UpdatedAt.After(lastSubscribed) {
			lastSubscribed = r.UpdatedAt
		}
	}
	if lastSubscribed.IsZero() {
		return nil
	}

	mature := lastSubscribed.AddDate(0, 0, fund.RedemptionWaitDays)
	if now.Before(mature) {
		return fmt.Errorf("%w: mature at %s", ErrRedemptionNotMature, mature.Format(time.RFC3339))
	}
	return nil
}
