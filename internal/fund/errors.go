package fund

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/poolvest/fund-engine/internal/ledger"
	"github.com/poolvest/fund-engine/internal/metrics"
	"github.com/poolvest/fund-engine/internal/money"
	"github.com/poolvest/fund-engine/internal/policy"
	"github.com/poolvest/fund-engine/internal/request"
	"github.com/poolvest/fund-engine/internal/store"
)

var (
	// ErrUnauthorized is returned when two-factor auth is required for
	// the user but not verified for this action.
	ErrUnauthorized = errors.New("fund: two-factor verification required")

	// ErrInvalidArgument is returned for requests missing required
	// fields or carrying out-of-range values.
	ErrInvalidArgument = errors.New("fund: invalid argument")
)

// Stable numeric error codes surfaced to clients for translation.
// Domain errors keep fixed codes; 1xxx are generic, 2xxx are fund-domain.
const (
	codeNotFound                = 1404
	codeUnauthorized            = 1401
	codeInvalidArgument         = 1400
	codeInternal                = 1500
	codeCannotCancelRequest     = 2001
	codeCannotPatchRequest      = 2002
	codeInsufficientFunds       = 2003
	codeInsufficientFundCapital = 2004
	codeLockTimeout             = 2005
	codeDivisionByZero          = 2006
)

// errorBody is the JSON envelope every failure is reported with.
type errorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// writeError maps a domain error to its HTTP status and stable code.
// Unexpected errors surface a generic message; the detail goes to the log.
func writeError(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, codeInternal
	message := err.Error()

	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, request.ErrNoActivation):
		status, code = http.StatusNotFound, codeNotFound
	case errors.Is(err, ErrUnauthorized):
		status, code = http.StatusUnauthorized, codeUnauthorized
	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, money.ErrInvalidAmount),
		errors.Is(err, money.ErrInvalidPercent),
		errors.Is(err, request.ErrInvalidDecision),
		errors.Is(err, request.ErrInvalidKind):
		status, code = http.StatusBadRequest, codeInvalidArgument
	case errors.Is(err, request.ErrCannotCancel):
		status, code = http.StatusConflict, codeCannotCancelRequest
	case errors.Is(err, request.ErrCannotPatch):
		status, code = http.StatusConflict, codeCannotPatchRequest
	case errors.Is(err, policy.ErrRedemptionNotMature):
		status, code = http.StatusConflict, codeCannotPatchRequest
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientShares):
		status, code = http.StatusConflict, codeInsufficientFunds
	case errors.Is(err, ledger.ErrInsufficientFundCapital):
		status, code = http.StatusConflict, codeInsufficientFundCapital
	case errors.Is(err, store.ErrLockTimeout):
		status, code = http.StatusServiceUnavailable, codeLockTimeout
		metrics.LockTimeouts.Inc()
	case errors.Is(err, money.ErrDivisionByZero):
		status, code = http.StatusUnprocessableEntity, codeDivisionByZero
	default:
		slog.Error("internal error", "err", err)
		message = "internal error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Success: false, Message: message, Code: code})
}
