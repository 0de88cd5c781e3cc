package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"agent-market/internal/address"
	"agent-market/internal/asset"
	"agent-market/internal/ledger"
	"agent-market/internal/scheduler"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Error codes returned alongside the message.
const (
	CodeBadRequest     = "BAD_REQUEST"
	CodeUnauthorized   = "UNAUTHENTICATED"
	CodeForbidden      = "FORBIDDEN"
	CodeNotFound       = "NOT_FOUND"
	CodeConflict       = "CONFLICT"
	CodeRateLimit      = "RATE_LIMIT"
	CodeInternal       = "INTERNAL"
	CodeUnavailable    = "UNAVAILABLE"
	CodeNotQualified   = "NOT_QUALIFIED"
	CodeNotCellOwner   = "NOT_CELL_OWNER"
	CodeBadReporter    = "UNAUTHORIZED_REPORTER"
	CodeUnknown        = "UNKNOWN_PROVIDER"
	CodeStake          = "INSUFFICIENT_STAKE"
	CodeBalance        = "INSUFFICIENT_BALANCE"
	CodeAsset          = "INSUFFICIENT_ASSET"
	CodeTooMany        = "TOO_MANY_KEYWORDS"
	CodeLengthMismatch = "LENGTH_MISMATCH"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// Order matters: a not-qualified error also wraps ErrInsufficientStake.
var errorMappings = []errorMapping{
	{ledger.ErrNotQualified, http.StatusForbidden, CodeNotQualified},
	{ledger.ErrNotCellOwner, http.StatusForbidden, CodeNotCellOwner},
	{ledger.ErrUnauthorizedReporter, http.StatusForbidden, CodeBadReporter},
	{ledger.ErrUnknownProvider, http.StatusNotFound, CodeUnknown},
	{ledger.ErrInsufficientStake, http.StatusConflict, CodeStake},
	{ledger.ErrInsufficientBalance, http.StatusConflict, CodeBalance},
	{ledger.ErrInsufficientAsset, http.StatusConflict, CodeAsset},
	{ledger.ErrTooManyKeywords, http.StatusBadRequest, CodeTooMany},
	{ledger.ErrLengthMismatch, http.StatusBadRequest, CodeLengthMismatch},
	{ledger.ErrInvalidKeyword, http.StatusBadRequest, CodeBadRequest},
	{ledger.ErrInvalidSnapshot, http.StatusBadRequest, CodeBadRequest},
	{ledger.ErrInvalidTimestamp, http.StatusBadRequest, CodeBadRequest},
	{ledger.ErrInvalidAmount, http.StatusBadRequest, CodeBadRequest},
	{asset.ErrAmountRange, http.StatusBadRequest, CodeBadRequest},
	{ledger.ErrInvalidArgument, http.StatusBadRequest, CodeBadRequest},
	{ledger.ErrInvalidRole, http.StatusBadRequest, CodeBadRequest},
	{address.ErrInvalidAddress, http.StatusBadRequest, CodeBadRequest},
	{address.ErrOffCurve, http.StatusBadRequest, CodeBadRequest},
	{scheduler.ErrUnknownJob, http.StatusNotFound, CodeNotFound},
}

// statusOf maps a ledger or input error to an HTTP status and code.
func statusOf(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, CodeInternal
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

// fail writes the mapped response for err. Internal errors are logged and
// their text is not exposed.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Str("request_id", RequestID(r.Context())).Msg("request failed")
		msg = "internal error"
	}
	h.writeError(w, status, code, msg)
}
