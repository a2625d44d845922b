package referrald

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"refchain/native/bank"
	nativecommon "refchain/native/common"
	"refchain/native/referral"
	"refchain/native/referral/payout"
)

var errNoAuditStore = errors.New("audit store not configured")

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errorCodes = []struct {
	err    error
	code   string
	status int
}{
	{referral.ErrInvalidIdentity, "invalid_identity", http.StatusBadRequest},
	{referral.ErrInvalidRequest, "invalid_request", http.StatusBadRequest},
	{referral.ErrZeroAmount, "zero_amount", http.StatusBadRequest},
	{payout.ErrInvalidParameters, "invalid_parameters", http.StatusBadRequest},
	{payout.ErrInvalidChain, "invalid_chain", http.StatusUnprocessableEntity},
	{referral.ErrCycleDetected, "cycle_detected", http.StatusConflict},
	{referral.ErrAlreadyRegistered, "already_registered", http.StatusConflict},
	{referral.ErrReferrerNotInTree, "referrer_not_in_tree", http.StatusUnprocessableEntity},
	{referral.ErrAlreadyDistributed, "already_distributed", http.StatusConflict},
	{referral.ErrUnauthorizedRegistrar, "unauthorized_registrar", http.StatusForbidden},
	{referral.ErrUnauthorizedAdministrator, "unauthorized_administrator", http.StatusForbidden},
	{referral.ErrInvalidSignature, "invalid_signature", http.StatusUnauthorized},
	{referral.ErrAuthorityNotSet, "authority_not_set", http.StatusServiceUnavailable},
	{referral.ErrAuthorityAlreadySet, "authority_already_set", http.StatusConflict},
	{nativecommon.ErrModulePaused, "module_paused", http.StatusServiceUnavailable},
	{referral.ErrTransferFailed, "transfer_failed", http.StatusUnprocessableEntity},
	{bank.ErrInvalidAmount, "invalid_amount", http.StatusBadRequest},
	{bank.ErrAssetRequired, "asset_required", http.StatusBadRequest},
	{errNoAuditStore, "audit_disabled", http.StatusNotImplemented},
}

// classify maps err onto an HTTP status and a stable outcome code. The code
// doubles as the metrics outcome label.
func classify(err error) (int, string) {
	if err == nil {
		return http.StatusOK, "success"
	}
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.status, entry.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"route", routeName(r),
			"method", r.Method,
			"error", err)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorBody{Error: strings.TrimSpace(msg), Code: code})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Code: "invalid_request"})
}
