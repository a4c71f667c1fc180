package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/ShieldVault/internal/model"
	"github.com/dharsanguruparan/ShieldVault/internal/storage"
	"github.com/dharsanguruparan/ShieldVault/internal/tracker"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details"`
}

type errorEnvelope struct {
	RequestID string    `json:"request_id"`
	Error     errorBody `json:"error"`
}

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{tracker.ErrQueueFull, http.StatusServiceUnavailable, "queue_full"},
	{model.ErrPolicyNotFound, http.StatusNotFound, "policy_not_found"},
	{model.ErrNotFound, http.StatusNotFound, "not_found"},
	{model.ErrConcurrentModification, http.StatusConflict, "concurrent_modification"},
	{model.ErrVerificationPending, http.StatusConflict, "verification_pending"},
	{model.ErrVerificationFailed, http.StatusUnprocessableEntity, "verification_failed"},
	{model.ErrExpired, http.StatusGone, "expired"},
	{model.ErrUnknownField, http.StatusUnprocessableEntity, "unknown_field"},
	{model.ErrStaleTracking, http.StatusConflict, "stale_tracking"},
	{model.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{model.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{storage.ErrExists, http.StatusConflict, "already_exists"},
}

// classify maps an error to its HTTP status and stable code.
func classify(err error) (int, string) {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.status, c.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func errorDetails(err error) any {
	var te *model.TransitionError
	if errors.As(err, &te) {
		d := map[string]string{
			"documentId": te.DocumentID,
			"state":      te.State,
			"attempted":  te.Attempted,
		}
		if te.Reason != "" {
			d["reason"] = te.Reason
		}
		return d
	}
	return nil
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		msg = "internal error"
	}
	writeErrorCode(w, status, code, msg, errorDetails(err))
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string, details any) {
	respondJSON(w, status, errorEnvelope{
		RequestID: newRequestID(),
		Error:     errorBody{Code: code, Message: message, Details: details},
	})
}

func badRequest(w http.ResponseWriter, message string) {
	writeErrorCode(w, http.StatusBadRequest, "invalid_input", message, nil)
}
