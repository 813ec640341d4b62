package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/geoflags/territory/pkg/core"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error  string    `json:"error"`
	Kind   core.Kind `json:"kind,omitempty"`
	Reason string    `json:"reason,omitempty"`
}

var kindStatus = map[core.Kind]int{
	core.KindValidation:             http.StatusBadRequest,
	core.KindNotFound:               http.StatusNotFound,
	core.KindInsufficientFunds:      http.StatusPaymentRequired,
	core.KindNotOwner:               http.StatusForbidden,
	core.KindPlacementConflict:      http.StatusConflict,
	core.KindConcurrentModification: http.StatusConflict,
	core.KindInvalidStateTransition: http.StatusConflict,
	core.KindNotInRange:             http.StatusUnprocessableEntity,
	core.KindOutsideTerritory:       http.StatusUnprocessableEntity,
	core.KindNotCapturable:          http.StatusUnprocessableEntity,
	core.KindStorageUnavailable:     http.StatusServiceUnavailable,
}

// StatusFor maps an operation error to an HTTP status.
func StatusFor(err error) int {
	if code, ok := kindStatus[core.KindOf(err)]; ok {
		return code
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 499
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	resp := ErrorResponse{Error: err.Error(), Kind: core.KindOf(err)}
	var ce *core.Error
	if errors.As(err, &ce) {
		resp.Reason = ce.Reason
	}
	if status >= http.StatusInternalServerError {
		s.log.ErrorContext(r.Context(), "Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		if resp.Kind == "" {
			resp.Error = http.StatusText(status)
		}
	}
	writeJSON(w, status, resp)
}
