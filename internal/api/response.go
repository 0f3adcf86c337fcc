package api

import (
	"net/http"

	"github.com/ajitpratap0/integrationd/pkg/errors"
	"github.com/ajitpratap0/integrationd/pkg/json"
	"go.uber.org/zap"
)

// Response is the envelope of every API response: exactly one of Result and
// Error is set.
type Response struct {
	Result interface{} `json:"result,omitempty"`
	Error  *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody describes a failed request
type ErrorBody struct {
	Kind    errors.ErrorType       `json:"kind"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Ack is the result of operations that return nothing else
type Ack struct {
	Done bool `json:"done"`
}

func statusFor(kind errors.ErrorType) int {
	switch kind {
	case errors.ErrorTypeValidation:
		return http.StatusBadRequest
	case errors.ErrorTypeNotFound:
		return http.StatusNotFound
	case errors.ErrorTypeConflict:
		return http.StatusConflict
	case errors.ErrorTypePermission:
		return http.StatusForbidden
	case errors.ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case errors.ErrorTypeUnavailable, errors.ErrorTypeConnection:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, l *zap.Logger, code int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.EncodeTo(w, body); err != nil {
		l.Warn("failed to encode response", zap.Error(err))
	}
}

func writeResult(w http.ResponseWriter, l *zap.Logger, result interface{}) {
	writeJSON(w, l, http.StatusOK, Response{Result: result})
}

func writeError(w http.ResponseWriter, l *zap.Logger, err error) {
	kind := errors.TypeOf(err)
	body := &ErrorBody{
		Kind:    kind,
		Message: err.Error(),
		Context: errors.DetailsOf(err),
	}
	code := statusFor(kind)
	if code >= http.StatusInternalServerError {
		l.Error("request failed", zap.Error(err))
	}
	writeJSON(w, l, code, Response{Error: body})
}
