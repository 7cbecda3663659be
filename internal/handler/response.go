package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"plantdisease/internal/dto"
	"plantdisease/internal/logger"
	"plantdisease/internal/service"
)

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}, logger *logger.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}

// WriteError writes the {"error": message} body used by every failure.
func WriteError(w http.ResponseWriter, status int, message string, logger *logger.Logger) {
	writeJSON(w, status, dto.ErrorResponse{Error: message}, logger)
}

// NotFoundHandler answers unknown paths with a JSON 404.
func NotFoundHandler(logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusNotFound, fmt.Sprintf("no route for %s", r.URL.Path), logger)
	}
}

// MethodNotAllowedHandler answers a known path requested with the wrong method.
func MethodNotAllowedHandler(logger *logger.Logger, allowed ...string) http.HandlerFunc {
	allow := strings.Join(allowed, ", ")
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", allow)
		WriteError(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed, use %s", r.Method, allow), logger)
	}
}

// statusFor maps a classification failure to its HTTP status.
func statusFor(kind service.Kind) int {
	switch kind {
	case service.KindDecode:
		return http.StatusBadRequest
	case service.KindUnsupported:
		return http.StatusUnsupportedMediaType
	case service.KindShape:
		return http.StatusUnprocessableEntity
	case service.KindBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
