package handler

import (
	"net/http"

	"plantdisease/internal/dto"
	"plantdisease/internal/logger"
)

const liveMessage = "🌱 Plant Disease Detection API is live!"

// HomeHandler handles GET / as a liveness check.
func HomeHandler(logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, dto.StatusResponse{Message: liveMessage}, logger)
	}
}
