package handler

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"plantdisease/internal/config"
	"plantdisease/internal/logger"
)

var logFiles = map[string]string{
	"info":    "info.log",
	"warning": "warning.log",
	"error":   "error.log",
}

// LogsHandler serves the log file named by the {level} path value as text/plain.
func LogsHandler(cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		level := r.PathValue("level")
		filename, ok := logFiles[level]
		if !ok {
			WriteError(w, http.StatusNotFound, fmt.Sprintf("unknown log level %q", level), logger)
			return
		}
		serveLogFile(w, r, cfg.LogDirectory, filename, logger)
	}
}

// serveLogFile sets headers and serves a log file if it exists.
func serveLogFile(w http.ResponseWriter, r *http.Request, logDir, filename string, logger *logger.Logger) {
	if logDir == "" {
		WriteError(w, http.StatusNotFound, "file logging is disabled", logger)
		return
	}

	filePath := filepath.Join(logDir, filename)
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		WriteError(w, http.StatusNotFound, "log file not found: "+filename, logger)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")

	http.ServeFile(w, r, filePath)
}
