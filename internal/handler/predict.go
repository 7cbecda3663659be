package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"plantdisease/internal/config"
	"plantdisease/internal/logger"
	"plantdisease/internal/service"
)

// multipartOverhead leaves room for boundaries and part headers on top of
// the file size limit.
const multipartOverhead = 64 << 10

// writeMargin is added to the request timeout for the response write deadline.
const writeMargin = 10 * time.Second

// PredictHandler handles POST /predict with a multipart image upload and
// responds with the predicted class or an {"error": ...} body.
func PredictHandler(classifier *service.Classifier, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setWriteDeadline(w, cfg, logger)
		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadSize+multipartOverhead)

		if err := r.ParseMultipartForm(cfg.MaxUploadSize); err != nil {
			if isTooLarge(err) {
				WriteError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", cfg.MaxUploadSize), logger)
				return
			}
			WriteError(w, http.StatusBadRequest, "expected a multipart/form-data upload", logger)
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile(cfg.UploadField)
		if err != nil {
			WriteError(w, http.StatusBadRequest, fmt.Sprintf("no image file provided, use %q as the form field name", cfg.UploadField), logger)
			return
		}
		defer file.Close()

		if header.Size > cfg.MaxUploadSize {
			WriteError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", cfg.MaxUploadSize), logger)
			return
		}

		data, err := io.ReadAll(file)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "failed to read uploaded file", logger)
			return
		}

		logger.Debug("Received file %s, %d bytes", header.Filename, len(data))

		ctx := r.Context()
		if cfg.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.RequestTimeout)
			defer cancel()
		}

		result, err := classifier.Classify(ctx, data)
		if err != nil {
			kind := service.KindOf(err)
			status := statusFor(kind)
			if status >= http.StatusInternalServerError {
				logger.Error("Prediction failed for %s (%s): %v", header.Filename, kind, err)
			} else {
				logger.Warning("Rejected upload %s (%s): %v", header.Filename, kind, err)
			}
			WriteError(w, status, err.Error(), logger)
			return
		}

		writeJSON(w, http.StatusOK, result, logger)
	}
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || errors.Is(err, multipart.ErrMessageTooLarge)
}

// setWriteDeadline bounds the time spent on this response. The server has no
// global WriteTimeout because it would cut off websocket streams.
func setWriteDeadline(w http.ResponseWriter, cfg *config.Config, logger *logger.Logger) {
	if cfg.RequestTimeout <= 0 {
		return
	}
	err := http.NewResponseController(w).SetWriteDeadline(time.Now().Add(cfg.RequestTimeout + writeMargin))
	if err != nil && !errors.Is(err, http.ErrNotSupported) {
		logger.Warning("Failed to set write deadline: %v", err)
	}
}
