package handler

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"plantdisease/internal/config"
	"plantdisease/internal/dto"
	"plantdisease/internal/logger"
	"plantdisease/internal/service"
)

// NewUpgrader returns a websocket upgrader that accepts the configured CORS origins.
func NewUpgrader(cfg *config.Config) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r.Header.Get("Origin"), r.Host, cfg.CORSAllowedOrigins)
		},
	}
}

// StreamPredictHandler classifies every message received on the websocket
// and answers each one with a JSON prediction or error. Connections live in
// streams until they close or the registry shuts down.
func StreamPredictHandler(classifier *service.Classifier, streams *StreamRegistry, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	upgrader := NewUpgrader(cfg)

	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}
		defer connection.Close()

		if !streams.Register(connection) {
			_ = connection.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(time.Second))
			return
		}
		defer streams.Unregister(connection)

		connection.SetReadLimit(cfg.MaxUploadSize)
		logger.Info("Stream client connected from %s", r.RemoteAddr)

		for {
			messageType, data, err := connection.ReadMessage()
			if err != nil {
				if streams.Context().Err() != nil {
					logger.Info("Stream client %s closed by shutdown", r.RemoteAddr)
				} else if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Info("Stream client disconnected normally")
				} else {
					logger.Warning("Stream client disconnected with error: %v", err)
				}
				return
			}
			if messageType != websocket.BinaryMessage && messageType != websocket.TextMessage {
				continue
			}

			reply := classifyMessage(streams.Context(), classifier, cfg, data, logger)
			if err := connection.WriteJSON(reply); err != nil {
				logger.Error("Error writing stream reply: %v", err)
				return
			}
		}
	}
}

func classifyMessage(parent context.Context, classifier *service.Classifier, cfg *config.Config, data []byte, logger *logger.Logger) interface{} {
	ctx := parent
	if cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, cfg.RequestTimeout)
		defer cancel()
	}

	result, err := classifier.Classify(ctx, data)
	if err != nil {
		logger.Warning("Stream prediction failed (%s): %v", service.KindOf(err), err)
		return dto.ErrorResponse{Error: err.Error()}
	}
	return result
}

// originAllowed reports whether origin matches the allow-list. Requests
// without an Origin header and same-host origins are always accepted.
func originAllowed(origin, host string, allowed []string) bool {
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, host) {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}
