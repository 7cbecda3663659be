package route

import (
	"fmt"
	"net/http"

	"github.com/go-chi/httprate"

	"plantdisease/internal/config"
	"plantdisease/internal/handler"
	"plantdisease/internal/logger"
	"plantdisease/internal/middleware"
	"plantdisease/internal/service"
)

// SetupRoutes registers the API endpoints and wraps the mux with the CORS
// and request logging middleware. Websocket clients are tracked in streams.
func SetupRoutes(classifier *service.Classifier, streams *handler.StreamRegistry, cfg *config.Config, logger *logger.Logger) http.Handler {
	mux := http.NewServeMux()

	limit := rateLimiter(cfg, logger)

	mux.HandleFunc("GET /{$}", handler.HomeHandler(logger))
	mux.Handle("POST /predict", limit(handler.PredictHandler(classifier, cfg, logger)))
	mux.Handle("GET /ws/predict", limit(handler.StreamPredictHandler(classifier, streams, cfg, logger)))

	if cfg.ExposeLogs {
		mux.HandleFunc("GET /logs/{level}", handler.LogsHandler(cfg, logger))
		mux.HandleFunc("/logs/{level}", handler.MethodNotAllowedHandler(logger, http.MethodGet, http.MethodHead))
	}

	// Method-less patterns are less specific, so they only see the wrong methods.
	mux.HandleFunc("/{$}", handler.MethodNotAllowedHandler(logger, http.MethodGet, http.MethodHead))
	mux.HandleFunc("/predict", handler.MethodNotAllowedHandler(logger, http.MethodPost))
	mux.HandleFunc("/ws/predict", handler.MethodNotAllowedHandler(logger, http.MethodGet))
	mux.HandleFunc("/", handler.NotFoundHandler(logger))

	var h http.Handler = mux
	h = middleware.CORS(cfg)(h)
	h = middleware.RequestLogger(logger)(h)
	return h
}

// rateLimiter returns a per-client-IP limiter shared by the prediction
// endpoints, or a pass-through when RateLimit is disabled.
func rateLimiter(cfg *config.Config, logger *logger.Logger) func(http.Handler) http.Handler {
	if cfg.RateLimit <= 0 || cfg.RateWindow <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	limiter := httprate.NewRateLimiter(cfg.RateLimit, cfg.RateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			logger.Warning("Rate limit exceeded for %s on %s", r.RemoteAddr, r.URL.Path)
			handler.WriteError(w, http.StatusTooManyRequests,
				fmt.Sprintf("rate limit exceeded, at most %d requests per %s", cfg.RateLimit, cfg.RateWindow), logger)
		}),
	)
	return limiter.Handler
}
