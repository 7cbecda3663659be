package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"plantdisease/internal/config"
	"plantdisease/internal/handler"
	"plantdisease/internal/logger"
	"plantdisease/internal/route"
	"plantdisease/internal/service"
	"plantdisease/internal/service/ai"
	"plantdisease/internal/service/ai/onnx"
)

const shutdownTimeout = 15 * time.Second

type App struct {
	config     *config.Config
	logger     *logger.Logger
	pool       *ai.Pool
	classifier *service.Classifier
	streams    *handler.StreamRegistry
	server     *http.Server
}

// NewApp loads the model and builds the HTTP server. The model is loaded
// before the server starts accepting requests.
func NewApp(cfg *config.Config) (*App, error) {
	log, err := logger.NewLogger(cfg)
	if err != nil {
		return nil, err
	}

	pool, manifest, err := LoadModel(cfg, log)
	if err != nil {
		log.Error("Failed to load model: %v", err)
		log.Close()
		return nil, err
	}

	classifier, err := service.NewClassifier(pool, manifest, service.Options{
		MaxConcurrent: cfg.MaxConcurrentRequests,
		MaxPixels:     cfg.MaxImagePixels,
	}, log)
	if err != nil {
		pool.Close()
		log.Close()
		return nil, err
	}

	streams := handler.NewStreamRegistry()

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           route.SetupRoutes(classifier, streams, cfg, log),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.RequestTimeout + 30*time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	return &App{
		config:     cfg,
		logger:     log,
		pool:       pool,
		classifier: classifier,
		streams:    streams,
		server:     server,
	}, nil
}

// Run serves HTTP until SIGINT or SIGTERM, then drains in-flight requests
// and releases the model.
func (a *App) Run() error {
	defer a.Close()

	fmt.Printf("🌱 Plant Disease Detection API\n")
	fmt.Printf("📍 URL: http://%s\n", a.config.Address())
	fmt.Printf("🤖 Model: %s (%s)\n", a.config.ModelPath, a.config.Backend)
	fmt.Printf("🏷️  Classes: %d\n", len(a.classifier.Manifest().Labels))

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Listening on %s", a.config.Address())
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-errCh:
		if err != nil {
			a.logger.Error("Server failed: %v", err)
		}
		return err
	case sig := <-stop:
		a.logger.Info("Received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Shutdown does not wait for hijacked websocket connections.
	var shutdownErr error
	if err := a.streams.Shutdown(ctx); err != nil {
		a.logger.Warning("%d stream client(s) still active at shutdown: %v", a.streams.Count(), err)
		shutdownErr = err
	}
	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Warning("Graceful shutdown incomplete: %v", err)
		shutdownErr = err
	}
	return shutdownErr
}

// Close releases the model instances, the inference runtime and the log
// files. The pool waits for instances still running a forward pass.
func (a *App) Close() {
	a.pool.Close()
	if a.config.Backend == config.BackendONNXRuntime {
		if a.pool.Leaked() == 0 {
			onnx.Shutdown()
		} else {
			a.logger.Warning("Leaving ONNX Runtime initialized, %d session(s) still running", a.pool.Leaked())
		}
	}
	a.logger.Info("Server stopped")
	a.logger.Close()
}
