package app

import (
	"context"
	"fmt"
	"time"

	"plantdisease/internal/config"
	"plantdisease/internal/logger"
	"plantdisease/internal/model"
	"plantdisease/internal/service/ai"
	"plantdisease/internal/service/ai/onnx"
	"plantdisease/internal/service/ai/opencv"
)

const warmupTimeout = 2 * time.Minute

// LoadModel reads the manifest, loads the configured number of model
// instances on the selected backend and checks them with a warm-up pass.
// Any error is fatal for the process.
func LoadModel(cfg *config.Config, logger *logger.Logger) (*ai.Pool, *model.Manifest, error) {
	manifest, found, err := model.LoadManifest(cfg.ManifestPath)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		logger.Warning("Manifest %s not found, using built-in defaults (%d labels)", cfg.ManifestPath, len(manifest.Labels))
	}

	factory, err := backendFactory(cfg, manifest)
	if err != nil {
		return nil, nil, err
	}

	logger.Info("Loading model %s on %s backend with %d worker(s)", cfg.ModelPath, cfg.Backend, cfg.InferenceWorkers)
	pool, err := ai.NewPool(cfg.InferenceWorkers, factory, manifest, logger)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), warmupTimeout)
	defer cancel()

	classes, err := pool.Warmup(ctx)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if classes > len(manifest.Labels) {
		logger.Warning("Model outputs %d classes but only %d labels are known; extra classes are reported as \"Class N\"", classes, len(manifest.Labels))
	} else if classes < len(manifest.Labels) {
		logger.Warning("Model outputs %d classes but %d labels are configured", classes, len(manifest.Labels))
	}

	return pool, manifest, nil
}

func backendFactory(cfg *config.Config, manifest *model.Manifest) (ai.Factory, error) {
	switch cfg.Backend {
	case config.BackendOpenCV:
		return func() (ai.Instance, error) {
			return opencv.Open(cfg.ModelPath, manifest)
		}, nil
	case config.BackendONNXRuntime:
		if err := onnx.Initialize(cfg.ONNXRuntimeLibrary); err != nil {
			return nil, err
		}
		return func() (ai.Instance, error) {
			return onnx.Open(cfg.ModelPath, manifest)
		}, nil
	default:
		return nil, fmt.Errorf("unknown inference backend %q, expected %q or %q", cfg.Backend, config.BackendOpenCV, config.BackendONNXRuntime)
	}
}
