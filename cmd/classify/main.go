package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/akamensky/argparse"

	"plantdisease/internal/app"
	"plantdisease/internal/config"
	"plantdisease/internal/dto"
	"plantdisease/internal/logger"
	"plantdisease/internal/service"
	"plantdisease/internal/service/ai/onnx"
)

// classify runs the prediction pipeline on local image files and prints one
// JSON result per file, in the same format as POST /predict.
func main() {
	cfg := config.Load()

	parser := argparse.NewParser("classify", "Classify plant leaf images with the disease model")
	images := parser.StringList("i", "image", &argparse.Options{Help: "Image file (repeatable)", Required: true})
	modelPath := parser.String("m", "model", &argparse.Options{Help: "Model artifact", Default: cfg.ModelPath})
	manifestPath := parser.String("", "manifest", &argparse.Options{Help: "Model manifest; defaults to the model path with a .json extension"})
	backend := parser.Selector("b", "backend", []string{config.BackendOpenCV, config.BackendONNXRuntime},
		&argparse.Options{Help: "Inference backend", Default: cfg.Backend})
	verbose := parser.Flag("v", "verbose", &argparse.Options{Help: "Log model loading and timings"})
	if err := parser.Parse(os.Args); err != nil {
		fmt.Fprint(os.Stderr, parser.Usage(err))
		os.Exit(1)
	}

	cfg.ModelPath = *modelPath
	cfg.ManifestPath = config.DefaultManifestPath(*modelPath)
	if *manifestPath != "" {
		cfg.ManifestPath = *manifestPath
	}
	cfg.Backend = strings.ToLower(*backend)
	cfg.InferenceWorkers = 1
	cfg.LogDirectory = ""
	cfg.Debug = *verbose

	log := logger.NewNop()
	if *verbose {
		l, err := logger.NewLogger(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
			os.Exit(1)
		}
		log = l
	}

	status := run(cfg, *images, log)
	log.Close()
	os.Exit(status)
}

func run(cfg *config.Config, images []string, log *logger.Logger) int {
	pool, manifest, err := app.LoadModel(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load model: %v\n", err)
		return 1
	}
	defer func() {
		pool.Close()
		if cfg.Backend == config.BackendONNXRuntime {
			onnx.Shutdown()
		}
	}()

	classifier, err := service.NewClassifier(pool, manifest, service.Options{MaxPixels: cfg.MaxImagePixels}, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create classifier: %v\n", err)
		return 1
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")

	status := 0
	for _, path := range images {
		var reply interface{}

		data, err := os.ReadFile(path)
		if err != nil {
			reply = dto.ErrorResponse{Error: err.Error()}
			status = 1
		} else if result, err := classifier.Classify(context.Background(), data); err != nil {
			reply = dto.ErrorResponse{Error: err.Error()}
			status = 1
		} else {
			reply = result
		}

		if len(images) > 1 {
			reply = map[string]interface{}{"image": path, "result": reply}
		}
		if err := encoder.Encode(reply); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write result: %v\n", err)
			return 1
		}
	}
	return status
}
