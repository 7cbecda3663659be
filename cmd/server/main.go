package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/akamensky/argparse"

	"plantdisease/internal/app"
	"plantdisease/internal/config"
)

func main() {
	cfg := config.Load()

	parser := argparse.NewParser("server", "Plant disease classification API")
	host := parser.String("", "host", &argparse.Options{Help: "Interface to listen on", Default: cfg.Host})
	port := parser.Int("p", "port", &argparse.Options{Help: "Port to listen on", Default: cfg.Port})
	modelPath := parser.String("m", "model", &argparse.Options{Help: "Model artifact", Default: cfg.ModelPath})
	manifestPath := parser.String("", "manifest", &argparse.Options{Help: "Model manifest (labels, input shape); defaults to the model path with a .json extension"})
	backend := parser.Selector("b", "backend", []string{config.BackendOpenCV, config.BackendONNXRuntime},
		&argparse.Options{Help: "Inference backend", Default: cfg.Backend})
	workers := parser.Int("w", "workers", &argparse.Options{Help: "Number of model instances", Default: cfg.InferenceWorkers})
	if err := parser.Parse(os.Args); err != nil {
		fmt.Fprint(os.Stderr, parser.Usage(err))
		os.Exit(1)
	}

	if *modelPath != cfg.ModelPath && os.Getenv("MANIFEST_PATH") == "" {
		cfg.ManifestPath = config.DefaultManifestPath(*modelPath)
	}
	if *manifestPath != "" {
		cfg.ManifestPath = *manifestPath
	}
	cfg.Host = *host
	cfg.Port = *port
	cfg.ModelPath = *modelPath
	cfg.Backend = strings.ToLower(*backend)
	cfg.InferenceWorkers = *workers

	application, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
