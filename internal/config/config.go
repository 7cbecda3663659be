package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// BackendOpenCV runs the network through OpenCV's DNN module.
	BackendOpenCV = "opencv"
	// BackendONNXRuntime runs the network through the ONNX Runtime C library.
	BackendONNXRuntime = "onnxruntime"
)

type Config struct {
	Host                  string
	Port                  int
	ModelPath             string
	ManifestPath          string // Defaults to ModelPath with a .json extension
	Backend               string
	InferenceWorkers      int    // Number of independently loaded model instances
	ONNXRuntimeLibrary    string // Path to libonnxruntime, empty uses the loader default
	UploadField           string
	MaxUploadSize         int64
	MaxImagePixels        int
	MaxConcurrentRequests int
	RequestTimeout        time.Duration
	RateLimit             int // Requests per RateWindow per client IP, 0 disables
	RateWindow            time.Duration
	CORSAllowedOrigins    []string
	CORSAllowedMethods    []string
	CORSAllowedHeaders    []string
	LogDirectory          string // Empty disables log files
	ExposeLogs            bool   // Serve the log files under /logs/{level}
	Debug                 bool
}

// Load reads the configuration from the environment. Variables from a .env
// file in the working directory are loaded first when the file exists.
func Load() *Config {
	// A missing .env is normal in containers.
	_ = godotenv.Load()

	modelPath := getEnv("MODEL_PATH", filepath.Join(".", "models", "plant_disease_resnet50.onnx"))

	return &Config{
		Host:                  getEnv("HOST", "0.0.0.0"),
		Port:                  getEnvAsInt("PORT", 8000),
		ModelPath:             modelPath,
		ManifestPath:          getEnv("MANIFEST_PATH", DefaultManifestPath(modelPath)),
		Backend:               strings.ToLower(getEnv("INFERENCE_BACKEND", BackendOpenCV)),
		InferenceWorkers:      getEnvAsInt("INFERENCE_WORKERS", 2),
		ONNXRuntimeLibrary:    getEnv("ONNXRUNTIME_LIB", ""),
		UploadField:           getEnv("UPLOAD_FIELD", "file"),
		MaxUploadSize:         getEnvAsInt64("MAX_UPLOAD_SIZE", 10<<20),
		MaxImagePixels:        getEnvAsInt("MAX_IMAGE_PIXELS", 40_000_000),
		MaxConcurrentRequests: getEnvAsInt("MAX_CONCURRENT_REQUESTS", 8),
		RequestTimeout:        getEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second),
		RateLimit:             getEnvAsInt("RATE_LIMIT", 60),
		RateWindow:            getEnvAsDuration("RATE_WINDOW", time.Minute),
		CORSAllowedOrigins:    getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:    getEnvAsList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
		CORSAllowedHeaders:    getEnvAsList("CORS_ALLOWED_HEADERS", []string{"*"}),
		LogDirectory:          getEnv("LOG_DIR", filepath.Join(".", "logs")),
		ExposeLogs:            getEnvAsBool("EXPOSE_LOGS", false),
		Debug:                 getEnvAsBool("DEBUG", false),
	}
}

// Address returns the host:port pair the server listens on.
func (c *Config) Address() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// DefaultManifestPath returns the manifest location co-located with a model
// artifact: the same path with the extension replaced by .json.
func DefaultManifestPath(modelPath string) string {
	return strings.TrimSuffix(modelPath, filepath.Ext(modelPath)) + ".json"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go duration strings ("45s") or a bare number of seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
