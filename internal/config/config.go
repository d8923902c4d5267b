package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigPath is read when present; a missing file is not an error.
	DefaultConfigPath = "detectserver.yml"

	BackendOpenCV      = "opencv"
	BackendONNXRuntime = "onnxruntime"
)

type Config struct {
	Host               string  `yaml:"host"`
	Port               int     `yaml:"port"`
	ModelPath          string  `yaml:"modelPath"`
	DetectorBackend    string  `yaml:"detectorBackend"`
	ONNXRuntimeLibrary string  `yaml:"onnxruntimeLibrary"`
	InputSize          int     `yaml:"inputSize"`
	ConfThreshold      float64 `yaml:"confThreshold"`
	IoUThreshold       float64 `yaml:"iouThreshold"`
	MaxDetections      int     `yaml:"maxDetections"`
	UploadDirectory    string  `yaml:"uploadDir"`
	OutputDirectory    string  `yaml:"outputDir"`
	AnnotatedDirectory string  `yaml:"annotatedDir"` // empty disables annotated renderings
	IndexPath          string  `yaml:"indexPath"`
	LogDirectory       string  `yaml:"logDir"`
	DatabasePath       string  `yaml:"dbPath"`  // empty disables the upload catalog
	NATSURL            string  `yaml:"natsURL"` // empty disables event publishing
	NATSSubject        string  `yaml:"natsSubject"`
	MaxUploadMB        int64   `yaml:"maxUploadMB"`
}

// Default returns the configuration used when nothing overrides it.
// Paths are relative to the working directory, matching the on-disk layout
// the service has always used (uploads/, outputs/, model next to the binary).
func Default() *Config {
	return &Config{
		Host:               "0.0.0.0",
		Port:               8000,
		ModelPath:          filepath.Join(".", "model1.onnx"),
		DetectorBackend:    BackendOpenCV,
		InputSize:          640,
		ConfThreshold:      0.25,
		IoUThreshold:       0.7,
		MaxDetections:      300,
		UploadDirectory:    filepath.Join(".", "uploads"),
		OutputDirectory:    filepath.Join(".", "outputs"),
		AnnotatedDirectory: filepath.Join(".", "runs", "detect", "predict"),
		IndexPath:          filepath.Join(".", "static", "index.html"),
		LogDirectory:       filepath.Join(".", "logs"),
		DatabasePath:       filepath.Join(".", "data", "uploads.db"),
		NATSSubject:        "detections.completed",
		MaxUploadMB:        50,
	}
}

// Load merges defaults, the optional YAML file at path, a .env file in the
// working directory and finally the process environment, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath
	}
	if fileExists(path) {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	// .env only fills variables that are not already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Host = getEnv("HOST", c.Host)
	c.Port = getEnvAsInt("PORT", c.Port)
	c.ModelPath = getEnv("MODEL_PATH", c.ModelPath)
	c.DetectorBackend = getEnv("DETECTOR_BACKEND", c.DetectorBackend)
	c.ONNXRuntimeLibrary = getEnv("ONNXRUNTIME_LIB", c.ONNXRuntimeLibrary)
	c.InputSize = getEnvAsInt("INPUT_SIZE", c.InputSize)
	c.ConfThreshold = getEnvAsFloat("CONF_THRESHOLD", c.ConfThreshold)
	c.IoUThreshold = getEnvAsFloat("IOU_THRESHOLD", c.IoUThreshold)
	c.MaxDetections = getEnvAsInt("MAX_DETECTIONS", c.MaxDetections)
	c.UploadDirectory = getEnv("UPLOAD_DIR", c.UploadDirectory)
	c.OutputDirectory = getEnv("OUTPUT_DIR", c.OutputDirectory)
	c.AnnotatedDirectory = getEnvAllowEmpty("ANNOTATED_DIR", c.AnnotatedDirectory)
	c.IndexPath = getEnv("INDEX_PATH", c.IndexPath)
	c.LogDirectory = getEnv("LOG_DIR", c.LogDirectory)
	c.DatabasePath = getEnvAllowEmpty("DB_PATH", c.DatabasePath)
	c.NATSURL = getEnv("NATS_URL", c.NATSURL)
	c.NATSSubject = getEnv("NATS_SUBJECT", c.NATSSubject)
	c.MaxUploadMB = getEnvAsInt64("MAX_UPLOAD_MB", c.MaxUploadMB)
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535 (got %d)", c.Port)
	}
	if c.DetectorBackend != BackendOpenCV && c.DetectorBackend != BackendONNXRuntime {
		return fmt.Errorf("unknown detector backend %q", c.DetectorBackend)
	}
	if c.ModelPath == "" {
		return errors.New("model path cannot be empty")
	}
	if c.InputSize <= 0 || c.InputSize%32 != 0 {
		return fmt.Errorf("input size must be a positive multiple of 32 (got %d)", c.InputSize)
	}
	if c.ConfThreshold < 0 || c.ConfThreshold > 1 {
		return fmt.Errorf("confidence threshold must be within [0, 1] (got %v)", c.ConfThreshold)
	}
	if c.IoUThreshold < 0 || c.IoUThreshold > 1 {
		return fmt.Errorf("iou threshold must be within [0, 1] (got %v)", c.IoUThreshold)
	}
	if c.MaxDetections <= 0 {
		return fmt.Errorf("max detections must be positive (got %d)", c.MaxDetections)
	}
	if c.UploadDirectory == "" || c.OutputDirectory == "" || c.LogDirectory == "" {
		return errors.New("upload, output and log directories cannot be empty")
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("max upload size must be positive (got %d MB)", c.MaxUploadMB)
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MaxUploadBytes returns the request body limit for uploads.
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAllowEmpty lets an explicitly empty variable switch a feature off.
func getEnvAllowEmpty(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
