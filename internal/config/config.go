package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Image backends understood by the render stage.
const (
	BackendGemini = "gemini"
	BackendImagen = "imagen"
)

// ImageModelDisabled turns image synthesis off while still producing instructions.
const ImageModelDisabled = "none"

// Config holds runtime configuration values. It is built once at startup and never mutated.
type Config struct {
	AppEnv string
	Port   string

	Gemini GeminiConfig
	Vertex VertexConfig
	Tryon  TryonConfig
	HTTP   HTTPConfig
}

// GeminiConfig describes access to the hosted Gemini models.
type GeminiConfig struct {
	APIKey             string
	BaseURL            string
	ServiceAccountJSON string
	TextModel          string
	ImageModel         string
	ImageBackend       string
	CatalogTimeout     time.Duration
}

// VertexConfig is only consulted when the imagen backend is selected.
type VertexConfig struct {
	ProjectID string
	Location  string
	Model     string
}

// TryonConfig carries the pipeline knobs.
type TryonConfig struct {
	TemplatePath       string
	ReattachReferences bool
	TextTimeout        time.Duration
	ImageTimeout       time.Duration
	OutputFilename     string
	MaxUploadBytes     int64
}

// HTTPConfig tunes the HTTP server.
type HTTPConfig struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	RateLimitPerMin int
}

// ConfigurationError reports a startup-fatal configuration problem.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: %s %s", e.Key, e.Reason)
}

// ImageDisabled reports whether image synthesis was switched off explicitly.
func (c *Config) ImageDisabled() bool {
	return strings.EqualFold(c.Gemini.ImageModel, ImageModelDisabled)
}

// SkipImageDiscovery reports whether the catalog should not be asked for an image model:
// image synthesis is off, or Imagen renders instead of a Gemini image model.
func (c *Config) SkipImageDiscovery() bool {
	return c.ImageDisabled() || c.Gemini.ImageBackend == BackendImagen
}

// Load reads an optional .env file, then the process environment, and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds the configuration from environment variables only.
func FromEnv() (*Config, error) {
	serviceAccount := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	if serviceAccount == "" {
		if path := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE")); path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, &ConfigurationError{Key: "GOOGLE_SERVICE_ACCOUNT_FILE", Reason: fmt.Sprintf("unreadable: %v", err)}
			}
			serviceAccount = string(data)
		}
	}

	cfg := &Config{
		AppEnv: getenv("APP_ENV", "development"),
		Port:   getenv("PORT", "8080"),
		Gemini: GeminiConfig{
			APIKey:             firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY"),
			BaseURL:            strings.TrimRight(getenv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"), "/"),
			ServiceAccountJSON: serviceAccount,
			TextModel:          strings.TrimPrefix(strings.TrimSpace(os.Getenv("TEXT_MODEL")), "models/"),
			ImageModel:         strings.TrimPrefix(strings.TrimSpace(os.Getenv("IMAGE_MODEL")), "models/"),
			ImageBackend:       strings.ToLower(getenv("IMAGE_BACKEND", BackendGemini)),
			CatalogTimeout:     getenvSeconds("CATALOG_TIMEOUT_SECONDS", 20),
		},
		Vertex: VertexConfig{
			ProjectID: strings.TrimSpace(os.Getenv("VERTEX_PROJECT")),
			Location:  getenv("VERTEX_LOCATION", "us-central1"),
			Model:     getenv("VERTEX_IMAGEN_MODEL", "imagen-4.0-generate-001"),
		},
		Tryon: TryonConfig{
			TemplatePath:       strings.TrimSpace(os.Getenv("INSTRUCTION_TEMPLATE_PATH")),
			ReattachReferences: getenvBool("REATTACH_REFERENCES", true),
			TextTimeout:        getenvSeconds("TEXT_TIMEOUT_SECONDS", 60),
			ImageTimeout:       getenvSeconds("IMAGE_TIMEOUT_SECONDS", 180),
			OutputFilename:     getenv("OUTPUT_FILENAME", "lehenga_tryon.jpg"),
			MaxUploadBytes:     int64(getenvInt("MAX_UPLOAD_MB", 10)) << 20,
		},
		HTTP: HTTPConfig{
			ReadTimeout:     getenvSeconds("HTTP_READ_TIMEOUT_SECONDS", 30),
			WriteTimeout:    getenvSeconds("HTTP_WRITE_TIMEOUT_SECONDS", 300),
			IdleTimeout:     getenvSeconds("HTTP_IDLE_TIMEOUT_SECONDS", 60),
			RateLimitPerMin: getenvInt("RATE_LIMIT_PER_MINUTE", 10),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Gemini.APIKey == "" {
		return &ConfigurationError{Key: "GEMINI_API_KEY", Reason: "is required"}
	}
	if c.Port == "" {
		return &ConfigurationError{Key: "PORT", Reason: "cannot be empty"}
	}
	switch c.Gemini.ImageBackend {
	case BackendGemini:
	case BackendImagen:
		if c.Vertex.ProjectID == "" {
			return &ConfigurationError{Key: "VERTEX_PROJECT", Reason: "is required for the imagen backend"}
		}
	default:
		return &ConfigurationError{Key: "IMAGE_BACKEND", Reason: fmt.Sprintf("unknown backend %q", c.Gemini.ImageBackend)}
	}
	if !strings.HasSuffix(strings.ToLower(c.Tryon.OutputFilename), ".jpg") {
		return &ConfigurationError{Key: "OUTPUT_FILENAME", Reason: "must end in .jpg"}
	}
	if c.Tryon.MaxUploadBytes <= 0 {
		return &ConfigurationError{Key: "MAX_UPLOAD_MB", Reason: "must be positive"}
	}
	return nil
}

func getenv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}

	return fallback
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return ""
}

func getenvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return fallback
}

func getenvSeconds(key string, fallback int) time.Duration {
	return time.Duration(getenvInt(key, fallback)) * time.Second
}

func getenvBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}

	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}

	return parsed
}
