package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/menta2k/vision-detect/internal/utils"
	"github.com/menta2k/vision-detect/pkg/annotate"
)

// API client kinds
const (
	ClientCompatible = "compatible"
	ClientOpenAI     = "openai"
)

// Config holds the application configuration
type Config struct {
	Model  ModelConfig         `json:"model" yaml:"model"`
	API    APIConfig           `json:"api" yaml:"api"`
	Local  LocalConfig         `json:"local" yaml:"local"`
	Image  ImageConfig         `json:"image" yaml:"image"`
	Prompt PromptConfig        `json:"prompt" yaml:"prompt"`
	Font   annotate.FontConfig `json:"font" yaml:"font"`
	Server ServerConfig        `json:"server" yaml:"server"`
	Log    LogConfig           `json:"log" yaml:"log"`
}

// ModelConfig selects the backend and generation limits
type ModelConfig struct {
	UseLocal  bool `json:"use_local" yaml:"use_local"`
	MaxTokens int  `json:"max_tokens" yaml:"max_tokens"`
}

// APIConfig holds the remote endpoint settings
type APIConfig struct {
	// Client is "compatible" (sends pixel hints) or "openai" (go-openai SDK)
	Client         string `json:"client" yaml:"client"`
	BaseURL        string `json:"base_url" yaml:"base_url"`
	APIKey         string `json:"api_key" yaml:"api_key"`
	Model          string `json:"model" yaml:"model"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// LocalConfig holds the Ollama model settings
type LocalConfig struct {
	Host             string  `json:"host" yaml:"host"`
	Model            string  `json:"model" yaml:"model"`
	KeepAliveMinutes int     `json:"keep_alive_minutes" yaml:"keep_alive_minutes"`
	TimeoutSeconds   int     `json:"timeout_seconds" yaml:"timeout_seconds"`
	MinMemoryGB      float64 `json:"min_memory_gb" yaml:"min_memory_gb"`
}

// ImageConfig holds the pixel budget and output settings
type ImageConfig struct {
	MinPixels int `json:"min_pixels" yaml:"min_pixels"`
	MaxPixels int `json:"max_pixels" yaml:"max_pixels"`
	// SaveOutput, when set, is where every annotated image is also written
	SaveOutput string `json:"save_output" yaml:"save_output"`
}

// PromptConfig holds the prompt texts
type PromptConfig struct {
	Template string `json:"template" yaml:"template"`
	System   string `json:"system" yaml:"system"`
}

// ServerConfig holds the HTTP settings
type ServerConfig struct {
	Host        string   `json:"host" yaml:"host"`
	Port        int      `json:"port" yaml:"port"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins"`
	MaxUploadMB int      `json:"max_upload_mb" yaml:"max_upload_mb"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `json:"level" yaml:"level"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			UseLocal:  false,
			MaxTokens: 2048,
		},
		API: APIConfig{
			Client:         ClientCompatible,
			BaseURL:        "https://dashscope.aliyuncs.com/compatible-mode/v1",
			Model:          "qwen2.5-vl-72b-instruct",
			TimeoutSeconds: 300,
		},
		Local: LocalConfig{
			Host:             "http://localhost:11434",
			Model:            "qwen2.5vl:3b",
			KeepAliveMinutes: 30,
			TimeoutSeconds:   300,
			MinMemoryGB:      8,
		},
		Image: ImageConfig{
			MinPixels: 512 * 28 * 28,
			MaxPixels: 2048 * 28 * 28,
		},
		Prompt: PromptConfig{
			System: "You are a helpful assistant.",
		},
		Font: annotate.FontConfig{
			Size:         annotate.DefaultLabelSize,
			FallbackSize: annotate.DefaultFallbackSize,
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        7860,
			CORSOrigins: []string{"*"},
			MaxUploadMB: 20,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadFromFile loads configuration from a YAML or JSON file on top of the defaults
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	switch utils.GetFileExtension(filename) {
	case "yaml", "yml":
		err = yaml.Unmarshal(data, config)
	case "json":
		err = sonic.Unmarshal(data, config)
	default:
		return nil, fmt.Errorf("unsupported config format: %s", filename)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// Load builds the effective configuration: defaults, then the optional file,
// then .env, then environment variables.
func Load(path string) (*Config, error) {
	config := Default()
	if path != "" {
		var err error
		if config, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}

	if utils.FileExists(".env") {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyEnv overrides fields from environment variables found by lookup
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		if v, ok := lookup(key); ok && v != "" {
			n, err := cast.ToIntE(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = n
		}
		return nil
	}

	str("DASHSCOPE_API_KEY", &c.API.APIKey)
	str("API_BASE_URL", &c.API.BaseURL)
	str("MODEL_NAME", &c.API.Model)
	str("API_CLIENT", &c.API.Client)
	str("LOCAL_MODEL", &c.Local.Model)
	str("OLLAMA_HOST", &c.Local.Host)
	str("SYSTEM_PROMPT", &c.Prompt.System)
	str("SAVE_OUTPUT", &c.Image.SaveOutput)
	str("FONT_PATH", &c.Font.Path)
	str("LOG_LEVEL", &c.Log.Level)

	for key, dst := range map[string]*int{
		"MIN_PIXELS": &c.Image.MinPixels,
		"MAX_PIXELS": &c.Image.MaxPixels,
		"MAX_TOKENS": &c.Model.MaxTokens,
		"PORT":       &c.Server.Port,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}

	if v, ok := lookup("USE_LOCAL_MODEL"); ok && v != "" {
		b, err := cast.ToBoolE(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid USE_LOCAL_MODEL: %w", err)
		}
		c.Model.UseLocal = b
	}
	return nil
}

// SaveToFile saves configuration as YAML or JSON depending on the extension
func (c *Config) SaveToFile(filename string) error {
	if err := utils.EnsureParentDir(filename); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch utils.GetFileExtension(filename) {
	case "yaml", "yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = sonic.ConfigStd.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Image.MinPixels <= 0 || c.Image.MaxPixels <= 0 {
		return fmt.Errorf("image.min_pixels and image.max_pixels must be positive")
	}

	if c.Image.MinPixels > c.Image.MaxPixels {
		return fmt.Errorf("image.min_pixels (%d) must not exceed image.max_pixels (%d)", c.Image.MinPixels, c.Image.MaxPixels)
	}

	if c.Model.MaxTokens < 0 {
		return fmt.Errorf("model.max_tokens must not be negative")
	}

	if c.API.Client != ClientCompatible && c.API.Client != ClientOpenAI {
		return fmt.Errorf("api.client must be %q or %q", ClientCompatible, ClientOpenAI)
	}

	if c.Model.UseLocal && c.Local.Model == "" {
		return fmt.Errorf("local.model cannot be empty")
	}

	if c.API.Model == "" {
		return fmt.Errorf("api.model cannot be empty")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if c.Font.Size < 0 || c.Font.FallbackSize < 0 {
		return fmt.Errorf("font sizes must not be negative")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "vision-detect", "config.yaml")
}
