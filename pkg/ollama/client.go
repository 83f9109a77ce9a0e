// Package ollama implements the local vision-language model backend on an
// Ollama server.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/sirupsen/logrus"

	apperrors "github.com/menta2k/vision-detect/internal/errors"
	"github.com/menta2k/vision-detect/internal/logger"
	"github.com/menta2k/vision-detect/pkg/client"
	"github.com/menta2k/vision-detect/pkg/geometry"
	"github.com/menta2k/vision-detect/pkg/processing"
	"github.com/menta2k/vision-detect/pkg/types"
)

// BackendName is the registry name of the local backend
const BackendName = "local"

const (
	DefaultHost      = "http://localhost:11434"
	DefaultModel     = "qwen2.5vl:3b"
	DefaultKeepAlive = 30 * time.Minute
	DefaultTimeout   = 5 * time.Minute
)

// Config holds the local model settings
type Config struct {
	Host         string
	Model        string
	SystemPrompt string
	// Budget is the local processor's pixel budget; the request budget is ignored
	Budget    types.PixelBudget
	KeepAlive time.Duration
	Timeout   time.Duration
}

// Model is an explicit handle on one local model. The model is loaded at most
// once; a failed load is retried on the next call.
type Model struct {
	cfg       Config
	client    *api.Client
	processor *processing.Processor

	mu     sync.Mutex
	loaded bool
	info   *api.ShowResponse
}

// NewClient creates an Ollama API client for host, ignoring OLLAMA_HOST
func NewClient(host string, timeout time.Duration) (*api.Client, error) {
	if host == "" {
		host = DefaultHost
	}
	parsedURL, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL: %s", host)
	}

	// drop any path such as /api/chat
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	return api.NewClient(baseURL, &http.Client{Timeout: timeout}), nil
}

// New creates a handle; nothing is contacted until Load or Infer
func New(cfg Config) (*Model, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Budget.MinPixels <= 0 || cfg.Budget.MaxPixels <= 0 {
		cfg.Budget = types.PixelBudget{MinPixels: geometry.LocalMinPixels, MaxPixels: geometry.LocalMaxPixels}
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	c, err := NewClient(cfg.Host, cfg.Timeout)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindConfig, "local_new", "bad ollama host", err)
	}

	return &Model{
		cfg:       cfg,
		client:    c,
		processor: processing.NewProcessor(),
	}, nil
}

var _ client.Backend = (*Model)(nil)

func (m *Model) Name() string {
	return BackendName
}

// Client exposes the underlying API client, e.g. for CheckResources
func (m *Model) Client() *api.Client {
	return m.client
}

// Loaded reports whether Load has succeeded
func (m *Model) Loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded
}

// Load verifies the model exists on the server and warms it into memory
func (m *Model) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loaded {
		return nil
	}

	start := time.Now()
	info, err := m.client.Show(ctx, &api.ShowRequest{Model: m.cfg.Model})
	if err != nil {
		return apperrors.Wrap(apperrors.KindBackendUnavailable, "local_load",
			fmt.Sprintf("model %s is not available", m.cfg.Model), err)
	}

	// an empty prompt only loads the model
	keepAlive := &api.Duration{Duration: m.cfg.KeepAlive}
	err = m.client.Generate(ctx, &api.GenerateRequest{Model: m.cfg.Model, KeepAlive: keepAlive}, func(api.GenerateResponse) error {
		return nil
	})
	if err != nil {
		return apperrors.Wrap(apperrors.KindBackendUnavailable, "local_load",
			fmt.Sprintf("model %s failed to load", m.cfg.Model), err)
	}

	m.info = info
	m.loaded = true

	logger.WithFields(logrus.Fields{
		"model":   m.cfg.Model,
		"family":  info.Details.Family,
		"params":  info.Details.ParameterSize,
		"elapsed": time.Since(start).String(),
	}).Info("local model loaded")

	return nil
}

// Infer resizes the image to the local budget, runs the model and reports
// the dimensions it used.
func (m *Model) Infer(ctx context.Context, req client.Request) (*types.Inference, error) {
	if err := m.Load(ctx); err != nil {
		return nil, err
	}

	b := req.Image.Bounds()
	target, err := geometry.SmartResize(b.Dx(), b.Dy(), m.cfg.Budget)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInput, "local_resize", "image cannot be sized for the local model", err)
	}

	imgBytes, err := m.processor.Encode(m.processor.ResizeTo(req.Image, target), "jpg", processing.DefaultJPEGQuality)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindCodec, "local_encode", "failed to encode image", err)
	}

	systemPrompt := req.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = m.cfg.SystemPrompt
	}

	var messages []api.Message
	if systemPrompt != "" {
		messages = append(messages, api.Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, api.Message{
		Role:    "user",
		Content: req.Prompt,
		Images:  []api.ImageData{api.ImageData(imgBytes)},
	})

	options := map[string]any{}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	streamFalse := false
	chatReq := &api.ChatRequest{
		Model:     m.cfg.Model,
		Messages:  messages,
		Stream:    &streamFalse,
		Options:   options,
		KeepAlive: &api.Duration{Duration: m.cfg.KeepAlive},
	}

	var sb strings.Builder
	err = m.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		sb.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindTransport, "local_infer", "ollama chat error", err)
	}

	logger.WithFields(logrus.Fields{
		"model":   m.cfg.Model,
		"resized": fmt.Sprintf("%dx%d", target.Width, target.Height),
	}).Debug("local inference finished")

	return &types.Inference{Text: sb.String(), Resized: &target}, nil
}
