// Package remote implements the hosted vision-language model backend over an
// OpenAI-compatible chat completions API.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus"

	apperrors "github.com/menta2k/vision-detect/internal/errors"
	"github.com/menta2k/vision-detect/internal/logger"
	"github.com/menta2k/vision-detect/pkg/client"
	"github.com/menta2k/vision-detect/pkg/processing"
	"github.com/menta2k/vision-detect/pkg/types"
)

// BackendName is the registry name of the remote backend
const BackendName = "api"

const (
	DefaultBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	DefaultModel   = "qwen2.5-vl-72b-instruct"
	DefaultTimeout = 5 * time.Minute
)

// Config holds the remote endpoint settings
type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	SystemPrompt string
	Timeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	return c
}

// Client talks to an OpenAI-compatible endpoint that understands the
// min_pixels/max_pixels hints on image parts (e.g. DashScope compatible mode).
type Client struct {
	cfg        Config
	httpClient *http.Client
	processor  *processing.Processor
}

// OpenAI-compatible message format
type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // string or []ContentPart
}

type ContentPart struct {
	Type      string    `json:"type"`
	Text      string    `json:"text,omitempty"`
	ImageURL  *ImageURL `json:"image_url,omitempty"`
	MinPixels int       `json:"min_pixels,omitempty"`
	MaxPixels int       `json:"max_pixels,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

type ChatCompletionRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
	Stream    bool      `json:"stream"`
}

type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage,omitempty"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NewClient creates a remote backend
func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		processor:  processing.NewProcessor(),
	}
}

var _ client.Backend = (*Client)(nil)

func (c *Client) Name() string {
	return BackendName
}

// Infer sends the image and prompt and returns the raw reply text. The remote
// model resizes the image itself within the request's pixel budget, so no
// resize target is reported.
func (c *Client) Infer(ctx context.Context, req client.Request) (*types.Inference, error) {
	dataURL, err := c.processor.EncodeJPEGDataURL(req.Image)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindCodec, "remote_encode", "failed to encode image", err)
	}

	systemPrompt := req.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = c.cfg.SystemPrompt
	}

	var messages []Message
	if systemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, Message{
		Role: "user",
		Content: []ContentPart{
			{
				Type:      "image_url",
				ImageURL:  &ImageURL{URL: dataURL},
				MinPixels: req.Budget.MinPixels,
				MaxPixels: req.Budget.MaxPixels,
			},
			{
				Type: "text",
				Text: req.Prompt,
			},
		},
	})

	body := ChatCompletionRequest{
		Model:     c.cfg.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
		Stream:    false,
	}

	start := time.Now()
	respBody, err := c.sendRequest(ctx, "/chat/completions", body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindTransport, "remote_infer", "request failed", err)
	}

	var resp ChatCompletionResponse
	if err := sonic.Unmarshal(respBody, &resp); err != nil {
		return nil, apperrors.Wrap(apperrors.KindTransport, "remote_infer", "failed to decode response", err)
	}
	if len(resp.Choices) == 0 {
		return nil, apperrors.New(apperrors.KindTransport, "remote_infer", "no choices in response")
	}

	logger.WithFields(logrus.Fields{
		"model":             c.cfg.Model,
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
		"elapsed":           time.Since(start).String(),
	}).Debug("remote inference finished")

	return &types.Inference{Text: messageText(resp.Choices[0].Message.Content)}, nil
}

// messageText extracts the reply from either string or content-part form
func messageText(content interface{}) string {
	switch v := content.(type) {
	case string:
		return v
	case []interface{}:
		var parts []string
		for _, item := range v {
			if partMap, ok := item.(map[string]interface{}); ok {
				if text, ok := partMap["text"].(string); ok && text != "" {
					parts = append(parts, text)
				}
			}
		}
		return strings.Join(parts, "")
	}
	return ""
}

func (c *Client) sendRequest(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
	jsonData, err := sonic.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}
