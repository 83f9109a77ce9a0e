package remote

import (
	"context"
	"net/http"

	"github.com/sashabaranov/go-openai"

	apperrors "github.com/menta2k/vision-detect/internal/errors"
	"github.com/menta2k/vision-detect/internal/logger"
	"github.com/menta2k/vision-detect/pkg/client"
	"github.com/menta2k/vision-detect/pkg/processing"
	"github.com/menta2k/vision-detect/pkg/types"
)

// SDKClient is the remote backend on the go-openai SDK. It cannot send pixel
// hints, so the endpoint applies its own default image budget.
type SDKClient struct {
	cfg       Config
	client    *openai.Client
	processor *processing.Processor
}

// NewSDKClient creates a go-openai backed remote client
func NewSDKClient(cfg Config) *SDKClient {
	cfg = cfg.withDefaults()

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = cfg.BaseURL
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &SDKClient{
		cfg:       cfg,
		client:    openai.NewClientWithConfig(oc),
		processor: processing.NewProcessor(),
	}
}

var _ client.Backend = (*SDKClient)(nil)

func (c *SDKClient) Name() string {
	return BackendName
}

func (c *SDKClient) Infer(ctx context.Context, req client.Request) (*types.Inference, error) {
	dataURL, err := c.processor.EncodeJPEGDataURL(req.Image)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindCodec, "remote_encode", "failed to encode image", err)
	}

	systemPrompt := req.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = c.cfg.SystemPrompt
	}

	var messages []openai.ChatCompletionMessage
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURL,
					Detail: openai.ImageURLDetailAuto,
				},
			},
			{
				Type: openai.ChatMessagePartTypeText,
				Text: req.Prompt,
			},
		},
	})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.cfg.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindTransport, "remote_infer", "chat completion failed", err)
	}
	if len(resp.Choices) == 0 {
		return nil, apperrors.New(apperrors.KindTransport, "remote_infer", "no choices in response")
	}

	logger.WithField("model", c.cfg.Model).WithField("total_tokens", resp.Usage.TotalTokens).Debug("sdk inference finished")

	return &types.Inference{Text: resp.Choices[0].Message.Content}, nil
}
