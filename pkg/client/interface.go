package client

import (
	"context"
	"image"

	"github.com/menta2k/vision-detect/pkg/types"
)

// Request is everything a backend needs for one detection call
type Request struct {
	Image  image.Image
	Prompt string
	// SystemPrompt overrides the backend's configured system prompt when set
	SystemPrompt string
	Budget       types.PixelBudget
	// MaxTokens caps generation when > 0
	MaxTokens int
}

// Backend runs a vision-language model on one image and prompt
type Backend interface {
	// Name identifies the backend in logs and selection, e.g. "api" or "local"
	Name() string
	// Infer returns the raw model text. Backends that rescale the image
	// themselves report the dimensions they used in Inference.Resized.
	Infer(ctx context.Context, req Request) (*types.Inference, error)
}
