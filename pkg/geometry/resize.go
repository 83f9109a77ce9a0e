// Package geometry maps bounding boxes between the image space a vision model
// sees and the original image space.
//
// Qwen-style models rescale their input so that both sides are multiples of
// an alignment factor and the total pixel count stays inside a budget. Boxes
// come back in that resized space and must be scaled back before drawing.
package geometry

import (
	"fmt"
	"math"

	"github.com/menta2k/vision-detect/pkg/types"
)

const (
	// AlignFactor is the patch-merge size every resized side is a multiple of
	AlignFactor = 28
	// MaxAspectRatio is the largest long/short side ratio the resizer accepts
	MaxAspectRatio = 200

	// DefaultMinPixels and DefaultMaxPixels bound the image sent to the remote model
	DefaultMinPixels = 512 * AlignFactor * AlignFactor
	DefaultMaxPixels = 2048 * AlignFactor * AlignFactor

	// LocalMinPixels and LocalMaxPixels are the local processor's own budget
	LocalMinPixels = 56 * 56
	LocalMaxPixels = AlignFactor * AlignFactor * 1280
)

// SmartResize computes the resize target for an image of the given size under budget
func SmartResize(width, height int, budget types.PixelBudget) (types.ResizeTarget, error) {
	return SmartResizeWithFactor(width, height, AlignFactor, budget)
}

// SmartResizeWithFactor is SmartResize with an explicit alignment factor
func SmartResizeWithFactor(width, height, factor int, budget types.PixelBudget) (types.ResizeTarget, error) {
	if width <= 0 || height <= 0 {
		return types.ResizeTarget{}, fmt.Errorf("invalid image dimensions: %dx%d", width, height)
	}
	if factor <= 0 {
		return types.ResizeTarget{}, fmt.Errorf("invalid alignment factor: %d", factor)
	}
	if budget.MinPixels > budget.MaxPixels {
		return types.ResizeTarget{}, fmt.Errorf("min pixels %d exceeds max pixels %d", budget.MinPixels, budget.MaxPixels)
	}

	w, h := float64(width), float64(height)
	if math.Max(w, h)/math.Min(w, h) > MaxAspectRatio {
		return types.ResizeTarget{}, fmt.Errorf("aspect ratio must be smaller than %d, got %.1f",
			MaxAspectRatio, math.Max(w, h)/math.Min(w, h))
	}

	hBar := maxInt(factor, roundByFactor(h, factor))
	wBar := maxInt(factor, roundByFactor(w, factor))

	if budget.MaxPixels > 0 && hBar*wBar > budget.MaxPixels {
		beta := math.Sqrt(h * w / float64(budget.MaxPixels))
		hBar = maxInt(factor, floorByFactor(h/beta, factor))
		wBar = maxInt(factor, floorByFactor(w/beta, factor))
	} else if hBar*wBar < budget.MinPixels {
		beta := math.Sqrt(float64(budget.MinPixels) / (h * w))
		hBar = ceilByFactor(h*beta, factor)
		wBar = ceilByFactor(w*beta, factor)
	}

	return types.ResizeTarget{Height: hBar, Width: wBar}, nil
}

// roundByFactor rounds half to even, the same way the model's preprocessor does
func roundByFactor(v float64, factor int) int {
	return int(math.RoundToEven(v/float64(factor))) * factor
}

func floorByFactor(v float64, factor int) int {
	return int(math.Floor(v/float64(factor))) * factor
}

func ceilByFactor(v float64, factor int) int {
	return int(math.Ceil(v/float64(factor))) * factor
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
