// Package annotate draws detection boxes and labels onto a copy of an image.
package annotate

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"

	"github.com/menta2k/vision-detect/internal/logger"
	"github.com/menta2k/vision-detect/pkg/geometry"
	"github.com/menta2k/vision-detect/pkg/processing"
	"github.com/menta2k/vision-detect/pkg/types"
)

const (
	// StrokeWidth is the box outline width in pixels
	StrokeWidth = 4
	// LabelMargin is how far above the box the label tag starts
	LabelMargin = 30
	// fallback text offset inside the box when the label cannot be measured
	fallbackOffsetX = 8
	fallbackOffsetY = 6
)

// LabelMode records how a label was rendered
type LabelMode string

const (
	LabelNone   LabelMode = "none"
	LabelTagged LabelMode = "tagged"
	LabelPlain  LabelMode = "plain"
)

var labelText = color.NRGBA{255, 255, 255, 255}

// Options controls coordinate mapping and persistence for one Annotate call
type Options struct {
	// Resized is the space the model's boxes are in; zero means boxes are used as-is
	Resized types.ResizeTarget
	// OriginalWidth and OriginalHeight default to the image bounds
	OriginalWidth  int
	OriginalHeight int
	// OutputPath, when set, also saves the annotated image there
	OutputPath string
}

// Box describes one drawn detection
type Box struct {
	Index int
	Label string
	Rect  image.Rectangle
	Color NamedColor
	Mode  LabelMode
}

// Result contains the annotated copy and what was drawn on it
type Result struct {
	Image   *image.NRGBA
	Boxes   []Box
	Skipped []int
	SavedTo string
}

// Annotator renders detections. Safe for concurrent use.
type Annotator struct {
	mu        sync.Mutex
	face      font.Face
	stage     string
	processor *processing.Processor
}

// New creates an Annotator resolving its label font through the fallback chain
func New(cfg FontConfig) *Annotator {
	face, stage, errs := ResolveFace(FontChain(cfg))
	for _, err := range errs {
		logger.WithError(err).Debug("label font unavailable, trying next")
	}
	logger.WithField("font_stage", stage).Debug("label font resolved")

	return &Annotator{
		face:      face,
		stage:     stage,
		processor: processing.NewProcessor(),
	}
}

// NewWithFace creates an Annotator with an explicit label face
func NewWithFace(face font.Face) *Annotator {
	return &Annotator{
		face:      face,
		stage:     "custom",
		processor: processing.NewProcessor(),
	}
}

// FontStage reports which step of the font chain is in use
func (a *Annotator) FontStage() string {
	return a.stage
}

// Annotate draws every detection with a 4-coordinate box onto a copy of img.
// Malformed boxes are skipped; the i-th detection always gets palette color i.
func (a *Annotator) Annotate(img image.Image, detections []types.Detection, opts Options) (*Result, error) {
	if img == nil {
		return nil, fmt.Errorf("no image to annotate")
	}

	canvas := imaging.Clone(img)
	bounds := canvas.Bounds()

	mapping := geometry.Mapping{
		Resized:        opts.Resized,
		OriginalWidth:  opts.OriginalWidth,
		OriginalHeight: opts.OriginalHeight,
	}
	if mapping.OriginalWidth <= 0 || mapping.OriginalHeight <= 0 {
		mapping.OriginalWidth, mapping.OriginalHeight = bounds.Dx(), bounds.Dy()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	result := &Result{Image: canvas, Boxes: make([]Box, 0, len(detections))}
	for i, det := range detections {
		rect, ok := geometry.MapBoxToOriginal(det.BBox, mapping)
		if !ok {
			result.Skipped = append(result.Skipped, i)
			continue
		}

		nc := ColorFor(i)
		c := nc.NRGBA()
		// rect.Max is an inclusive corner
		drawBox(canvas, image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X+1, rect.Max.Y+1), c, StrokeWidth)
		mode := a.drawLabel(canvas, rect.Min, det.Label, c)

		result.Boxes = append(result.Boxes, Box{
			Index: i,
			Label: det.Label,
			Rect:  rect,
			Color: nc,
			Mode:  mode,
		})
	}

	if opts.OutputPath != "" {
		if err := a.processor.SaveImageAuto(canvas, opts.OutputPath); err != nil {
			logger.WithError(err).WithField("path", opts.OutputPath).Warn("failed to save annotated image")
		} else {
			result.SavedTo = opts.OutputPath
		}
	}

	logger.WithFields(logrus.Fields{
		"drawn":   len(result.Boxes),
		"skipped": len(result.Skipped),
		"mapped":  mapping.Scales(),
	}).Debug("annotated image")

	return result, nil
}

// drawLabel renders a filled tag above the box, or plain text inside it when
// the face cannot measure the label.
func (a *Annotator) drawLabel(canvas *image.NRGBA, at image.Point, label string, c color.NRGBA) LabelMode {
	if label == "" {
		return LabelNone
	}

	ascent := a.face.Metrics().Ascent.Ceil()
	width, ok := a.measure(label)
	if !ok {
		a.drawText(canvas, image.Pt(at.X+fallbackOffsetX, at.Y+fallbackOffsetY+ascent), label, c)
		return LabelPlain
	}

	top := at.Y - LabelMargin
	fillRect(canvas, image.Rect(at.X, top, at.X+width, at.Y), c)
	a.drawText(canvas, image.Pt(at.X, top+ascent), label, labelText)
	return LabelTagged
}

// measure returns the advance width of s. ok is false when the face cannot
// report an advance for some rune.
func (a *Annotator) measure(s string) (int, bool) {
	for _, r := range s {
		if _, ok := a.face.GlyphAdvance(r); !ok {
			return 0, false
		}
	}
	width := font.MeasureString(a.face, s).Ceil()
	return width, width > 0
}

func (a *Annotator) drawText(canvas *image.NRGBA, baseline image.Point, s string, c color.NRGBA) {
	d := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(c),
		Face: a.face,
		Dot:  fixed.P(baseline.X, baseline.Y),
	}
	d.DrawString(s)
}
