package detection

import (
	"context"
	"fmt"
	"image"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	apperrors "github.com/menta2k/vision-detect/internal/errors"
	"github.com/menta2k/vision-detect/internal/logger"
	"github.com/menta2k/vision-detect/pkg/annotate"
	"github.com/menta2k/vision-detect/pkg/client"
	"github.com/menta2k/vision-detect/pkg/geometry"
	"github.com/menta2k/vision-detect/pkg/processing"
	"github.com/menta2k/vision-detect/pkg/types"
)

// User-facing messages returned instead of an annotated image
const (
	MsgEmptyQuery      = "请输入检测查询内容以开始分析。"
	MsgNoImage         = "请先上传图像进行检测。"
	MsgParseError      = "解析结果时出错，请重试。"
	MsgModelLoadFailed = "模型加载失败，请检查模型路径或环境配置。"
	WelcomeMessage     = "欢迎使用目标检测系统，请上传图像并输入查询内容。"
)

// Options configures a Detector
type Options struct {
	Budget       types.PixelBudget
	Template     string
	SystemPrompt string
	MaxTokens    int
	// OutputPath, when set, also saves every annotated image there
	OutputPath string
	// Default names the backend used by Detect; the first registered backend otherwise
	Default string
}

// DefaultOptions returns the pixel budget and prompts the detector ships with
func DefaultOptions() Options {
	return Options{
		Budget:       types.PixelBudget{MinPixels: geometry.DefaultMinPixels, MaxPixels: geometry.DefaultMaxPixels},
		Template:     DefaultPrompt,
		SystemPrompt: DefaultSystemPrompt,
		MaxTokens:    2048,
	}
}

// Outcome is the full record of one pipeline run
type Outcome struct {
	RequestID string
	Backend   string
	// Answer is either the model's answer or one of the Msg* strings
	Answer string
	// Image is nil whenever Answer is a Msg* string
	Image      *image.NRGBA
	Detections []types.Detection
	Resized    types.ResizeTarget
	SavedTo    string
	Duration   time.Duration
}

// Detector runs the detection pipeline: validate, normalize, size, prompt,
// dispatch, parse and annotate.
type Detector struct {
	mu          sync.RWMutex
	backends    map[string]client.Backend
	defaultName string

	processor *processing.Processor
	annotator *annotate.Annotator
	opts      Options
}

// NewDetector creates a detector over the given backends
func NewDetector(annotator *annotate.Annotator, opts Options, backends ...client.Backend) (*Detector, error) {
	if annotator == nil {
		return nil, fmt.Errorf("annotator is required")
	}
	if len(backends) == 0 {
		return nil, fmt.Errorf("at least one backend is required")
	}
	if opts.Budget.MinPixels <= 0 || opts.Budget.MaxPixels <= 0 {
		opts.Budget = DefaultOptions().Budget
	}
	if opts.Template == "" {
		opts.Template = DefaultPrompt
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}

	d := &Detector{
		backends:  make(map[string]client.Backend, len(backends)),
		processor: processing.NewProcessor(),
		annotator: annotator,
		opts:      opts,
	}
	for _, b := range backends {
		if b == nil {
			return nil, fmt.Errorf("nil backend")
		}
		if _, dup := d.backends[b.Name()]; dup {
			return nil, fmt.Errorf("duplicate backend %q", b.Name())
		}
		d.backends[b.Name()] = b
	}

	d.defaultName = backends[0].Name()
	if opts.Default != "" {
		if err := d.SetDefault(opts.Default); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// SetDefault changes the backend used by Detect
func (d *Detector) SetDefault(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.backends[name]; !ok {
		return apperrors.New(apperrors.KindConfig, "set_default", fmt.Sprintf("unknown backend %q", name))
	}
	d.defaultName = name
	return nil
}

// Default returns the name of the backend used by Detect
func (d *Detector) Default() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.defaultName
}

// Backends lists the registered backend names
func (d *Detector) Backends() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.backends))
	for name := range d.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *Detector) backend(name string) (client.Backend, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if name == "" {
		name = d.defaultName
	}
	b, ok := d.backends[name]
	if !ok {
		return nil, apperrors.New(apperrors.KindInput, "select_backend", fmt.Sprintf("unknown backend %q", name))
	}
	return b, nil
}

// Detect runs the pipeline on the default backend. It returns the answer text
// and the annotated image; recoverable failures yield a message and a nil image.
// Transport failures are returned as errors.
func (d *Detector) Detect(ctx context.Context, src interface{}, query string) (string, image.Image, error) {
	return d.DetectWith(ctx, "", src, query)
}

// DetectWith is Detect on an explicitly named backend
func (d *Detector) DetectWith(ctx context.Context, backendName string, src interface{}, query string) (string, image.Image, error) {
	out, err := d.Run(ctx, backendName, src, query)
	if err != nil {
		return "", nil, err
	}
	if out.Image == nil {
		return out.Answer, nil, nil
	}
	return out.Answer, out.Image, nil
}

// Run executes one request and returns everything it produced
func (d *Detector) Run(ctx context.Context, backendName string, src interface{}, query string) (*Outcome, error) {
	start := time.Now()
	out := &Outcome{RequestID: uuid.NewString()}
	log := logger.WithField("request_id", out.RequestID)

	if strings.TrimSpace(query) == "" {
		out.Answer = MsgEmptyQuery
		return out, nil
	}
	if processing.IsEmptySource(src) {
		out.Answer = MsgNoImage
		return out, nil
	}

	backend, err := d.backend(backendName)
	if err != nil {
		return nil, err
	}
	out.Backend = backend.Name()
	log = log.WithField("backend", out.Backend)

	img, err := d.processor.Normalize(ctx, src)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindCodec, "normalize", "failed to load image", err)
	}
	bounds := img.Bounds()

	target, err := geometry.SmartResize(bounds.Dx(), bounds.Dy(), d.opts.Budget)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInput, "smart_resize", "image cannot be sized for the model", err)
	}

	inference, err := backend.Infer(ctx, client.Request{
		Image:        img,
		Prompt:       FormatPrompt(d.opts.Template, query),
		SystemPrompt: d.opts.SystemPrompt,
		Budget:       d.opts.Budget,
		MaxTokens:    d.opts.MaxTokens,
	})
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindBackendUnavailable) {
			log.WithError(err).Error("backend unavailable")
			out.Answer = MsgModelLoadFailed
			return out, nil
		}
		log.WithError(err).Error("backend call failed")
		return nil, apperrors.Wrap(apperrors.KindTransport, "infer", "backend call failed", err)
	}

	if inference.Resized != nil && inference.Resized.Known() {
		target = *inference.Resized
	}
	out.Resized = target

	result, err := ParseResult(ExtractJSON(inference.Text))
	if err != nil {
		log.WithError(err).WithField("raw", inference.Text).Warn("unparseable model output")
		out.Answer = MsgParseError
		return out, nil
	}

	annotated, err := d.annotator.Annotate(img, result.Detections, annotate.Options{
		Resized:        target,
		OriginalWidth:  bounds.Dx(),
		OriginalHeight: bounds.Dy(),
		OutputPath:     d.opts.OutputPath,
	})
	if err != nil {
		return nil, fmt.Errorf("annotate: %w", err)
	}

	out.Answer = result.Answer
	out.Image = annotated.Image
	out.Detections = result.Detections
	out.SavedTo = annotated.SavedTo
	out.Duration = time.Since(start)

	log.WithFields(logrus.Fields{
		"width":      bounds.Dx(),
		"height":     bounds.Dy(),
		"resized":    fmt.Sprintf("%dx%d", target.Width, target.Height),
		"detections": len(result.Detections),
		"drawn":      len(annotated.Boxes),
		"duration":   out.Duration.String(),
	}).Info("detection complete")

	return out, nil
}

// Clear returns the reset state of the presentation fields:
// input image, query text, answer text and annotated image.
func (d *Detector) Clear() (image.Image, string, string, image.Image) {
	return nil, "", WelcomeMessage, nil
}
