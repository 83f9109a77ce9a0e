// Package visiondetect answers natural-language detection queries about an
// image with a vision-language model and draws the boxes it reports.
//
// Basic usage:
//
//	cfg, err := config.Load("")
//	if err != nil {
//		log.Fatal(err)
//	}
//	vd, err := visiondetect.New(context.Background(), cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	answer, annotated, err := vd.Detect(ctx, "street.jpg", "find every bicycle")
//
// The pipeline validates the query and image, computes the model's resize
// target, sends the prompt to a backend, parses the JSON reply and maps the
// boxes back onto the original image. Two backends are available: a hosted
// OpenAI-compatible endpoint ("api") and a model served by Ollama ("local").
package visiondetect

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"time"

	"github.com/menta2k/vision-detect/internal/config"
	"github.com/menta2k/vision-detect/internal/logger"
	"github.com/menta2k/vision-detect/internal/transport"
	"github.com/menta2k/vision-detect/internal/utils"
	"github.com/menta2k/vision-detect/pkg/annotate"
	"github.com/menta2k/vision-detect/pkg/client"
	"github.com/menta2k/vision-detect/pkg/detection"
	"github.com/menta2k/vision-detect/pkg/ollama"
	"github.com/menta2k/vision-detect/pkg/processing"
	"github.com/menta2k/vision-detect/pkg/remote"
	"github.com/menta2k/vision-detect/pkg/types"
)

// Version of the vision-detect library
const Version = "1.0.0"

// VisionDetect wires configuration, backends and the detection pipeline
type VisionDetect struct {
	cfg       *config.Config
	detector  *detection.Detector
	local     *ollama.Model
	processor *processing.Processor
}

// New builds the backends described by cfg. The local backend is only
// registered when it is enabled and the host passes the resource check;
// otherwise the remote backend is used.
func New(ctx context.Context, cfg *config.Config) (*VisionDetect, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger.SetLevel(cfg.Log.Level)

	backends := []client.Backend{NewRemoteBackend(cfg)}
	opts := detection.Options{
		Budget:       types.PixelBudget{MinPixels: cfg.Image.MinPixels, MaxPixels: cfg.Image.MaxPixels},
		Template:     cfg.Prompt.Template,
		SystemPrompt: cfg.Prompt.System,
		MaxTokens:    cfg.Model.MaxTokens,
		OutputPath:   cfg.Image.SaveOutput,
		Default:      remote.BackendName,
	}

	vd := &VisionDetect{cfg: cfg, processor: processing.NewProcessor()}

	if cfg.Model.UseLocal {
		local, err := ollama.New(ollama.Config{
			Host:         cfg.Local.Host,
			Model:        cfg.Local.Model,
			SystemPrompt: cfg.Prompt.System,
			KeepAlive:    time.Duration(cfg.Local.KeepAliveMinutes) * time.Minute,
			Timeout:      time.Duration(cfg.Local.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}

		if err := ollama.CheckResources(ctx, local.Client(), cfg.Local.MinMemoryGB); err != nil {
			logger.WithError(err).Warn("local model unavailable on this host, using remote backend")
		} else {
			vd.local = local
			backends = append(backends, local)
			opts.Default = ollama.BackendName
		}
	}

	detector, err := detection.NewDetector(annotate.New(cfg.Font), opts, backends...)
	if err != nil {
		return nil, err
	}
	vd.detector = detector

	logger.WithField("backend", detector.Default()).WithField("available", detector.Backends()).Info("vision detect ready")
	return vd, nil
}

// NewRemoteBackend returns the remote client selected by api.client
func NewRemoteBackend(cfg *config.Config) client.Backend {
	rc := remote.Config{
		BaseURL:      cfg.API.BaseURL,
		APIKey:       cfg.API.APIKey,
		Model:        cfg.API.Model,
		SystemPrompt: cfg.Prompt.System,
		Timeout:      time.Duration(cfg.API.TimeoutSeconds) * time.Second,
	}
	if cfg.API.Client == config.ClientOpenAI {
		return remote.NewSDKClient(rc)
	}
	return remote.NewClient(rc)
}

// Detect runs the pipeline on the default backend
func (vd *VisionDetect) Detect(ctx context.Context, src interface{}, query string) (string, image.Image, error) {
	return vd.detector.Detect(ctx, src, query)
}

// DetectWith runs the pipeline on the named backend ("api" or "local")
func (vd *VisionDetect) DetectWith(ctx context.Context, backend string, src interface{}, query string) (string, image.Image, error) {
	return vd.detector.DetectWith(ctx, backend, src, query)
}

// Clear returns the reset presentation state
func (vd *VisionDetect) Clear() (image.Image, string, string, image.Image) {
	return vd.detector.Clear()
}

// Detector exposes the underlying pipeline
func (vd *VisionDetect) Detector() *detection.Detector {
	return vd.detector
}

// LoadLocal loads the local model now instead of on first use
func (vd *VisionDetect) LoadLocal(ctx context.Context) error {
	if vd.local == nil {
		return fmt.Errorf("local backend is not enabled")
	}
	return vd.local.Load(ctx)
}

// Handler returns the HTTP presentation layer for this instance
func (vd *VisionDetect) Handler() http.Handler {
	return transport.NewHandler(vd.detector, transport.Options{
		Version:        Version,
		MaxUploadBytes: int64(vd.cfg.Server.MaxUploadMB) << 20,
		CORSOrigins:    vd.cfg.Server.CORSOrigins,
		Debug:          vd.cfg.Log.Level == "debug",
	})
}

// ProcessImageFile detects query in one image file and writes the annotated
// result into outputDir. It returns the answer and the written path, which is
// empty when the pipeline produced only a message.
func (vd *VisionDetect) ProcessImageFile(ctx context.Context, inputPath, query, outputDir, backend string) (string, string, error) {
	out, err := vd.detector.Run(ctx, backend, inputPath, query)
	if err != nil {
		return "", "", fmt.Errorf("detection failed for %s: %w", inputPath, err)
	}
	if out.Image == nil {
		return out.Answer, "", nil
	}

	outputPath := utils.AnnotatedPath(inputPath, outputDir, "_detected")
	if err := vd.processor.SaveImageAuto(out.Image, outputPath); err != nil {
		return out.Answer, "", fmt.Errorf("failed to save %s: %w", outputPath, err)
	}
	return out.Answer, outputPath, nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
