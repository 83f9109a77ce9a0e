// Package transport exposes the detection pipeline over HTTP.
package transport

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	apperrors "github.com/menta2k/vision-detect/internal/errors"
	"github.com/menta2k/vision-detect/internal/logger"
	"github.com/menta2k/vision-detect/internal/utils"
	"github.com/menta2k/vision-detect/pkg/detection"
	"github.com/menta2k/vision-detect/pkg/processing"
	"github.com/menta2k/vision-detect/pkg/types"
)

// Pipeline is what the HTTP layer needs from the detector
type Pipeline interface {
	Run(ctx context.Context, backend string, src interface{}, query string) (*detection.Outcome, error)
	Clear() (image.Image, string, string, image.Image)
	Backends() []string
	Default() string
}

// Options configures the HTTP handler
type Options struct {
	Version        string
	MaxUploadBytes int64
	CORSOrigins    []string
	RequestTimeout time.Duration
	Debug          bool
}

type DetectResponse struct {
	RequestID  string              `json:"request_id,omitempty"`
	Backend    string              `json:"backend,omitempty"`
	Answer     string              `json:"answer"`
	Image      *string             `json:"image"`
	Detections []types.Detection   `json:"detections,omitempty"`
	Resized    *types.ResizeTarget `json:"resized,omitempty"`
	DurationMS int64               `json:"duration_ms,omitempty"`
}

type ClearResponse struct {
	Image     *string `json:"image"`
	Query     string  `json:"query"`
	Answer    string  `json:"answer"`
	Annotated *string `json:"annotated"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// NewHandler builds the gin engine serving /health, /detect and /clear
func NewHandler(p Pipeline, opts Options) http.Handler {
	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 20 << 20
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := gin.New()
	r.Use(
		gin.Recovery(),
		loggingMiddleware(),
		cors.New(cors.Config{
			AllowOrigins:  origins,
			AllowMethods:  []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders: []string{"Content-Length"},
			MaxAge:        12 * time.Hour,
		}),
		requestSizeLimiter(opts.MaxUploadBytes),
	)

	r.GET("/health", healthCheck(p, opts.Version))
	r.POST("/detect", detect(p, opts))
	r.POST("/clear", clearState(p))

	return r
}

// form values and file parts beyond this spill to temp files
const maxFormMemory = 32 << 20

func detect(p Pipeline, opts Options) gin.HandlerFunc {
	processor := processing.NewProcessor()

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if opts.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.RequestTimeout)
			defer cancel()
		}

		if err := c.Request.ParseMultipartForm(maxFormMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				respondError(c, http.StatusRequestEntityTooLarge,
					fmt.Sprintf("upload exceeds %s", utils.FormatFileSize(tooLarge.Limit)), err)
				return
			}
			respondError(c, http.StatusBadRequest, "malformed form", err)
			return
		}

		query := c.PostForm("query")
		backend := c.PostForm("backend")

		var src interface{}
		fh, err := c.FormFile("image")
		switch {
		case err == nil:
			f, err := fh.Open()
			if err != nil {
				respondError(c, http.StatusBadRequest, "cannot open upload", err)
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				respondError(c, http.StatusBadRequest, "cannot read upload", err)
				return
			}
			src = data
			logger.WithFields(logrus.Fields{
				"filename": fh.Filename,
				"size":     utils.FormatFileSize(fh.Size),
			}).Debug("received upload")
		case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
			if url := c.PostForm("image_url"); url != "" {
				src = url
			}
		default:
			respondError(c, http.StatusBadRequest, "cannot read upload", err)
			return
		}

		out, err := p.Run(ctx, backend, src, query)
		if err != nil {
			respondError(c, apperrors.HTTPStatus(err), "detection failed", err)
			return
		}

		resp := DetectResponse{
			RequestID:  out.RequestID,
			Backend:    out.Backend,
			Answer:     out.Answer,
			Detections: out.Detections,
			DurationMS: out.Duration.Milliseconds(),
		}
		if out.Image != nil {
			b64, err := processor.EncodeBase64(out.Image, "png", 0)
			if err != nil {
				respondError(c, http.StatusInternalServerError, "cannot encode result", err)
				return
			}
			dataURL := "data:image/png;base64," + b64
			resp.Image = &dataURL
			resized := out.Resized
			resp.Resized = &resized
		}

		c.JSON(http.StatusOK, resp)
	}
}

func clearState(p Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, query, answer, _ := p.Clear()
		c.JSON(http.StatusOK, ClearResponse{Query: query, Answer: answer})
	}
}

func healthCheck(p Pipeline, version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "available",
			"version":  version,
			"backends": p.Backends(),
			"default":  p.Default(),
			"time":     time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"ip":       c.ClientIP(),
			"duration": time.Since(start).String(),
		}).Info("http request")
	}
}

func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func respondError(c *gin.Context, code int, message string, err error) {
	logger.WithError(err).WithFields(logrus.Fields{
		"status_code": code,
		"message":     message,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	}).Error("request failed")

	c.AbortWithStatusJSON(code, ErrorResponse{
		Error:   http.StatusText(code),
		Message: fmt.Sprintf("%s: %v", message, err),
	})
}
