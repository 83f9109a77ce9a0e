package processing

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/vision-detect/internal/utils"
	"github.com/menta2k/vision-detect/pkg/types"
)

// DefaultJPEGQuality is used when encoding images for transport
const DefaultJPEGQuality = 90

// Processor handles image loading, normalization and encoding
type Processor struct {
	httpClient *http.Client
	userAgent  string
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		userAgent:  "Vision-Detect/1.0",
	}
}

// Normalize turns any supported image source into a private NRGBA copy.
//
// Supported sources: a file path or http(s) URL (string), encoded image bytes
// ([]byte), a raw pixel buffer (types.PixelArray or *types.PixelArray) and a
// decoded image.Image. The caller's value is never modified.
func (p *Processor) Normalize(ctx context.Context, src interface{}) (*image.NRGBA, error) {
	switch v := src.(type) {
	case nil:
		return nil, fmt.Errorf("no image supplied")
	case string:
		img, err := p.LoadImageSmart(ctx, v)
		if err != nil {
			return nil, err
		}
		return imaging.Clone(img), nil
	case []byte:
		img, err := p.DecodeBytes(v)
		if err != nil {
			return nil, err
		}
		return imaging.Clone(img), nil
	case types.PixelArray:
		return FromPixelArray(v)
	case *types.PixelArray:
		if v == nil {
			return nil, fmt.Errorf("no image supplied")
		}
		return FromPixelArray(*v)
	case image.Image:
		if isNilImage(v) {
			return nil, fmt.Errorf("no image supplied")
		}
		return imaging.Clone(v), nil
	default:
		return nil, fmt.Errorf("unsupported image source type %T", src)
	}
}

// FromPixelArray copies a raw H x W x C buffer into a new NRGBA image
func FromPixelArray(pa types.PixelArray) (*image.NRGBA, error) {
	if pa.Width <= 0 || pa.Height <= 0 {
		return nil, fmt.Errorf("invalid pixel array dimensions: %dx%d", pa.Width, pa.Height)
	}
	switch pa.Channels {
	case 1, 3, 4:
	default:
		return nil, fmt.Errorf("unsupported channel count: %d", pa.Channels)
	}
	if want := pa.Width * pa.Height * pa.Channels; len(pa.Pix) != want {
		return nil, fmt.Errorf("pixel array has %d bytes, expected %d", len(pa.Pix), want)
	}

	dst := image.NewNRGBA(image.Rect(0, 0, pa.Width, pa.Height))
	for i, j := 0, 0; i < len(pa.Pix); i, j = i+pa.Channels, j+4 {
		switch pa.Channels {
		case 1:
			g := pa.Pix[i]
			dst.Pix[j], dst.Pix[j+1], dst.Pix[j+2], dst.Pix[j+3] = g, g, g, 255
		case 3:
			dst.Pix[j], dst.Pix[j+1], dst.Pix[j+2], dst.Pix[j+3] = pa.Pix[i], pa.Pix[i+1], pa.Pix[i+2], 255
		case 4:
			copy(dst.Pix[j:j+4], pa.Pix[i:i+4])
		}
	}
	return dst, nil
}

// LoadImageFromURL downloads and loads an image from a URL
func (p *Processor) LoadImageFromURL(ctx context.Context, imageURL string) (image.Image, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}

	imageData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}

	return p.DecodeBytes(imageData)
}

// LoadImage loads an image from a file path with WebP support
func (p *Processor) LoadImage(path string) (image.Image, error) {
	// Registered decoders first, honoring EXIF orientation
	if img, err := imaging.Open(path, imaging.AutoOrientation(true)); err == nil {
		return img, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := p.DecodeBytes(data)
	if err != nil {
		return nil, fmt.Errorf("image: unknown format for %s", path)
	}
	return img, nil
}

// LoadImageSmart loads an image from either a file path or URL
func (p *Processor) LoadImageSmart(ctx context.Context, source string) (image.Image, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("no image supplied")
	}
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return p.LoadImageFromURL(ctx, source)
	}
	return p.LoadImage(source)
}

// DecodeBytes decodes an image from byte data with WebP support
func (p *Processor) DecodeBytes(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("no image supplied")
	}

	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	return nil, fmt.Errorf("image: unknown or unsupported format")
}

// Encode serializes an image in the given format (jpg or png)
func (p *Processor) Encode(img image.Image, format string, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestSpeed}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, err
		}
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// EncodeBase64 encodes an image as base64 in the given format (jpg or png)
func (p *Processor) EncodeBase64(img image.Image, format string, quality int) (string, error) {
	data, err := p.Encode(img, format, quality)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// EncodeJPEGDataURL encodes an image as a data:image/jpeg;base64 URL
func (p *Processor) EncodeJPEGDataURL(img image.Image) (string, error) {
	b64, err := p.EncodeBase64(img, "jpg", DefaultJPEGQuality)
	if err != nil {
		return "", err
	}
	return "data:image/jpeg;base64," + b64, nil
}

// ResizeTo rescales an image to the exact target dimensions
func (p *Processor) ResizeTo(img image.Image, target types.ResizeTarget) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() == target.Width && b.Dy() == target.Height {
		return imaging.Clone(img)
	}
	return imaging.Resize(img, target.Width, target.Height, imaging.Lanczos)
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		return webp.Encode(f, img, opts)
	case "png":
		return imaging.Save(img, path)
	case "jpg", "jpeg":
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// SaveImageAuto saves an image choosing the format from the path's extension
func (p *Processor) SaveImageAuto(img image.Image, path string) error {
	ext := utils.GetFileExtension(path)
	if ext == "" {
		return fmt.Errorf("output path %s has no extension", path)
	}
	if err := utils.EnsureParentDir(path); err != nil {
		return err
	}
	return p.SaveImage(img, path, ext, DefaultJPEGQuality, false)
}

// IsEmptySource reports whether src carries no image at all
func IsEmptySource(src interface{}) bool {
	switch v := src.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []byte:
		return len(v) == 0
	case *types.PixelArray:
		return v == nil || len(v.Pix) == 0
	case types.PixelArray:
		return len(v.Pix) == 0
	case image.Image:
		return isNilImage(v)
	}
	return false
}

// isNilImage catches typed nil pointers such as (*image.Paletted)(nil)
func isNilImage(img image.Image) bool {
	if img == nil {
		return true
	}
	v := reflect.ValueOf(img)
	return v.Kind() == reflect.Ptr && v.IsNil()
}
