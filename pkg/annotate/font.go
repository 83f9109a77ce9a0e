package annotate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

const (
	DefaultLabelSize    = 40
	DefaultFallbackSize = 14
)

// FontConfig selects the faces tried for label text
type FontConfig struct {
	// Path is the preferred TrueType/OpenType font, typically one with CJK coverage
	Path string  `json:"path" yaml:"path"`
	Size float64 `json:"size" yaml:"size"`
	// FallbackPath defaults to the embedded Go Regular font when empty
	FallbackPath string  `json:"fallback_path" yaml:"fallback_path"`
	FallbackSize float64 `json:"fallback_size" yaml:"fallback_size"`
}

// FaceSource is one step of the font fallback chain
type FaceSource struct {
	Name string
	Load func() (font.Face, error)
}

const (
	StagePreferred = "preferred"
	StageFallback  = "fallback"
	StageDefault   = "default"
)

// FontChain builds the ordered fallback sequence: preferred font, fallback font, built-in bitmap font
func FontChain(cfg FontConfig) []FaceSource {
	size := cfg.Size
	if size <= 0 {
		size = DefaultLabelSize
	}
	fallbackSize := cfg.FallbackSize
	if fallbackSize <= 0 {
		fallbackSize = DefaultFallbackSize
	}

	return []FaceSource{
		{
			Name: StagePreferred,
			Load: func() (font.Face, error) {
				if cfg.Path == "" {
					return nil, fmt.Errorf("no preferred font configured")
				}
				return loadFaceFile(cfg.Path, size)
			},
		},
		{
			Name: StageFallback,
			Load: func() (font.Face, error) {
				if cfg.FallbackPath != "" {
					return loadFaceFile(cfg.FallbackPath, fallbackSize)
				}
				return newFace(goregular.TTF, fallbackSize, false)
			},
		},
		{
			Name: StageDefault,
			Load: func() (font.Face, error) {
				return basicfont.Face7x13, nil
			},
		},
	}
}

// ResolveFace walks the chain and returns the first face that loads, with its stage name.
// The built-in bitmap face is used if every source fails.
func ResolveFace(chain []FaceSource) (font.Face, string, []error) {
	var errs []error
	for _, src := range chain {
		face, err := src.Load()
		if err == nil && face != nil {
			return face, src.Name, errs
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s font: %w", src.Name, err))
		}
	}
	return basicfont.Face7x13, StageDefault, errs
}

func loadFaceFile(path string, size float64) (font.Face, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(path))
	return newFace(data, size, ext == ".ttc" || ext == ".otc")
}

func newFace(data []byte, size float64, collection bool) (font.Face, error) {
	var (
		f   *opentype.Font
		err error
	)
	if collection {
		coll, cerr := opentype.ParseCollection(data)
		if cerr != nil {
			return nil, cerr
		}
		f, err = coll.Font(0)
	} else {
		f, err = opentype.Parse(data)
	}
	if err != nil {
		return nil, err
	}
	return opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
}
