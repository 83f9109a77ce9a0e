package types

// BBox is a corner-form bounding box: x1, y1, x2, y2.
// Entries with a length other than 4 are treated as malformed and skipped when drawing.
type BBox []float64

// Valid reports whether the box has exactly four coordinates
func (b BBox) Valid() bool {
	return len(b) == 4
}

// Detection is one object instance reported by the vision model
type Detection struct {
	BBox  BBox   `json:"bbox_2d"`
	Label string `json:"label"`
}

// DetectionResult contains the parsed model output
type DetectionResult struct {
	Answer     string      `json:"answer"`
	Detections []Detection `json:"detections"`
}

// PixelBudget bounds the total pixel count the model is allowed to see
type PixelBudget struct {
	MinPixels int `json:"min_pixels" yaml:"min_pixels"`
	MaxPixels int `json:"max_pixels" yaml:"max_pixels"`
}

// ResizeTarget is the (height, width) an image is conceptually rescaled to before inference
type ResizeTarget struct {
	Height int `json:"height"`
	Width  int `json:"width"`
}

// Known reports whether both dimensions are set
func (r ResizeTarget) Known() bool {
	return r.Width > 0 && r.Height > 0
}

// PixelArray is a raw interleaved 8-bit pixel buffer laid out row-major (H x W x C).
// Channels is 1 (gray), 3 (RGB) or 4 (RGBA).
type PixelArray struct {
	Width    int
	Height   int
	Channels int
	Pix      []uint8
}

// Inference is the raw output of a backend call
type Inference struct {
	Text string
	// Resized is set by backends that resize the image themselves; it takes
	// precedence over the pipeline's own computed target.
	Resized *ResizeTarget
}
