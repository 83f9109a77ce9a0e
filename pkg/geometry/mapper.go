package geometry

import (
	"image"

	"github.com/menta2k/vision-detect/pkg/types"
)

// Mapping describes the two coordinate spaces a box is converted between.
// A zero Resized means the model coordinates are already in original space.
type Mapping struct {
	Resized        types.ResizeTarget
	OriginalWidth  int
	OriginalHeight int
}

// Scales reports whether boxes need scaling under this mapping
func (m Mapping) Scales() bool {
	return m.Resized.Known() && m.OriginalWidth > 0 && m.OriginalHeight > 0
}

// MapBoxToOriginal converts a box from resized space to original image space.
// Coordinates are truncated to whole pixels and corner order is normalized so
// that x1 <= x2 and y1 <= y2. ok is false when the box does not have four coordinates.
func MapBoxToOriginal(b types.BBox, m Mapping) (rect image.Rectangle, ok bool) {
	if !b.Valid() {
		return image.Rectangle{}, false
	}

	x1, y1, x2, y2 := b[0], b[1], b[2], b[3]
	if m.Scales() {
		sx := float64(m.OriginalWidth) / float64(m.Resized.Width)
		sy := float64(m.OriginalHeight) / float64(m.Resized.Height)
		x1, x2 = x1*sx, x2*sx
		y1, y2 = y1*sy, y2*sy
	}

	return ordered(int(x1), int(y1), int(x2), int(y2)), true
}

// MapBoxToResized is the inverse of MapBoxToOriginal
func MapBoxToResized(r image.Rectangle, m Mapping) types.BBox {
	if !m.Scales() {
		return types.BBox{float64(r.Min.X), float64(r.Min.Y), float64(r.Max.X), float64(r.Max.Y)}
	}
	sx := float64(m.Resized.Width) / float64(m.OriginalWidth)
	sy := float64(m.Resized.Height) / float64(m.OriginalHeight)
	return types.BBox{
		float64(r.Min.X) * sx,
		float64(r.Min.Y) * sy,
		float64(r.Max.X) * sx,
		float64(r.Max.Y) * sy,
	}
}

// ordered builds a rectangle from corners without image.Rect's canonicalization
// so the max corner keeps its inclusive meaning for drawing.
func ordered(x1, y1, x2, y2 int) image.Rectangle {
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	return image.Rectangle{Min: image.Point{X: x1, Y: y1}, Max: image.Point{X: x2, Y: y2}}
}
