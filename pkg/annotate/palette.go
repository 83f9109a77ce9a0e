package annotate

import (
	"image/color"

	"golang.org/x/image/colornames"
)

// Palette holds the box colors, assigned to detections by index modulo its length
var Palette = []NamedColor{
	{"red", colornames.Red},
	{"green", colornames.Green},
	{"blue", colornames.Blue},
	{"yellow", colornames.Yellow},
	{"purple", colornames.Purple},
	{"orange", colornames.Orange},
	{"pink", colornames.Pink},
	{"brown", colornames.Brown},
	{"gray", colornames.Gray},
	{"turquoise", colornames.Turquoise},
	{"cyan", colornames.Cyan},
	{"magenta", colornames.Magenta},
	{"lime", colornames.Lime},
	{"navy", colornames.Navy},
	{"maroon", colornames.Maroon},
	{"teal", colornames.Teal},
	{"olive", colornames.Olive},
	{"coral", colornames.Coral},
	{"lavender", colornames.Lavender},
	{"violet", colornames.Violet},
	{"gold", colornames.Gold},
}

// NamedColor is a palette entry
type NamedColor struct {
	Name  string
	Color color.RGBA
}

// NRGBA returns the color in the non-premultiplied form drawing uses
func (c NamedColor) NRGBA() color.NRGBA {
	return color.NRGBA{R: c.Color.R, G: c.Color.G, B: c.Color.B, A: c.Color.A}
}

// ColorFor returns the palette entry for the i-th detection
func ColorFor(i int) NamedColor {
	if i < 0 {
		i = -i
	}
	return Palette[i%len(Palette)]
}
