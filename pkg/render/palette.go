package render

import (
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// Palette maps search volumes to node colors: one hue, lightness falling
// linearly with volume up to MaxVolume.
type Palette struct {
	Hue          float64 `koanf:"hue"`
	Saturation   float64 `koanf:"saturation"`
	MinLightness float64 `koanf:"min_lightness"` // at MaxVolume and above
	MaxLightness float64 `koanf:"max_lightness"` // at zero or unknown volume
	MaxVolume    int     `koanf:"max_volume"`
}

// DefaultPalette returns the blue palette used by the web client
func DefaultPalette() Palette {
	return Palette{
		Hue:          220,
		Saturation:   0.75,
		MinLightness: 0.35,
		MaxLightness: 0.92,
		MaxVolume:    10000,
	}
}

const (
	darkText  = "#1f2937"
	lightText = "#ffffff"
)

// Colors returns the fill and label colors for a node with the given volume
func (p Palette) Colors(volume *int) (fill, text string) {
	c := p.Fill(volume)
	l, _, _ := c.Lab()
	if l < 0.6 {
		return c.Hex(), lightText
	}
	return c.Hex(), darkText
}

// Fill returns the fill color for a volume. Nil volume counts as zero.
func (p Palette) Fill(volume *int) colorful.Color {
	t := 0.0
	if volume != nil && p.MaxVolume > 0 {
		t = math.Max(0, math.Min(1, float64(*volume)/float64(p.MaxVolume)))
	}
	lightness := p.MaxLightness - t*(p.MaxLightness-p.MinLightness)
	return colorful.Hsl(p.Hue, p.Saturation, lightness).Clamped()
}
