package engine

import (
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/disintegration/imaging"
)

// Filter is a named image preset.
type Filter func(image.Image) *image.NRGBA

func defaultFilters() map[string]Filter {
	return map[string]Filter{
		"grayscale":  imaging.Grayscale,
		"invert":     imaging.Invert,
		"sepia":      sepia,
		"blackwhite": blackWhite,
		"blur": func(img image.Image) *image.NRGBA {
			return imaging.Blur(img, 1.5)
		},
		"sharpen": func(img image.Image) *image.NRGBA {
			return imaging.Sharpen(img, 1.5)
		},
		"edge": func(img image.Image) *image.NRGBA {
			return imaging.Convolve3x3(img, [9]float64{
				-1, -1, -1,
				-1, 8, -1,
				-1, -1, -1,
			}, nil)
		},
		"emboss": func(img image.Image) *image.NRGBA {
			return imaging.Convolve3x3(img, [9]float64{
				-1, -1, 0,
				-1, 1, 1,
				0, 1, 1,
			}, nil)
		},
	}
}

// Names returns the sorted ids of the default presets. Hosts use it to
// validate recipe filter ids before a batch starts.
func Names() []string {
	m := defaultFilters()
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// sepia applies the standard sepia weight matrix.
func sepia(img image.Image) *image.NRGBA {
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		r := float64(c.R)
		g := float64(c.G)
		b := float64(c.B)
		c.R = clamp8(0.393*r + 0.769*g + 0.189*b)
		c.G = clamp8(0.349*r + 0.686*g + 0.168*b)
		c.B = clamp8(0.272*r + 0.534*g + 0.131*b)
		return c
	})
}

// blackWhite thresholds luminance at the midpoint.
func blackWhite(img image.Image) *image.NRGBA {
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		y := 0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B)
		v := uint8(0)
		if y >= 128 {
			v = 255
		}
		c.R, c.G, c.B = v, v, v
		return c
	})
}

func clamp8(v float64) uint8 {
	if v > 255 {
		return 255
	}
	if v < 0 {
		return 0
	}
	return uint8(math.Round(v))
}
