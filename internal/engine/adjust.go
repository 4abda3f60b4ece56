package engine

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"

	"github.com/renditionlab/renditions/internal/instruction"
)

// scaleOpacity multiplies every pixel's alpha channel by pct percent.
func scaleOpacity(img image.Image, pct int) *image.NRGBA {
	k := float64(pct) / 100
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		c.A = uint8(math.Round(float64(c.A) * k))
		return c
	})
}

// adjustHue rewrites pixel hue in HSL space. Rotate shifts the existing hue
// by the given degrees, otherwise the hue is replaced; saturation and
// lightness stay untouched either way.
func adjustHue(img image.Image, h instruction.Hue) *image.NRGBA {
	deg := float64(h.Degrees)
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		hh, ss, ll := rgbToHSL(c.R, c.G, c.B)
		if h.Rotate {
			hh = math.Mod(hh+deg, 360)
		} else {
			hh = math.Mod(deg, 360)
		}
		r, g, b := hslToRGB(hh, ss, ll)
		return color.NRGBA{R: r, G: g, B: b, A: c.A}
	})
}

// tint blends each pixel toward its channel product with the tint color.
// The tint alpha acts as the blend weight.
func tint(img image.Image, t color.NRGBA) *image.NRGBA {
	w := float64(t.A) / 255
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		c.R = lerp8(float64(c.R), float64(c.R)*float64(t.R)/255, w)
		c.G = lerp8(float64(c.G), float64(c.G)*float64(t.G)/255, w)
		c.B = lerp8(float64(c.B), float64(c.B)*float64(t.B)/255, w)
		return c
	})
}

// vignette overlays a radial gradient running from fully transparent at the
// center to the vignette color at the corners.
func vignette(img image.Image, v color.NRGBA) *image.NRGBA {
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	cx, cy := w/2, h/2
	outer := math.Hypot(cx, cy)

	dc := gg.NewContextForImage(img)
	grad := gg.NewRadialGradient(cx, cy, outer*0.45, cx, cy, outer)
	grad.AddColorStop(0, color.NRGBA{R: v.R, G: v.G, B: v.B, A: 0})
	grad.AddColorStop(1, v)
	dc.SetFillStyle(grad)
	dc.DrawRectangle(0, 0, w, h)
	dc.Fill()

	return imaging.Clone(dc.Image())
}

func lerp8(from, to, w float64) uint8 {
	return uint8(math.Round(from + (to-from)*w))
}

func rgbToHSL(r8, g8, b8 uint8) (h, s, l float64) {
	r := float64(r8) / 255
	g := float64(g8) / 255
	b := float64(b8) / 255

	max := math.Max(r, math.Max(g, b))
	min := math.Min(r, math.Min(g, b))
	l = (max + min) / 2

	if max == min {
		return 0, 0, l
	}

	d := max - min
	if l > 0.5 {
		s = d / (2 - max - min)
	} else {
		s = d / (max + min)
	}

	switch max {
	case r:
		h = (g - b) / d
		if g < b {
			h += 6
		}
	case g:
		h = (b-r)/d + 2
	case b:
		h = (r-g)/d + 4
	}
	h *= 60
	return h, s, l
}

func hslToRGB(h, s, l float64) (uint8, uint8, uint8) {
	if s == 0 {
		v := uint8(math.Round(l * 255))
		return v, v, v
	}

	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q

	h /= 360
	r := hueToRGB(p, q, h+1.0/3)
	g := hueToRGB(p, q, h)
	b := hueToRGB(p, q, h-1.0/3)
	return uint8(math.Round(r * 255)), uint8(math.Round(g * 255)), uint8(math.Round(b * 255))
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6:
		return p + (q-p)*6*t
	case t < 1.0/2:
		return q
	case t < 2.0/3:
		return p + (q-p)*(2.0/3-t)*6
	}
	return p
}
