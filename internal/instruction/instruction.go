// Package instruction defines rendition recipes and the fluent builder that
// assembles ordered sequences of them.
package instruction

import (
	"fmt"
	"image/color"
	"strings"
)

// Anchor selects the region kept when an instruction crops to an exact size.
type Anchor int

const (
	AnchorCenter Anchor = iota
	AnchorTopLeft
	AnchorTop
	AnchorTopRight
	AnchorLeft
	AnchorRight
	AnchorBottomLeft
	AnchorBottom
	AnchorBottomRight
)

var anchorNames = map[Anchor]string{
	AnchorCenter:      "center",
	AnchorTopLeft:     "top-left",
	AnchorTop:         "top",
	AnchorTopRight:    "top-right",
	AnchorLeft:        "left",
	AnchorRight:       "right",
	AnchorBottomLeft:  "bottom-left",
	AnchorBottom:      "bottom",
	AnchorBottomRight: "bottom-right",
}

var anchorTokens = map[Anchor]string{
	AnchorCenter:      "c",
	AnchorTopLeft:     "tl",
	AnchorTop:         "t",
	AnchorTopRight:    "tr",
	AnchorLeft:        "l",
	AnchorRight:       "r",
	AnchorBottomLeft:  "bl",
	AnchorBottom:      "b",
	AnchorBottomRight: "br",
}

func (a Anchor) String() string {
	if s, ok := anchorNames[a]; ok {
		return s
	}
	return "center"
}

// ParseAnchor maps a configuration name like "top-left" to an Anchor.
// The empty string means the default center anchor.
func ParseAnchor(s string) (Anchor, error) {
	if s == "" {
		return AnchorCenter, nil
	}
	for a, name := range anchorNames {
		if name == s {
			return a, nil
		}
	}
	return AnchorCenter, fmt.Errorf("unknown anchor %q", s)
}

// Size is a (width, height) pair in pixels.
type Size struct {
	Width  int
	Height int
}

// Hue sets or rotates pixel hue. Degrees is in [0, 360]; Rotate true shifts
// the existing hue by Degrees, false replaces it.
type Hue struct {
	Degrees int
	Rotate  bool
}

// Instruction is one rendition recipe. Optional scalar fields are pointers;
// nil leaves the corresponding operator out of the transformation. A zero
// Instruction is valid and produces a straight re-encode of the source.
type Instruction struct {
	// Width and Height form the resize target; each is independently
	// optional. Both set means crop to the exact size from Anchor, one set
	// means aspect-preserving resize.
	Width  *int
	Height *int
	Anchor Anchor

	// Constraint is an aspect-preserving upper bound on the final size,
	// applied at most once per transformation.
	Constraint *Size

	// Filters are named presets applied in order before the scalar
	// adjustments.
	Filters []string

	// Signed percentage adjustments in [-100, 100].
	Brightness *int
	Saturation *int
	Contrast   *int

	// Opacity scales the alpha channel, in [0, 100].
	Opacity *int

	Hue      *Hue
	Tint     *color.NRGBA
	Vignette *color.NRGBA

	// JPEGQuality is consulted only when the output codec is JPEG.
	JPEGQuality *int
}

// Crops reports whether both target dimensions are set, which selects the
// exact-size crop path.
func (in Instruction) Crops() bool {
	return in.Width != nil && in.Height != nil
}

// Resizes reports whether at least one target dimension is set.
func (in Instruction) Resizes() bool {
	return in.Width != nil || in.Height != nil
}

// Suffix derives the deterministic filename suffix for this instruction.
// Tokens appear in a fixed field order, one per set field, so structurally
// different instructions never share a suffix. The zero instruction yields
// the empty string.
func (in Instruction) Suffix() string {
	var b strings.Builder
	if in.Width != nil {
		fmt.Fprintf(&b, "-w%d", *in.Width)
	}
	if in.Height != nil {
		fmt.Fprintf(&b, "-h%d", *in.Height)
	}
	if in.Anchor != AnchorCenter {
		b.WriteString("-a")
		b.WriteString(anchorTokens[in.Anchor])
	}
	if in.Constraint != nil {
		fmt.Fprintf(&b, "-mw%d-mh%d", in.Constraint.Width, in.Constraint.Height)
	}
	for _, f := range in.Filters {
		b.WriteString("-f")
		b.WriteString(sanitizeToken(f))
	}
	if in.Brightness != nil {
		fmt.Fprintf(&b, "-b%d", *in.Brightness)
	}
	if in.Opacity != nil {
		fmt.Fprintf(&b, "-o%d", *in.Opacity)
	}
	if in.Hue != nil {
		fmt.Fprintf(&b, "-u%d", in.Hue.Degrees)
		if in.Hue.Rotate {
			b.WriteString("r")
		}
	}
	if in.Tint != nil {
		b.WriteString("-t")
		b.WriteString(hexColor(*in.Tint))
	}
	if in.Vignette != nil {
		b.WriteString("-v")
		b.WriteString(hexColor(*in.Vignette))
	}
	if in.Saturation != nil {
		fmt.Fprintf(&b, "-s%d", *in.Saturation)
	}
	if in.Contrast != nil {
		fmt.Fprintf(&b, "-c%d", *in.Contrast)
	}
	if in.JPEGQuality != nil {
		fmt.Fprintf(&b, "-q%d", *in.JPEGQuality)
	}
	return b.String()
}

func hexColor(c color.NRGBA) string {
	return fmt.Sprintf("%02x%02x%02x%02x", c.R, c.G, c.B, c.A)
}

// sanitizeToken keeps filter ids safe inside filenames.
func sanitizeToken(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
