package instruction

import (
	"errors"
	"fmt"
	"image/color"
)

// Builder accumulates an ordered instruction sequence through chained
// configuration calls. A configuration call mutates the current instruction,
// creating it first when none is current; And finishes the current one so the
// next call starts fresh. Arguments outside their documented ranges record an
// error against the builder instead of mutating the instruction; Build
// reports them all.
type Builder struct {
	seq  []Instruction
	cur  int // index into seq, -1 when no instruction is current
	errs []error
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{cur: -1}
}

func (b *Builder) current() *Instruction {
	if b.cur < 0 {
		b.seq = append(b.seq, Instruction{})
		b.cur = len(b.seq) - 1
	}
	return &b.seq[b.cur]
}

// inRange validates v against [lo, hi], recording an error on violation.
func (b *Builder) inRange(op string, v, lo, hi int) bool {
	if v < lo || v > hi {
		b.errs = append(b.errs, fmt.Errorf("%s: %d out of range [%d, %d]", op, v, lo, hi))
		return false
	}
	return true
}

// And finishes the current instruction. It never removes or adds anything,
// so leading, trailing and repeated separators are harmless.
func (b *Builder) And() *Builder {
	b.cur = -1
	return b
}

// Resize sets the target dimensions. Zero leaves a dimension unset; with
// both set the engine crops to the exact size, with one set it scales
// preserving aspect ratio.
func (b *Builder) Resize(width, height int) *Builder {
	in := b.current()
	if width < 0 || height < 0 {
		b.errs = append(b.errs, fmt.Errorf("resize: dimensions must not be negative, got %dx%d", width, height))
		return b
	}
	if width > 0 {
		in.Width = &width
	}
	if height > 0 {
		in.Height = &height
	}
	return b
}

// Anchor sets the crop anchor. It only matters when both target dimensions
// are set.
func (b *Builder) Anchor(a Anchor) *Builder {
	b.current().Anchor = a
	return b
}

// Constrain bounds the final size by (maxWidth, maxHeight), preserving
// aspect ratio. The bound applies at most once per transformation, after the
// brightness step, even when a resize target is also set.
func (b *Builder) Constrain(maxWidth, maxHeight int) *Builder {
	in := b.current()
	if maxWidth <= 0 || maxHeight <= 0 {
		b.errs = append(b.errs, fmt.Errorf("constrain: dimensions must be positive, got %dx%d", maxWidth, maxHeight))
		return b
	}
	in.Constraint = &Size{Width: maxWidth, Height: maxHeight}
	return b
}

// ApplyFilters appends named filter presets; repeated calls accumulate and
// order is preserved.
func (b *Builder) ApplyFilters(ids ...string) *Builder {
	in := b.current()
	in.Filters = append(in.Filters, ids...)
	return b
}

// Brighten raises brightness by pct percent, pct in [0, 100].
func (b *Builder) Brighten(pct int) *Builder {
	in := b.current()
	if b.inRange("brighten", pct, 0, 100) {
		in.Brightness = &pct
	}
	return b
}

// Darken lowers brightness by pct percent, pct in [0, 100].
func (b *Builder) Darken(pct int) *Builder {
	in := b.current()
	if b.inRange("darken", pct, 0, 100) {
		v := -pct
		in.Brightness = &v
	}
	return b
}

// Saturate raises saturation by pct percent, pct in [0, 100].
func (b *Builder) Saturate(pct int) *Builder {
	in := b.current()
	if b.inRange("saturate", pct, 0, 100) {
		in.Saturation = &pct
	}
	return b
}

// Desaturate lowers saturation by pct percent, pct in [0, 100].
func (b *Builder) Desaturate(pct int) *Builder {
	in := b.current()
	if b.inRange("desaturate", pct, 0, 100) {
		v := -pct
		in.Saturation = &v
	}
	return b
}

// SetContrast adjusts contrast by a signed percentage in [-100, 100].
func (b *Builder) SetContrast(pct int) *Builder {
	in := b.current()
	if b.inRange("contrast", pct, -100, 100) {
		in.Contrast = &pct
	}
	return b
}

// SetOpacity scales the alpha channel to pct percent, pct in [0, 100].
func (b *Builder) SetOpacity(pct int) *Builder {
	in := b.current()
	if b.inRange("opacity", pct, 0, 100) {
		in.Opacity = &pct
	}
	return b
}

// SetHue sets the hue in degrees [0, 360]. With rotate the existing hue is
// shifted by degrees, without it the hue is replaced. Last write wins.
func (b *Builder) SetHue(degrees int, rotate bool) *Builder {
	in := b.current()
	if b.inRange("hue", degrees, 0, 360) {
		in.Hue = &Hue{Degrees: degrees, Rotate: rotate}
	}
	return b
}

// Tint blends the image toward c. Last write wins.
func (b *Builder) Tint(c color.NRGBA) *Builder {
	b.current().Tint = &c
	return b
}

// Vignette darkens the image edges with c. Last write wins.
func (b *Builder) Vignette(c color.NRGBA) *Builder {
	b.current().Vignette = &c
	return b
}

// SetJPEGQuality sets the JPEG encode quality in [0, 100]. It is ignored for
// non-JPEG outputs; unset JPEG outputs encode at quality 100.
func (b *Builder) SetJPEGQuality(q int) *Builder {
	in := b.current()
	if b.inRange("jpeg quality", q, 0, 100) {
		in.JPEGQuality = &q
	}
	return b
}

// Build returns a snapshot of the accumulated sequence and all recorded
// range errors joined, nil when every argument was valid. The builder stays
// usable afterwards; the snapshot does not alias builder state.
func (b *Builder) Build() ([]Instruction, error) {
	out := make([]Instruction, len(b.seq))
	copy(out, b.seq)
	for i := range out {
		if out[i].Filters != nil {
			out[i].Filters = append([]string(nil), out[i].Filters...)
		}
	}
	return out, errors.Join(b.errs...)
}
