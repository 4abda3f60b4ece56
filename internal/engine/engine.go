// Package engine applies rendition instructions to source images. The
// operator order is fixed: resize or crop, filters, brightness, constraint,
// opacity, hue, tint, vignette, saturation, contrast, encode.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/disintegration/imaging"

	// Registers webp decoding; bmp and tiff come with imaging itself.
	_ "golang.org/x/image/webp"

	"github.com/renditionlab/renditions/internal/codec"
	"github.com/renditionlab/renditions/internal/instruction"
)

// Engine executes single (source, instruction) transformations. It holds no
// storage and no clock; output depends only on the source bytes, the
// instruction and the codec.
type Engine struct {
	filters map[string]Filter
}

// New creates an engine with the default filter registry.
func New() *Engine {
	return &Engine{filters: defaultFilters()}
}

var anchors = map[instruction.Anchor]imaging.Anchor{
	instruction.AnchorCenter:      imaging.Center,
	instruction.AnchorTopLeft:     imaging.TopLeft,
	instruction.AnchorTop:         imaging.Top,
	instruction.AnchorTopRight:    imaging.TopRight,
	instruction.AnchorLeft:        imaging.Left,
	instruction.AnchorRight:       imaging.Right,
	instruction.AnchorBottomLeft:  imaging.BottomLeft,
	instruction.AnchorBottom:      imaging.Bottom,
	instruction.AnchorBottomRight: imaging.BottomRight,
}

// Apply transforms the image read from src according to inst and encodes
// the result with c. It returns the encoded bytes and the final pixel
// dimensions. A failure affects only this call; the engine performs no
// range validation of its own.
func (e *Engine) Apply(ctx context.Context, src io.Reader, inst instruction.Instruction, c codec.Codec) ([]byte, int, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, 0, err
	}

	// Decode honoring the EXIF orientation tag.
	img, err := imaging.Decode(src, imaging.AutoOrientation(true))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to decode image: %w", err)
	}

	// Resize precedence: both dimensions crop to the exact size from the
	// anchor, a single dimension scales preserving aspect ratio.
	switch {
	case inst.Crops():
		img = imaging.Fill(img, *inst.Width, *inst.Height, anchors[inst.Anchor], imaging.Lanczos)
	case inst.Resizes():
		img = imaging.Resize(img, dim(inst.Width), dim(inst.Height), imaging.Lanczos)
	}

	// Named filter presets, in stored order. Ids outside the registry pass
	// through untouched; hosts reject them before a batch starts.
	for _, id := range inst.Filters {
		if f, ok := e.filters[id]; ok {
			img = f(img)
		}
	}

	if inst.Brightness != nil {
		img = imaging.AdjustBrightness(img, float64(*inst.Brightness))
	}

	// The constraint clamps the size at most once, even when a resize
	// target already ran.
	if inst.Constraint != nil {
		img = imaging.Fit(img, inst.Constraint.Width, inst.Constraint.Height, imaging.Lanczos)
	}

	if inst.Opacity != nil {
		img = scaleOpacity(img, *inst.Opacity)
	}
	if inst.Hue != nil {
		img = adjustHue(img, *inst.Hue)
	}
	if inst.Tint != nil {
		img = tint(img, *inst.Tint)
	}
	if inst.Vignette != nil {
		img = vignette(img, *inst.Vignette)
	}
	if inst.Saturation != nil {
		img = imaging.AdjustSaturation(img, float64(*inst.Saturation))
	}
	if inst.Contrast != nil {
		img = imaging.AdjustContrast(img, float64(*inst.Contrast))
	}

	if err := ctx.Err(); err != nil {
		return nil, 0, 0, err
	}

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, img, c.Format, c.EncodeOptions()...); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to encode image: %w", err)
	}

	b := img.Bounds()
	return buf.Bytes(), b.Dx(), b.Dy(), nil
}

func dim(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
