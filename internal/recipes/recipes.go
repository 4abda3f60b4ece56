// Package recipes translates serializable recipes into built instruction
// sequences. All validation happens here, before a batch starts: range
// errors from the builder, unknown filter ids and malformed colors.
package recipes

import (
	"errors"
	"fmt"
	"image/color"
	"strings"

	"github.com/renditionlab/renditions/internal/engine"
	"github.com/renditionlab/renditions/internal/instruction"
	"github.com/renditionlab/renditions/internal/model"
)

// Build runs the recipe list through one fluent builder, one instruction
// per recipe, and returns the built sequence.
func Build(rs []model.Recipe) ([]instruction.Instruction, error) {
	if len(rs) == 0 {
		return nil, errors.New("no recipes given")
	}

	known := make(map[string]struct{})
	for _, id := range engine.Names() {
		known[id] = struct{}{}
	}

	b := instruction.NewBuilder()
	var errs []error
	for i, r := range rs {
		if i > 0 {
			b.And()
		}
		if err := apply(b, r, known); err != nil {
			errs = append(errs, fmt.Errorf("recipe %d: %w", i, err))
		}
	}

	seq, err := b.Build()
	if err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return seq, nil
}

func apply(b *instruction.Builder, r model.Recipe, known map[string]struct{}) error {
	touched := false

	if r.Resize != nil {
		a, err := instruction.ParseAnchor(r.Resize.Anchor)
		if err != nil {
			return err
		}
		b.Resize(r.Resize.Width, r.Resize.Height).Anchor(a)
		touched = true
	}
	if r.Constrain != nil {
		b.Constrain(r.Constrain.MaxWidth, r.Constrain.MaxHeight)
		touched = true
	}
	if len(r.Filters) > 0 {
		for _, id := range r.Filters {
			if _, ok := known[id]; !ok {
				return fmt.Errorf("unknown filter %q (known: %s)", id, strings.Join(engine.Names(), ", "))
			}
		}
		b.ApplyFilters(r.Filters...)
		touched = true
	}
	if r.Brightness != nil {
		if v := *r.Brightness; v >= 0 {
			b.Brighten(v)
		} else {
			b.Darken(-v)
		}
		touched = true
	}
	if r.Saturation != nil {
		if v := *r.Saturation; v >= 0 {
			b.Saturate(v)
		} else {
			b.Desaturate(-v)
		}
		touched = true
	}
	if r.Contrast != nil {
		b.SetContrast(*r.Contrast)
		touched = true
	}
	if r.Opacity != nil {
		b.SetOpacity(*r.Opacity)
		touched = true
	}
	if r.Hue != nil {
		b.SetHue(r.Hue.Degrees, r.Hue.Rotate)
		touched = true
	}
	if r.Tint != "" {
		c, err := parseHexColor(r.Tint)
		if err != nil {
			return fmt.Errorf("tint: %w", err)
		}
		b.Tint(c)
		touched = true
	}
	if r.Vignette != "" {
		c, err := parseHexColor(r.Vignette)
		if err != nil {
			return fmt.Errorf("vignette: %w", err)
		}
		b.Vignette(c)
		touched = true
	}
	if r.JPEGQuality != nil {
		b.SetJPEGQuality(*r.JPEGQuality)
		touched = true
	}

	if !touched {
		// An empty recipe still claims its instruction slot and re-encodes
		// the source.
		b.Resize(0, 0)
	}
	return nil
}

// parseHexColor parses #rrggbb and #rrggbbaa; six digits imply full alpha.
func parseHexColor(s string) (color.NRGBA, error) {
	t := strings.TrimPrefix(s, "#")
	var c color.NRGBA
	switch len(t) {
	case 6:
		if _, err := fmt.Sscanf(t, "%02x%02x%02x", &c.R, &c.G, &c.B); err != nil {
			return color.NRGBA{}, fmt.Errorf("invalid hex color %q", s)
		}
		c.A = 255
	case 8:
		if _, err := fmt.Sscanf(t, "%02x%02x%02x%02x", &c.R, &c.G, &c.B, &c.A); err != nil {
			return color.NRGBA{}, fmt.Errorf("invalid hex color %q", s)
		}
	default:
		return color.NRGBA{}, fmt.Errorf("invalid hex color %q", s)
	}
	return c, nil
}
