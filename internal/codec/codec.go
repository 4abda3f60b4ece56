// Package codec resolves filename extensions to output codecs.
package codec

import (
	"strings"

	"github.com/disintegration/imaging"
)

// DefaultJPEGQuality is the encode quality used when an instruction does not
// set one.
const DefaultJPEGQuality = 100

// Codec pairs an output format with its encode settings.
type Codec struct {
	Format  imaging.Format
	Quality int // meaningful for JPEG only
}

var formats = map[string]imaging.Format{
	".jpg":  imaging.JPEG,
	".jpeg": imaging.JPEG,
	".gif":  imaging.GIF,
	".png":  imaging.PNG,
}

// Resolve maps a filename extension (leading dot, any case) to an output
// codec. The second return is false for extensions outside the table;
// callers skip those pairings rather than fail. quality mirrors the
// instruction's JPEG quality field: nil falls back to DefaultJPEGQuality.
func Resolve(ext string, quality *int) (Codec, bool) {
	f, ok := formats[strings.ToLower(ext)]
	if !ok {
		return Codec{}, false
	}
	q := DefaultJPEGQuality
	if quality != nil {
		q = *quality
	}
	return Codec{Format: f, Quality: q}, true
}

// EncodeOptions returns the imaging encode options for this codec.
func (c Codec) EncodeOptions() []imaging.EncodeOption {
	if c.Format == imaging.JPEG {
		return []imaging.EncodeOption{imaging.JPEGQuality(c.Quality)}
	}
	return nil
}

// Extensions recognized as image sources during discovery. A superset of
// the output table: sources outside it are still discovered and then
// skipped pairing by pairing.
var inputExts = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".bmp":  {},
	".tif":  {},
	".tiff": {},
	".webp": {},
}

// InputExtension reports whether ext names an image source worth
// discovering.
func InputExtension(ext string) bool {
	_, ok := inputExts[strings.ToLower(ext)]
	return ok
}
