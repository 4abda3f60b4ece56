package executor

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/renditionlab/renditions/internal/engine"
	"github.com/renditionlab/renditions/internal/instruction"
)

// writeImage renders a solid test image to disk, creating parent dirs.
func writeImage(t *testing.T, path string, w, h int, format imaging.Format) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create test dir: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create test image: %v", err)
	}
	defer f.Close()
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 120, B: 40, A: 255})
	if err := imaging.Encode(f, img, format); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
}

func buildAll(t *testing.T, b *instruction.Builder) []instruction.Instruction {
	t.Helper()
	seq, err := b.Build()
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	return seq
}

func collect(t *testing.T, ch <-chan Result) ([]*Artifact, []error) {
	t.Helper()
	var artifacts []*Artifact
	var errs []error
	for r := range ch {
		if r.Err != nil {
			errs = append(errs, r.Err)
			continue
		}
		artifacts = append(artifacts, r.Artifact)
	}
	return artifacts, errs
}

func decodeDims(t *testing.T, data []byte) (int, int) {
	t.Helper()
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("failed to decode artifact: %v", err)
	}
	b := img.Bounds()
	return b.Dx(), b.Dy()
}

func TestRunEndToEnd(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	writeImage(t, filepath.Join(in, "photo.jpg"), 300, 200, imaging.JPEG)

	instructions := buildAll(t, instruction.NewBuilder().
		Resize(100, 100).ApplyFilters("grayscale").
		And().
		Brighten(20).SetJPEGQuality(90))

	ex := New(engine.New(), Options{Workers: 2})
	results := ex.Run(context.Background(), []Input{FileInput{Root: in, Rel: "photo.jpg"}}, instructions, out)

	artifacts, errs := collect(t, results)
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if len(artifacts) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(artifacts))
	}

	byPath := make(map[string]*Artifact, len(artifacts))
	for _, a := range artifacts {
		byPath[a.Path] = a
	}

	cropped, ok := byPath[filepath.Join(out, "photo-w100-h100-fgrayscale.jpg")]
	if !ok {
		t.Fatalf("missing cropped artifact, got paths %v", paths(artifacts))
	}
	if w, h := decodeDims(t, cropped.Data); w != 100 || h != 100 {
		t.Fatalf("expected 100x100 crop, got %dx%d", w, h)
	}
	if cropped.Width != 100 || cropped.Height != 100 {
		t.Fatalf("artifact dimensions %dx%d disagree with the pixels", cropped.Width, cropped.Height)
	}

	brightened, ok := byPath[filepath.Join(out, "photo-b20-q90.jpg")]
	if !ok {
		t.Fatalf("missing brightened artifact, got paths %v", paths(artifacts))
	}
	if w, h := decodeDims(t, brightened.Data); w != 300 || h != 200 {
		t.Fatalf("expected untouched 300x200 size, got %dx%d", w, h)
	}
	if brightened.Ext != ".jpg" {
		t.Fatalf("expected original extension .jpg, got %q", brightened.Ext)
	}
}

func paths(artifacts []*Artifact) []string {
	out := make([]string, len(artifacts))
	for i, a := range artifacts {
		out[i] = a.Path
	}
	return out
}

func TestRunMirrorsSubdirectories(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	writeImage(t, filepath.Join(in, "album", "summer", "pic.png"), 80, 40, imaging.PNG)

	instructions := buildAll(t, instruction.NewBuilder().Resize(40, 0))

	ex := New(engine.New(), Options{})
	results := ex.Run(context.Background(), []Input{FileInput{Root: in, Rel: "album/summer/pic.png"}}, instructions, out)

	artifacts, errs := collect(t, results)
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if len(artifacts) != 1 {
		t.Fatalf("expected 1 artifact, got %d", len(artifacts))
	}

	want := filepath.Join(out, "album", "summer", "pic-w40.png")
	if artifacts[0].Path != want {
		t.Fatalf("expected path %q, got %q", want, artifacts[0].Path)
	}

	info, err := os.Stat(filepath.Join(out, "album", "summer"))
	if err != nil || !info.IsDir() {
		t.Fatalf("expected mirrored destination dir, stat: %v", err)
	}
}

func TestRunSkipsEmptyPath(t *testing.T) {
	out := t.TempDir()
	instructions := buildAll(t, instruction.NewBuilder().Resize(10, 10))

	ex := New(engine.New(), Options{})
	results := ex.Run(context.Background(), []Input{FileInput{Root: out, Rel: ""}}, instructions, out)

	artifacts, errs := collect(t, results)
	if len(artifacts) != 0 || len(errs) != 0 {
		t.Fatalf("expected a silent skip, got %d artifacts and %v", len(artifacts), errs)
	}
}

func TestRunSkipsUnresolvableExtension(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	writeImage(t, filepath.Join(in, "scan.bmp"), 60, 60, imaging.BMP)

	instructions := buildAll(t, instruction.NewBuilder().
		Resize(10, 10).And().Brighten(5))

	ex := New(engine.New(), Options{})
	results := ex.Run(context.Background(), []Input{FileInput{Root: in, Rel: "scan.bmp"}}, instructions, out)

	artifacts, errs := collect(t, results)
	if len(artifacts) != 0 || len(errs) != 0 {
		t.Fatalf("expected zero artifacts for .bmp, got %d artifacts and %v", len(artifacts), errs)
	}
}

func TestRunFailuresStayPerInput(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	writeImage(t, filepath.Join(in, "good.jpg"), 50, 50, imaging.JPEG)
	if err := os.WriteFile(filepath.Join(in, "bad.jpg"), []byte("garbage"), 0o644); err != nil {
		t.Fatalf("failed to write corrupt file: %v", err)
	}

	instructions := buildAll(t, instruction.NewBuilder().Resize(25, 25))

	ex := New(engine.New(), Options{})
	results := ex.Run(context.Background(), []Input{
		FileInput{Root: in, Rel: "bad.jpg"},
		FileInput{Root: in, Rel: "good.jpg"},
		FileInput{Root: in, Rel: "missing.jpg"},
	}, instructions, out)

	artifacts, errs := collect(t, results)
	if len(artifacts) != 1 {
		t.Fatalf("expected the good input to survive, got %d artifacts", len(artifacts))
	}
	if len(errs) != 2 {
		t.Fatalf("expected two failures, got %v", errs)
	}
	joined := errors.Join(errs...).Error()
	if !strings.Contains(joined, "bad.jpg") || !strings.Contains(joined, "missing.jpg") {
		t.Fatalf("expected failures to name their sources, got %q", joined)
	}
}

func TestRunEnsureDirFailureIsFatalPerInput(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	writeImage(t, filepath.Join(in, "blocked", "a.jpg"), 40, 40, imaging.JPEG)
	writeImage(t, filepath.Join(in, "open", "b.jpg"), 40, 40, imaging.JPEG)

	instructions := buildAll(t, instruction.NewBuilder().Resize(20, 20))

	ex := New(engine.New(), Options{
		EnsureDir: func(dir string) error {
			if strings.Contains(dir, "blocked") {
				return errors.New("denied")
			}
			return os.MkdirAll(dir, 0o755)
		},
	})
	results := ex.Run(context.Background(), []Input{
		FileInput{Root: in, Rel: "blocked/a.jpg"},
		FileInput{Root: in, Rel: "open/b.jpg"},
	}, instructions, out)

	artifacts, errs := collect(t, results)
	if len(artifacts) != 1 {
		t.Fatalf("expected one artifact from the open input, got %d", len(artifacts))
	}
	if len(errs) != 1 || !strings.Contains(errs[0].Error(), "blocked") {
		t.Fatalf("expected one destination dir failure, got %v", errs)
	}
}

func TestRunStableNamesForIdenticalInstructions(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	writeImage(t, filepath.Join(in, "pic.jpg"), 50, 50, imaging.JPEG)

	instructions := buildAll(t, instruction.NewBuilder().
		Resize(25, 25).And().Resize(25, 25))

	ex := New(engine.New(), Options{})
	results := ex.Run(context.Background(), []Input{FileInput{Root: in, Rel: "pic.jpg"}}, instructions, out)

	artifacts, errs := collect(t, results)
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if len(artifacts) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(artifacts))
	}
	if artifacts[0].Path != artifacts[1].Path {
		t.Fatalf("identical instructions must map to the same name, got %q and %q", artifacts[0].Path, artifacts[1].Path)
	}
}

// readSeekNopCloser is a pre-consumed seekable stream, standing in for a
// host that already read the source once.
type readSeekNopCloser struct {
	*bytes.Reader
}

func (readSeekNopCloser) Close() error { return nil }

type consumedInput struct {
	rel  string
	data []byte
}

func (c consumedInput) Path() string { return c.rel }

func (c consumedInput) Open(ctx context.Context) (io.ReadCloser, error) {
	r := bytes.NewReader(c.data)
	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, err
	}
	return readSeekNopCloser{r}, nil
}

func TestRunRewindsSeekableStreams(t *testing.T) {
	out := t.TempDir()

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.New(30, 30, color.NRGBA{B: 255, A: 255}), imaging.PNG); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}

	instructions := buildAll(t, instruction.NewBuilder().Resize(15, 15))

	ex := New(engine.New(), Options{})
	results := ex.Run(context.Background(), []Input{consumedInput{rel: "deep.png", data: buf.Bytes()}}, instructions, out)

	artifacts, errs := collect(t, results)
	if len(errs) != 0 {
		t.Fatalf("expected the stream to be rewound, got %v", errs)
	}
	if len(artifacts) != 1 {
		t.Fatalf("expected 1 artifact, got %d", len(artifacts))
	}
}

func TestRunMaxSourceBytes(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	writeImage(t, filepath.Join(in, "big.jpg"), 200, 200, imaging.JPEG)

	instructions := buildAll(t, instruction.NewBuilder().Resize(10, 10))

	ex := New(engine.New(), Options{MaxSourceBytes: 16})
	results := ex.Run(context.Background(), []Input{FileInput{Root: in, Rel: "big.jpg"}}, instructions, out)

	artifacts, errs := collect(t, results)
	if len(artifacts) != 0 {
		t.Fatalf("expected no artifacts over the size cap, got %d", len(artifacts))
	}
	if len(errs) != 1 || !strings.Contains(errs[0].Error(), "exceeds") {
		t.Fatalf("expected a size cap error, got %v", errs)
	}
}

func TestRunCanceledContext(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	writeImage(t, filepath.Join(in, "pic.jpg"), 50, 50, imaging.JPEG)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	instructions := buildAll(t, instruction.NewBuilder().Resize(25, 25))

	ex := New(engine.New(), Options{})
	results := ex.Run(ctx, []Input{FileInput{Root: in, Rel: "pic.jpg"}}, instructions, out)

	for range results {
	}
}
