// Package executor runs batches: every (input, instruction) pairing is
// rendered on a bounded worker pool and emitted as soon as it is done.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/renditionlab/renditions/internal/codec"
	"github.com/renditionlab/renditions/internal/engine"
	"github.com/renditionlab/renditions/internal/instruction"
)

// Input is one batch source. Path is the source path relative to the input
// root, slash separated, empty when unknown. Open returns a stream of the
// source bytes; the executor rewinds seekable streams, reads them once and
// closes them.
type Input interface {
	Path() string
	Open(ctx context.Context) (io.ReadCloser, error)
}

// FileInput is the filesystem Input used by the CLI and tests.
type FileInput struct {
	Root string
	Rel  string
}

func (f FileInput) Path() string { return f.Rel }

func (f FileInput) Open(ctx context.Context) (io.ReadCloser, error) {
	return os.Open(filepath.Join(f.Root, filepath.FromSlash(f.Rel)))
}

// Artifact is one produced rendition. Path is the destination under the
// output root, slash separated, derived as basename + instruction suffix +
// original extension in the mirrored source directory. The host owns
// writing Data there.
type Artifact struct {
	Source string
	Path   string
	Ext    string
	Data   []byte
	Width  int
	Height int
}

// Result is one batch outcome: an artifact, or the error that failed its
// pairing or its whole input. Source is always set.
type Result struct {
	Source   string
	Artifact *Artifact
	Err      error
}

// Options tune a run.
type Options struct {
	// Workers caps concurrent pairings. Zero means runtime.NumCPU().
	Workers int

	// EnsureDir creates one mirrored destination directory. It must be
	// idempotent and safe under concurrent calls. Nil means os.MkdirAll;
	// object-store hosts pass a no-op.
	EnsureDir func(dir string) error

	// MaxSourceBytes caps how much of one source is read. Zero means no
	// cap.
	MaxSourceBytes int64
}

// Executor fans (inputs x instructions) out over a worker pool.
type Executor struct {
	engine *engine.Engine
	opts   Options
}

// New creates an executor around eng.
func New(eng *engine.Engine, opts Options) *Executor {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.EnsureDir == nil {
		opts.EnsureDir = func(dir string) error {
			return os.MkdirAll(filepath.FromSlash(dir), 0o755)
		}
	}
	return &Executor{engine: eng, opts: opts}
}

// pairing is one unit of work for the pool.
type pairing struct {
	src  []byte
	rel  string
	inst instruction.Instruction
	c    codec.Codec
	dest string
	ext  string
}

// Run starts the batch and returns the result channel immediately. One
// Result arrives per rendered pairing plus one per failed input, unordered
// across inputs, and the channel closes when the batch is done. Inputs with
// an empty path and pairings without a resolvable output format are skipped
// silently. A failed pairing never aborts the rest; canceling ctx abandons
// the run and still closes the channel.
func (ex *Executor) Run(ctx context.Context, inputs []Input, instructions []instruction.Instruction, outputRoot string) <-chan Result {
	results := make(chan Result)
	jobs := make(chan pairing)

	var wg sync.WaitGroup
	wg.Add(ex.opts.Workers)
	for i := 0; i < ex.opts.Workers; i++ {
		go func() {
			defer wg.Done()
			for p := range jobs {
				ex.emit(ctx, results, ex.renderPairing(ctx, p))
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, in := range inputs {
			if ctx.Err() != nil {
				return
			}
			ex.feedInput(ctx, in, instructions, outputRoot, jobs, results)
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

// feedInput prepares one input and queues its pairings. Preparation errors
// are fatal for this input only.
func (ex *Executor) feedInput(ctx context.Context, in Input, instructions []instruction.Instruction, outputRoot string, jobs chan<- pairing, results chan<- Result) {
	rel := in.Path()
	if rel == "" {
		// An input without a source path produces nothing.
		return
	}

	destDir := path.Join(outputRoot, path.Dir(rel))
	if err := ex.opts.EnsureDir(destDir); err != nil {
		ex.emit(ctx, results, Result{Source: rel, Err: fmt.Errorf("failed to create destination dir %s: %w", destDir, err)})
		return
	}

	src, err := ex.readSource(ctx, in)
	if err != nil {
		ex.emit(ctx, results, Result{Source: rel, Err: err})
		return
	}

	ext := path.Ext(rel)
	base := strings.TrimSuffix(path.Base(rel), ext)
	for _, inst := range instructions {
		c, ok := codec.Resolve(ext, inst.JPEGQuality)
		if !ok {
			// No output codec for this extension.
			continue
		}
		p := pairing{
			src:  src,
			rel:  rel,
			inst: inst,
			c:    c,
			dest: path.Join(destDir, base+inst.Suffix()+ext),
			ext:  ext,
		}
		select {
		case jobs <- p:
		case <-ctx.Done():
			return
		}
	}
}

// readSource rewinds the stream when it supports seeking and drains it
// once. Pairings of one input then share the bytes through independent
// readers.
func (ex *Executor) readSource(ctx context.Context, in Input) ([]byte, error) {
	rc, err := in.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open source %s: %w", in.Path(), err)
	}
	defer rc.Close()

	if s, ok := rc.(io.Seeker); ok {
		if _, err := s.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("failed to rewind source %s: %w", in.Path(), err)
		}
	}

	r := io.Reader(rc)
	if ex.opts.MaxSourceBytes > 0 {
		r = io.LimitReader(rc, ex.opts.MaxSourceBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read source %s: %w", in.Path(), err)
	}
	if ex.opts.MaxSourceBytes > 0 && int64(len(data)) > ex.opts.MaxSourceBytes {
		return nil, fmt.Errorf("source %s exceeds %d bytes", in.Path(), ex.opts.MaxSourceBytes)
	}
	return data, nil
}

func (ex *Executor) renderPairing(ctx context.Context, p pairing) Result {
	data, w, h, err := ex.engine.Apply(ctx, bytes.NewReader(p.src), p.inst, p.c)
	if err != nil {
		return Result{Source: p.rel, Err: fmt.Errorf("failed to render %s to %s: %w", p.rel, p.dest, err)}
	}
	return Result{
		Source: p.rel,
		Artifact: &Artifact{
			Source: p.rel,
			Path:   p.dest,
			Ext:    p.ext,
			Data:   data,
			Width:  w,
			Height: h,
		},
	}
}

func (ex *Executor) emit(ctx context.Context, results chan<- Result, r Result) {
	select {
	case results <- r:
	case <-ctx.Done():
	}
}
