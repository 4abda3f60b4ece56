package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/renditionlab/renditions/internal/codec"
	"github.com/renditionlab/renditions/internal/engine"
	"github.com/renditionlab/renditions/internal/executor"
	"github.com/renditionlab/renditions/internal/metrics"
	"github.com/renditionlab/renditions/internal/model"
	"github.com/renditionlab/renditions/internal/recipes"
)

// ErrInvalidRecipes marks recipe validation failures so transport
// layers can map them to client errors.
var ErrInvalidRecipes = errors.New("invalid recipes")

// Storage defines the interface for listing sources and persisting
// rendered output. The local filesystem and MinIO backends both
// implement it; the backend is chosen at startup.
type Storage interface {
	List(ctx context.Context, root string) ([]string, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Save(ctx context.Context, path string, src io.Reader, size int64) (string, error)
	EnsureDir(dir string) error
}

// repository defines the interface for persisting jobs and renditions.
type repository interface {
	CreateJob(ctx context.Context, job model.Job) (uuid.UUID, error)
	GetJob(ctx context.Context, id uuid.UUID) (model.Job, error)
	SetJobStatus(ctx context.Context, id uuid.UUID, status, errMsg string) error
	SaveRendition(ctx context.Context, r model.Rendition) (uuid.UUID, error)
	ListRenditions(ctx context.Context, jobID uuid.UUID) ([]model.Rendition, error)
}

// producer defines the interface for publishing accepted jobs to a
// message broker (e.g. Kafka).
type producer interface {
	Produce(ctx context.Context, job model.Job) error
}

// Options bound the per-batch executor.
type Options struct {
	Workers        int
	MaxSourceBytes int64
}

// Service provides business logic for batch rendering. It accepts jobs
// over the API, publishes them for asynchronous execution, and renders
// them by pairing every stored source with every instruction.
type Service struct {
	storage  Storage
	repo     repository
	producer producer
	engine   *engine.Engine
	metrics  *metrics.Metrics
	opts     Options
}

// NewService creates a new Service with the given collaborators.
func NewService(st Storage, r repository, p producer, eng *engine.Engine, m *metrics.Metrics, opts Options) *Service {
	return &Service{
		storage:  st,
		repo:     r,
		producer: p,
		engine:   eng,
		metrics:  m,
		opts:     opts,
	}
}

// Enqueue validates the recipes, persists a pending job, and publishes
// it for asynchronous execution. Returns the created job.
func (s *Service) Enqueue(ctx context.Context, inputRoot, outputRoot, group string, rcps []model.Recipe) (model.Job, error) {
	// Reject malformed recipes before anything is persisted.
	if _, err := recipes.Build(rcps); err != nil {
		return model.Job{}, fmt.Errorf("%w: %w", ErrInvalidRecipes, err)
	}

	job := model.Job{
		InputRoot:  inputRoot,
		OutputRoot: outputRoot,
		Group:      group,
		Recipes:    rcps,
		Status:     model.StatusPending,
	}

	id, err := s.repo.CreateJob(ctx, job)
	if err != nil {
		return model.Job{}, fmt.Errorf("failed to create job: %w", err)
	}
	job.ID = id

	if err := s.producer.Produce(ctx, job); err != nil {
		if stErr := s.repo.SetJobStatus(ctx, id, model.StatusFailed, "failed to publish job"); stErr != nil {
			zlog.Logger.Err(stErr).Str("job_id", id.String()).Msg("failed to mark job failed")
		}
		return model.Job{}, fmt.Errorf("failed to publish job: %w", err)
	}

	return job, nil
}

// RunBatch executes a persisted job end to end: marks it running,
// renders every source and instruction pairing, records renditions,
// and stores the terminal status. Per-pairing failures are recorded
// and counted but do not fail the batch.
func (s *Service) RunBatch(ctx context.Context, job model.Job) (model.BatchSummary, error) {
	if err := s.repo.SetJobStatus(ctx, job.ID, model.StatusRunning, ""); err != nil {
		return model.BatchSummary{}, fmt.Errorf("failed to mark job running: %w", err)
	}

	start := time.Now()
	s.metrics.BatchStarted()

	summary, runErr := s.render(ctx, job)

	status := model.StatusDone
	errMsg := ""
	if runErr != nil {
		status = model.StatusFailed
		errMsg = runErr.Error()
	}
	s.metrics.BatchFinished(status, time.Since(start).Seconds())

	if err := s.repo.SetJobStatus(ctx, job.ID, status, errMsg); err != nil {
		zlog.Logger.Err(err).Str("job_id", job.ID.String()).Msg("failed to update job status")
	}

	zlog.Logger.Info().
		Str("job_id", job.ID.String()).
		Int("inputs", summary.Inputs).
		Int("rendered", summary.Rendered).
		Int("failed", summary.Failed).
		Str("status", status).
		Msg("batch finished")

	return summary, runErr
}

// render lists the sources, runs the executor over every pairing, and
// persists artifacts and rendition rows as results arrive.
func (s *Service) render(ctx context.Context, job model.Job) (model.BatchSummary, error) {
	instructions, err := recipes.Build(job.Recipes)
	if err != nil {
		return model.BatchSummary{}, fmt.Errorf("failed to build instructions: %w", err)
	}

	rels, err := s.storage.List(ctx, job.InputRoot)
	if err != nil {
		return model.BatchSummary{}, fmt.Errorf("failed to list inputs: %w", err)
	}

	inputs := make([]executor.Input, 0, len(rels))
	for _, rel := range rels {
		inputs = append(inputs, storageInput{store: s.storage, root: job.InputRoot, rel: rel})
	}

	summary := model.BatchSummary{Inputs: len(inputs)}

	exec := executor.New(s.engine, executor.Options{
		Workers:        s.opts.Workers,
		EnsureDir:      s.storage.EnsureDir,
		MaxSourceBytes: s.opts.MaxSourceBytes,
	})

	for res := range exec.Run(ctx, inputs, instructions, job.OutputRoot) {
		if res.Err != nil {
			summary.Failed++
			s.metrics.PairFailed()
			s.recordRendition(ctx, model.Rendition{
				JobID:      job.ID,
				SourcePath: res.Source,
				Status:     model.StatusFailed,
				Error:      res.Err.Error(),
			})
			zlog.Logger.Err(res.Err).Str("source", res.Source).Msg("rendition failed")
			continue
		}

		art := res.Artifact
		if _, err := s.storage.Save(ctx, art.Path, bytes.NewReader(art.Data), int64(len(art.Data))); err != nil {
			summary.Failed++
			s.metrics.PairFailed()
			s.recordRendition(ctx, model.Rendition{
				JobID:      job.ID,
				SourcePath: art.Source,
				DestPath:   art.Path,
				Status:     model.StatusFailed,
				Error:      err.Error(),
			})
			zlog.Logger.Err(err).Str("dest", art.Path).Msg("failed to save rendition")
			continue
		}

		summary.Rendered++
		s.metrics.PairRendered(len(art.Data), art.Width, art.Height)
		s.recordRendition(ctx, model.Rendition{
			JobID:      job.ID,
			SourcePath: art.Source,
			DestPath:   art.Path,
			Extension:  art.Ext,
			SizeBytes:  int64(len(art.Data)),
			Width:      art.Width,
			Height:     art.Height,
			Status:     model.StatusDone,
		})
	}

	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("batch interrupted: %w", err)
	}

	return summary, nil
}

// recordRendition persists one rendition row. A persistence failure is
// logged but does not abort the batch.
func (s *Service) recordRendition(ctx context.Context, r model.Rendition) {
	if _, err := s.repo.SaveRendition(ctx, r); err != nil {
		zlog.Logger.Err(err).Str("source", r.SourcePath).Msg("failed to record rendition")
	}
}

// Rendered is one synchronously rendered output.
type Rendered struct {
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Data   []byte `json:"-"`
}

// Render applies the recipes to a single uploaded image in memory and
// returns one output per recipe, without touching storage or the queue.
func (s *Service) Render(ctx context.Context, filename string, src io.Reader, rcps []model.Recipe) ([]Rendered, error) {
	instructions, err := recipes.Build(rcps)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecipes, err)
	}

	ext := path.Ext(filename)
	base := strings.TrimSuffix(path.Base(filename), ext)
	if base == "" || ext == "" {
		return nil, fmt.Errorf("filename %q has no usable base and extension", filename)
	}

	reader := io.Reader(src)
	if s.opts.MaxSourceBytes > 0 {
		reader = io.LimitReader(src, s.opts.MaxSourceBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if s.opts.MaxSourceBytes > 0 && int64(len(data)) > s.opts.MaxSourceBytes {
		return nil, fmt.Errorf("upload exceeds %d bytes", s.opts.MaxSourceBytes)
	}

	out := make([]Rendered, 0, len(instructions))
	for _, inst := range instructions {
		c, ok := codec.Resolve(ext, inst.JPEGQuality)
		if !ok {
			return nil, fmt.Errorf("no encoder for extension %q", ext)
		}

		blob, w, h, err := s.engine.Apply(ctx, bytes.NewReader(data), inst, c)
		if err != nil {
			return nil, fmt.Errorf("failed to render %s: %w", filename, err)
		}

		out = append(out, Rendered{
			Name:   base + inst.Suffix() + ext,
			Width:  w,
			Height: h,
			Data:   blob,
		})
	}

	return out, nil
}

// Job returns a persisted job by ID.
func (s *Service) Job(ctx context.Context, id uuid.UUID) (model.Job, error) {
	j, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return model.Job{}, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

// Renditions returns the rendition rows recorded for a job.
func (s *Service) Renditions(ctx context.Context, id uuid.UUID) ([]model.Rendition, error) {
	if _, err := s.repo.GetJob(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	rows, err := s.repo.ListRenditions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list renditions: %w", err)
	}
	return rows, nil
}

// storageInput adapts one stored source to the executor input contract.
type storageInput struct {
	store Storage
	root  string
	rel   string
}

func (in storageInput) Path() string { return in.rel }

func (in storageInput) Open(ctx context.Context) (io.ReadCloser, error) {
	return in.store.Open(ctx, path.Join(in.root, in.rel))
}
