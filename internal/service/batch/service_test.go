package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/renditionlab/renditions/internal/engine"
	"github.com/renditionlab/renditions/internal/metrics"
	"github.com/renditionlab/renditions/internal/model"
	"github.com/renditionlab/renditions/internal/repository/job"
)

func TestMain(m *testing.M) {
	zlog.Init()
	os.Exit(m.Run())
}

// memStorage keeps objects in a map keyed by slash path.
type memStorage struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool
}

func newMemStorage() *memStorage {
	return &memStorage{files: map[string][]byte{}, dirs: map[string]bool{}}
}

func (m *memStorage) List(_ context.Context, root string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := root + "/"
	var rels []string
	for p := range m.files {
		if strings.HasPrefix(p, prefix) {
			rels = append(rels, strings.TrimPrefix(p, prefix))
		}
	}
	sort.Strings(rels)
	return rels, nil
}

func (m *memStorage) Open(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("open %s: no such object", path)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStorage) Save(_ context.Context, path string, src io.Reader, _ int64) (string, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = data
	return path, nil
}

func (m *memStorage) EnsureDir(dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[dir] = true
	return nil
}

func (m *memStorage) saved() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var paths []string
	for p := range m.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// memRepo records jobs, status transitions, and rendition rows.
type memRepo struct {
	mu         sync.Mutex
	jobs       map[uuid.UUID]model.Job
	statuses   map[uuid.UUID][]string
	renditions []model.Rendition
}

func newMemRepo() *memRepo {
	return &memRepo{jobs: map[uuid.UUID]model.Job{}, statuses: map[uuid.UUID][]string{}}
}

func (m *memRepo) CreateJob(_ context.Context, j model.Job) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New()
	j.ID = id
	m.jobs[id] = j
	return id, nil
}

func (m *memRepo) GetJob(_ context.Context, id uuid.UUID) (model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return model.Job{}, job.ErrJobNotFound
	}
	return j, nil
}

func (m *memRepo) SetJobStatus(_ context.Context, id uuid.UUID, status, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return job.ErrJobNotFound
	}
	j.Status = status
	j.Error = errMsg
	m.jobs[id] = j
	m.statuses[id] = append(m.statuses[id], status)
	return nil
}

func (m *memRepo) SaveRendition(_ context.Context, r model.Rendition) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r.ID = uuid.New()
	m.renditions = append(m.renditions, r)
	return r.ID, nil
}

func (m *memRepo) ListRenditions(_ context.Context, jobID uuid.UUID) ([]model.Rendition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rows []model.Rendition
	for _, r := range m.renditions {
		if r.JobID == jobID {
			rows = append(rows, r)
		}
	}
	return rows, nil
}

func (m *memRepo) byStatus(status string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, r := range m.renditions {
		if r.Status == status {
			n++
		}
	}
	return n
}

// memProducer records published jobs and can be made to fail.
type memProducer struct {
	mu        sync.Mutex
	published []model.Job
	err       error
}

func (m *memProducer) Produce(_ context.Context, j model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, j)
	return nil
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := imaging.New(w, h, image.White.C)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newService(st *memStorage, repo *memRepo, p *memProducer) *Service {
	return NewService(st, repo, p, engine.New(), metrics.New(), Options{Workers: 2})
}

func intp(v int) *int { return &v }

func TestEnqueuePublishesPendingJob(t *testing.T) {
	st := newMemStorage()
	repo := newMemRepo()
	prod := &memProducer{}
	svc := newService(st, repo, prod)

	rcps := []model.Recipe{{Resize: &model.ResizeSpec{Width: 100, Height: 100}}}

	j, err := svc.Enqueue(context.Background(), "in", "out", "thumbs", rcps)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if j.ID == uuid.Nil {
		t.Fatal("job ID not assigned")
	}
	if j.Status != model.StatusPending {
		t.Fatalf("status = %q, want %q", j.Status, model.StatusPending)
	}

	if len(prod.published) != 1 {
		t.Fatalf("published %d jobs, want 1", len(prod.published))
	}
	if prod.published[0].ID != j.ID {
		t.Fatalf("published job ID = %s, want %s", prod.published[0].ID, j.ID)
	}

	stored, err := repo.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stored.InputRoot != "in" || stored.OutputRoot != "out" || stored.Group != "thumbs" {
		t.Fatalf("stored job roots = %+v", stored)
	}
}

func TestEnqueueRejectsBadRecipes(t *testing.T) {
	repo := newMemRepo()
	prod := &memProducer{}
	svc := newService(newMemStorage(), repo, prod)

	rcps := []model.Recipe{{Filters: []string{"vaporwave"}}}

	if _, err := svc.Enqueue(context.Background(), "in", "out", "", rcps); err == nil {
		t.Fatal("expected error for unknown filter")
	}
	if len(repo.jobs) != 0 {
		t.Fatalf("created %d jobs, want 0", len(repo.jobs))
	}
	if len(prod.published) != 0 {
		t.Fatalf("published %d jobs, want 0", len(prod.published))
	}
}

func TestEnqueueProducerFailureMarksJobFailed(t *testing.T) {
	repo := newMemRepo()
	prod := &memProducer{err: errors.New("broker down")}
	svc := newService(newMemStorage(), repo, prod)

	rcps := []model.Recipe{{Brightness: intp(10)}}

	_, err := svc.Enqueue(context.Background(), "in", "out", "", rcps)
	if err == nil {
		t.Fatal("expected publish error")
	}

	if len(repo.jobs) != 1 {
		t.Fatalf("created %d jobs, want 1", len(repo.jobs))
	}
	for id := range repo.jobs {
		if got := repo.jobs[id].Status; got != model.StatusFailed {
			t.Fatalf("job status = %q, want %q", got, model.StatusFailed)
		}
	}
}

func TestRunBatchRendersAndRecords(t *testing.T) {
	st := newMemStorage()
	st.files["in/photo.png"] = encodePNG(t, 200, 100)
	st.files["in/album/pic.png"] = encodePNG(t, 80, 80)

	repo := newMemRepo()
	svc := newService(st, repo, &memProducer{})

	rcps := []model.Recipe{
		{Resize: &model.ResizeSpec{Width: 40, Height: 40}},
		{Filters: []string{"grayscale"}},
	}

	j, err := svc.Enqueue(context.Background(), "in", "out", "", rcps)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	summary, err := svc.RunBatch(context.Background(), j)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}

	if summary.Inputs != 2 || summary.Rendered != 4 || summary.Failed != 0 {
		t.Fatalf("summary = %+v, want 2 inputs, 4 rendered, 0 failed", summary)
	}

	want := []string{
		"out/album/pic-fgrayscale.png",
		"out/album/pic-w40-h40.png",
		"out/photo-fgrayscale.png",
		"out/photo-w40-h40.png",
	}
	var got []string
	for _, p := range st.saved() {
		if strings.HasPrefix(p, "out/") {
			got = append(got, p)
		}
	}
	if len(got) != len(want) {
		t.Fatalf("saved outputs = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("saved[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	rows, err := svc.Renditions(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("Renditions: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("recorded %d renditions, want 4", len(rows))
	}
	for _, r := range rows {
		if r.Status != model.StatusDone {
			t.Fatalf("rendition %s status = %q", r.DestPath, r.Status)
		}
		if r.SizeBytes == 0 || r.Width == 0 || r.Height == 0 {
			t.Fatalf("rendition %s missing dimensions: %+v", r.DestPath, r)
		}
	}

	history := repo.statuses[j.ID]
	if len(history) != 2 || history[0] != model.StatusRunning || history[1] != model.StatusDone {
		t.Fatalf("status history = %v, want [running done]", history)
	}
}

func TestRunBatchRecordsFailuresPerPairing(t *testing.T) {
	st := newMemStorage()
	st.files["in/good.png"] = encodePNG(t, 60, 60)
	st.files["in/bad.jpg"] = []byte("not an image")

	repo := newMemRepo()
	svc := newService(st, repo, &memProducer{})

	rcps := []model.Recipe{{Resize: &model.ResizeSpec{Width: 30, Height: 30}}}

	j, err := svc.Enqueue(context.Background(), "in", "out", "", rcps)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	summary, err := svc.RunBatch(context.Background(), j)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}

	if summary.Rendered != 1 || summary.Failed != 1 {
		t.Fatalf("summary = %+v, want 1 rendered, 1 failed", summary)
	}
	if n := repo.byStatus(model.StatusDone); n != 1 {
		t.Fatalf("done renditions = %d, want 1", n)
	}
	if n := repo.byStatus(model.StatusFailed); n != 1 {
		t.Fatalf("failed renditions = %d, want 1", n)
	}

	// A batch that ran to completion is done even when pairings failed.
	stored, _ := repo.GetJob(context.Background(), j.ID)
	if stored.Status != model.StatusDone {
		t.Fatalf("job status = %q, want %q", stored.Status, model.StatusDone)
	}
}

func TestRunBatchUnknownJob(t *testing.T) {
	svc := newService(newMemStorage(), newMemRepo(), &memProducer{})

	_, err := svc.RunBatch(context.Background(), model.Job{ID: uuid.New()})
	if !errors.Is(err, job.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestRenderAppliesEveryRecipe(t *testing.T) {
	svc := newService(newMemStorage(), newMemRepo(), &memProducer{})

	rcps := []model.Recipe{
		{Resize: &model.ResizeSpec{Width: 50, Height: 50}},
		{Filters: []string{"invert"}},
	}

	out, err := svc.Render(context.Background(), "photo.png", bytes.NewReader(encodePNG(t, 100, 100)), rcps)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("rendered %d outputs, want 2", len(out))
	}

	if out[0].Name != "photo-w50-h50.png" {
		t.Fatalf("out[0].Name = %q", out[0].Name)
	}
	if out[0].Width != 50 || out[0].Height != 50 {
		t.Fatalf("out[0] = %dx%d, want 50x50", out[0].Width, out[0].Height)
	}
	if out[1].Name != "photo-finvert.png" {
		t.Fatalf("out[1].Name = %q", out[1].Name)
	}
	if len(out[1].Data) == 0 {
		t.Fatal("out[1] has no data")
	}
}

func TestRenderRejectsUnsupportedExtension(t *testing.T) {
	svc := newService(newMemStorage(), newMemRepo(), &memProducer{})

	rcps := []model.Recipe{{Brightness: intp(10)}}

	_, err := svc.Render(context.Background(), "doc.txt", bytes.NewReader([]byte("x")), rcps)
	if err == nil || !strings.Contains(err.Error(), "no encoder") {
		t.Fatalf("err = %v, want no encoder error", err)
	}
}

func TestRenditionsUnknownJob(t *testing.T) {
	svc := newService(newMemStorage(), newMemRepo(), &memProducer{})

	_, err := svc.Renditions(context.Background(), uuid.New())
	if !errors.Is(err, job.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}
