package batch

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/renditionlab/renditions/internal/api/respond"
	"github.com/renditionlab/renditions/internal/model"
	"github.com/renditionlab/renditions/internal/repository/job"
	batchsvc "github.com/renditionlab/renditions/internal/service/batch"
)

// service defines the interface for batch operations.
type service interface {
	Enqueue(ctx context.Context, inputRoot, outputRoot, group string, rcps []model.Recipe) (model.Job, error)
	Job(ctx context.Context, id uuid.UUID) (model.Job, error)
	Renditions(ctx context.Context, id uuid.UUID) ([]model.Rendition, error)
	Render(ctx context.Context, filename string, src io.Reader, rcps []model.Recipe) ([]batchsvc.Rendered, error)
}

// Handler provides HTTP handlers for batch endpoints.
// It depends on a service interface to perform the business logic and
// on the configured recipe groups for name resolution.
type Handler struct {
	service service
	groups  map[string][]model.Recipe
}

// NewHandler creates a new Handler with the given service and recipe groups.
func NewHandler(s service, groups map[string][]model.Recipe) *Handler {
	return &Handler{service: s, groups: groups}
}

// CreateBatchRequest is the JSON body for enqueueing a batch job.
// Either Group names a configured recipe group or Recipes carries them
// inline, never both.
type CreateBatchRequest struct {
	InputRoot  string         `json:"input_root"`
	OutputRoot string         `json:"output_root"`
	Group      string         `json:"group"`
	Recipes    []model.Recipe `json:"recipes"`
}

// resolveRecipes picks the recipe list from a named group or the inline
// recipes, rejecting requests that provide both or neither.
func (h *Handler) resolveRecipes(group string, rcps []model.Recipe) ([]model.Recipe, error) {
	switch {
	case group != "" && len(rcps) > 0:
		return nil, fmt.Errorf("group and recipes are mutually exclusive")
	case group != "":
		g, ok := h.groups[group]
		if !ok {
			return nil, fmt.Errorf("unknown recipe group %q", group)
		}
		return g, nil
	case len(rcps) > 0:
		return rcps, nil
	default:
		return nil, fmt.Errorf("either group or recipes is required")
	}
}

// CreateBatch handles the HTTP request for enqueueing a batch job.
// It validates the request, persists a pending job, and publishes it
// for asynchronous execution.
func (h *Handler) CreateBatch(c *ginext.Context) {
	var req CreateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		zlog.Logger.Err(err).Msg("failed to decode batch request")
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}

	if req.InputRoot == "" || req.OutputRoot == "" {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("input_root and output_root are required"))
		return
	}

	rcps, err := h.resolveRecipes(req.Group, req.Recipes)
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, err)
		return
	}

	j, err := h.service.Enqueue(c.Request.Context(), req.InputRoot, req.OutputRoot, req.Group, rcps)
	if err != nil {
		if errors.Is(err, batchsvc.ErrInvalidRecipes) {
			respond.Fail(c, http.StatusBadRequest, err)
			return
		}

		zlog.Logger.Err(err).Msg("failed to enqueue batch")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to enqueue batch"))
		return
	}

	zlog.Logger.Printf("batch accepted: %s", j.ID)

	respond.Accepted(c, j)
}

// GetBatch returns a job with its current status.
func (h *Handler) GetBatch(c *ginext.Context) {
	id, err := parseID(c)
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, err)
		return
	}

	j, err := h.service.Job(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			respond.Fail(c, http.StatusNotFound, fmt.Errorf("job not found"))
			return
		}

		zlog.Logger.Err(err).Msg("failed to get job")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to get job"))
		return
	}

	respond.OK(c, j)
}

// GetRenditions returns the rendition rows recorded for a job.
func (h *Handler) GetRenditions(c *ginext.Context) {
	id, err := parseID(c)
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, err)
		return
	}

	rows, err := h.service.Renditions(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			respond.Fail(c, http.StatusNotFound, fmt.Errorf("job not found"))
			return
		}

		zlog.Logger.Err(err).Msg("failed to list renditions")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to list renditions"))
		return
	}

	respond.OK(c, rows)
}

// Render handles the synchronous single-image endpoint. It reads the
// multipart form, applies the recipes in memory, and responds with the
// rendered image, or a zip archive when there is more than one output.
func (h *Handler) Render(c *ginext.Context) {
	if err := c.Request.ParseMultipartForm(32 << 20); err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("parse multipart form failed: %v", err))
		return
	}

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to read the uploaded file")
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("failed to retrieve the file"))
		return
	}
	defer file.Close()

	var rcps []model.Recipe
	if recipesJSON := c.PostForm("recipes"); recipesJSON != "" {
		if err := json.Unmarshal([]byte(recipesJSON), &rcps); err != nil {
			zlog.Logger.Err(err).Msg("failed to unmarshal the recipes")
			respond.Fail(c, http.StatusBadRequest, fmt.Errorf("failed to unmarshal the recipes"))
			return
		}
	}

	rcps, err = h.resolveRecipes(c.PostForm("group"), rcps)
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, err)
		return
	}

	rendered, err := h.service.Render(c.Request.Context(), header.Filename, file, rcps)
	if err != nil {
		if errors.Is(err, batchsvc.ErrInvalidRecipes) {
			respond.Fail(c, http.StatusBadRequest, err)
			return
		}

		zlog.Logger.Err(err).Msg("failed to render the image")
		respond.Fail(c, http.StatusUnprocessableEntity, fmt.Errorf("failed to render: %v", err))
		return
	}

	zlog.Logger.Printf("rendered %s: %d outputs", header.Filename, len(rendered))

	if len(rendered) == 1 {
		c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", rendered[0].Name))
		respond.Blob(c, http.StatusOK, contentTypeFor(rendered[0].Name), rendered[0].Data)
		return
	}

	archive, err := zipRendered(rendered)
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to archive renditions")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to archive renditions"))
		return
	}

	c.Header("Content-Disposition", `attachment; filename="renditions.zip"`)
	respond.Blob(c, http.StatusOK, "application/zip", archive)
}

// parseID extracts and validates the job ID path parameter.
func parseID(c *ginext.Context) (uuid.UUID, error) {
	idStr := c.Param("id")
	if idStr == "" {
		return uuid.Nil, fmt.Errorf("missing id")
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id: %v", err)
	}
	return id, nil
}

// contentTypeFor maps an output filename to its image content type.
func contentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

// zipRendered packs all rendered outputs into one zip archive.
func zipRendered(rendered []batchsvc.Rendered) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, r := range rendered {
		w, err := zw.Create(r.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to add %s: %w", r.Name, err)
		}
		if _, err := w.Write(r.Data); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", r.Name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish archive: %w", err)
	}
	return buf.Bytes(), nil
}
