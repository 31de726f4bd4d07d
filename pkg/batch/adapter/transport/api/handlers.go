package api

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	storage "github.com/tigerroll/promptbatch/pkg/batch/adapter/storage"
	"github.com/tigerroll/promptbatch/pkg/batch/component/step/reader"
	"github.com/tigerroll/promptbatch/pkg/batch/core/application/usecase"
	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
	configbinder "github.com/tigerroll/promptbatch/pkg/batch/support/util/configbinder"
	logger "github.com/tigerroll/promptbatch/pkg/batch/support/util/logger"
)

const bytesPerMB = 1 << 20

var uploadExtensions = map[string]bool{".csv": true, ".xlsx": true, ".xls": true, ".json": true, ".jsonl": true}

// FileLocator resolves a downloadable file name to a path.
type FileLocator interface {
	FindFile(ctx context.Context, name string) (string, error)
}

// Handler serves the task control endpoints.
type Handler struct {
	operator  usecase.TaskOperator
	files     FileLocator
	uploads   storage.StorageConnection
	maxUpload int64
	now       func() time.Time
}

// NewHandler creates a Handler. Uploads are stored on the uploads connection and limited to maxUploadMB.
func NewHandler(operator usecase.TaskOperator, files FileLocator, uploads storage.StorageConnection, maxUploadMB int64) *Handler {
	return &Handler{
		operator:  operator,
		files:     files,
		uploads:   uploads,
		maxUpload: maxUploadMB * bytesPerMB,
		now:       time.Now,
	}
}

// bindJSON decodes the body into a generic object and binds it onto target with
// weak typing, so "10" is accepted for numeric fields. An empty body leaves target untouched.
func bindJSON(c *gin.Context, target interface{}) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	var body map[string]interface{}
	if err := c.ShouldBindJSON(&body); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return configbinder.BindJSON(body, target)
}

// StartTask handles POST /api/tasks.
func (h *Handler) StartTask(c *gin.Context) {
	var req model.StartRequest
	if err := bindJSON(c, &req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	if req.DataFile == "" {
		respondBadRequest(c, "dataFile is required")
		return
	}
	id, err := h.operator.StartTask(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"taskId": id})
}

// ListTasks handles GET /api/tasks.
func (h *Handler) ListTasks(c *gin.Context) {
	tasks, err := h.operator.ListTasks(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if tasks == nil {
		tasks = []model.TaskSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
}

// TaskStatus handles GET /api/tasks/:id/status.
func (h *Handler) TaskStatus(c *gin.Context) {
	report, err := h.operator.GetTaskStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !report.Found {
		c.JSON(http.StatusNotFound, report)
		return
	}
	c.JSON(http.StatusOK, report)
}

// control returns a handler for pause, resume and stop.
func (h *Handler) control(action string, fn func(context.Context, string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := fn(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "taskId": id, "action": action})
	}
}

type cleanupRequest struct {
	MaxAgeDays int `json:"maxAgeDays"`
}

// CleanupTasks handles POST /api/tasks/cleanup. A missing maxAgeDays uses the configured retention.
func (h *Handler) CleanupTasks(c *gin.Context) {
	var req cleanupRequest
	if err := bindJSON(c, &req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	removed, err := h.operator.CleanupTasks(c.Request.Context(), req.MaxAgeDays)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "removed": removed})
}

// ListRuns handles GET /api/tasks/:id/runs.
func (h *Handler) ListRuns(c *gin.Context) {
	runs, err := h.operator.ListRuns(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if runs == nil {
		runs = []*model.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

// ExportResults handles POST /api/tasks/:id/export.
func (h *Handler) ExportResults(c *gin.Context) {
	res, err := h.operator.ExportResults(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":        res.Name,
		"rows":        res.Rows,
		"downloadUrl": "/api/download/" + res.Name,
	})
}

// Download handles GET /api/download/:filename, searching every task directory.
func (h *Handler) Download(c *gin.Context) {
	name := c.Param("filename")
	path, err := h.files.FindFile(c.Request.Context(), name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.FileAttachment(path, name)
}

type inspectRequest struct {
	FilePath string `json:"filePath"`
}

// Inspect handles POST /api/inspect and returns the columns and a preview of a data file.
func (h *Handler) Inspect(c *gin.Context) {
	var req inspectRequest
	if err := bindJSON(c, &req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	if req.FilePath == "" {
		respondBadRequest(c, "filePath is required")
		return
	}
	info, err := reader.Describe(req.FilePath)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"filePath": req.FilePath, "fileInfo": info})
}

// Upload handles POST /api/upload. The multipart field "file" is stored as
// <name>_<unix millis><ext> on the uploads connection and described.
func (h *Handler) Upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		respondBadRequest(c, "no file uploaded")
		return
	}
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if !uploadExtensions[ext] {
		respondBadRequest(c, fmt.Sprintf("unsupported file type %q", ext))
		return
	}
	if h.maxUpload > 0 && fh.Size > h.maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("file exceeds %d MB", h.maxUpload/bytesPerMB)})
		return
	}

	base := strings.TrimSuffix(filepath.Base(fh.Filename), filepath.Ext(fh.Filename))
	name := fmt.Sprintf("%s_%d%s", base, h.now().UnixMilli(), ext)
	src, err := fh.Open()
	if err != nil {
		respondError(c, err)
		return
	}
	defer src.Close()
	ctx := c.Request.Context()
	if err := h.uploads.Upload(ctx, "", name, src, fh.Header.Get("Content-Type")); err != nil {
		respondError(c, err)
		return
	}
	dst, err := h.uploads.Resolve("", name)
	if err != nil {
		respondError(c, err)
		return
	}
	logger.Infof("Uploaded %s (%d bytes) to %s.", fh.Filename, fh.Size, dst)

	info, err := reader.Describe(dst)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"filePath":     dst,
		"originalName": fh.Filename,
		"size":         fh.Size,
		"fileInfo":     info,
	})
}

// Health handles GET /api/health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": h.now().UTC().Format(time.RFC3339)})
}
