// Package api exposes the task operator over HTTP with gin: task control, file
// upload and inspection, downloads, the server-sent event stream and metrics.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RouterOptions configures NewRouter. Events and Metrics are optional.
type RouterOptions struct {
	Mode        string
	CORSOrigins []string
	Events      gin.HandlerFunc
	Metrics     http.Handler
}

// NewRouter builds the gin engine with middleware and every route registered.
func NewRouter(h *Handler, opts RouterOptions) *gin.Engine {
	switch opts.Mode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
		gin.SetMode(opts.Mode)
	}

	r := gin.New()
	r.Use(RecoveryMiddleware())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware())
	if len(opts.CORSOrigins) > 0 {
		r.Use(CORSMiddleware(opts.CORSOrigins))
	}

	api := r.Group("/api")
	api.GET("/health", h.Health)
	api.POST("/upload", h.Upload)
	api.POST("/inspect", h.Inspect)
	api.GET("/download/:filename", h.Download)

	tasks := api.Group("/tasks")
	tasks.POST("", h.StartTask)
	tasks.GET("", h.ListTasks)
	tasks.POST("/cleanup", h.CleanupTasks)
	tasks.GET("/:id/status", h.TaskStatus)
	tasks.GET("/:id/runs", h.ListRuns)
	tasks.POST("/:id/pause", h.control("pause", h.operator.PauseTask))
	tasks.POST("/:id/resume", h.control("resume", h.operator.ResumeTask))
	tasks.POST("/:id/stop", h.control("stop", h.operator.StopTask))
	tasks.POST("/:id/export", h.ExportResults)

	if opts.Events != nil {
		api.GET("/events", opts.Events)
	}
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}
	return r
}
