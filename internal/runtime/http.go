package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/examecho/examecho-stt/internal/capability"
	"github.com/examecho/examecho-stt/internal/errs"
	"github.com/examecho/examecho-stt/internal/jobstore"
	"github.com/examecho/examecho-stt/internal/stt"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
)

var allowedAudioTypes = []string{
	"audio/wav",
	"audio/x-wav",
	"audio/wave",
	"audio/mpeg",
	"audio/mp4",
	"audio/webm",
	"video/webm",
	"audio/ogg",
}

// api holds what the HTTP routes need. It is separate from Runtime so the
// routes can be served without the bus and telemetry.
type api struct {
	service      *stt.Service
	jobs         *jobstore.Store
	capabilities *capability.Registry
	metrics      http.Handler
	ready        func() bool
	maxUpload    int64
	uploadDir    string
	language     string
	logger       *slog.Logger
}

type transcribeResponse struct {
	JobID       string  `json:"job_id"`
	Text        string  `json:"text"`
	Language    string  `json:"language"`
	Model       string  `json:"model"`
	Empty       bool    `json:"empty"`
	Device      string  `json:"device,omitempty"`
	Chunks      int     `json:"chunks"`
	DurationSec float64 `json:"duration_sec"`
}

type errorResponse struct {
	JobID string `json:"job_id,omitempty"`
	Code  string `json:"code"`
	Kind  string `json:"kind,omitempty"`
	Error string `json:"error"`
}

func (a *api) routes() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), a.requestLogger())
	engine.MaxMultipartMemory = 8 << 20

	engine.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	engine.GET("/readyz", a.handleReady)
	if a.metrics != nil {
		engine.GET("/metrics", gin.WrapH(a.metrics))
	}

	group := engine.Group("/stt")
	group.POST("/transcribe", a.handleTranscribe)
	group.GET("/backends", a.handleBackends)
	group.GET("/jobs", a.handleJobs)
	group.GET("/jobs/:id/events", a.handleJobEvents)
	group.GET("/nodes", a.handleNodes)
	return engine
}

func (a *api) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/healthz" || c.Request.URL.Path == "/metrics" {
			return
		}
		a.logger.Info("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)))
	}
}

func (a *api) handleReady(c *gin.Context) {
	if a.ready != nil && a.ready() {
		c.String(http.StatusOK, "ready")
		return
	}
	c.String(http.StatusServiceUnavailable, "not ready")
}

func (a *api) handleTranscribe(c *gin.Context) {
	if a.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.maxUpload)
	}
	header, err := c.FormFile("audio")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, errorResponse{Code: "UploadTooLarge", Error: err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, errorResponse{Code: "BadRequest", Error: "multipart field \"audio\" is required"})
		return
	}

	path, err := a.saveUpload(header)
	if err != nil {
		var unsupported unsupportedMediaError
		if errors.As(err, &unsupported) {
			c.JSON(http.StatusBadRequest, errorResponse{Code: "UnsupportedMediaType", Error: err.Error()})
			return
		}
		a.logger.Error("failed to persist upload", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "Internal", Error: "failed to store upload"})
		return
	}
	defer os.Remove(path)

	req := stt.Request{
		InputPath: path,
		Language:  c.DefaultQuery("lang", a.language),
		Backend:   c.Query("model"),
	}
	res, err := a.service.Transcribe(c.Request.Context(), req, "http", "")
	if err != nil {
		f := stt.FailureOf(err)
		c.JSON(statusFor(err), errorResponse{JobID: res.JobID, Code: f.Code, Kind: f.Kind, Error: f.Message})
		return
	}

	t := res.Transcript
	c.JSON(http.StatusOK, transcribeResponse{
		JobID:       res.JobID,
		Text:        t.Text,
		Language:    t.Language,
		Model:       string(t.Backend),
		Empty:       t.Empty,
		Device:      string(t.Device),
		Chunks:      t.Chunks,
		DurationSec: t.DurationSec,
	})
}

type unsupportedMediaError struct {
	declared string
	detected string
}

func (e unsupportedMediaError) Error() string {
	return fmt.Sprintf("unsupported audio type (declared %q, detected %q)", e.declared, e.detected)
}

// saveUpload copies the upload to a temp file that keeps the original
// suffix, which ffmpeg uses as a container hint.
func (a *api) saveUpload(header *multipart.FileHeader) (string, error) {
	src, err := header.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	declared, _, _ := mime.ParseMediaType(header.Header.Get("Content-Type"))
	if !allowedType(declared) {
		detected, err := mimetype.DetectReader(src)
		if err != nil {
			return "", fmt.Errorf("sniff upload: %w", err)
		}
		if !allowedDetected(detected) {
			return "", unsupportedMediaError{declared: declared, detected: detected.String()}
		}
		if _, err := src.Seek(0, io.SeekStart); err != nil {
			return "", fmt.Errorf("rewind upload: %w", err)
		}
	}

	suffix := strings.ToLower(filepath.Ext(header.Filename))
	if suffix == "" {
		suffix = ".wav"
	}
	dst, err := os.CreateTemp(a.uploadDir, "examecho_upload_*"+suffix)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}

func allowedType(mediaType string) bool {
	for _, allowed := range allowedAudioTypes {
		if strings.EqualFold(mediaType, allowed) {
			return true
		}
	}
	return false
}

func allowedDetected(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		for _, allowed := range allowedAudioTypes {
			if m.Is(allowed) {
				return true
			}
		}
	}
	return false
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch errs.CodeOf(err) {
	case errs.CodeFileNotFound, errs.CodeDecodeFailed, errs.CodeUnsupportedBackend:
		return http.StatusBadRequest
	case errs.CodeToolUnavailable:
		return http.StatusServiceUnavailable
	case errs.CodeTranscodeFailed:
		return http.StatusUnprocessableEntity
	case errs.CodeTranscriptionFailed:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (a *api) handleBackends(c *gin.Context) {
	orch := a.service.Orchestrator()
	c.JSON(http.StatusOK, gin.H{
		"default":  orch.DefaultKind(),
		"backends": orch.Registry().Snapshot(),
	})
}

func (a *api) handleJobs(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "BadRequest", Error: "limit must be a positive integer"})
		return
	}
	jobs, err := a.jobs.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "Internal", Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (a *api) handleJobEvents(c *gin.Context) {
	events, err := a.jobs.Events(c.Request.Context(), c.Param("id"), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "Internal", Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": c.Param("id"), "events": events})
}

func (a *api) handleNodes(c *gin.Context) {
	if a.capabilities == nil {
		c.JSON(http.StatusOK, gin.H{"nodes": []capability.NodeInfo{}})
		return
	}
	filter := func(capability.NodeInfo) bool { return true }
	if name := c.Query("capability"); name != "" {
		filter = capability.WithCapabilityFilter(name)
	} else if tier := c.Query("tier"); tier != "" {
		filter = capability.WithTierFilter(tier)
	}
	c.JSON(http.StatusOK, gin.H{"nodes": a.capabilities.Query(filter)})
}
