package handlers

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/example/imgclassify/internal/logging"
	"github.com/example/imgclassify/internal/pipeline"
	"github.com/example/imgclassify/internal/usecase"
)

// MaxUploadSize caps the size of a single uploaded image.
const MaxUploadSize = 10 << 20

// multipartOverhead leaves room for form boundaries and headers on top of the
// file itself.
const multipartOverhead = 1 << 20

var allowedContentTypes = map[string]struct{}{
	"image/png":  {},
	"image/jpeg": {},
	"image/jpg":  {},
	"image/gif":  {},
}

var allowedExtensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".gif":  {},
}

// Classifier is the subset of the classification use case the HTTP layer
// depends on.
type Classifier interface {
	Submit(ctx context.Context, content []byte) (string, error)
	Classify(ctx context.Context, content []byte, timeout time.Duration) (string, pipeline.Prediction, error)
	Result(ctx context.Context, jobID string) (pipeline.Prediction, bool, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

// Options tune request handling.
type Options struct {
	// PredictTimeout bounds how long the synchronous predict endpoint waits.
	// Zero defers to the use case default.
	PredictTimeout time.Duration
}

// NewRouter builds a gin engine with compression and the classification
// routes installed.
func NewRouter(svc Classifier, authMiddleware gin.HandlerFunc, opts Options) *gin.Engine {
	router := gin.Default()
	router.MaxMultipartMemory = MaxUploadSize
	router.Use(gzip.Gzip(gzip.DefaultCompression))
	RegisterRoutes(router, svc, authMiddleware, opts)
	return router
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc Classifier, authMiddleware gin.HandlerFunc, opts Options) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := router.Group("/", authMiddleware)

	protected.POST("/model/predict", func(c *gin.Context) {
		data, ok := readUpload(c)
		if !ok {
			return
		}

		jobID, prediction, err := svc.Classify(c.Request.Context(), data, opts.PredictTimeout)
		switch {
		case err == nil:
			writePrediction(c, jobID, prediction)
		case errors.Is(err, pipeline.ErrTimeout):
			c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "status": "processing"})
		default:
			writeError(c, err)
		}
	})

	protected.POST("/model/jobs", func(c *gin.Context) {
		data, ok := readUpload(c)
		if !ok {
			return
		}

		jobID, err := svc.Submit(c.Request.Context(), data)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "status": "queued"})
	})

	protected.GET("/model/jobs/:id", func(c *gin.Context) {
		jobID := strings.TrimSpace(c.Param("id"))
		if jobID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
			return
		}

		prediction, found, err := svc.Result(c.Request.Context(), jobID)
		if err != nil {
			writeError(c, err)
			return
		}
		if !found {
			c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "status": "pending"})
			return
		}
		writePrediction(c, jobID, prediction)
	})

	protected.GET("/metrics/summary", func(c *gin.Context) {
		summary, err := svc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

func readUpload(c *gin.Context) ([]byte, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+multipartOverhead)

	file, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
			return nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return nil, false
	}
	if file.Size > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
		return nil, false
	}
	if !isAllowedImage(file) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported image type"})
		return nil, false
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return nil, false
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return nil, false
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image is empty"})
		return nil, false
	}
	return data, true
}

// isAllowedImage accepts an upload whose declared type or file extension is
// one of png, jpeg or gif.
func isAllowedImage(file *multipart.FileHeader) bool {
	if _, ok := allowedExtensions[strings.ToLower(filepath.Ext(file.Filename))]; ok {
		return true
	}
	contentType := strings.ToLower(strings.TrimSpace(file.Header.Get("Content-Type")))
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	_, ok := allowedContentTypes[contentType]
	return ok
}

// writePrediction renders a finished job. An unclassified outcome is 422 on
// every route so clients see one status for a failed inference.
func writePrediction(c *gin.Context, jobID string, p pipeline.Prediction) {
	if !p.Classified {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"job_id":     jobID,
			"status":     "unclassified",
			"label":      nil,
			"confidence": nil,
			"error":      "could not classify image",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"job_id":     jobID,
		"status":     "classified",
		"label":      p.Label,
		"confidence": p.Confidence,
	})
}

func writeError(c *gin.Context, err error) {
	body := gin.H{}
	if jobID := logging.JobIDFrom(err); jobID != "" {
		body["job_id"] = jobID
	}

	status := http.StatusInternalServerError
	body["error"] = "internal error"
	switch {
	case errors.Is(err, usecase.ErrEmptyContent):
		status, body["error"] = http.StatusBadRequest, err.Error()
	case errors.Is(err, usecase.ErrNoPredictionLog):
		status, body["error"] = http.StatusServiceUnavailable, "prediction log not configured"
	case pipeline.IsConnectivity(err):
		status, body["error"] = http.StatusServiceUnavailable, "backend unavailable"
	case errors.Is(err, context.Canceled):
		c.AbortWithStatus(499)
		return
	}
	c.JSON(status, body)
}
