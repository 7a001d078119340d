package handler

import (
	"errors"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"imageanalyzer/internal/domain"
	"imageanalyzer/internal/service"
	"imageanalyzer/pkg/utils"
)

const (
	imageField      = "image"
	serviceName     = "Image Analyzer API"
	analysisFailure = "Image analysis failed"
)

type Handler struct {
	service   service.AnalysisService
	staticDir string
	log       *zap.Logger
}

func NewHandler(service service.AnalysisService, staticDir string, log *zap.Logger) *Handler {
	return &Handler{
		service:   service,
		staticDir: staticDir,
		log:       log,
	}
}

func (h *Handler) AnalyzeImage(c *gin.Context) {
	file, err := c.FormFile(imageField)
	if err != nil {
		// A part sent with an empty filename is parsed as a plain value.
		if h.hasEmptyFilePart(c) {
			h.fail(c, domain.ErrNoFilename)
			return
		}
		h.log.Warn("No image in request", zap.Error(err))
		h.fail(c, domain.ErrNoFile)
		return
	}

	if err := h.service.Validate(file.Filename, file.Size); err != nil {
		h.fail(c, err)
		return
	}

	content, err := file.Open()
	if err != nil {
		h.log.Error("Failed to open file", zap.Error(err))
		h.fail(c, err)
		return
	}
	defer content.Close()

	result, err := h.service.Analyze(c.Request.Context(), domain.UploadedImage{
		Filename:  file.Filename,
		Extension: utils.Extension(file.Filename),
		Size:      file.Size,
		Content:   content,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, domain.AnalyzeResponse{
		Success:  true,
		Analysis: result.Analysis,
	})
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": serviceName,
	})
}

func (h *Handler) Index(c *gin.Context) {
	c.File(filepath.Join(h.staticDir, "index.html"))
}

// StaticFile serves GET requests for unknown routes from the static
// directory. http.FileServer cleans the path, so it cannot escape the root.
func (h *Handler) StaticFile(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}
	c.FileFromFS(c.Request.URL.Path, gin.Dir(h.staticDir, false))
}

func (h *Handler) fail(c *gin.Context, err error) {
	var vErr *domain.ValidationError
	if errors.As(err, &vErr) {
		c.JSON(http.StatusBadRequest, domain.AnalyzeResponse{Error: vErr.Message})
		return
	}

	h.log.Error("Image analysis error", zap.Error(err))
	c.JSON(http.StatusInternalServerError, domain.AnalyzeResponse{Error: analysisFailure})
}

func (h *Handler) hasEmptyFilePart(c *gin.Context) bool {
	form := c.Request.MultipartForm
	if form == nil {
		return false
	}
	_, ok := form.Value[imageField]
	return ok
}
