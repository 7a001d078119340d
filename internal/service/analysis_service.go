package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"imageanalyzer/internal/config"
	"imageanalyzer/internal/domain"
	"imageanalyzer/internal/repository"
	"imageanalyzer/pkg/utils"
)

type AnalysisService interface {
	// Validate checks filename, extension and size, in that order.
	Validate(filename string, size int64) error
	// Analyze validates img, stores it in the upload directory for the
	// duration of the call, and returns the model's description. The stored
	// file is gone by the time Analyze returns, whatever the outcome.
	Analyze(ctx context.Context, img domain.UploadedImage) (*domain.AnalysisResult, error)
}

type analysisService struct {
	model   repository.ModelRepository
	archive repository.ArchiveRepository
	cfg     *config.Config
	allowed map[string]bool
	log     *zap.Logger
}

// NewAnalysisService wires the model client and an optional archive (nil
// disables archiving).
func NewAnalysisService(model repository.ModelRepository, archive repository.ArchiveRepository, cfg *config.Config, log *zap.Logger) AnalysisService {
	allowed := make(map[string]bool, len(cfg.App.AllowedFormats))
	for _, f := range cfg.App.AllowedFormats {
		allowed[strings.ToLower(f)] = true
	}

	return &analysisService{
		model:   model,
		archive: archive,
		cfg:     cfg,
		allowed: allowed,
		log:     log,
	}
}

func (s *analysisService) Validate(filename string, size int64) error {
	if strings.TrimSpace(filename) == "" {
		return domain.ErrNoFilename
	}

	if !s.allowed[utils.Extension(filename)] {
		return domain.ErrUnsupportedType
	}

	if size > s.cfg.App.MaxUploadSize {
		return domain.ErrFileTooLarge
	}

	return nil
}

func (s *analysisService) Analyze(ctx context.Context, img domain.UploadedImage) (*domain.AnalysisResult, error) {
	if err := s.Validate(img.Filename, img.Size); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	ext := utils.Extension(img.Filename)
	name := id + "_" + utils.SanitizeFilename(img.Filename)

	path, written, err := utils.SaveFile(s.cfg.App.UploadDir, name, img.Content)
	if err != nil {
		s.log.Error("Failed to save upload",
			zap.String("id", id),
			zap.String("filename", img.Filename),
			zap.Error(err))
		return nil, fmt.Errorf("save upload: %w", err)
	}
	defer s.removeTemp(id, path)

	// The declared part size is client supplied; trust what was written.
	if written > s.cfg.App.MaxUploadSize {
		return nil, domain.ErrFileTooLarge
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}

	s.log.Info("Analyzing image",
		zap.String("id", id),
		zap.String("filename", img.Filename),
		zap.Int64("size", written),
		zap.String("model", s.model.ModelID()))

	start := time.Now()
	text, err := s.model.DescribeImage(ctx, data, ext)
	if err != nil {
		s.log.Error("Image analysis failed",
			zap.String("id", id),
			zap.String("filename", img.Filename),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", domain.ErrAnalysisFailed, err)
	}

	result := &domain.AnalysisResult{
		ID:       id,
		Filename: img.Filename,
		Size:     written,
		Model:    s.model.ModelID(),
		Analysis: text,
		Duration: time.Since(start),
		Created:  start,
	}

	s.log.Info("Image analyzed successfully",
		zap.String("id", id),
		zap.Duration("duration", result.Duration),
		zap.Int("analysis_length", len(text)))

	if s.archive != nil {
		if err := s.archive.Archive(ctx, result, data, ext); err != nil {
			s.log.Warn("Failed to archive analysis",
				zap.String("id", id),
				zap.Error(err))
		}
	}

	return result, nil
}

func (s *analysisService) removeTemp(id, path string) {
	if err := utils.RemoveFile(path); err != nil {
		s.log.Error("Failed to remove temporary file",
			zap.String("id", id),
			zap.String("path", path),
			zap.Error(err))
	}
}
