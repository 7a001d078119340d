package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"imageanalyzer/internal/config"
	"imageanalyzer/internal/handler"
	"imageanalyzer/internal/middleware"
	"imageanalyzer/internal/repository"
	"imageanalyzer/internal/service"
)

type Server struct {
	httpServer *http.Server
	cfg        *config.Config
	log        *zap.Logger
}

// New resolves AWS clients from cfg and builds the HTTP server.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Server, error) {
	awsCfg, err := repository.LoadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if cfg.AWS.VerifyCredentials {
		verifyCredentials(ctx, repository.NewSTSClient(awsCfg), log)
	}

	model, err := repository.NewModelRepository(repository.NewBedrockClient(awsCfg), cfg.Bedrock, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create model repository: %w", err)
	}

	var archive repository.ArchiveRepository
	if cfg.Archive.Enabled() {
		archive = repository.NewS3Repository(ctx, repository.NewS3Client(awsCfg, cfg.Archive), cfg.Archive, cfg.AWS.Region, log)
	}

	analysisService := service.NewAnalysisService(model, archive, cfg, log)

	return NewWithService(cfg, analysisService, log), nil
}

// NewWithService builds the server around an existing AnalysisService.
func NewWithService(cfg *config.Config, analysisService service.AnalysisService, log *zap.Logger) *Server {
	h := handler.NewHandler(analysisService, cfg.App.StaticDir, log)

	server := &Server{
		httpServer: &http.Server{
			Addr:              cfg.Server.Host + ":" + cfg.Server.Port,
			Handler:           NewRouter(h, log),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       60 * time.Second,
			// Model calls routinely take tens of seconds.
			WriteTimeout:   cfg.Bedrock.Timeout + 30*time.Second,
			MaxHeaderBytes: 1 << 20, // 1 MB
		},
		cfg: cfg,
		log: log,
	}

	log.Info("Server created successfully",
		zap.String("host", cfg.Server.Host),
		zap.String("port", cfg.Server.Port),
		zap.String("model_style", cfg.Bedrock.ModelStyle),
		zap.String("model_id", cfg.Bedrock.ModelID),
		zap.Bool("archive", cfg.Archive.Enabled()))

	return server
}

func NewRouter(h *handler.Handler, log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.AddRequestID(), middleware.Logger(log), middleware.CORS())

	router.GET("/", h.Index)
	router.GET("/health", h.HealthCheck)
	router.POST("/analyze", h.AnalyzeImage)
	router.NoRoute(h.StaticFile)

	return router
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Run() error {
	s.log.Info("Server is running",
		zap.String("host", s.cfg.Server.Host),
		zap.String("port", s.cfg.Server.Port),
		zap.String("address", s.httpServer.Addr))

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down server")
	return s.httpServer.Shutdown(ctx)
}

func verifyCredentials(ctx context.Context, api repository.IdentityAPI, log *zap.Logger) {
	identity, err := repository.CallerIdentity(ctx, api)
	if err != nil {
		log.Warn("AWS credential check failed, model calls may not work", zap.Error(err))
		return
	}

	log.Info("AWS credentials verified",
		zap.String("account", identity.Account),
		zap.String("arn", identity.ARN))
}
