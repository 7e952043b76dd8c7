// Package app assembles the server and client from their components.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"micstream/internal/core/domain"
	"micstream/internal/core/ports"
	"micstream/internal/core/services"
	httphandlers "micstream/internal/handlers/http"
	"micstream/internal/infrastructure/archive"
	"micstream/internal/infrastructure/middleware"
	"micstream/internal/infrastructure/monitoring"
	"micstream/internal/infrastructure/repositories"
	"micstream/internal/infrastructure/signal"
	"micstream/internal/infrastructure/wav"
	"micstream/pkg/backup"
	"micstream/pkg/config"
	"micstream/pkg/tracing"
	"micstream/pkg/utils"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var ErrAlreadyRunning = errors.New("server already running")

// ServerStatus is what the operator console and /health report.
type ServerStatus struct {
	Accepting bool                   `json:"accepting"`
	Address   string                 `json:"address,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Catalog   string                 `json:"catalog"`
	Session   signal.ServerStats     `json:"session"`
	Clients   []signal.ClientInfo    `json:"clients"`
	Recording domain.RecordingStatus `json:"recording"`
}

// Server owns the HTTP listener, the stream endpoint and the recorder.
// Start and Stop may be called repeatedly; Close releases everything.
type Server struct {
	cfg    *config.Config
	clock  clock.Clock
	logger *zap.SugaredLogger

	repoFactory *repositories.RepositoryFactory
	repo        ports.RecordingRepository
	recorder    *services.RecordingService
	audio       *signal.AudioServer
	metrics     *monitoring.PrometheusCollector
	health      *monitoring.HealthChecker
	archiver    *archive.Archiver
	retention   *archive.Retention
	tracer      *tracing.Provider
	router      *gin.Engine

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	startedAt  time.Time

	bgCancel context.CancelFunc
}

// NewServer wires the server. clk may be nil for the wall clock.
func NewServer(cfg *config.Config, logger *zap.Logger, clk clock.Clock) (*Server, error) {
	if clk == nil {
		clk = clock.New()
	}
	log := logger.Sugar()

	tracer, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	s := &Server{
		cfg:         cfg,
		clock:       clk,
		logger:      log,
		repoFactory: repositories.NewRepositoryFactory(cfg, log),
		metrics:     monitoring.NewPrometheusCollector(),
		health:      monitoring.NewHealthChecker(clk),
		tracer:      tracer,
	}
	s.repo = s.repoFactory.CreateRecordingRepository()

	format := domain.AudioFormat{
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		BitDepth:   cfg.Audio.BitDepth,
	}

	var archiver ports.Archiver
	if cfg.Archive.Enabled {
		storage, err := newArchiveStorage(cfg)
		if err != nil {
			return nil, err
		}
		archiveCfg := archive.DefaultConfig()
		archiveCfg.Retry.MaxAttempts = cfg.Archive.Attempts
		s.archiver = archive.NewArchiver(storage, archiveCfg, clk, log.With("component", "archive"))
		archiver = s.archiver

		if cfg.Archive.RetentionDays > 0 {
			s.retention = archive.NewRetention(storage, archive.RetentionConfig{
				Interval:      cfg.Archive.SweepInterval,
				RetentionDays: cfg.Archive.RetentionDays,
			}, clk, log.With("component", "retention"))
		}
		log.Infow("recording archive enabled", "backend", cfg.Archive.Backend)
	}

	s.recorder = services.NewRecordingService(
		services.RecordingServiceConfig{
			Directory:     cfg.Recording.Directory,
			DefaultFormat: format,
		},
		wav.NewStore(cfg.Recording.HighWaterMark),
		s.repo,
		archiver,
		s.metrics,
		clk,
		log.With("component", "recorder"),
	)

	s.audio = signal.NewAudioServer(
		signal.Config{
			PingInterval:   cfg.Stream.PingInterval,
			PongTimeout:    cfg.Stream.PongTimeout,
			WriteTimeout:   cfg.Stream.WriteTimeout,
			MaxMessageSize: cfg.Stream.MaxMessageSize,
			DefaultFormat:  format,
		},
		s.recorder,
		middleware.NewWebSocketLimiter(cfg),
		s.metrics,
		logger.With(zap.String("component", "stream")),
	)

	s.health.AddCatalogCheck(s.repoFactory.HealthCheck, time.Minute, 2*time.Second)
	s.health.AddDirectoryCheck(cfg.Recording.Directory, time.Minute, 2*time.Second)
	if s.archiver != nil {
		s.health.AddBreakerCheck("archive", s.archiver.BreakerState, time.Minute)
	}

	s.router = s.setupRouter()
	return s, nil
}

func newArchiveStorage(cfg *config.Config) (backup.Storage, error) {
	switch cfg.Archive.Backend {
	case "s3":
		client := backup.NewS3Client(backup.S3Config{
			Region:          cfg.Archive.Region,
			Endpoint:        cfg.Archive.Endpoint,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
		})
		return backup.NewS3Storage(client, cfg.Archive.Bucket, cfg.Archive.Prefix), nil
	default:
		storage, err := backup.NewFileStorage(cfg.Archive.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to create archive storage: %w", err)
		}
		return storage, nil
	}
}

func (s *Server) setupRouter() *gin.Engine {
	if s.cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RequestIDMiddleware(),
		middleware.RecoveryMiddleware(s.logger),
		middleware.TracingMiddleware(s.cfg.Stream.Path),
		middleware.ErrorHandlerMiddleware(s.logger),
	)

	// the stream endpoint has its own per-connection limiter
	router.GET(s.cfg.Stream.Path, gin.WrapF(s.audio.HandleWebSocket))

	router.GET("/health", func(c *gin.Context) {
		status := s.Status()
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": s.clock.Now(),
			"accepting": status.Accepting,
			"uptime":    status.Uptime,
			"session":   status.Session,
			"recording": status.Recording,
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		health := s.health.GetReadinessStatus(ctx)
		code := http.StatusOK
		if health.Status != "healthy" || !s.IsAccepting() {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":    health.Status,
			"accepting": s.IsAccepting(),
			"timestamp": health.Timestamp,
			"checks":    health.Checks,
		})
	})

	if s.cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := router.Group("")
	api.Use(middleware.NewHTTPRateLimitMiddleware(s.cfg))
	httphandlers.NewRecordingHandler(s).SetupRoutes(api)

	return router
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and begins accepting streams.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return ErrAlreadyRunning
	}

	listener, err := net.Listen("tcp", s.cfg.Server.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Server.Address, err)
	}

	srv := &http.Server{
		Handler:     s.router,
		ReadTimeout: s.cfg.Server.ReadTimeout,
		// WriteTimeout is not set: it would cut long-lived stream connections
		ReadHeaderTimeout: s.cfg.Server.ReadTimeout,
	}

	s.httpServer = srv
	s.listener = listener
	s.startedAt = s.clock.Now()
	s.audio.Session().Reset(s.startedAt)
	s.audio.SetAccepting(true)

	if s.bgCancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.bgCancel = cancel
		s.health.StartBackgroundChecks(ctx)
		if s.retention != nil {
			go s.retention.Start(ctx)
		}
	}

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("http server failed", "error", err)
		}
	}()

	s.logger.Infow("server listening", "address", listener.Addr().String(), "stream_path", s.cfg.Stream.Path)
	return nil
}

// Stop finalizes an active recording, closes every stream connection and
// shuts the listener down. Stopping a stopped server is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}

	s.audio.SetAccepting(false)

	var errs []error
	if summary, err := s.recorder.Stop(ctx); err != nil {
		errs = append(errs, err)
	} else if summary != nil {
		s.logger.Infow("recording finalized on shutdown", "file", summary.FilePath)
	}

	if err := s.audio.CloseAll(ctx, "server stopping"); err != nil {
		errs = append(errs, fmt.Errorf("failed to close stream connections: %w", err))
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Errorw("error during server shutdown", "error", err)
		errs = append(errs, err, s.httpServer.Close())
	}

	uptime := s.clock.Since(s.startedAt)
	s.httpServer = nil
	s.listener = nil
	s.logger.Infow("server stopped", "uptime", utils.FormatDuration(uptime))

	return errors.Join(errs...)
}

// Restart stops and starts the server on the same address.
func (s *Server) Restart(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		s.logger.Warnw("errors while stopping for restart", "error", err)
	}
	return s.Start()
}

func (s *Server) IsAccepting() bool {
	return s.audio.IsAccepting()
}

// Addr returns the bound listener address, or "" when stopped.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Status() ServerStatus {
	s.mu.Lock()
	running := s.httpServer != nil
	startedAt := s.startedAt
	var addr string
	if s.listener != nil {
		addr = s.listener.Addr().String()
	}
	s.mu.Unlock()

	status := ServerStatus{
		Accepting: s.IsAccepting(),
		Address:   addr,
		Catalog:   s.repoFactory.Backend(),
		Session:   s.audio.Session().Snapshot(),
		Clients:   s.audio.ConnectedClients(),
		Recording: s.recorder.Status(),
	}
	if running {
		status.Uptime = utils.FormatDuration(s.clock.Since(startedAt))
	}
	return status
}

func (s *Server) StartRecording(ctx context.Context) (domain.StartResult, error) {
	return s.recorder.Start(ctx, s.IsAccepting())
}

func (s *Server) StopRecording(ctx context.Context) (*domain.RecordingSummary, error) {
	return s.recorder.Stop(ctx)
}

func (s *Server) RecordingStatus() domain.RecordingStatus {
	return s.recorder.Status()
}

func (s *Server) Recordings(ctx context.Context) ([]*domain.RecordingSummary, error) {
	return s.recorder.Recordings(ctx)
}

func (s *Server) Recording(ctx context.Context, id domain.RecordingID) (*domain.RecordingSummary, error) {
	return s.repo.GetByID(ctx, id)
}

// Close stops the server and releases the catalog, archive and tracer.
func (s *Server) Close(ctx context.Context) error {
	errs := []error{s.Stop(ctx)}

	s.mu.Lock()
	cancel := s.bgCancel
	s.bgCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		if s.retention != nil {
			s.retention.Stop()
		}
	}

	s.recorder.Wait()
	errs = append(errs, s.repoFactory.Close(), s.tracer.Shutdown(ctx))
	return errors.Join(errs...)
}
