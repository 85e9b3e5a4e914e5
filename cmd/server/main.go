package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/sunilravulapati/Bad-Posture-Detection/internal/analysis"
	"github.com/sunilravulapati/Bad-Posture-Detection/internal/api"
	"github.com/sunilravulapati/Bad-Posture-Detection/internal/config"
	"github.com/sunilravulapati/Bad-Posture-Detection/internal/device"
	"github.com/sunilravulapati/Bad-Posture-Detection/internal/encoder"
	"github.com/sunilravulapati/Bad-Posture-Detection/internal/models"
	"github.com/sunilravulapati/Bad-Posture-Detection/internal/publisher"
	"github.com/sunilravulapati/Bad-Posture-Detection/internal/service"
	"github.com/sunilravulapati/Bad-Posture-Detection/pkg/ffmpeg"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		hclog.Default().Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "posture",
		Level:      hclog.LevelFromString(cfg.LogLevel),
		JSONFormat: cfg.LogFormat == "json",
	})
	logger.Info("starting posture analysis client", "backend", cfg.BackendURL.String())

	// Create base tmp directory
	if err := os.MkdirAll(cfg.TmpDir, 0o755); err != nil {
		logger.Error("failed to create tmp directory", "error", err)
		os.Exit(1)
	}

	camera := newCamera(cfg, logger)
	acquirer := device.NewAcquirer(camera, logger.Named("device"), cfg.AcquireTimeout)
	enc := encoder.New(cfg.JPEGQuality)
	client := analysis.NewClient(analysis.OptionsFromConfig(cfg), logger.Named("analysis"))

	sink, err := publisher.New(cfg, logger)
	if err != nil {
		logger.Warn("result publishing disabled", "error", err)
		sink = publisher.Nop{}
	}
	defer sink.Close()

	// Initialize services
	sessionService := service.NewSessionService(cfg, acquirer, enc, client, sink, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go service.NewSessionCleanup(sessionService, cfg.CleanupInterval, logger).Start(ctx)

	// Setup HTTP server
	handler := api.NewHandler(sessionService, enc, cfg, logger)
	router := api.SetupRoutes(handler, logger.Named("http"))
	server := api.NewHTTPServer(cfg, router, logger)

	// Start server in goroutine
	go func() {
		logger.Info("server starting", "address", cfg.ServerAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	cancel()
	sessionService.Shutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	active := acquirer.ActiveTracks()
	acquired, released := acquirer.Stats()
	logger.Info("server exited", "camera_acquired", acquired, "camera_released", released, "camera_active", active)
}

func newCamera(cfg *config.Config, logger hclog.Logger) device.Camera {
	if cfg.CameraDriver == config.CameraDriverSynthetic {
		logger.Info("using synthetic camera")
		return &device.SyntheticCamera{}
	}
	if err := ffmpeg.CheckInstallation(); err != nil {
		logger.Warn("ffmpeg not available, camera acquisition will fail", "error", err)
	}
	deviceFor := func(facing models.FacingMode) string { return cfg.DeviceForFacing(string(facing)) }
	return device.NewFFmpegCamera(deviceFor, cfg.CameraFPS, logger.Named("camera"))
}
