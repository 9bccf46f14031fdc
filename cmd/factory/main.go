// Command factory runs the upload-to-launch pipeline and its
// supervising background loop: parse config, build the logger,
// construct the gin server, run it until a shutdown signal arrives.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/carboon/gameplatform/internal/common/httpserver"
	"github.com/carboon/gameplatform/internal/common/logging"
	"github.com/carboon/gameplatform/internal/common/ratelimit"
	"github.com/carboon/gameplatform/internal/factory/api"
	"github.com/carboon/gameplatform/internal/factory/cfg"
	"github.com/carboon/gameplatform/internal/factory/registry"
	"github.com/carboon/gameplatform/internal/factory/runtime"
	"github.com/carboon/gameplatform/internal/factory/supervisor"
)

const shutdownGrace = 15 * time.Second

func run() int {
	config, err := cfg.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:")
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger, err := logging.New(logging.Config{
		Level:       config.LogLevel,
		Environment: config.Environment,
		File:        config.LogFile,
		MaxSizeMB:   config.LogMaxSizeMB,
		BackupCount: config.LogBackupCount,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build logger:", err)
		return 1
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := runtime.NewDockerRuntime()
	if err != nil {
		logger.Error("failed to connect to container runtime", zap.Error(err))
		return 1
	}

	sup := supervisor.New(supervisor.Config{
		MaxContainers:                config.MaxContainers,
		IdleTimeoutSeconds:           config.IdleTimeoutSeconds,
		MaxErrorCount:                config.MaxErrorCount,
		CleanupIntervalSeconds:       config.CleanupIntervalSeconds,
		ResourceCheckIntervalSeconds: config.ResourceCheckInterval,
		StopTimeout:                  10 * time.Second,
	}, rt, logger)

	reg := registry.New(rt, logger)
	svc := api.NewService(config, rt, sup, reg, logger)

	signalCtx, sigCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer sigCancel()

	server := httpserver.New(httpserver.Options{
		Logger: logger,
		Host:   config.Host,
		Port:   config.Port,
		Debug:  config.Debug,
		CORS: httpserver.CORSPolicy{
			Production:     config.Environment == "production",
			AllowedOrigins: config.AllowedOrigins,
		},
		MaxUploadBytes:  config.MaxExtractSize,
		RateLimit:       ratelimit.Middleware(config.APIRateLimit),
		Register:        svc.Register,
		ShutdownContext: ctx,
	})

	var wg sync.WaitGroup
	exitCode := 0

	wg.Add(1)
	go func() {
		defer wg.Done()
		sup.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("factory http service starting", zap.Int("port", config.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http service error", zap.Error(err))
			exitCode = 1
		}
		cancel()
	}()

	<-signalCtx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http service shutdown error", zap.Error(err))
		exitCode = 1
	}

	cancel()
	wg.Wait()

	return exitCode
}

func main() {
	os.Exit(run())
}
