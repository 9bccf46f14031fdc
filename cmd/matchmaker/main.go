// Command matchmaker runs the server registry and its stale-entry
// reaper, mirroring cmd/factory's startup shape.
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
	"github.com/carboon/gameplatform/internal/matchmaker/api"
	"github.com/carboon/gameplatform/internal/matchmaker/cfg"
	"github.com/carboon/gameplatform/internal/matchmaker/store"
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

	heartbeatTimeout := time.Duration(config.HeartbeatTimeout) * time.Second
	cleanupInterval := time.Duration(config.CleanupInterval) * time.Second

	srv := store.New(heartbeatTimeout)
	reaper := store.NewReaper(srv, cleanupInterval, logger)
	svc := api.NewService(srv, logger, config.Debug)

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
		RateLimit:       ratelimit.Middleware(config.APIRateLimit),
		Register:        svc.Register,
		ShutdownContext: ctx,
	})

	var wg sync.WaitGroup
	exitCode := 0

	wg.Add(1)
	go func() {
		defer wg.Done()
		reaper.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("matchmaker http service starting", zap.Int("port", config.Port))
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
