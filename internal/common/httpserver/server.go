// Package httpserver builds the *http.Server both the Factory and the
// Matchmaker boot: a gin.Engine with recovery/size-limiting/logging
// middleware wrapped in an http.Server with fixed timeouts and a
// shutdown-bound context.
package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	limits "github.com/gin-contrib/size"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/carboon/gameplatform/internal/common/envelope"
)

const (
	maxReadHeaderTimeout = 10 * time.Second
	maxReadTimeout       = 30 * time.Second
	maxWriteTimeout      = 30 * time.Second
)

// CORSPolicy configures the cross-origin behavior. In production only
// AllowedOrigins is honored; a literal "*" is never emitted there.
type CORSPolicy struct {
	Production     bool
	AllowedOrigins []string
}

func (p CORSPolicy) middleware() gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	if p.Production {
		cfg.AllowOrigins = p.AllowedOrigins
	} else {
		cfg.AllowAllOrigins = true
	}
	cfg.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	return cors.New(cfg)
}

// Options collects everything New needs to assemble the engine.
type Options struct {
	Logger          *zap.Logger
	Host            string
	Port            int
	Debug           bool
	CORS            CORSPolicy
	MaxUploadBytes  int64
	RateLimit       gin.HandlerFunc // nil disables rate limiting
	Register        func(r *gin.Engine)
	ShutdownContext context.Context
}

// recoveryEnvelope replaces gin's plain-text panic response with the
// shared error envelope.
func recoveryEnvelope(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		logger.Error("panic recovered", zap.Any("recovered", recovered), zap.String("path", c.Request.URL.Path))
		envelope.Abort(c, http.StatusInternalServerError, "internal server error", nil)
	})
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// New builds the engine and wraps it in an http.Server. Middleware
// order: recovery first, then size limiting, CORS, optional rate
// limiting, request logging, then route registration.
func New(opts Options) *http.Server {
	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.MaxMultipartMemory = 1 << 26 // 64 MiB

	engine.Use(recoveryEnvelope(opts.Logger))

	if opts.MaxUploadBytes > 0 {
		engine.Use(limits.RequestSizeLimiter(opts.MaxUploadBytes))
	}

	engine.Use(opts.CORS.middleware())

	if opts.RateLimit != nil {
		engine.Use(opts.RateLimit)
	}

	engine.Use(requestLogger(opts.Logger))

	engine.HandleMethodNotAllowed = true
	engine.NoMethod(func(c *gin.Context) {
		envelope.Abort(c, http.StatusMethodNotAllowed, "method not allowed", nil)
	})
	engine.NoRoute(func(c *gin.Context) {
		envelope.Abort(c, http.StatusNotFound, "not found", nil)
	})

	if opts.Register != nil {
		opts.Register(engine)
	}

	shutdownCtx := opts.ShutdownContext
	if shutdownCtx == nil {
		shutdownCtx = context.Background()
	}

	host := opts.Host
	if host == "" {
		host = "0.0.0.0"
	}

	return &http.Server{
		Handler:           engine,
		Addr:              fmt.Sprintf("%s:%d", host, opts.Port),
		BaseContext:       func(net.Listener) context.Context { return shutdownCtx },
		ReadHeaderTimeout: maxReadHeaderTimeout,
		ReadTimeout:       maxReadTimeout,
		WriteTimeout:      maxWriteTimeout,
	}
}
