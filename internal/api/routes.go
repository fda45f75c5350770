// routes.go - Route and middleware registration
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ifc-inspector/inspector/internal/logging"
	"github.com/ifc-inspector/inspector/internal/metrics"
	"github.com/ifc-inspector/inspector/internal/storage"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store   storage.Store
	Jobs    JobManager
	Metrics *metrics.Collector
	Logger  *zap.Logger
	Version string
}

// Handlers holds all handler instances
type Handlers struct {
	Health  HealthHandler
	Upload  UploadHandler
	Job     JobHandler
	Metrics http.Handler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:  NewHealthHandler(deps.Version),
		Upload:  NewUploadHandler(deps.Store, deps.Jobs, deps.Metrics, deps.Logger),
		Job:     NewJobHandler(deps.Jobs, deps.Metrics, deps.Logger),
		Metrics: deps.Metrics.Handler(),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	e.GET("/health", handlers.Health.HandleHealth)
	e.GET("/metrics", echo.WrapHandler(handlers.Metrics))

	// Analysis endpoints consumed by the inspector client
	e.POST("/analyze-model-async", handlers.Upload.HandleAnalyzeModel)
	e.GET("/jobs/:id", handlers.Job.HandleJobStatus)
	e.GET("/jobs/:id/events", handlers.Job.HandleJobEvents)

	files := e.Group("/files")
	files.GET("/recent", handlers.Upload.HandleGetRecentFiles)
	files.GET("/:id", handlers.Upload.HandleGetFile)
	files.DELETE("/:id", handlers.Upload.HandleDeleteFile)
}

// MiddlewareConfig selects the optional middleware.
type MiddlewareConfig struct {
	BodyLimit      string
	RequestTimeout time.Duration
	EnableCORS     bool
	AllowOrigins   []string
	RequestLogging bool
	ExposeDetails  bool
	// UploadRateLimit is uploads per second per client IP; 0 disables it.
	UploadRateLimit float64
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg MiddlewareConfig, logger *zap.Logger, m *metrics.Collector) {
	logger = logging.OrNop(logger)

	e.HTTPErrorHandler = NewErrorHandler(logger, cfg.ExposeDetails)

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 * 1024,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			logger.Error("handler panic",
				zap.String("path", c.Path()),
				zap.Error(err),
				zap.ByteString("stack", stack))
			return err
		},
	}))

	e.Use(MetricsMiddleware(m))

	if cfg.RequestLogging {
		e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			Skipper: func(c echo.Context) bool {
				path := c.Request().URL.Path
				return path == "/health" || path == "/metrics"
			},
			LogMethod:  true,
			LogURI:     true,
			LogStatus:  true,
			LogLatency: true,
			LogError:   true,
			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				fields := []zap.Field{
					zap.String("method", v.Method),
					zap.String("uri", v.URI),
					zap.Int("status", v.Status),
					zap.Duration("latency", v.Latency),
				}
				if v.Error != nil {
					fields = append(fields, zap.Error(v.Error))
				}
				logger.Info("request", fields...)
				return nil
			},
		}))
	}

	if cfg.RequestTimeout > 0 {
		e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
			Timeout: cfg.RequestTimeout,
			Skipper: func(c echo.Context) bool {
				path := c.Request().URL.Path
				return strings.HasSuffix(path, "/events") ||
					path == "/analyze-model-async"
			},
			ErrorMessage: "Request timeout",
		}))
	}

	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}

	if cfg.UploadRateLimit > 0 {
		e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Skipper: func(c echo.Context) bool {
				return c.Request().URL.Path != "/analyze-model-async"
			},
			Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(cfg.UploadRateLimit),
				Burst:     int(cfg.UploadRateLimit) + 1,
				ExpiresIn: 3 * time.Minute,
			}),
			DenyHandler: func(c echo.Context, identifier string, err error) error {
				logger.Warn("upload rate limited", zap.String("client", identifier))
				return NewTooManyRequestsError("too many uploads, retry shortly")
			},
		}))
	}

	if cfg.EnableCORS {
		origins := cfg.AllowOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}
}

// MetricsMiddleware records request counts and latency by route.
func MetricsMiddleware(m *metrics.Collector) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				switch e := err.(type) {
				case *APIError:
					status = e.Status
				case *echo.HTTPError:
					status = e.Code
				default:
					status = http.StatusInternalServerError
				}
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			m.RecordHTTPRequest(c.Request().Method, path, status, time.Since(start))
			return err
		}
	}
}

// SplitOrigins parses a comma separated origin list.
func SplitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
