// Package httpapi wires the ops HTTP server: health, Prometheus metrics and
// the read-only purchase API.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/Jeazzzy/UWantIt/internal/config"
	"github.com/Jeazzzy/UWantIt/internal/http/handlers"
	"github.com/Jeazzzy/UWantIt/internal/http/middleware"
	"github.com/Jeazzzy/UWantIt/internal/ratelimit"
)

// APIBasePath prefixes the purchase API.
const APIBasePath = "/api/v1"

// Deps are the services the routes read from.
type Deps struct {
	Purchases handlers.PurchaseReader
	// Ready reports whether the process can serve; nil means always ready.
	Ready func() error
}

// RegisterRoutes attaches middleware and endpoints to r.
//
// Middleware order:
//  1. OpenTelemetry
//  2. RequestID
//  3. Logger
//  4. Recovery
//  5. Metrics
//  6. gzip (except /metrics, which promhttp compresses itself)
//  7. CORS and security headers
//
// The API group adds the bearer token check, Owner and a per-owner rate
// limit. It is only mounted when cfg.HTTP.APIToken is set.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.Metrics())
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))
	r.Use(corsMiddleware(cfg.HTTP.AllowedOrigins))
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS: cfg.HTTP.EnableHSTS,
		NoStore:    true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) {
		if deps.Ready != nil {
			if err := deps.Ready(); err != nil {
				handlers.Fail(c, http.StatusServiceUnavailable, handlers.ErrCodeInternal, err.Error())
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if cfg.HTTP.APIToken == "" {
		return
	}
	h := handlers.New(deps.Purchases)
	api := r.Group(APIBasePath,
		middleware.APIToken(cfg.HTTP.APIToken),
		middleware.Owner(),
		middleware.RateLimit(ratelimit.New(cfg.HTTP.RateRPS, cfg.HTTP.RateBurst), middleware.KeyByUserOrIP()),
	)
	{
		api.GET("/purchases", h.ListPurchases)
		api.GET("/purchases/:id", h.GetPurchase)
		api.GET("/stats", h.Stats)
	}
}

// corsMiddleware allows any origin when none is configured, otherwise only
// the listed ones. The API is read-only.
func corsMiddleware(origins []string) gin.HandlerFunc {
	c := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Accept", "Authorization", middleware.OwnerHeader},
		ExposeHeaders: []string{"X-Request-ID", "Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return cors.New(c)
}

// NewServer builds the ops http.Server for cfg.
func NewServer(cfg config.HTTPConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    1 << 20,
	}
}
