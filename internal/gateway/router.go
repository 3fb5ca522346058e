// Package gateway is the HTTP edge: it authenticates callers, stores
// check-in photos and forwards attendance operations to the service.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"attendancesvc/internal/auth"
	"attendancesvc/internal/httpmiddleware"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Options configures the router.
type Options struct {
	Attendance AttendanceAPI
	Photos     PhotoStore
	Log        *zap.Logger

	JWTSigningKey string
	JWTIssuer     string

	// UploadDir is served under /public/uploads when set.
	UploadDir      string
	MaxUploadBytes int64

	Limiter        httpmiddleware.Limiter
	MetricsEnabled bool
	CORSOrigins    []string
	Health         map[string]HealthCheck
}

// NewRouter builds the gin engine.
func NewRouter(opts Options) *gin.Engine {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = DefaultMaxPhotoBytes
	}

	r := gin.New()
	r.MaxMultipartMemory = maxUpload

	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(log, "/healthz", "/metrics"))
	if opts.MetricsEnabled {
		r.Use(httpmiddleware.Metrics())
	}
	r.Use(cors.New(corsConfig(opts.CORSOrigins)))
	r.Use(securityHeaders())

	if opts.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	r.GET("/healthz", healthz(opts.Health))
	if opts.UploadDir != "" {
		r.Static("/public/uploads", opts.UploadDir)
	}

	h := &handlers{api: opts.Attendance, photos: opts.Photos, log: log}

	group := r.Group("/attendance", auth.Authenticate(opts.JWTSigningKey, opts.JWTIssuer))
	if opts.Limiter != nil {
		group.Use(httpmiddleware.RateLimit(opts.Limiter, log))
	}
	group.GET("/status", h.status)
	group.POST("/check-in", limitBody(maxUpload+1<<20), h.checkIn)
	group.POST("/check-out", h.checkOut)
	group.GET("/my", h.listMine)
	group.GET("", auth.RequireRole(auth.RoleAdmin), h.listAll)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, envelope{StatusCode: http.StatusNotFound, Message: "Not Found"})
	})
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        24 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

// securityHeaders sets the standard hardening headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}

func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		c.Next()
	}
}

func healthz(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		body := gin.H{"status": "ok"}
		status := http.StatusOK
		for name, check := range checks {
			healthy := check(ctx)
			body[name] = healthy
			if !healthy {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
			}
		}
		c.JSON(status, body)
	}
}
