// Package api is the HTTP control channel.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rohanbalixz/clad-pv/internal/api/handlers"
	"github.com/rohanbalixz/clad-pv/internal/api/middleware"
	"github.com/rohanbalixz/clad-pv/internal/api/models"
	"github.com/rohanbalixz/clad-pv/internal/metrics"
	"github.com/rohanbalixz/clad-pv/internal/registers"
	"github.com/rohanbalixz/clad-pv/internal/transport"
)

type Deps struct {
	Control  handlers.Submitter
	Image    *registers.Image
	Identity transport.Identity
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	CORSOrigins []string
	// RateLimit is requests per second per client on the control route;
	// zero disables it.
	RateLimit float64
	RateBurst int
}

// NewRouter wires middleware and routes.
func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	router := gin.New()
	// Caller identity comes from the socket, never from forwarding headers.
	_ = router.SetTrustedProxies(nil)

	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(d.Logger))
	router.Use(middleware.ErrorHandler(d.Logger))
	router.Use(middleware.CORS(d.CORSOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(d.Metrics.Handler()))

	curtailment := handlers.NewCurtailmentHandler(d.Control)
	status := handlers.NewStatusHandler(d.Image, d.Identity)

	api := router.Group("/api/v1")
	{
		control := []gin.HandlerFunc{}
		if d.RateLimit > 0 {
			control = append(control, middleware.NewRateLimiter(d.RateLimit, d.RateBurst).Middleware())
		}
		control = append(control, curtailment.Submit)
		api.POST("/curtailment", control...)
		api.GET("/status", status.Status)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, models.NewError(models.CodeNotFound, "Not found"))
	})
	return router
}
