package api

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type RouterConfig struct {
	AllowedOrigins []string
	RateLimit      float64
	RateBurst      int
}

// NewRouter builds the gin engine with recovery, CORS, rate limiting and
// metrics in front of the handler's routes.
func NewRouter(h *Handler, cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(MetricsMiddleware(h.metrics))
	router.Use(cors.New(cors.Config{
		AllowAllOrigins:  len(cfg.AllowedOrigins) == 0,
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}))
	if cfg.RateLimit > 0 {
		router.Use(RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst))
	}

	h.RegisterRoutes(router)
	return router
}
