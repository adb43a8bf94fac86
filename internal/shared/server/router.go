package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	googleauth "billfold-backend/internal/auth"
	"billfold-backend/internal/documents"
	"billfold-backend/internal/shared/config"
	"billfold-backend/internal/shared/metrics"
	"billfold-backend/internal/shared/server/middleware"
	"billfold-backend/internal/shared/server/respond"
	"billfold-backend/internal/uploads"
)

// Deps carries the wired handlers the router exposes.
type Deps struct {
	Config     config.Config
	GoogleAuth *googleauth.GoogleService
	Documents  *documents.Handler
	Uploads    *uploads.Handler
}

var apiRateRule = middleware.RateLimitRule{Rate: 10, Burst: 30}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(d Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	limiter := middleware.NewRateLimiter(nil)
	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(d.Config.CORSAllowOrigin),
		middleware.Auth(),
		middleware.RateLimit(limiter, apiRateRule),
	)

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		respond.JSON(c, http.StatusOK, gin.H{"ok": true})
	})
	api.GET("/metrics", metrics.Handler())
	d.GoogleAuth.RegisterRoutes(api)
	registerMeRoutes(api)
	d.Documents.RegisterRoutes(api)
	d.Uploads.RegisterRoutes(api)

	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
