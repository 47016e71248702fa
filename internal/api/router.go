package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/faceid/internal/api/handlers"
	"github.com/your-org/faceid/internal/api/ws"
	"github.com/your-org/faceid/internal/auth"
	"github.com/your-org/faceid/internal/faceid"
	"github.com/your-org/faceid/internal/session"
)

// RouterConfig wires the HTTP surface. Identities, Images, Publisher, Mailer,
// Events and Hub are optional; their routes are omitted or degrade when nil.
type RouterConfig struct {
	APIKey        string
	Store         faceid.Store
	Authenticator *faceid.Authenticator
	Sessions      *session.Issuer
	Identities    handlers.IdentityRepository
	Images        handlers.ImageArchive
	Publisher     handlers.EventPublisher
	Mailer        handlers.Mailer
	ResetTTL      time.Duration
	Events        handlers.EventLister
	Hub           *ws.Hub
	Checks        map[string]handlers.Check
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Login endpoints are public; the session token is the credential.
	authH := handlers.NewAuthHandler(cfg.Authenticator, cfg.Identities, cfg.Sessions, cfg.Publisher)
	public := r.Group("/v1")
	public.POST("/auth/face", authH.Face)
	public.POST("/auth/password", authH.Password)
	public.GET("/sessions/current", authH.CurrentSession)

	if cfg.Identities != nil && cfg.Mailer != nil {
		passwordH := handlers.NewPasswordHandler(cfg.Identities, cfg.Sessions, cfg.Mailer, cfg.ResetTTL)
		public.POST("/password/forgot", passwordH.Forgot)
		public.POST("/password/reset", passwordH.Reset)
	}

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	enrollH := handlers.NewEnrollmentHandler(cfg.Store, cfg.Authenticator, cfg.Images)
	v1.POST("/enrollments", enrollH.Enroll)
	v1.POST("/enrollments/image", enrollH.EnrollImage)
	v1.GET("/enrollments/:identityId", enrollH.List)
	v1.DELETE("/enrollments/:identityId", enrollH.Remove)

	if cfg.Identities != nil {
		userH := handlers.NewUserHandler(cfg.Identities, cfg.Store)
		v1.POST("/users", userH.Register)
		v1.GET("/users/:id", userH.Get)
	}

	if cfg.Events != nil {
		eventH := handlers.NewEventHandler(cfg.Events)
		v1.GET("/events", eventH.List)
	}

	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	return r
}
