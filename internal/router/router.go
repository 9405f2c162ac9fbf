package router

import (
	"net/http"

	"caredial/config"
	"caredial/internal/call"
	"caredial/internal/domain"
	"caredial/internal/handler"
	"caredial/internal/middleware"
	"caredial/internal/observability"
	"caredial/internal/repository"
	"caredial/internal/service"
	"caredial/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Setup wires repositories, services, the signaling core and all routes onto
// one gin engine.
func Setup(cfg *config.Config, db *gorm.DB, log zerolog.Logger) *gin.Engine {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	metrics := observability.NewMetrics("caredial")

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	apptRepo := repository.NewAppointmentRepository(db)
	recordRepo := repository.NewCallRecordRepository(db)

	// Services.
	authSvc := service.NewAuthService(cfg, userRepo)
	authorizer := service.NewAppointmentAuthorizer(apptRepo)
	journal := service.NewCallJournal(recordRepo, log)
	mirror := service.NewPresenceMirror(cfg.Redis.Addr, cfg.Redis.DB, cfg.Redis.PresenceTTL, log)

	var recorder call.Recorder = service.NopRecorder{}
	if cfg.Recording.BaseURL != "" {
		recorder = service.NewRecordingClient(cfg.Recording.BaseURL, cfg.Recording.Timeout)
	}

	// Signaling core.
	registry := ws.NewRegistry(log, metrics)
	coord := call.NewCoordinator(registry, authorizer, recorder, journal, call.Options{
		RingTimeout:     cfg.Call.RingTimeout,
		DefaultDuration: cfg.Call.DefaultDuration,
		GracePeriod:     cfg.Call.GracePeriod,
		Metrics:         metrics,
	}, log)
	relay := call.NewRelay(registry, log)

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc, log)
	apptHandler := handler.NewAppointmentHandler(apptRepo, userRepo, log)
	callHandler := handler.NewCallHandler(recordRepo, log)
	presenceHandler := handler.NewPresenceHandler(registry, coord)
	signalHandler := handler.NewSignalHandler(&cfg.JWT, registry, coord, relay, mirror, metrics, log)

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(observability.MetricsHandler()))

	api := r.Group("/api/v1")
	{
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
		}

		protected := api.Group("")
		protected.Use(middleware.AuthRequired(&cfg.JWT))
		{
			protected.GET("/me/appointments", apptHandler.ListMine)
			protected.GET("/me/calls", callHandler.History)
			protected.GET("/presence/:user_id", presenceHandler.Status)

			protected.POST("/appointments",
				middleware.RequireRole(domain.RoleProvider), apptHandler.Create)
			protected.POST("/appointments/:id/confirm",
				middleware.RequireRole(domain.RoleClient), apptHandler.Confirm)
		}
	}

	// Websocket authenticates via token query param inside the handler.
	r.GET("/ws/signal", signalHandler.Serve)

	return r
}
