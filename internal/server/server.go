package server

import (
	"time"

	"github.com/coconiss/WalkTracker-sub000/internal/activity"
	"github.com/coconiss/WalkTracker-sub000/internal/auth"
	"github.com/coconiss/WalkTracker-sub000/internal/config"
	"github.com/coconiss/WalkTracker-sub000/internal/db"
	"github.com/coconiss/WalkTracker-sub000/internal/leaderboard"
	"github.com/coconiss/WalkTracker-sub000/internal/remote"
	"github.com/coconiss/WalkTracker-sub000/internal/store"
	"github.com/coconiss/WalkTracker-sub000/internal/stream"
	"github.com/coconiss/WalkTracker-sub000/internal/supervisor"
	"github.com/coconiss/WalkTracker-sub000/internal/tracking"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App      *fiber.App
	Cfg      config.Config
	DB       db.Querier
	Redis    *redis.Client
	Stream   *stream.Hub
	Registry *supervisor.Registry
}

func NewServer(cfg config.Config, q db.Querier, redisClient *redis.Client) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	hub := stream.NewHub(redisClient)
	local := store.NewLocal(q)
	remoteStore := remote.NewRedis(redisClient)

	registry := supervisor.NewRegistry(local, remoteStore, local, supervisor.Config{
		SyncInterval: cfg.SyncInterval,
		StillTimeout: cfg.StillTimeout,
	},
		supervisor.WithStatusSink(hub.BroadcastStatus),
		supervisor.WithLocationSink(hub.BroadcastLocation),
	)

	s := &Server{
		App:      app,
		Cfg:      cfg,
		DB:       q,
		Redis:    redisClient,
		Stream:   hub,
		Registry: registry,
	}

	registerRoutes(s, local)
	return s
}

func registerRoutes(s *Server, local *store.Local) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)
	today := func() string { return activity.DateKey(time.Now()) }

	auth.RegisterRoutes(s.App.Group("/auth"), auth.NewService(s.Cfg.JWTSecret, s.DB), jwtMiddleware)
	tracking.RegisterRoutes(s.App.Group("/tracking"), tracking.NewHandlers(s.Registry, local, today), jwtMiddleware)
	leaderboard.RegisterRoutes(s.App.Group("/rankings"), leaderboard.NewService(s.DB), jwtMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
}
