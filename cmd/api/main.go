package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coconiss/WalkTracker-sub000/internal/config"
	"github.com/coconiss/WalkTracker-sub000/internal/db"
	"github.com/coconiss/WalkTracker-sub000/internal/ingest"
	"github.com/coconiss/WalkTracker-sub000/internal/leaderboard"
	"github.com/coconiss/WalkTracker-sub000/internal/server"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadConfig      func() config.Config
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	connectRedis    func(config.Config) *redis.Client
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, *pgxpool.Pool, *redis.Client, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:      config.Load,
		connectPostgres: db.ConnectPostgres,
		connectRedis:    db.ConnectRedis,
		notify:          signal.Notify,
		run:             Run,
	}
}

func realMain(deps mainDeps) {
	cfg := deps.loadConfig()

	pg, err := deps.connectPostgres(cfg)
	if err != nil {
		log.Printf("postgres connection failed: %v", err)
	}

	rdb := deps.connectRedis(cfg)

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(context.Background(), cfg, pg, rdb, signals, nil); err != nil {
		log.Printf("server exited with error: %v", err)
	}
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

// Run starts the HTTP server, the Kafka sensor pump, and the ranking
// scheduler, then waits for termination signals.
func Run(ctx context.Context, cfg config.Config, pg *pgxpool.Pool, rdb *redis.Client, signals <-chan os.Signal, listen ListenFunc) error {
	var q db.Querier
	if pg != nil {
		q = pg
	}
	srv := server.NewServer(cfg, q, rdb)

	bgCtx, cancelBg := context.WithCancel(ctx)
	defer cancelBg()

	var pump *ingest.Pump
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic != "" {
		consumer := ingest.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID)
		defer consumer.Close()
		pump = ingest.NewPump(consumer, ingest.RegistrySource(srv.Registry))
		pump.Start(bgCtx)
	}

	if pg != nil {
		go runRankings(bgCtx, leaderboard.NewService(pg))
	}

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()

	select {
	case <-signals:
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop intake first so no samples arrive while engines flush.
	if pump != nil {
		pump.Stop()
	}
	srv.Registry.StopAll(shutdownCtx)

	if err := srv.App.ShutdownWithContext(shutdownCtx); err != nil {
		return err
	}
	if pg != nil {
		pg.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	return nil
}

// runRankings recomputes the leaderboards shortly after each day rolls
// over, the job a nightly cron would otherwise do.
func runRankings(ctx context.Context, svc *leaderboard.Service) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	lastRun := ""
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			day := now.Format("2006-01-02")
			if day == lastRun {
				continue
			}
			if err := svc.RunDue(ctx, now); err != nil {
				log.Printf("ranking update failed: %v", err)
				continue
			}
			lastRun = day
		}
	}
}
