package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/orderexec/engine/internal/api"
	"github.com/orderexec/engine/internal/config"
	"github.com/orderexec/engine/internal/dex"
	"github.com/orderexec/engine/internal/lifecycle"
	"github.com/orderexec/engine/internal/push"
	"github.com/orderexec/engine/internal/queue"
	"github.com/orderexec/engine/internal/resources"
	"github.com/orderexec/engine/internal/storage"
)

const VERSION = "v1.0"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found")
	} else {
		log.Info().Msg(".env file loaded successfully")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	cfg := config.Load()
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Msgf("order execution engine %s starting", VERSION)

	store, err := storage.Open(cfg.DatabaseURL, cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open order store")
	}

	rdb := redis.NewClient(parseRedisURL(cfg.QueueURL))
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to queue substrate")
	}

	registry := push.NewRegistry()
	router := dex.NewSimulated(decimal.NewFromInt(100))

	var mgr *resources.Manager
	publisher := queue.NewEventPublisher(managerLookup{mgr: &mgr})

	lc := lifecycle.New(store, router, router, publisher, cfg.ConfirmationTimeout)

	mgr = resources.NewManager(rdb, registry, lc, cfg.IdleTimeout,
		cfg.WSWorkerConcurrency, cfg.WSWorkerRateLimitPerMin, cfg.QueueRateLimitPerMinute)

	server := api.NewServer(store, mgr, registry, cfg.SnapshotDelay)

	addr := cfg.Host + ":" + cfg.Port
	httpServer := &http.Server{Addr: addr, Handler: server.Handler()}

	go func() {
		log.Info().Str("addr", addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Warn().Msg("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown did not complete cleanly")
	}

	mgr.ShutdownAll()
	log.Info().Msg("shutdown complete")
}

// managerLookup defers resolving the resource manager until call time,
// since the publisher must be constructed before the manager it resolves
// substrates from (the manager's constructor takes the lifecycle, which
// takes the publisher).
type managerLookup struct{ mgr **resources.Manager }

func (m managerLookup) Get(orderID string) (*queue.Substrate, bool) { return (*m.mgr).Get(orderID) }
func (m managerLookup) Touch(orderID string)                        { (*m.mgr).Touch(orderID) }

func parseRedisURL(url string) *redis.Options {
	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Warn().Err(err).Str("url", url).Msg("failed to parse queue url, falling back to localhost default")
		return &redis.Options{Addr: "localhost:6379"}
	}
	return opts
}
