package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/soapboxhq/soapbox/internal/adapters/gateway"
	"github.com/soapboxhq/soapbox/internal/adapters/httpapi"
	"github.com/soapboxhq/soapbox/internal/app"
	"github.com/soapboxhq/soapbox/internal/bus"
	"github.com/soapboxhq/soapbox/internal/capability"
	"github.com/soapboxhq/soapbox/internal/config"
	"github.com/soapboxhq/soapbox/internal/grace"
	"github.com/soapboxhq/soapbox/internal/identity"
	"github.com/soapboxhq/soapbox/internal/store/sqlite"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	st, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.SQLitePath).Msg("failed to open store")
	}

	hub := bus.NewHub()
	var eventBus bus.Bus = hub
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable, running single-process")
			rdb = nil
		} else {
			eventBus = bus.NewRedisBus(ctx, hub, rdb)
			log.Info().Str("addr", cfg.RedisAddr).Msg("cross-process event bus enabled")
		}
	}

	registry := grace.NewRegistry()
	issuer := capability.NewJWTIssuer(cfg.CapabilitySecret, cfg.CapabilityTTL)
	verifier := identity.NewJWTVerifier(cfg.AuthSecret)

	coord := app.New(st, issuer, registry, eventBus, app.Config{
		GraceDelay:   cfg.GraceDelay,
		RoomCapacity: cfg.RoomCapacity,
	})

	ctl := gateway.NewController(coord, eventBus, verifier)
	router := httpapi.SetupRouter(ctx, httpapi.Deps{
		Mode:     cfg.Mode,
		Coord:    coord,
		Gateway:  ctl,
		Verifier: verifier,
		Health:   health{store: st, rdb: rdb},
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("soapbox server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	registry.ClearAll()
	if err := eventBus.Close(); err != nil {
		log.Error().Err(err).Msg("close event bus")
	}
	if err := st.Close(); err != nil {
		log.Error().Err(err).Msg("close store")
	}
	log.Info().Msg("server exited gracefully")
}

// health pings every backing service the process depends on. A nil redis
// client means the process runs single-node and redis is not required.
type health struct {
	store *sqlite.Store
	rdb   *redis.Client
}

func (h health) Ping(ctx context.Context) error {
	if err := h.store.Ping(ctx); err != nil {
		return err
	}
	if h.rdb != nil {
		return h.rdb.Ping(ctx).Err()
	}
	return nil
}
