package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/zapsender/campaign-engine/internal/channel"
	"github.com/zapsender/campaign-engine/internal/config"
	"github.com/zapsender/campaign-engine/internal/engine"
	"github.com/zapsender/campaign-engine/internal/events"
	httpapi "github.com/zapsender/campaign-engine/internal/http"
	"github.com/zapsender/campaign-engine/internal/metrics"
	"github.com/zapsender/campaign-engine/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- Store ----
	var st store.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(rootCtx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("db connect")
		}
		defer pool.Close()
		st = store.NewPostgres(pool)
		log.Info().Msg("using postgres store")
	} else {
		st = store.NewMemory()
		log.Warn().Msg("DATABASE_URL not set, using in-memory store")
	}

	// ---- Engine ----
	hub := events.NewHub()
	ch := channel.NewDummy()
	ch.Latency = cfg.ChannelLatency
	ch.FailurePct = cfg.ChannelFailurePct
	conf := engine.NewTimerConfirmations(cfg.ConfirmDelay)
	eng := engine.New(st, ch, hub, conf, cfg.SendInterval, log)
	defer eng.Shutdown()

	metrics.RegisterSubscriberGauge(hub.Subscribers)

	// ---- AMQP bridge ----
	if cfg.AMQPURL != "" {
		bridge, err := events.NewBridge(cfg.AMQPURL, cfg.AMQPExchange, log)
		if err != nil {
			log.Fatal().Err(err).Msg("amqp connect")
		}
		defer bridge.Close()
		sub := hub.SubscribeAll()
		defer hub.Unsubscribe(sub)
		go bridge.Run(sub)
		log.Info().Str("exchange", cfg.AMQPExchange).Msg("amqp bridge up")
	}

	// ---- HTTP server ----
	srv := httpapi.NewServer(st, eng, hub, log)
	server := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     srv.Router(),
		ReadTimeout: 5 * time.Second,
		// No WriteTimeout: /events holds the connection open.
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server")
		}
	}()

	// ---- Graceful shutdown ----
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	cancel()
	_ = server.Shutdown(shutdownCtx)
}
