package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stream-resolver-service/internal/mirror"
	"stream-resolver-service/internal/provider"
	"stream-resolver-service/internal/realtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := connectRedis(cfg.RedisURL)
	if rdb != nil {
		defer rdb.Close()
	}

	hub := realtime.NewHub()
	go hub.Run(ctx)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	scores := mirror.NewMemoryScores(cfg.SlowThreshold)
	metrics := mirror.NewMetrics(reg, scores)

	observers := []mirror.Observer{metrics}
	if rdb != nil {
		// the hub hears this instance through Redis like every other one
		observers = append(observers, mirror.NewRedisPublisher(rdb, cfg.OutcomeChannel))
		go hub.RunRedisSubscriber(ctx, rdb, cfg.OutcomeChannel)
	} else {
		observers = append(observers, hub)
	}
	race, err := mirror.NewCoordinator(cfg.RaceWorkers, cfg.RaceMode, scores, observers...)
	if err != nil {
		log.Fatal(err)
	}

	fetch := mirror.NewClient(mirror.ClientConfig{
		Timeout:         cfg.FetchTimeout,
		MaxConnsPerHost: cfg.FetchMaxConnsPerHost,
		MaxIdleConns:    cfg.FetchMaxIdleConns,
		UserAgent:       cfg.UserAgent,
	})
	registry := mirror.NewRegistry(cfg.MirrorBackends)
	resolver := mirror.NewResolver(registry, scores, fetch, race, metrics, mirror.ResolverConfig{
		HLSBaseURL:        cfg.HLSBaseURL,
		ProxyBaseURL:      cfg.ProxyBaseURL,
		SearchQuerySuffix: cfg.SearchQuerySuffix,
		LookupTimeout:     cfg.RequestTimeout,
	})

	srv := provider.NewServer(resolver, rdb, provider.Options{
		RequestTimeout: cfg.RequestTimeout,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		AllowedOrigin:  cfg.AllowedOrigin,
		UserAgent:      cfg.UserAgent,
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Events:         realtime.Handler(hub, cfg.AllowedOrigin),
	})

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithFields(log.Fields{
			"port":     cfg.Port,
			"backends": registry.Len(),
			"mode":     cfg.RaceMode,
		}).Info("stream-resolver-service listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("stream-resolver-service: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := race.Close(cfg.FetchTimeout + time.Second); err != nil {
		log.WithError(err).Warn("race pool did not drain")
	}
}

// connectRedis returns nil when Redis is not configured or not reachable;
// outcome events are optional.
func connectRedis(redisURL string) *redis.Client {
	if redisURL == "" {
		log.Info("REDIS_URL not set, outcome events disabled")
		return nil
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Fatalf("invalid REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("redis unreachable, outcome events disabled")
		_ = rdb.Close()
		return nil
	}
	return rdb
}
