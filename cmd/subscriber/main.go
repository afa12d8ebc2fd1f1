package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"todo-assistant/internal/activity"
	"todo-assistant/internal/events"
	"todo-assistant/internal/repository"
	"todo-assistant/internal/telemetry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// ---- Configuration (read only here) ----
	redisURL := mustEnv("REDIS_URL")
	prefix := envString("REDIS_KEY_PREFIX", "todo:")
	group := envString("CONSUMER_GROUP", "activity")
	consumer := envString("CONSUMER_NAME", hostname())
	activityTTL := envDuration("ACTIVITY_TTL", activity.DefaultTTL)
	markerTTL := envDuration("PROCESSED_MARKER_TTL", 7*24*time.Hour)
	minIdle := envDuration("RECLAIM_MIN_IDLE", 30*time.Second)
	batch := envInt("CONSUMER_BATCH", 16)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: "todo-assistant",
		Component:   "subscriber",
		Environment: envString("ENVIRONMENT", "dev"),
		Endpoint:    os.Getenv("OTLP_ENDPOINT"),
		Insecure:    os.Getenv("OTLP_INSECURE") == "true",
	})
	if err != nil {
		fatal("failed to set up metrics", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownMetrics(flushCtx)
	}()

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		fatal("invalid REDIS_URL", err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	store, err := repository.NewRedisStore(rdb, prefix)
	if err != nil {
		fatal("failed to create state store", err)
	}
	projector, err := activity.NewProjector(store, activityTTL, logger)
	if err != nil {
		fatal("failed to create activity projector", err)
	}
	sub, err := events.NewSubscriber(store, projector, markerTTL, logger)
	if err != nil {
		fatal("failed to create subscriber", err)
	}

	// Streams share the chat process's naming: <prefix>events:<topic>.
	broker, err := events.NewRedisStreamBroker(rdb, prefix+"events:", 0)
	if err != nil {
		fatal("failed to create event broker", err)
	}
	streams := make([]string, 0, len(activity.Topics))
	for _, topic := range activity.Topics {
		streams = append(streams, broker.Stream(topic))
	}

	sc, err := events.NewStreamConsumer(rdb, sub, events.ConsumerConfig{
		Streams:  streams,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Count:    int64(batch),
	}, logger)
	if err != nil {
		fatal("failed to create stream consumer", err)
	}

	logger.Info("subscriber started", "group", group, "consumer", consumer, "streams", streams)
	if err := sc.Run(ctx); err != nil {
		fatal("subscriber stopped", err)
	}
	logger.Info("subscriber stopped")
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "subscriber"
	}
	return h
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
