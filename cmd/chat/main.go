package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/redis/go-redis/v9"

	"todo-assistant/handler"
	"todo-assistant/internal/events"
	"todo-assistant/internal/integrations/openai"
	"todo-assistant/internal/integrations/paramstore"
	"todo-assistant/internal/integrations/taskapi"
	"todo-assistant/internal/intent"
	"todo-assistant/internal/repository"
	"todo-assistant/internal/telemetry"
	"todo-assistant/internal/usecase"
	"todo-assistant/internal/workflow"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// ---- Configuration (read only here) ----
	paramPrefix := mustEnv("PARAM_PREFIX")
	taskAPIURL := mustEnv("TASK_API_URL")
	stateBackend := envString("STATE_BACKEND", "dynamodb")
	nluProvider := envString("NLU_PROVIDER", "rules")
	limiterBackend := envString("RATE_LIMIT_BACKEND", "local")
	eventBackend := envString("EVENT_BACKEND", "redis")
	redisPrefix := envString("REDIS_KEY_PREFIX", "todo:")
	jwtSecretParam := os.Getenv("JWT_SECRET_PARAM")
	maxMessageLen := envInt("MAX_MESSAGE_LENGTH", 1000)
	ratePerMinute := envInt("RATE_LIMIT_PER_MINUTE", 30)
	rateBurst := envInt("RATE_LIMIT_BURST", 10)
	streamMaxLen := envInt("EVENT_STREAM_MAXLEN", 10000)
	workflowTTL := envDuration("WORKFLOW_TTL", workflow.DefaultWorkflowTTL)
	ticketTTL := envDuration("CONFIRMATION_TTL", workflow.DefaultTicketTTL)
	taskTimeout := envDuration("TASK_API_TIMEOUT", 10*time.Second)
	threshold := envFloat("INTENT_CONFIDENCE_THRESHOLD", intent.DefaultThreshold)
	otlpEndpoint := os.Getenv("OTLP_ENDPOINT")
	otlpInsecure := os.Getenv("OTLP_INSECURE") == "true"
	environment := envString("ENVIRONMENT", "dev")

	// ---- Metrics ----
	shutdownMetrics, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: "todo-assistant",
		Component:   "chat",
		Environment: environment,
		Endpoint:    otlpEndpoint,
		Insecure:    otlpInsecure,
	})
	if err != nil {
		fatal("failed to set up metrics", err)
	}

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		fatal("failed to load AWS config", err)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		fatal("failed to create SSM client", err)
	}

	var rdb *redis.Client
	if stateBackend == "redis" || limiterBackend == "redis" || eventBackend == "redis" {
		opts, err := redis.ParseURL(mustEnv("REDIS_URL"))
		if err != nil {
			fatal("invalid REDIS_URL", err)
		}
		rdb = redis.NewClient(opts)
	}

	var store repository.Store
	switch stateBackend {
	case "dynamodb":
		store, err = repository.NewDynamoStore(awsdynamodb.NewFromConfig(cfg), mustEnv("STATE_TABLE"))
	case "redis":
		store, err = repository.NewRedisStore(rdb, redisPrefix)
	case "memory":
		store = repository.NewMemoryStore(nil)
	default:
		fatal("unknown STATE_BACKEND", nil, "value", stateBackend)
	}
	if err != nil {
		fatal("failed to create state store", err)
	}

	machine, err := workflow.NewMachine(store, workflow.WithWorkflowTTL(workflowTTL), workflow.WithTicketTTL(ticketTTL))
	if err != nil {
		fatal("failed to create workflow machine", err)
	}

	tasks, err := taskapi.NewClient(ssmClient, paramPrefix, taskAPIURL, taskapi.WithTimeout(taskTimeout))
	if err != nil {
		fatal("failed to create task API client", err)
	}

	var (
		classifier intent.Classifier = intent.RuleClassifier{}
		guard      intent.Guard      = intent.RuleGuard{}
	)
	if nluProvider == "openai" {
		openaiClient, err := openai.NewClient(ssmClient, paramPrefix)
		if err != nil {
			fatal("failed to create OpenAI client", err)
		}
		classifier = openaiClient
		guard = intent.Chain(intent.RuleGuard{}, openaiClient.Guard())
	} else if nluProvider != "rules" {
		fatal("unknown NLU_PROVIDER", nil, "value", nluProvider)
	}
	resolver, err := intent.NewResolver(classifier, tasks, threshold)
	if err != nil {
		fatal("failed to create intent resolver", err)
	}

	var limiter usecase.RateLimiter
	switch limiterBackend {
	case "local":
		limiter = usecase.NewLocalLimiter(ratePerMinute, rateBurst)
	case "redis":
		limiter, err = usecase.NewRedisLimiter(rdb, redisPrefix, ratePerMinute, rateBurst)
		if err != nil {
			fatal("failed to create rate limiter", err)
		}
	default:
		fatal("unknown RATE_LIMIT_BACKEND", nil, "value", limiterBackend)
	}

	var broker events.Broker
	switch eventBackend {
	case "redis":
		broker, err = events.NewRedisStreamBroker(rdb, redisPrefix+"events:", int64(streamMaxLen))
		if err != nil {
			fatal("failed to create event broker", err)
		}
	case "memory":
		broker = events.NewMemoryBroker()
	default:
		fatal("unknown EVENT_BACKEND", nil, "value", eventBackend)
	}
	publisher, err := events.NewPublisher(broker, events.WithLogger(logger))
	if err != nil {
		fatal("failed to create event publisher", err)
	}

	// ---- Handler ----
	chatService, err := usecase.NewChatService(usecase.Dependencies{
		Tasks:     tasks,
		Resolver:  resolver,
		Workflows: machine,
		Events:    publisher,
		Guard:     guard,
		Limiter:   limiter,
		Logger:    logger,
	}, usecase.WithMaxMessageLen(maxMessageLen), usecase.WithTaskTimeout(taskTimeout))
	if err != nil {
		fatal("failed to create chat service", err)
	}

	handlerOpts := []handler.Option{handler.WithLogger(logger)}
	if jwtSecretParam != "" {
		secret, err := ssmClient.GetParameter(ctx, jwtSecretParam)
		if err != nil {
			fatal("failed to load JWT secret", err)
		}
		handlerOpts = append(handlerOpts, handler.WithJWTSecret(secret))
	}
	h, err := handler.NewHandler(chatService, handlerOpts...)
	if err != nil {
		fatal("failed to create handler", err)
	}

	lambda.StartWithOptions(h.Handle, lambda.WithEnableSIGTERM(func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		if err := shutdownMetrics(flushCtx); err != nil {
			slog.Warn("metrics shutdown failed", "err", err)
		}
	}))
}

func fatal(msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "err", err)
	}
	slog.Error(msg, args...)
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

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
