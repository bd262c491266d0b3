package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/suPer8Hu/roomtalk/internal/ai"
	"github.com/suPer8Hu/roomtalk/internal/cache"
	"github.com/suPer8Hu/roomtalk/internal/chat"
	"github.com/suPer8Hu/roomtalk/internal/config"
	"github.com/suPer8Hu/roomtalk/internal/db"
	"github.com/suPer8Hu/roomtalk/internal/jobs"
	"github.com/suPer8Hu/roomtalk/internal/logging"
	"github.com/suPer8Hu/roomtalk/internal/metrics"
	"github.com/suPer8Hu/roomtalk/internal/queue"
	"github.com/suPer8Hu/roomtalk/internal/usage"
	"github.com/suPer8Hu/roomtalk/internal/worker"
)

func main() {
	cfg := config.Load()
	log := logging.New("roomtalk-worker", cfg.LogLevel, cfg.LogPretty)

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("database")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	// provider registry (route by AI_PROVIDER, default models from config)
	reg := ai.NewRegistry()
	reg.Register("ollama", cfg.OllamaModel, func(ctx context.Context, model string) (ai.Provider, error) {
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, model), nil
	})
	reg.Register("openrouter", cfg.OpenRouterModel, func(ctx context.Context, model string) (ai.Provider, error) {
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey,
			model, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})

	provider, err := reg.Get(context.Background(), cfg.AIProvider, "")
	if err != nil {
		log.Fatal().Err(err).Str("provider", cfg.AIProvider).Msg("ai provider")
	}
	gateway := ai.NewGateway(provider, cfg.SystemPrompt, cfg.Temperature, cfg.MaxTokens)

	// publisher owns one connection for retry scheduling; the consumer gets
	// its own so a publish error cannot kill the consume channel
	pub, err := queue.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue,
		time.Duration(cfg.RetryBackoffBaseMS)*time.Millisecond)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit connect (publisher)")
	}
	defer pub.Close()

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit connect (consumer)")
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit channel")
	}
	defer ch.Close()

	if err := queue.DeclareTopology(ch, queue.QueueNames(cfg.RabbitQueue)); err != nil {
		log.Fatal().Err(err).Msg("declare topology")
	}

	promReg := prometheus.NewRegistry()
	met := metrics.New(promReg)

	rooms := chat.NewRepo(gdb)
	counters := queue.NewCounters(rdb, cfg.RabbitQueue)
	handler := worker.NewHandler(
		jobs.NewRepo(gdb),
		usage.NewLedger(gdb, usage.Limits{Basic: cfg.BasicDailyLimit, Pro: cfg.ProDailyLimit}, log),
		chat.NewAssembler(rooms),
		gateway,
		rooms,
		cache.NewManager(cache.NewStore(rdb), log),
		pub,
		worker.HandlerConfig{
			WindowSize:  cfg.ChatContextWindowSize,
			MaxAttempts: cfg.MaxJobAttempts,
		},
		counters,
		met,
		log,
	)
	pool := worker.NewPool(ch, cfg.RabbitQueue, cfg.WorkerConcurrency, handler, counters, log)

	// health and metrics listener
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.WorkerHTTPAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info().Str("addr", cfg.WorkerHTTPAddr).Msg("worker http listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("worker http")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := pool.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("worker pool")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	log.Info().Msg("worker stopped")
}
