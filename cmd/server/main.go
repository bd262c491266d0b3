package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/suPer8Hu/roomtalk/internal/ai"
	"github.com/suPer8Hu/roomtalk/internal/cache"
	"github.com/suPer8Hu/roomtalk/internal/chat"
	"github.com/suPer8Hu/roomtalk/internal/config"
	"github.com/suPer8Hu/roomtalk/internal/db"
	"github.com/suPer8Hu/roomtalk/internal/httpapi"
	"github.com/suPer8Hu/roomtalk/internal/httpapi/handlers"
	"github.com/suPer8Hu/roomtalk/internal/jobs"
	"github.com/suPer8Hu/roomtalk/internal/logging"
	"github.com/suPer8Hu/roomtalk/internal/queue"
	"github.com/suPer8Hu/roomtalk/internal/usage"
)

func providerRegistry(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()
	reg.Register("ollama", cfg.OllamaModel, func(ctx context.Context, model string) (ai.Provider, error) {
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, model), nil
	})
	reg.Register("openrouter", cfg.OpenRouterModel, func(ctx context.Context, model string) (ai.Provider, error) {
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey,
			model, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})
	return reg
}

func main() {
	cfg := config.Load()
	log := logging.New("roomtalk-api", cfg.LogLevel, cfg.LogPretty)
	gin.SetMode(cfg.GinMode)

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("database")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	views := cache.NewStore(rdb)
	caches := cache.NewManager(views, log)

	pub, err := queue.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue,
		time.Duration(cfg.RetryBackoffBaseMS)*time.Millisecond)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit connect")
	}
	defer pub.Close()

	rooms := chat.NewRepo(gdb)
	jobSvc := jobs.NewService(jobs.NewRepo(gdb), pub, queue.PriorityHigh, log)
	ledger := usage.NewLedger(gdb, usage.Limits{
		Basic: cfg.BasicDailyLimit,
		Pro:   cfg.ProDailyLimit,
	}, log)
	provider, err := providerRegistry(cfg).Get(context.Background(), cfg.AIProvider, "")
	if err != nil {
		log.Fatal().Err(err).Str("provider", cfg.AIProvider).Msg("ai provider")
	}
	gateway := ai.NewGateway(provider, cfg.SystemPrompt, cfg.Temperature, cfg.MaxTokens)

	h := &handlers.Handler{
		DB:      gdb,
		Cfg:     cfg,
		Rooms:   rooms,
		Jobs:    jobSvc,
		Ledger:  ledger,
		Views:   views,
		Caches:  caches,
		Gateway: gateway,
		Queue:   queue.NewAdmin(pub.Channel(), rdb, cfg.RabbitQueue),
		Log:     log,
	}

	reg := prometheus.NewRegistry()
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpapi.NewRouter(h, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("api server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("api server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown incomplete")
	}
}
