package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"wrapped-fhe-service/internal/adapters/he"
	"wrapped-fhe-service/internal/adapters/oracle"
	"wrapped-fhe-service/internal/adapters/repo"
	"wrapped-fhe-service/internal/domain"
	"wrapped-fhe-service/internal/infra/cache"
	"wrapped-fhe-service/internal/infra/config"
	"wrapped-fhe-service/internal/infra/db"
	applog "wrapped-fhe-service/internal/infra/log"
	"wrapped-fhe-service/internal/infra/metrics"
	"wrapped-fhe-service/internal/infra/queue"
	"wrapped-fhe-service/internal/usecase/reveal"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "oracle-dispatcher")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("dispatcher: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	redisCache := cache.NewRedis(redisClient)

	var revealQueue domain.RevealQueue
	if cfg.AMQPURL != "" {
		rabbit, err := queue.NewRabbitRevealQueue(cfg.AMQPURL, cfg.Queues.Reveal)
		if err != nil {
			logger.Fatal().Err(err).Msg("dispatcher: нет подключения к AMQP")
		}
		defer rabbit.Close()
		revealQueue = rabbit
	} else {
		revealQueue = queue.NewRedisRevealQueue(redisClient, cfg.Queues.Reveal)
	}

	var engine domain.HEEngine
	if cfg.Engine.Local {
		engine = he.NewLocal()
	} else {
		engine = he.NewRemote(cfg.Engine.BaseURL, cfg.Engine.Timeout)
	}

	verifier, err := oracle.NewVerifier(cfg.Oracle.PublicKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("dispatcher: некорректный публичный ключ оракула")
	}
	oracleClient := oracle.NewClient(cfg.Oracle.BaseURL, cfg.Oracle.Timeout)

	revealSvc := reveal.NewService(
		repoAdapter, repoAdapter, repoAdapter,
		revealQueue, engine, oracleClient, verifier, redisCache,
		cfg.Oracle.CallbackURL,
		logger.With().Str("component", "reveal").Logger(),
	)

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	logger.Info().Msg("dispatcher: старт")
	for {
		job, ack, err := revealQueue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			logger.Error().Err(err).Msg("dispatcher: ошибка чтения очереди")
			continue
		}
		if err := revealSvc.Submit(ctx, job); err != nil {
			logger.Error().Err(err).Str("request_id", job.RequestID).Msg("dispatcher: отправка не удалась")
			if ackErr := ack(false); ackErr != nil {
				logger.Error().Err(ackErr).Msg("dispatcher: не удалось вернуть задачу в очередь")
			}
			continue
		}
		if err := ack(true); err != nil {
			logger.Error().Err(err).Msg("dispatcher: не удалось подтвердить задачу")
		}
	}
	logger.Info().Msg("dispatcher: остановка")
}
