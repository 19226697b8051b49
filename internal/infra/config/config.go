package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	Port   int    `envconfig:"PORT" default:"8080"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	AMQPURL string `envconfig:"AMQP_URL"`

	Engine struct {
		BaseURL string        `envconfig:"HE_ENGINE_URL"`
		Timeout time.Duration `envconfig:"HE_ENGINE_TIMEOUT" default:"30s"`
		Local   bool          `envconfig:"HE_ENGINE_LOCAL" default:"false"`
	} `envconfig:""`

	Oracle struct {
		BaseURL       string        `envconfig:"ORACLE_URL"`
		Timeout       time.Duration `envconfig:"ORACLE_TIMEOUT" default:"15s"`
		CallbackURL   string        `envconfig:"ORACLE_CALLBACK_URL"`
		PublicKey     string        `envconfig:"ORACLE_PUBLIC_KEY"`
		WebhookSecret string        `envconfig:"ORACLE_WEBHOOK_SECRET"`
	} `envconfig:""`

	Limits struct {
		UploadBatchMax int `envconfig:"UPLOAD_BATCH_MAX" default:"500"`
	} `envconfig:""`

	Queues struct {
		Reveal string `envconfig:"REVEAL_QUEUE_KEY" default:"reveal_jobs"`
	} `envconfig:""`

	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
