package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	KakaoEndpoint    string `env:"KAKAO_ENDPOINT,required=true"`
	KakaoAPIKey      string `env:"KAKAO_API_KEY,required=true"`
	KTEndpoint       string `env:"KT_ENDPOINT,required=true"`
	KTAPIKey         string `env:"KT_API_KEY,required=true"`
	EPostEndpoint    string `env:"EPOST_ENDPOINT,required=true"`
	EPostAPIKey      string `env:"EPOST_API_KEY,required=true"`
	PostPlusEndpoint string `env:"POSTPLUS_ENDPOINT,required=true"`
	PostPlusAPIKey   string `env:"POSTPLUS_API_KEY,required=true"`
	SMSEndpoint      string `env:"SMS_ENDPOINT,required=true"`
	SMSAPIKey        string `env:"SMS_API_KEY,required=true"`

	RateLimitPerSec   int `env:"RATE_LIMIT_PER_SEC,default=100"`
	WorkerConcurrency int `env:"WORKER_CONCURRENCY,default=16"`

	DispatchIntervalSec int `env:"DISPATCH_INTERVAL_SEC,default=2"`
	DispatchScanLimit   int `env:"DISPATCH_SCAN_LIMIT,default=200"`
	RetrySweepSec       int `env:"RETRY_SWEEP_SEC,default=5"`
	RetrySweepLimit     int `env:"RETRY_SWEEP_LIMIT,default=100"`
	PollIntervalSec     int `env:"POLL_INTERVAL_SEC,default=30"`
	PollScanLimit       int `env:"POLL_SCAN_LIMIT,default=100"`

	APIPort     int    `env:"API_PORT,default=8080"`
	MetricsPort int    `env:"METRICS_PORT,default=9100"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
