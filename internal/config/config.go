package config

import "github.com/caarlos0/env/v10"

// Config centraliza la configuración de servicio del proceso companion.
// Los parametros de tuning afectivo viven aparte, en el YAML (ver affect.go).
type Config struct {
	HTTPPort      string `env:"HTTP_PORT" envDefault:"8080"`
	StoreBackend  string `env:"STORE_BACKEND" envDefault:"sqlite"`
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"affect.db"`
	DatabaseURL   string `env:"DATABASE_URL"`
	AffectConfig  string `env:"AFFECT_CONFIG" envDefault:"affect.yaml"`
	LLMAPIKey     string `env:"LLM_API_KEY"`
	LLMBaseURL    string `env:"LLM_BASE_URL" envDefault:"https://api.openai.com/v1"`
	LLMModel      string `env:"LLM_MODEL" envDefault:"gpt-5.1"`
	WebhookURL    string `env:"WEBHOOK_URL"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RequireState  bool   `env:"REQUIRE_PERSISTED_STATE" envDefault:"false"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
