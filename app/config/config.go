package config

import (
	"os"

	// this will automatically load your .env file:
	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	Logs      LogConfig
	DB        PostgresConfig
	Stripe    StripeConfig
	Rewardful RewardfulConfig
	OpenAI    OpenAIConfig
	QueueURL  string
}

type LogConfig struct {
	Style string
	Level string
}

type PostgresConfig struct {
	Username string
	Password string
	URL      string
	Port     string
	Database string
}

type StripeConfig struct {
	SecretKey      string
	WebhookSecret  string
	StarterPriceID string
	ProPriceID     string
	FrontendURL    string
}

type RewardfulConfig struct {
	APIKey string
	// BaseURL overrides the Rewardful endpoint, mainly for tests.
	BaseURL string
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		QueueURL: os.Getenv("QUEUE_URL"),
		Logs: LogConfig{
			Style: os.Getenv("LOG_STYLE"),
			Level: os.Getenv("LOG_LEVEL"),
		},
		DB: PostgresConfig{
			Username: os.Getenv("POSTGRES_USER"),
			Password: os.Getenv("POSTGRES_PWD"),
			URL:      os.Getenv("POSTGRES_URL"),
			Port:     os.Getenv("POSTGRES_PORT"),
			Database: os.Getenv("POSTGRES_DB"),
		},
		Stripe: StripeConfig{
			SecretKey:      os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret:  os.Getenv("STRIPE_WEBHOOK_SECRET"),
			StarterPriceID: os.Getenv("STRIPE_STARTER_PRICE_ID"),
			ProPriceID:     os.Getenv("STRIPE_PRO_PRICE_ID"),
			FrontendURL:    os.Getenv("FRONTEND_URL"),
		},
		Rewardful: RewardfulConfig{
			APIKey:  os.Getenv("REWARDFUL_API_KEY"),
			BaseURL: os.Getenv("REWARDFUL_BASE_URL"),
		},
		OpenAI: OpenAIConfig{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
			Model:   os.Getenv("OPENAI_MODEL"),
		},
	}

	return cfg, nil
}
