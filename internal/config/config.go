// Package config содержит логику чтения конфигурации движка совместных закупок.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress    string `env:"RUN_ADDRESS"`
	DatabaseURI   string `env:"DATABASE_URI"`
	NotifyAddress string `env:"NOTIFY_ADDRESS"`
	AuthSecret    string `env:"AUTH_SECRET"`

	BuyerDecisionWindow  time.Duration `env:"BUYER_DECISION_WINDOW" envDefault:"12h"`
	SellerDecisionWindow time.Duration `env:"SELLER_DECISION_WINDOW" envDefault:"12h"`
	SweepInterval        time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	PenaltyPoints        int           `env:"PENALTY_POINTS" envDefault:"1"`

	// AdminIDs - пользователи, которым доступна административная отмена закупок.
	AdminIDs []int64 `env:"ADMIN_IDS" envSeparator:","`
	// DevSessions открывает выдачу токенов без внешнего сервиса идентификации.
	DevSessions bool `env:"DEV_SESSIONS" envDefault:"false"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envNotifyAddress := cfg.NotifyAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI, in-memory storage when empty")
	flag.StringVar(&cfg.NotifyAddress, "n", "", "notification webhook address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envNotifyAddress != "" {
		cfg.NotifyAddress = envNotifyAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if cfg.BuyerDecisionWindow <= 0 || cfg.SellerDecisionWindow <= 0 {
		return nil, fmt.Errorf("decision windows must be positive")
	}
	if cfg.PenaltyPoints < 0 {
		return nil, fmt.Errorf("penalty points must not be negative")
	}

	return cfg, nil
}
