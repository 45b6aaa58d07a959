package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AccountConfig identifies one exchange account the core may trade for.
type AccountConfig struct {
	Index       int    `json:"index" yaml:"index"`
	APIKeyIndex int    `json:"api_index" yaml:"api_index"`
	PrivateKey  string `json:"private_key" yaml:"private_key"`
}

// Config holds environment-driven settings for the execution core.
type Config struct {
	Port string

	// Exchange
	BaseURL   string
	L1Address string
	Accounts  []AccountConfig

	// Trading policy
	MaxSlippage   float64
	StopLossRatio float64
	ScalingFactor float64
	MaxRetries    int
	RetryInterval time.Duration
	SettleDelay   time.Duration

	// Market cache
	MarketCacheTTL time.Duration

	// Health poller
	HealthInterval time.Duration

	// Auth
	APIKey    string
	JWTSecret string

	// Telegram
	TelegramBotToken string
	TelegramChatID   string
	TelegramThreadID int
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		BaseURL:          getEnv("BASE_URL", "https://mainnet.zklighter.elliot.ai"),
		L1Address:        os.Getenv("L1_ADDRESS"),
		MaxSlippage:      getEnvFloat("MAX_SLIPPAGE", 0.01),
		StopLossRatio:    getEnvFloat("STOP_LOSS_RATIO", 0.05),
		ScalingFactor:    getEnvFloat("SCALING_FACTOR", 1.0),
		MaxRetries:       getEnvInt("MAX_RETRIES", 3),
		RetryInterval:    time.Duration(getEnvInt("RETRY_INTERVAL", 5)) * time.Second,
		SettleDelay:      time.Duration(getEnvInt("SETTLE_DELAY_MS", 2000)) * time.Millisecond,
		MarketCacheTTL:   time.Duration(getEnvInt("MARKET_CACHE_TTL_SEC", 300)) * time.Second,
		HealthInterval:   time.Duration(getEnvInt("HEALTH_CHECK_INTERVAL", 5)) * time.Second,
		APIKey:           os.Getenv("API_KEY"),
		JWTSecret:        getEnv("JWT_SECRET", "dev-secret"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_API_KEY"),
		TelegramChatID:   os.Getenv("TELEGRAM_GROUP_ID"),
		TelegramThreadID: getEnvInt("TELEGRAM_THREAD_ID", 0),
	}

	accounts, err := loadAccounts()
	if err != nil {
		return nil, err
	}
	cfg.Accounts = accounts

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadAccounts reads the account list from ACCOUNTS_FILE (YAML) when set,
// otherwise from the ACCOUNTS env variable (JSON array).
func loadAccounts() ([]AccountConfig, error) {
	if path := os.Getenv("ACCOUNTS_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read accounts file: %w", err)
		}
		var doc struct {
			Accounts []AccountConfig `yaml:"accounts"`
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse accounts file: %w", err)
		}
		return doc.Accounts, nil
	}

	raw := getEnv("ACCOUNTS", "[]")
	var accounts []AccountConfig
	if err := json.Unmarshal([]byte(raw), &accounts); err != nil {
		return nil, fmt.Errorf("invalid ACCOUNTS format: %w", err)
	}
	return accounts, nil
}

func (c *Config) validate() error {
	if len(c.Accounts) == 0 {
		return errors.New("at least one account must be configured")
	}
	if c.MaxSlippage < 0 || c.MaxSlippage > 1 {
		return fmt.Errorf("MAX_SLIPPAGE out of range [0,1]: %v", c.MaxSlippage)
	}
	if c.StopLossRatio < 0 || c.StopLossRatio > 1 {
		return fmt.Errorf("STOP_LOSS_RATIO out of range [0,1]: %v", c.StopLossRatio)
	}
	if c.ScalingFactor < 0.01 || c.ScalingFactor > 100 {
		return fmt.Errorf("SCALING_FACTOR out of range [0.01,100]: %v", c.ScalingFactor)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must be >= 0: %d", c.MaxRetries)
	}
	if c.RetryInterval < time.Second {
		return fmt.Errorf("RETRY_INTERVAL must be >= 1s: %v", c.RetryInterval)
	}
	return nil
}

// Account returns the account config for the given index, or nil.
func (c *Config) Account(index int) *AccountConfig {
	for i := range c.Accounts {
		if c.Accounts[i].Index == index {
			return &c.Accounts[i]
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
