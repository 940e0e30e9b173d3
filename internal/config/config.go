package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP API
	APIPort   int
	JWTSecret string

	// Admin bootstrap
	AdminUser     string
	AdminPassword string

	// Database
	DBPath string

	// Payment amounts (USD)
	ReferralAmount float64
	BinaryAmount   float64
	UplineAmount   float64
	AdminFeeAmount float64

	// Timers
	PaymentTimer     time.Duration // window before an unpaid slot or pending confirmation times out
	SweepInterval    time.Duration
	VerifySettleTime time.Duration // chain settle delay before auto-verify resolves
	FailedResetTime  time.Duration // failed -> unpaid grace period

	// Crypto verification
	EnableCryptoVerification bool
	ServiceWalletAddr        string
	TonAPIBaseURL            string
	TonAPIKey                string

	// Telegram notifications
	BotToken string
}

func Load() *Config {
	cfg := &Config{
		// HTTP API
		APIPort:   getEnvInt("API_PORT", 8080),
		JWTSecret: getEnv("JWT_SECRET", ""),

		// Admin bootstrap
		AdminUser:     getEnv("ADMIN_USER", "admin"),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),

		// Database
		DBPath: getEnv("DB_PATH", "./payplan.db"),

		// Payment amounts
		ReferralAmount: getEnvFloat("REFERRAL_AMOUNT", 25),
		BinaryAmount:   getEnvFloat("BINARY_AMOUNT", 25),
		UplineAmount:   getEnvFloat("UPLINE_AMOUNT", 10),
		AdminFeeAmount: getEnvFloat("ADMIN_FEE_AMOUNT", 5),

		// Timers
		PaymentTimer:     getEnvHours("PAYMENT_TIMER_HOURS", 24),
		SweepInterval:    getEnvDuration("SWEEP_INTERVAL", time.Second),
		VerifySettleTime: getEnvDuration("VERIFY_SETTLE_TIME", 5*time.Second),
		FailedResetTime:  getEnvDuration("FAILED_RESET_TIME", 3*time.Second),

		// Crypto verification
		EnableCryptoVerification: getEnvBool("ENABLE_CRYPTO_VERIFICATION", false),
		ServiceWalletAddr:        getEnv("SERVICE_WALLET_ADDR", ""),
		TonAPIBaseURL:            strings.TrimSuffix(getEnv("TONAPI_BASE_URL", "https://tonapi.io/v2"), "/"),
		TonAPIKey:                getEnv("TONAPI_API_KEY", ""),

		// Telegram
		BotToken: getEnv("BOT_TOKEN", ""),
	}

	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvHours(key string, defaultHours int) time.Duration {
	return time.Duration(getEnvInt(key, defaultHours)) * time.Hour
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
