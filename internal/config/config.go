package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Env                     string
	Port                    string
	DatabaseURL             string
	StoreDriver             string
	DayID                   string
	AverageServiceMinutes   int
	PhoneDigits             int
	AdminPIN                string
	AdminPINHash            string
	AdminTokenSecret        string
	AdminSessionTTL         time.Duration
	TxMaxAttempts           int
	RateLimitPerMinute      int
	LoginRateLimitPerMinute int
	RedisAddr               string
	RedisChannel            string
	CORSOrigin              string
	NoticeLang              string
	ShutdownTimeout         time.Duration
}

// LoadEnvFile merges a dotenv file into the environment. Variables that are
// already set win. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	databaseURL := os.Getenv("DB_DSN")
	driver := strings.ToLower(os.Getenv("STORE_DRIVER"))
	if driver == "" {
		driver = DriverPostgres
		if databaseURL == "" {
			driver = DriverMemory
		}
	}

	return Config{
		Env:                     readString("APP_ENV", "dev"),
		Port:                    port,
		DatabaseURL:             databaseURL,
		StoreDriver:             driver,
		DayID:                   readString("QUEUE_DAY_ID", "today"),
		AverageServiceMinutes:   readInt("AVG_SERVICE_MINUTES", 15),
		PhoneDigits:             readInt("PHONE_DIGITS", 8),
		AdminPIN:                os.Getenv("ADMIN_PIN"),
		AdminPINHash:            os.Getenv("ADMIN_PIN_HASH"),
		AdminTokenSecret:        os.Getenv("ADMIN_TOKEN_SECRET"),
		AdminSessionTTL:         readDurationHours("ADMIN_SESSION_HOURS", 8),
		TxMaxAttempts:           readInt("TX_MAX_ATTEMPTS", 10),
		RateLimitPerMinute:      readInt("RATE_LIMIT_PER_MIN", 120),
		LoginRateLimitPerMinute: readInt("LOGIN_RATE_LIMIT_PER_MIN", 5),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		RedisChannel:            readString("REDIS_CHANNEL", "melek:queue-events"),
		CORSOrigin:              readString("CORS_ORIGIN", "*"),
		NoticeLang:              readString("NOTICE_LANG", "fr"),
		ShutdownTimeout:         readDurationSeconds("SHUTDOWN_TIMEOUT_SECONDS", 10),
	}
}

func readString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readDurationHours(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return time.Duration(fallback) * time.Hour
	}
	return time.Duration(value) * time.Hour
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
