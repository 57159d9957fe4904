// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the fully resolved process configuration.
type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Session     SessionConfig
	Quiz        QuizConfig
}

// ServerConfig controls the HTTP/websocket listener.
type ServerConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig points at the relational store.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig points at the auxiliary cache used for rate-limit counters.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// SessionConfig holds key material handed to the injected SessionVerifier.
// The core never inspects token structure itself.
type SessionConfig struct {
	Secret string
}

// QuizConfig carries the fixed-at-build-time constants, exposed as config so
// tests can shrink timers without touching call sites.
type QuizConfig struct {
	QuestionTimeLimit     time.Duration
	QuizStartDelay        time.Duration
	NextQuestionDelay     time.Duration
	QuestionsPerQuiz      int
	MaxConnectionsPerUser int
	RateLimitWindow       time.Duration
	RateLimitMax          int
	MaxFrameBytes         int
	SweepInterval         time.Duration
	DeadRoomRetention     time.Duration
	ShutdownGrace         time.Duration
}

// Load reads environment variables (after loading a .env file if present)
// and validates required settings.
func Load() (*Config, error) {
	_ = godotenv.Load()

	environment := getEnv("ENVIRONMENT", "development")
	_ = os.Setenv("ENVIRONMENT", environment)

	cfg := &Config{
		Environment: environment,
		Server: ServerConfig{
			Address:      fmt.Sprintf(":%s", getEnv("PORT", "3001")),
			ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
		},
		Session: SessionConfig{
			Secret: getEnv("SESSION_SECRET", ""),
		},
		Quiz: QuizConfig{
			QuestionTimeLimit:     getDuration("QUESTION_TIME_LIMIT", 10*time.Second),
			QuizStartDelay:        getDuration("QUIZ_START_DELAY", 5*time.Second),
			NextQuestionDelay:     getDuration("NEXT_QUESTION_DELAY", 3*time.Second),
			QuestionsPerQuiz:      getInt("QUESTIONS_PER_QUIZ", 10),
			MaxConnectionsPerUser: getInt("MAX_CONNECTIONS_PER_USER", 3),
			RateLimitWindow:       getDuration("RATE_LIMIT_WINDOW", time.Second),
			RateLimitMax:          getInt("RATE_LIMIT_MAX", 10),
			MaxFrameBytes:         getInt("MAX_FRAME_BYTES", 1024),
			SweepInterval:         getDuration("SWEEP_INTERVAL", 60*time.Second),
			DeadRoomRetention:     getDuration("DEAD_ROOM_RETENTION", 30*time.Minute),
			ShutdownGrace:         getDuration("SHUTDOWN_GRACE", 10*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Session.Secret == "" {
		return fmt.Errorf("SESSION_SECRET is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
