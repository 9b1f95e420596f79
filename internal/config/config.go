package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/chamada/internal/matcher"
)

const devJWTSecret = "dev-secret"

type Config struct {
	Env        string
	HTTPAddr   string
	LogLevel   string
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Matcher    MatcherConfig
	Extractor  ExtractorConfig
	Attendance AttendanceConfig
	CORS       CORSConfig
}

type DatabaseConfig struct {
	Driver       string // postgres, mysql or sqlite
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Addr     string // empty selects the in-memory presence store
	Password string
	DB       int
}

type JWTConfig struct {
	Secret   string
	Audience string
	TTL      time.Duration
}

type MatcherConfig struct {
	Threshold          float64
	DuplicateThreshold float64
	Dimension          int
}

type ExtractorConfig struct {
	Addr    string // empty disables image capture
	Timeout time.Duration
}

type AttendanceConfig struct {
	SessionTTL    time.Duration
	SweepInterval time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Env:      getEnv("APP_ENV", "production"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			Driver:       strings.ToLower(getEnv("DATABASE_DRIVER", "postgres")),
			DSN:          getEnv("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=chamada port=5432 sslmode=disable"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:   os.Getenv("JWT_SECRET"),
			Audience: os.Getenv("JWT_AUDIENCE"),
			TTL:      envDuration("JWT_TTL", time.Hour),
		},
		Matcher: MatcherConfig{
			Threshold:          envFloat("MATCH_THRESHOLD", matcher.DefaultThreshold),
			DuplicateThreshold: envFloat("DUPLICATE_THRESHOLD", matcher.DefaultThreshold),
			Dimension:          envInt("DESCRIPTOR_DIM", matcher.DefaultDimension),
		},
		Extractor: ExtractorConfig{
			Addr:    os.Getenv("EXTRACTOR_ADDR"),
			Timeout: envDuration("EXTRACTOR_TIMEOUT", 5*time.Second),
		},
		Attendance: AttendanceConfig{
			SessionTTL:    envDuration("ATTENDANCE_SESSION_TTL", 4*time.Hour),
			SweepInterval: envDuration("ATTENDANCE_SWEEP_INTERVAL", 15*time.Minute),
		},
		CORS: CORSConfig{
			AllowedOrigins: envList("CORS_ALLOWED_ORIGINS"),
		},
	}
}

// Validate rejects configurations the service cannot run with. In
// development an empty JWT secret is replaced with a fixed one.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.Database.Driver)
	}
	if c.JWT.Secret == "" {
		if c.Env != "development" {
			return errors.New("JWT_SECRET is required")
		}
		c.JWT.Secret = devJWTSecret
	}
	if err := matcher.CheckThreshold(c.Matcher.Threshold); err != nil {
		return fmt.Errorf("MATCH_THRESHOLD: %w", err)
	}
	if err := matcher.CheckThreshold(c.Matcher.DuplicateThreshold); err != nil {
		return fmt.Errorf("DUPLICATE_THRESHOLD: %w", err)
	}
	if c.Matcher.Dimension <= 0 {
		return fmt.Errorf("DESCRIPTOR_DIM must be positive, got %d", c.Matcher.Dimension)
	}
	if c.Attendance.SessionTTL <= 0 || c.Attendance.SweepInterval <= 0 {
		return errors.New("attendance session TTL and sweep interval must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// envInt returns the default for unset, invalid or negative values.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return defaultVal
}

func envList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
