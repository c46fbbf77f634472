package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// LoadEnv overlays .env files onto the process environment. Missing files
// are fine; containerized deployments usually carry no env files at all.
func LoadEnv(logger *logrus.Logger) {
	var loaded []string
	for _, file := range []string{".env", ".env.dev"} {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Overload(file); err != nil {
			if logger != nil {
				logger.WithError(err).Warnf("Failed to load %s", file)
			}
			continue
		}
		loaded = append(loaded, file)
	}
	if logger == nil {
		return
	}
	if len(loaded) == 0 {
		logger.Debug("No local env files loaded; relying on process environment")
		return
	}
	logger.Debugf("Loaded env files: %s", strings.Join(loaded, ", "))
}

func lookup(key string) (string, bool) {
	value := os.Getenv(key)
	return value, value != ""
}

// GetEnv returns the variable's value, or fallback when unset.
func GetEnv(key, fallback string) string {
	if value, ok := lookup(key); ok {
		return value
	}
	return fallback
}

// GetEnvInt parses the variable as an int, falling back on unset or
// unparseable values.
func GetEnvInt(key string, fallback int) int {
	value, ok := lookup(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// GetEnvFloat parses the variable as a float64.
func GetEnvFloat(key string, fallback float64) float64 {
	value, ok := lookup(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// GetEnvBool parses the variable with strconv.ParseBool semantics.
func GetEnvBool(key string, fallback bool) bool {
	value, ok := lookup(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// GetEnvDuration parses the variable as a time.Duration ("10m", "30s").
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := lookup(key)
	if !ok {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// GetLogLevel maps LOG_LEVEL to a logrus level, defaulting to info.
func GetLogLevel() logrus.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// RequireEnv fetches a variable and exits the process if it is empty.
func RequireEnv(key string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		logrus.Fatalf("environment variable %s is required but not set", key)
	}
	return value
}
