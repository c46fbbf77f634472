package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestGetEnvFallbacks(t *testing.T) {
	t.Setenv("PROTEGO_TEST_STR", "")
	if got := GetEnv("PROTEGO_TEST_STR", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %s", got)
	}
	t.Setenv("PROTEGO_TEST_STR", "set")
	if got := GetEnv("PROTEGO_TEST_STR", "fallback"); got != "set" {
		t.Fatalf("expected set, got %s", got)
	}
}

func TestGetEnvIntRejectsGarbage(t *testing.T) {
	t.Setenv("PROTEGO_TEST_INT", "24")
	if got := GetEnvInt("PROTEGO_TEST_INT", 5); got != 24 {
		t.Fatalf("expected 24, got %d", got)
	}
	t.Setenv("PROTEGO_TEST_INT", "twenty-four")
	if got := GetEnvInt("PROTEGO_TEST_INT", 5); got != 5 {
		t.Fatalf("expected fallback 5 on parse error, got %d", got)
	}
}

func TestGetEnvFloat(t *testing.T) {
	t.Setenv("PROTEGO_TEST_FLOAT", "0.85")
	if got := GetEnvFloat("PROTEGO_TEST_FLOAT", 0.5); got != 0.85 {
		t.Fatalf("expected 0.85, got %v", got)
	}
	t.Setenv("PROTEGO_TEST_FLOAT", "")
	if got := GetEnvFloat("PROTEGO_TEST_FLOAT", 0.5); got != 0.5 {
		t.Fatalf("expected fallback 0.5, got %v", got)
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("PROTEGO_TEST_DUR", "90s")
	if got := GetEnvDuration("PROTEGO_TEST_DUR", time.Minute); got != 90*time.Second {
		t.Fatalf("expected 90s, got %v", got)
	}
	t.Setenv("PROTEGO_TEST_DUR", "soon")
	if got := GetEnvDuration("PROTEGO_TEST_DUR", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback 1m on parse error, got %v", got)
	}
}

func TestGetLogLevelAliases(t *testing.T) {
	cases := map[string]logrus.Level{
		"debug":   logrus.DebugLevel,
		"warn":    logrus.WarnLevel,
		"warning": logrus.WarnLevel,
		"ERROR":   logrus.ErrorLevel,
		"":        logrus.InfoLevel,
		"bogus":   logrus.InfoLevel,
	}
	for value, want := range cases {
		t.Setenv("LOG_LEVEL", value)
		if got := GetLogLevel(); got != want {
			t.Fatalf("LOG_LEVEL=%q: expected %v, got %v", value, want, got)
		}
	}
}

func TestLoadEnvMissingFiles(t *testing.T) {
	// No env files in the test working directory; must not panic.
	LoadEnv(logrus.New())
	LoadEnv(nil)
}
