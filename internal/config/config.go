// Package config handles platform configuration
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	apperrors "github.com/screenpilot/platform/internal/errors"
)

// Config holds process settings read from the environment.
type Config struct {
	HTTPAddr     string
	ElementsFile string
	ReferenceDir string // base for relative reference paths; empty means the document's dir
	LogLevel     slog.Level

	CaptureBackend string // native, command or auto

	// Locator
	LocateTimeout  time.Duration
	MaxReferences  int
	MatchScales    []float64
	ExcellentScore float64
	NativeMinScore float64
	DebugImages    bool
	DebugDir       string

	// Adaptive ladder
	AdaptiveMin  float64
	AdaptiveMax  float64
	AdaptiveStep float64

	// Change detection
	ChangeInterval  time.Duration
	ChangeThreshold float64
	ChangeTimeout   time.Duration
}

// Load reads .env files (when present) and then the environment. Values
// already set in the environment win over .env files.
func Load() *Config {
	for _, f := range []string{".env.local", ".env"} {
		if err := godotenv.Load(f); err == nil {
			slog.Debug("loaded env file", "path", f)
		}
	}

	return &Config{
		HTTPAddr:        getEnv("HTTP_ADDR", ":8000"),
		ElementsFile:    getEnv("ELEMENTS_FILE", "config/ui_elements.yaml"),
		ReferenceDir:    getEnv("REFERENCE_DIR", ""),
		LogLevel:        getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		CaptureBackend:  getEnv("CAPTURE_BACKEND", "auto"),
		LocateTimeout:   getEnvDuration("LOCATE_TIMEOUT", 10*time.Second),
		MaxReferences:   getEnvInt("MAX_REFERENCES", 10),
		MatchScales:     getEnvFloats("MATCH_SCALES", []float64{0.8, 0.9, 1.1, 1.2}),
		ExcellentScore:  getEnvFloat("EXCELLENT_SCORE", 0.99),
		NativeMinScore:  getEnvFloat("NATIVE_MIN_SCORE", 0.98),
		DebugImages:     getEnvBool("DEBUG_IMAGES", false),
		DebugDir:        getEnv("DEBUG_DIR", "debug"),
		AdaptiveMin:     getEnvFloat("ADAPTIVE_MIN", 0.5),
		AdaptiveMax:     getEnvFloat("ADAPTIVE_MAX", 0.9),
		AdaptiveStep:    getEnvFloat("ADAPTIVE_STEP", 0.1),
		ChangeInterval:  getEnvDuration("CHANGE_INTERVAL", 500*time.Millisecond),
		ChangeThreshold: getEnvFloat("CHANGE_THRESHOLD", 0.1),
		ChangeTimeout:   getEnvDuration("CHANGE_TIMEOUT", 60*time.Second),
	}
}

// Validate checks ranges that would make searches meaningless.
func (c *Config) Validate() error {
	switch {
	case c.AdaptiveStep <= 0:
		return invalid("ADAPTIVE_STEP", "must be positive")
	case c.AdaptiveMin < 0 || c.AdaptiveMax > 1 || c.AdaptiveMin > c.AdaptiveMax:
		return invalid("ADAPTIVE_MIN/ADAPTIVE_MAX", "must satisfy 0 <= min <= max <= 1")
	case c.ExcellentScore <= 0 || c.ExcellentScore > 1:
		return invalid("EXCELLENT_SCORE", "must be in (0,1]")
	case c.NativeMinScore <= 0 || c.NativeMinScore > 1:
		return invalid("NATIVE_MIN_SCORE", "must be in (0,1]")
	case c.ChangeThreshold < 0 || c.ChangeThreshold > 1:
		return invalid("CHANGE_THRESHOLD", "must be in [0,1]")
	case c.MaxReferences <= 0:
		return invalid("MAX_REFERENCES", "must be positive")
	}
	for _, s := range c.MatchScales {
		if s <= 0 {
			return invalid("MATCH_SCALES", "scales must be positive")
		}
	}
	return nil
}

func invalid(key, msg string) *apperrors.AppError {
	return apperrors.New(apperrors.CodeConfigInvalid, key+" "+msg).WithMetadata("key", key)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
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

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}

// getEnvFloats parses a comma separated list; any bad entry falls back to def.
func getEnvFloats(key string, def []float64) []float64 {
	parts := getEnvList(key, nil)
	if parts == nil {
		return def
	}
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			slog.Warn("ignoring malformed list", "key", key, "value", p)
			return def
		}
		out = append(out, f)
	}
	return out
}

// getEnvDuration accepts Go durations ("750ms") or bare seconds ("2.5").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return def
}

func getEnvLevel(key string, def slog.Level) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(getEnv(key, def.String()))); err != nil {
		return def
	}
	return lvl
}
