package env

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

func String(key string, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := lookup(key)
	if !ok {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func Bool(key string, def bool) (bool, error) {
	v, ok := lookup(key)
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}

func Int(key string, def int) (int, error) {
	v, ok := lookup(key)
	if !ok {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return i, nil
}

// OneOf returns the lower-cased value of key, which must be one of allowed.
func OneOf(key string, def string, allowed ...string) (string, error) {
	v, ok := lookup(key)
	if !ok {
		return def, nil
	}
	v = strings.ToLower(v)
	if !slices.Contains(allowed, v) {
		return "", fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, "|"), v)
	}
	return v, nil
}

// LogLevel parses debug|info|warn|error.
func LogLevel(key string, def slog.Level) (slog.Level, error) {
	v, ok := lookup(key)
	if !ok {
		return def, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return def, fmt.Errorf("parse %s: %w", key, err)
	}
	return level, nil
}

// lookup treats a blank value as unset.
func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}
