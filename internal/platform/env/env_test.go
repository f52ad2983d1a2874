package env

import (
	"log/slog"
	"testing"
	"time"
)

func TestTypedLookups(t *testing.T) {
	t.Setenv("REF_TEST_DURATION", "3s")
	t.Setenv("REF_TEST_INT", "7")
	t.Setenv("REF_TEST_BOOL", "true")
	t.Setenv("REF_TEST_BLANK", "  ")

	if d, err := Duration("REF_TEST_DURATION", time.Second); err != nil || d != 3*time.Second {
		t.Fatalf("Duration()=%v,%v", d, err)
	}
	if i, err := Int("REF_TEST_INT", 1); err != nil || i != 7 {
		t.Fatalf("Int()=%v,%v", i, err)
	}
	if b, err := Bool("REF_TEST_BOOL", false); err != nil || !b {
		t.Fatalf("Bool()=%v,%v", b, err)
	}
	if i, err := Int("REF_TEST_BLANK", 4); err != nil || i != 4 {
		t.Fatalf("blank Int()=%v,%v, want default", i, err)
	}
	if _, err := Int("REF_TEST_DURATION", 0); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestOneOf(t *testing.T) {
	t.Setenv("REF_TEST_DRIVER", "SQLite")
	got, err := OneOf("REF_TEST_DRIVER", "memory", "postgres", "sqlite", "memory")
	if err != nil || got != "sqlite" {
		t.Fatalf("OneOf()=%q,%v", got, err)
	}
	t.Setenv("REF_TEST_DRIVER", "mysql")
	if _, err := OneOf("REF_TEST_DRIVER", "memory", "postgres", "sqlite"); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestLogLevel(t *testing.T) {
	t.Setenv("REF_TEST_LEVEL", "debug")
	if lvl, err := LogLevel("REF_TEST_LEVEL", slog.LevelInfo); err != nil || lvl != slog.LevelDebug {
		t.Fatalf("LogLevel()=%v,%v", lvl, err)
	}
	t.Setenv("REF_TEST_LEVEL", "loud")
	if _, err := LogLevel("REF_TEST_LEVEL", slog.LevelInfo); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
