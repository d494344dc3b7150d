package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_RequiresServiceName(t *testing.T) {
	t.Setenv("SERVICE_NAME", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when SERVICE_NAME is empty")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SERVICE_NAME", "hls-proxy")
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("expected default addr :8080, got %q", cfg.HTTP.Addr)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected default level info, got %q", cfg.LogLevel)
	}
}

func TestEnvHelpers_FallbackOnGarbage(t *testing.T) {
	t.Setenv("X_INT", "abc")
	t.Setenv("X_DUR", "soon")
	t.Setenv("X_BOOL", "maybe")
	t.Setenv("X_FLOAT", "-3")

	if got := EnvInt("X_INT", 7); got != 7 {
		t.Fatalf("EnvInt: want 7, got %d", got)
	}
	if got := EnvDuration("X_DUR", time.Second); got != time.Second {
		t.Fatalf("EnvDuration: want 1s, got %s", got)
	}
	if got := EnvBool("X_BOOL", true); !got {
		t.Fatal("EnvBool: want fallback true")
	}
	if got := EnvFloat("X_FLOAT", 1.5); got != 1.5 {
		t.Fatalf("EnvFloat: want 1.5, got %v", got)
	}
}

func TestEnvDuration_ZeroAllowed(t *testing.T) {
	t.Setenv("X_DUR", "0s")
	if got := EnvDuration("X_DUR", time.Minute); got != 0 {
		t.Fatalf("want 0, got %s", got)
	}
}

func TestLoadDotEnv_DoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("DOTENV_A=file\nDOTENV_B=file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DOTENV_A", "env")
	os.Unsetenv("DOTENV_B")
	t.Cleanup(func() { os.Unsetenv("DOTENV_B") })

	LoadDotEnv(path, filepath.Join(dir, "missing.env"))

	if got := os.Getenv("DOTENV_A"); got != "env" {
		t.Fatalf("environment should win, got %q", got)
	}
	if got := os.Getenv("DOTENV_B"); got != "file" {
		t.Fatalf("expected value from file, got %q", got)
	}
}
