package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewDefaults(t *testing.T) {
	cfg := New()
	if cfg.TimeZone != "UTC" {
		t.Errorf("expected default time zone UTC, got %s", cfg.TimeZone)
	}
	if cfg.ApplicationQueue.Type != "inprocess" {
		t.Errorf("expected default queue type inprocess, got %s", cfg.ApplicationQueue.Type)
	}
	if cfg.ControllerConcurrency != 4 {
		t.Errorf("expected default controller concurrency 4, got %d", cfg.ControllerConcurrency)
	}
	if cfg.ExecutorConcurrency != 8 {
		t.Errorf("expected default executor concurrency 8, got %d", cfg.ExecutorConcurrency)
	}
	if cfg.Eventbus.FlushBatchSize != 200 {
		t.Errorf("expected default eventbus flush batch size 200, got %d", cfg.Eventbus.FlushBatchSize)
	}
	if _, ok := cfg.ControllerProcedures["monitors_stuck"]; !ok {
		t.Error("expected monitors_stuck procedure to have a default schedule")
	}
}

func TestLocationFallsBackToUTC(t *testing.T) {
	cfg := New()
	cfg.TimeZone = "not-a-real-zone"
	if loc := cfg.Location(); loc != time.UTC {
		t.Errorf("expected UTC fallback for invalid time zone, got %v", loc)
	}

	cfg.TimeZone = "America/Sao_Paulo"
	if loc := cfg.Location(); loc == time.UTC || loc.String() != "America/Sao_Paulo" {
		t.Errorf("expected America/Sao_Paulo, got %v", loc)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sentinela.yaml")
	yamlContent := `
time_zone: "America/New_York"
controller_concurrency: 16
executor_concurrency: 32
http_server:
  port: 9191
application_queue:
  type: redis
  redis:
    addr: "redis:6379"
`
	if err := os.WriteFile(path, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}
	if cfg.TimeZone != "America/New_York" {
		t.Errorf("expected time zone override, got %s", cfg.TimeZone)
	}
	if cfg.ControllerConcurrency != 16 {
		t.Errorf("expected controller concurrency override, got %d", cfg.ControllerConcurrency)
	}
	if cfg.ExecutorConcurrency != 32 {
		t.Errorf("expected executor concurrency override, got %d", cfg.ExecutorConcurrency)
	}
	if cfg.HTTPServer.Port != 9191 {
		t.Errorf("expected http server port override, got %d", cfg.HTTPServer.Port)
	}
	if cfg.ApplicationQueue.Type != "redis" {
		t.Errorf("expected queue type override, got %s", cfg.ApplicationQueue.Type)
	}
	if cfg.ApplicationQueue.Redis.Addr != "redis:6379" {
		t.Errorf("expected redis addr override, got %s", cfg.ApplicationQueue.Redis.Addr)
	}
}

func TestLoadFileMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadFile("/nonexistent/sentinela.yaml")
	if err != nil {
		t.Fatalf("LoadFile should not error on missing file: %v", err)
	}
	if cfg.TimeZone != "UTC" {
		t.Errorf("expected defaults preserved, got time zone %s", cfg.TimeZone)
	}
}

func TestLoadFileInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "invalid.yaml")
	if err := os.WriteFile(path, []byte(`{not: valid: yaml:`), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoadPicksUpDatabaseApplicationEnv(t *testing.T) {
	t.Setenv("CONFIGS_FILE", "/nonexistent/sentinela.yaml")
	t.Setenv("DATABASE_APPLICATION", "postgres://engine-dsn")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.DatabaseApplication != "postgres://engine-dsn" {
		t.Errorf("expected DATABASE_APPLICATION override, got %s", cfg.DatabaseApplication)
	}
}

func TestLoadExposesNamedPoolDSNs(t *testing.T) {
	t.Setenv("CONFIGS_FILE", "/nonexistent/sentinela.yaml")
	t.Setenv("DATABASE_APPLICATION", "postgres://engine-dsn")
	t.Setenv("DATABASE_BILLING", "postgres://billing-dsn")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	pool, ok := cfg.DatabasesPoolsConfigs["billing"]
	if !ok {
		t.Fatal("expected billing pool to be populated from DATABASE_BILLING")
	}
	if pool.DSN != "postgres://billing-dsn" {
		t.Errorf("expected billing DSN, got %s", pool.DSN)
	}
	if _, ok := cfg.DatabasesPoolsConfigs["application"]; ok {
		t.Error("DATABASE_APPLICATION must not be exposed as a named pool")
	}
}
