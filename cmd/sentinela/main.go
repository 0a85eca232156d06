// Command sentinela runs the monitoring engine: the Controller scheduling
// monitor work onto the Work Queue, the Executor draining it, the Registry
// keeping compiled monitor definitions current, the Outbox Flusher
// publishing events, and the admin HTTP surface, all under one
// system.Manager lifecycle. Replaces the teacher's cmd/appserver, whose
// wiring targeted a different domain's storage/service layer entirely.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sentinela/sentinela/internal/app"
	"github.com/sentinela/sentinela/internal/config"
	"github.com/sentinela/sentinela/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to the engine's YAML configuration file (overrides CONFIGS_FILE)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN for the application store (overrides DATABASE_APPLICATION; in-memory storage when empty)")
	addr := flag.String("addr", "", "admin HTTP listen address, e.g. :8090 (overrides http_server.port)")
	flag.Parse()

	if trimmed := strings.TrimSpace(*configPath); trimmed != "" {
		os.Setenv("CONFIGS_FILE", trimmed)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}

	if trimmed := strings.TrimSpace(*dsn); trimmed != "" {
		cfg.DatabaseApplication = trimmed
	}
	if trimmed := strings.TrimSpace(*addr); trimmed != "" {
		if _, err := fmt.Sscanf(trimmed, ":%d", &cfg.HTTPServer.Port); err != nil {
			log.Fatalf("invalid -addr %q, expected :<port>: %v", trimmed, err)
		}
	}

	format := cfg.Logging.Format
	if strings.EqualFold(cfg.Logging.Mode, "json") {
		format = "json"
	}
	log_ := logger.New(logger.LoggingConfig{
		Level:  logLevelFromMode(cfg.Logging.Mode),
		Format: format,
		Fields: cfg.Logging.Fields,
	})

	jwtSecret := []byte(strings.TrimSpace(os.Getenv("HTTP_JWT_SECRET")))

	rootCtx := context.Background()
	application, err := app.New(rootCtx, cfg, jwtSecret, log_)
	if err != nil {
		log.Fatalf("initialise application: %v", err)
	}

	if err := application.Start(rootCtx); err != nil {
		log.Fatalf("start application: %v", err)
	}
	log.Printf("sentinela listening on :%d", cfg.HTTPServer.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Stop(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}

// logLevelFromMode maps the engine's logging.mode ("friendly", "json",
// "quiet") onto a logrus level; anything unrecognized falls back to info.
func logLevelFromMode(mode string) string {
	switch strings.ToLower(mode) {
	case "quiet":
		return "warn"
	case "debug":
		return "debug"
	default:
		return "info"
	}
}
