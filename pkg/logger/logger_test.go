package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewSetsLevelAndFormat(t *testing.T) {
	cfg := LoggingConfig{Level: "debug", Format: "json", Output: "stdout"}
	log := New(cfg)
	if log.GetLevel().String() != "debug" {
		t.Fatalf("expected level debug, got %s", log.GetLevel())
	}
	if _, ok := log.Formatter.(*logrus.JSONFormatter); !ok {
		t.Fatalf("expected JSON formatter, got %T", log.Formatter)
	}
}

func TestNewCreatesLogFile(t *testing.T) {
	originalWD, _ := os.Getwd()
	t.Cleanup(func() { _ = os.Chdir(originalWD) })

	temp := t.TempDir()
	if err := os.Chdir(temp); err != nil {
		t.Fatalf("chdir: %v", err)
	}

	log := New(LoggingConfig{Level: "info", Format: "text", Output: "file", FilePrefix: "test"})
	log.Info("hello")

	path := filepath.Join("logs", "test.log")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected log file: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected log file to contain data")
	}
}

func TestNewStampsConfiguredFields(t *testing.T) {
	log := New(LoggingConfig{Level: "info", Fields: map[string]string{"deployment": "staging"}})

	var captured logrus.Fields
	log.AddHook(hookFunc(func(entry *logrus.Entry) error {
		captured = entry.Data
		return nil
	}))
	log.Info("hello")

	if captured["deployment"] != "staging" {
		t.Fatalf("expected deployment field to be stamped, got %v", captured)
	}
}

func TestNewStampedFieldsDoNotOverrideExplicit(t *testing.T) {
	log := New(LoggingConfig{Level: "info", Fields: map[string]string{"deployment": "staging"}})

	var captured logrus.Fields
	log.AddHook(hookFunc(func(entry *logrus.Entry) error {
		captured = entry.Data
		return nil
	}))
	log.WithField("deployment", "canary").Info("hello")

	if captured["deployment"] != "canary" {
		t.Fatalf("expected explicit field to win, got %v", captured)
	}
}

type hookFunc func(entry *logrus.Entry) error

func (h hookFunc) Levels() []logrus.Level { return logrus.AllLevels }
func (h hookFunc) Fire(entry *logrus.Entry) error { return h(entry) }
