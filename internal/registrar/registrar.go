// Package registrar performs the one-time initial registration of
// internal and sample monitors from on-disk definitions, satisfying
// controller.Registrar. Only the process holding the registrar lease
// (internal/storage's ClaimRegistrarLease) invokes it.
package registrar

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sentinela/sentinela/internal/domain/monitor"
)

// Store is the subset of storage.Store the Registrar drives.
type Store interface {
	RegisterMonitor(ctx context.Context, m monitor.Monitor) (monitor.Monitor, error)
	GetMonitorByName(ctx context.Context, name string) (monitor.Monitor, error)
}

// manifest is the on-disk shape of a monitor directory's definition file
// (monitor.yaml): everything in monitor.Options plus the entry-point
// filename, and the companion files it lists under `companions`.
type manifest struct {
	Name       string   `yaml:"name"`
	Enabled    *bool    `yaml:"enabled"`
	Entrypoint string   `yaml:"entrypoint"`
	Companions []string `yaml:"companions"`

	SearchCron        string `yaml:"search_cron"`
	UpdateCron        string `yaml:"update_cron"`
	ExecutionTimeout  string `yaml:"execution_timeout"`
	MaxIssuesCreation int    `yaml:"max_issues_creation"`

	ModelIDKey string `yaml:"model_id_key"`
	Solvable   bool   `yaml:"solvable"`
	Unique     bool   `yaml:"unique"`

	Rule                  ruleManifest `yaml:"rule"`
	DismissAckOnNewIssues bool         `yaml:"dismiss_acknowledge_on_new_issues"`

	Reactions     map[string][]string        `yaml:"reactions"`
	Notifications []notificationManifest `yaml:"notifications"`
}

type levelManifest struct {
	Name      string  `yaml:"name"`
	Priority  int     `yaml:"priority"`
	Threshold float64 `yaml:"threshold"`
}

type ruleManifest struct {
	Kind        string          `yaml:"kind"`
	Levels      []levelManifest `yaml:"levels"`
	ValueKey    string          `yaml:"value_key"`
	GreaterThan bool            `yaml:"greater_than"`
}

type notificationManifest struct {
	Class             string         `yaml:"class"`
	Target            string         `yaml:"target"`
	MinPriorityToSend int            `yaml:"min_priority_to_send"`
	MentionOnPriority map[int][]string `yaml:"mention_on_priority"`
}

// Registrar loads monitor definitions from one or two directories
// (internal monitors take precedence; sample monitors are loaded only
// when enabled) and registers each one that is not already known by
// name.
type Registrar struct {
	store Store

	internalPath       string
	samplePath         string
	loadSampleMonitors bool
}

// New builds a Registrar. samplePath may be empty when LoadSampleMonitors
// is false.
func New(store Store, internalPath, samplePath string, loadSampleMonitors bool) *Registrar {
	return &Registrar{
		store:              store,
		internalPath:       internalPath,
		samplePath:         samplePath,
		loadSampleMonitors: loadSampleMonitors,
	}
}

// RegisterInitialMonitors implements controller.Registrar. It is
// idempotent: a monitor already registered by name is left untouched.
func (r *Registrar) RegisterInitialMonitors(ctx context.Context) error {
	dirs := []string{r.internalPath}
	if r.loadSampleMonitors && r.samplePath != "" {
		dirs = append(dirs, r.samplePath)
	}

	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		defs, err := loadDefinitions(dir)
		if err != nil {
			return fmt.Errorf("registrar: load %s: %w", dir, err)
		}
		for _, m := range defs {
			if _, err := r.store.GetMonitorByName(ctx, m.Name); err == nil {
				continue
			}
			if _, err := r.store.RegisterMonitor(ctx, m); err != nil {
				return fmt.Errorf("registrar: register %s: %w", m.Name, err)
			}
		}
	}
	return nil
}

// loadDefinitions walks the immediate subdirectories of root, each one a
// monitor: <name>/monitor.yaml plus its entrypoint and companion sources.
func loadDefinitions(root string) ([]monitor.Monitor, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]monitor.Monitor, 0, len(names))
	for _, name := range names {
		m, err := loadOne(filepath.Join(root, name))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func loadOne(dir string) (monitor.Monitor, error) {
	manifestPath := filepath.Join(dir, "monitor.yaml")
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return monitor.Monitor{}, err
	}

	var man manifest
	if err := yaml.Unmarshal(raw, &man); err != nil {
		return monitor.Monitor{}, fmt.Errorf("parse %s: %w", manifestPath, err)
	}
	if man.Entrypoint == "" {
		man.Entrypoint = "source.js"
	}

	source, err := os.ReadFile(filepath.Join(dir, man.Entrypoint))
	if err != nil {
		return monitor.Monitor{}, fmt.Errorf("read entrypoint: %w", err)
	}

	companions := make(map[string]string, len(man.Companions))
	for _, c := range man.Companions {
		body, err := os.ReadFile(filepath.Join(dir, c))
		if err != nil {
			return monitor.Monitor{}, fmt.Errorf("read companion %s: %w", c, err)
		}
		companions[c] = string(body)
	}

	enabled := true
	if man.Enabled != nil {
		enabled = *man.Enabled
	}

	timeout, _ := time.ParseDuration(man.ExecutionTimeout)

	return monitor.Monitor{
		Name:           monitor.Normalize(man.Name),
		Enabled:        enabled,
		Source:         string(source),
		CompanionFiles: companions,
		Options:        man.toOptions(timeout),
	}, nil
}

func (m manifest) toOptions(timeout time.Duration) monitor.Options {
	levels := make([]monitor.Level, 0, len(m.Rule.Levels))
	for _, l := range m.Rule.Levels {
		levels = append(levels, monitor.Level{
			Name:      l.Name,
			Priority:  monitor.Priority(l.Priority),
			Threshold: l.Threshold,
		})
	}

	notifications := make([]monitor.NotificationConfig, 0, len(m.Notifications))
	for _, n := range m.Notifications {
		mention := make(map[monitor.Priority][]string, len(n.MentionOnPriority))
		for prio, targets := range n.MentionOnPriority {
			mention[monitor.Priority(prio)] = targets
		}
		notifications = append(notifications, monitor.NotificationConfig{
			Class:             n.Class,
			Target:            n.Target,
			MinPriorityToSend: monitor.Priority(n.MinPriorityToSend),
			MentionOnPriority: mention,
		})
	}

	return monitor.Options{
		SearchCron:            m.SearchCron,
		UpdateCron:            m.UpdateCron,
		ExecutionTimeout:      timeout,
		MaxIssuesCreation:     m.MaxIssuesCreation,
		ModelIDKey:            m.ModelIDKey,
		Solvable:              m.Solvable,
		Unique:                m.Unique,
		DismissAckOnNewIssues: m.DismissAckOnNewIssues,
		Rule: monitor.Rule{
			Kind:        monitor.RuleKind(m.Rule.Kind),
			Levels:      levels,
			ValueKey:    m.Rule.ValueKey,
			GreaterThan: m.Rule.GreaterThan,
		},
		Reactions:     m.Reactions,
		Notifications: notifications,
	}
}
