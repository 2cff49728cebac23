package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"stageflow/internal/calendar"
	"stageflow/internal/graph"
)

// Config models stageflow.yml: the per-space working calendar plus the
// workflow template seeded when a space is initialized.
type Config struct {
	Space struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"space"`
	Calendar struct {
		DayStart    string   `yaml:"day_start"`
		DayEnd      string   `yaml:"day_end"`
		WorkingDays []string `yaml:"working_days"`
	} `yaml:"calendar"`
	ParallelTasks bool `yaml:"parallel_tasks"`
	Workflow      struct {
		Groups []GroupTemplate `yaml:"groups"`
	} `yaml:"workflow"`
}

// GroupTemplate describes one workflow stage in the template.
type GroupTemplate struct {
	Name           string               `yaml:"name"`
	Position       int                  `yaml:"position"`
	EstimatedHours float64              `yaml:"estimated_hours"`
	Start          bool                 `yaml:"start"`
	ApprovalGate   bool                 `yaml:"approval_gate"`
	Terminal       bool                 `yaml:"terminal"`
	DependsOn      []DependencyTemplate `yaml:"depends_on"`
}

type DependencyTemplate struct {
	Group string `yaml:"group"`
	Kind  string `yaml:"kind"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run sf space init first", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Space.ID == "" {
		return fmt.Errorf("config.space.id is required")
	}
	if _, err := calendar.ParseWindow(c.Calendar.DayStart, c.Calendar.DayEnd); err != nil {
		return err
	}
	if _, err := calendar.ParseWeekdays(c.Calendar.WorkingDays); err != nil {
		return err
	}
	if len(c.Workflow.Groups) == 0 {
		return fmt.Errorf("config.workflow.groups is required")
	}
	names := map[string]bool{}
	positions := map[int]string{}
	startName := ""
	for _, g := range c.Workflow.Groups {
		if g.Name == "" {
			return fmt.Errorf("workflow group with empty name")
		}
		if names[g.Name] {
			return fmt.Errorf("duplicate workflow group %s", g.Name)
		}
		names[g.Name] = true
		if other, ok := positions[g.Position]; ok {
			return fmt.Errorf("groups %s and %s share position %d", other, g.Name, g.Position)
		}
		positions[g.Position] = g.Name
		if g.EstimatedHours < 0 {
			return fmt.Errorf("group %s has negative estimated hours", g.Name)
		}
		if g.Start {
			if startName != "" {
				return fmt.Errorf("duplicate start stage: %s and %s", startName, g.Name)
			}
			startName = g.Name
		}
	}
	if startName == "" {
		return fmt.Errorf("config.workflow.groups must mark exactly one start stage")
	}
	edges := map[string][]string{}
	for _, g := range c.Workflow.Groups {
		for _, dep := range g.DependsOn {
			if !names[dep.Group] {
				return fmt.Errorf("group %s depends on unknown group %s", g.Name, dep.Group)
			}
			kind := dep.Kind
			if kind == "" {
				kind = graph.KindSequential
			}
			if !graph.ValidKind(kind) {
				return fmt.Errorf("group %s has invalid dependency kind %s", g.Name, dep.Kind)
			}
			if kind != graph.KindSequential {
				continue
			}
			if err := graph.EnsureAcyclic(edges, g.Name, dep.Group); err != nil {
				return fmt.Errorf("workflow template: %w", err)
			}
			edges[g.Name] = append(edges[g.Name], dep.Group)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "stageflow.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(spaceID string) string {
	return fmt.Sprintf(defaultTemplate, spaceID, spaceID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a space.
func Default(spaceID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(spaceID))).Decode(&cfg)
	cfg.Space.ID = spaceID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `space:
  id: %s
  name: %s

calendar:
  day_start: "09:00"
  day_end: "17:00"
  working_days: [monday, tuesday, wednesday, thursday, friday]

parallel_tasks: true

workflow:
  groups:
    - name: intake
      position: 1
      estimated_hours: 0
      start: true
      approval_gate: true

    - name: build
      position: 2
      estimated_hours: 16
      depends_on:
        - group: intake
          kind: sequential

    - name: review
      position: 3
      estimated_hours: 4
      approval_gate: true
      depends_on:
        - group: build
          kind: sequential

    - name: done
      position: 4
      estimated_hours: 0
      terminal: true
      depends_on:
        - group: review
          kind: sequential
        - group: build
          kind: parallel
`
