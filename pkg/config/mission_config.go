package config

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/forgepath/missionctl/pkg/config/provider"
)

// MissionConfig is the top-level domain configuration for a mission run:
// where its workspace lives, how many cycles/iterations/restarts it's
// allotted, and the context-watcher/handoff thresholds that govern when a
// fresh instance takes over.
type MissionConfig struct {
	Workspace string `yaml:"workspace" mapstructure:"workspace"`

	CycleBudget   int `yaml:"cycle_budget,omitempty" mapstructure:"cycle_budget"`
	MaxIterations int `yaml:"max_iterations,omitempty" mapstructure:"max_iterations"`
	RestartBudget int `yaml:"restart_budget,omitempty" mapstructure:"restart_budget"`

	GracefulThreshold  int `yaml:"graceful_threshold,omitempty" mapstructure:"graceful_threshold"`
	EmergencyThreshold int `yaml:"emergency_threshold,omitempty" mapstructure:"emergency_threshold"`

	EnableTimeHandoff          bool    `yaml:"enable_time_handoff,omitempty" mapstructure:"enable_time_handoff"`
	TimeBasedHandoffMinutes    float64 `yaml:"time_based_handoff_minutes,omitempty" mapstructure:"time_based_handoff_minutes"`
	StaleSessionTimeoutMinutes float64 `yaml:"stale_session_timeout_minutes,omitempty" mapstructure:"stale_session_timeout_minutes"`

	GroundRulesFile string `yaml:"ground_rules_file,omitempty" mapstructure:"ground_rules_file"`

	EnableEventBus   bool `yaml:"enable_event_bus,omitempty" mapstructure:"enable_event_bus"`
	EnableKB         bool `yaml:"enable_kb,omitempty" mapstructure:"enable_kb"`
	EnableCodeMemory bool `yaml:"enable_code_memory,omitempty" mapstructure:"enable_code_memory"`

	LLMProvider string `yaml:"llm_provider,omitempty" mapstructure:"llm_provider"`

	Logger LoggerConfig `yaml:"logger,omitempty" mapstructure:"logger"`
}

// SetDefaults fills in every zero-valued field with its documented default.
func (c *MissionConfig) SetDefaults() {
	if c.Workspace == "" {
		c.Workspace = "./workspace"
	}
	if c.CycleBudget == 0 {
		c.CycleBudget = 1
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = 10
	}
	if c.RestartBudget == 0 {
		c.RestartBudget = 3
	}
	if c.GracefulThreshold == 0 {
		c.GracefulThreshold = 130_000
	}
	if c.EmergencyThreshold == 0 {
		c.EmergencyThreshold = 140_000
	}
	if c.TimeBasedHandoffMinutes == 0 {
		c.TimeBasedHandoffMinutes = 55
	}
	if c.StaleSessionTimeoutMinutes == 0 {
		c.StaleSessionTimeoutMinutes = 5
	}
	if c.LLMProvider == "" {
		c.LLMProvider = "anthropic"
	}
	c.Logger.SetDefaults()
}

// Validate checks invariants SetDefaults can't repair on its own.
func (c *MissionConfig) Validate() error {
	if c.CycleBudget < 0 {
		return fmt.Errorf("cycle_budget must be >= 0")
	}
	if c.RestartBudget < 1 {
		return fmt.Errorf("restart_budget must be >= 1")
	}
	if c.EmergencyThreshold < c.GracefulThreshold {
		return fmt.Errorf("emergency_threshold must be >= graceful_threshold")
	}
	return c.Logger.Validate()
}

// LoadMissionConfig loads a MissionConfig from path through the configured
// provider (file by default), expanding ${VAR}/${VAR:-default} environment
// references before decoding, then applies defaults and validates.
func LoadMissionConfig(ctx context.Context, path string, providerType provider.Type) (*MissionConfig, error) {
	_ = LoadEnvFiles()

	prov, err := provider.New(provider.ProviderConfig{Type: providerType, Path: path})
	if err != nil {
		return nil, fmt.Errorf("create config provider: %w", err)
	}
	defer prov.Close()

	raw, err := prov.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	var untyped map[string]interface{}
	if err := yaml.Unmarshal(raw, &untyped); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	expanded := ExpandEnvVarsInData(untyped)

	cfg := &MissionConfig{}
	if err := mapstructure.Decode(expanded, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
