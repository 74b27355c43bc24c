package config

import (
	"os"

	"github.com/goccy/go-yaml"
	"github.com/musedev/muse/errors"
)

// AgentConfig is the optional per-agent profile loaded from a YAML file.
// Everything has a working default; the file exists so that a deployment
// can swap the persona, trim the tool set or tune generation without a
// rebuild.
type AgentConfig struct {
	Name   string `yaml:"name"`
	System string `yaml:"system,omitempty"`

	// Tools restricts the registered tool set when non-empty.
	Tools []string `yaml:"tools,omitempty"`

	Temperature     float64 `yaml:"temperature,omitempty"`
	MaxCycles       int     `yaml:"maxCycles,omitempty"`
	PlanTemperature float64 `yaml:"planTemperature,omitempty"`
}

func NewAgentConfig() *AgentConfig {
	return &AgentConfig{
		Name:            "muse",
		Temperature:     0.5,
		PlanTemperature: 0.5,
		MaxCycles:       50,
	}
}

func LoadAgentConfig(path string) (*AgentConfig, error) {
	conf := NewAgentConfig()
	if path == "" {
		return conf, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read agent config %s", path)
	}
	if err := yaml.Unmarshal(raw, conf); err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidConfig, "failed to parse agent config %s: %v", path, err)
	}

	if conf.MaxCycles <= 0 {
		conf.MaxCycles = 50
	}
	if conf.Temperature == 0 {
		conf.Temperature = 0.5
	}

	return conf, nil
}
