package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"empirion/internal/simulation"

	"gopkg.in/yaml.v3"
)

// ScenarioFile is the YAML shape the CLI reads for offline projections and
// decision submissions.
type ScenarioFile struct {
	Branch        string                       `yaml:"branch"`
	EcosystemFile string                       `yaml:"ecosystem_file"`
	Ecosystem     *yaml.Node                   `yaml:"ecosystem"`
	Indicators    *simulation.MarketIndicators `yaml:"indicators"`
	Decisions     simulation.DecisionData      `yaml:"decisions"`
}

type Scenario struct {
	Branch     simulation.Branch
	Ecosystem  simulation.EcosystemConfig
	Indicators *simulation.MarketIndicators
	Decisions  simulation.DecisionData
}

// LoadScenario reads a scenario file. The ecosystem starts from the defaults,
// then ecosystem_file, then the inline ecosystem block. Each layer only
// replaces the keys it actually sets, so an explicit 0 sticks.
func LoadScenario(path string) (Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, err
	}
	var f ScenarioFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return Scenario{}, fmt.Errorf("parse scenario %s: %w", path, err)
	}

	out := Scenario{
		Ecosystem:  simulation.DefaultEcosystem(),
		Indicators: f.Indicators,
		Decisions:  f.Decisions,
	}
	branch := f.Branch
	if branch == "" {
		branch = string(simulation.BranchIndustrial)
	}
	out.Branch, err = simulation.ParseBranch(branch)
	if err != nil {
		return Scenario{}, err
	}

	if f.EcosystemFile != "" {
		ecoPath := f.EcosystemFile
		if !filepath.IsAbs(ecoPath) {
			cand := filepath.Join(filepath.Dir(path), ecoPath)
			if _, err := os.Stat(cand); err == nil {
				ecoPath = cand
			}
		}
		eco, err := LoadEcosystemFile(ecoPath)
		if err != nil {
			return Scenario{}, err
		}
		out.Ecosystem = eco
	}
	if f.Ecosystem != nil {
		if err := f.Ecosystem.Decode(&out.Ecosystem); err != nil {
			return Scenario{}, fmt.Errorf("parse scenario %s ecosystem: %w", path, err)
		}
	}

	if err := out.Validate(); err != nil {
		return Scenario{}, err
	}
	return out, nil
}

func (s Scenario) Validate() error {
	if err := s.Decisions.Validate(); err != nil {
		return fmt.Errorf("decisions invalid: %w", err)
	}
	if err := s.Ecosystem.Validate(); err != nil {
		return fmt.Errorf("ecosystem invalid: %w", err)
	}
	return nil
}

type ecosystemFileWrapper struct {
	Ecosystem *yaml.Node `yaml:"ecosystem"`
}

// LoadEcosystemFile reads `ecosystem:` from a YAML file on top of the default
// macro configuration.
func LoadEcosystemFile(path string) (simulation.EcosystemConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return simulation.EcosystemConfig{}, err
	}
	var w ecosystemFileWrapper
	if err := yaml.Unmarshal(raw, &w); err != nil {
		return simulation.EcosystemConfig{}, fmt.Errorf("parse ecosystem %s: %w", path, err)
	}
	if w.Ecosystem == nil || w.Ecosystem.Kind != yaml.MappingNode {
		return simulation.EcosystemConfig{}, errors.New("ecosystem file has no ecosystem block")
	}
	eco := simulation.DefaultEcosystem()
	if err := w.Ecosystem.Decode(&eco); err != nil {
		return simulation.EcosystemConfig{}, fmt.Errorf("parse ecosystem %s: %w", path, err)
	}
	return eco, nil
}
