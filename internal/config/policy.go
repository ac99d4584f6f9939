package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultPassingScore applies when neither the policy file nor the environment sets one.
const DefaultPassingScore = 75

// RiskWeights are the per-event weights of the proctor risk score.
type RiskWeights struct {
	Fullscreen int `yaml:"fullscreen"`
	Tab        int `yaml:"tab"`
	Paste      int `yaml:"paste"`
	Other      int `yaml:"other"`
}

// RiskLevels are exclusive lower bounds: score > High is high risk, score > Medium is medium.
type RiskLevels struct {
	High   int `yaml:"high"`
	Medium int `yaml:"medium"`
}

// Policy is the scoring and proctoring policy, usually read from config/policy.yaml.
type Policy struct {
	PassingScore float64     `yaml:"passing_score"`
	RiskWeights  RiskWeights `yaml:"risk_weights"`
	RiskLevels   RiskLevels  `yaml:"risk_levels"`
}

// DefaultPolicy mirrors the shipped policy.yaml.
func DefaultPolicy() Policy {
	return Policy{
		PassingScore: DefaultPassingScore,
		RiskWeights:  RiskWeights{Fullscreen: 5, Tab: 5, Paste: 3, Other: 1},
		RiskLevels:   RiskLevels{High: 10, Medium: 5},
	}
}

// LoadPolicy reads the YAML policy at path. A missing or unreadable file yields the
// defaults; zero values inside a readable file are filled from the defaults too.
func LoadPolicy(path string) Policy {
	p := DefaultPolicy()
	if path == "" {
		return p
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return p
	}
	parsed, err := ParsePolicy(raw)
	if err != nil {
		return p
	}
	return parsed
}

// ParsePolicy decodes a YAML policy document over the defaults.
func ParsePolicy(raw []byte) (Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return DefaultPolicy(), err
	}

	def := DefaultPolicy()
	if p.PassingScore <= 0 {
		p.PassingScore = def.PassingScore
	}
	if p.RiskWeights == (RiskWeights{}) {
		p.RiskWeights = def.RiskWeights
	}
	if p.RiskLevels == (RiskLevels{}) {
		p.RiskLevels = def.RiskLevels
	}
	return p, nil
}
