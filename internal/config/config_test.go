package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestParsePolicyFillsDefaults(t *testing.T) {
	p, err := ParsePolicy([]byte("passing_score: 60\n"))
	if err != nil {
		t.Fatal(err)
	}
	if p.PassingScore != 60 {
		t.Errorf("passing score = %v, want 60", p.PassingScore)
	}
	if p.RiskWeights != DefaultPolicy().RiskWeights {
		t.Errorf("risk weights = %+v, want defaults", p.RiskWeights)
	}
	if p.RiskLevels != DefaultPolicy().RiskLevels {
		t.Errorf("risk levels = %+v, want defaults", p.RiskLevels)
	}
}

func TestParsePolicyOverrides(t *testing.T) {
	raw := []byte(`
risk_weights:
  fullscreen: 4
  tab: 2
  paste: 2
  other: 1
risk_levels:
  high: 20
  medium: 8
`)
	p, err := ParsePolicy(raw)
	if err != nil {
		t.Fatal(err)
	}
	if p.PassingScore != DefaultPassingScore {
		t.Errorf("passing score = %v, want default", p.PassingScore)
	}
	if want := (RiskWeights{Fullscreen: 4, Tab: 2, Paste: 2, Other: 1}); p.RiskWeights != want {
		t.Errorf("risk weights = %+v, want %+v", p.RiskWeights, want)
	}
	if want := (RiskLevels{High: 20, Medium: 8}); p.RiskLevels != want {
		t.Errorf("risk levels = %+v, want %+v", p.RiskLevels, want)
	}
}

func TestParsePolicyRejectsBadYAML(t *testing.T) {
	p, err := ParsePolicy([]byte("passing_score: ["))
	if err == nil {
		t.Fatal("expected an error")
	}
	if !reflect.DeepEqual(p, DefaultPolicy()) {
		t.Errorf("policy = %+v, want defaults", p)
	}
}

func TestLoadPolicy(t *testing.T) {
	if got := LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml")); !reflect.DeepEqual(got, DefaultPolicy()) {
		t.Errorf("missing file: %+v", got)
	}

	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("passing_score: 70\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got := LoadPolicy(path); got.PassingScore != 70 {
		t.Errorf("passing score = %v, want 70", got.PassingScore)
	}
}

func TestParseOrigins(t *testing.T) {
	if parseOrigins("") != nil {
		t.Error("empty input must allow all origins")
	}
	got := parseOrigins(" https://a.example , ,https://b.example")
	want := []string{"https://a.example", "https://b.example"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("origins = %v, want %v", got, want)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("VIOLATION_RATE_PER_MINUTE", "12")
	t.Setenv("SWEEPER_ENABLED", "true")
	t.Setenv("PASSING_SCORE", "65.5")
	t.Setenv("POLICY_FILE", filepath.Join(t.TempDir(), "none.yaml"))

	cfg := Load()
	if cfg.ServerPort != "9090" || cfg.ViolationRatePerMin != 12 || !cfg.SweeperEnabled {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Policy.PassingScore != 65.5 {
		t.Errorf("passing score = %v, want 65.5", cfg.Policy.PassingScore)
	}
}
