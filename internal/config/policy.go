package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy tunes the violation escalation ladder.
type Policy struct {
	// WarningsBeforeTermination is how many violations only warn.
	WarningsBeforeTermination int           `yaml:"warnings_before_termination"`
	WarningSeconds            int           `yaml:"warning_seconds"`
	LockWindow                time.Duration `yaml:"lock_window"`
	TerminationDelay          time.Duration `yaml:"termination_delay"`
	ResizeThreshold           int           `yaml:"resize_threshold"`
}

// DefaultPolicy mirrors the behavior examinees are told about in the
// instructions: two 20 second warnings, then the exam is submitted.
func DefaultPolicy() Policy {
	return Policy{
		WarningsBeforeTermination: 2,
		WarningSeconds:            20,
		LockWindow:                800 * time.Millisecond,
		TerminationDelay:          2500 * time.Millisecond,
		ResizeThreshold:           200,
	}
}

// LoadPolicy reads a YAML policy file. Missing fields keep their defaults;
// an empty path returns DefaultPolicy.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read policy: %w", err)
	}
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("parse policy: %w", err)
	}
	if p.WarningsBeforeTermination < 0 || p.WarningSeconds < 0 || p.ResizeThreshold < 0 {
		return DefaultPolicy(), fmt.Errorf("policy %s: negative values are not allowed", path)
	}
	return p, nil
}
