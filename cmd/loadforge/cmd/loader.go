package cmd

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/loadforge/loadforge/internal/testplan"
)

// loadTestConfiguration reads and parses a TestConfiguration from a YAML
// file. Full config authoring (fluent DSL, importers) is out of scope here;
// this is the thin loader the testplan package's doc comment defers to.
func loadTestConfiguration(path string) (testplan.TestConfiguration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return testplan.TestConfiguration{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg testplan.TestConfiguration
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return testplan.TestConfiguration{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.Name == "" {
		return testplan.TestConfiguration{}, fmt.Errorf("test configuration requires a name")
	}
	if len(cfg.Load) == 0 {
		return testplan.TestConfiguration{}, fmt.Errorf("test configuration requires at least one load phase")
	}
	if len(cfg.Scenarios) == 0 {
		return testplan.TestConfiguration{}, fmt.Errorf("test configuration requires at least one scenario")
	}

	return cfg, nil
}
