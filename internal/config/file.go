package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML overlay shape. Only the interviewer persona and
// voice policy live in the file; secrets stay in the environment.
type fileConfig struct {
	Interview *InterviewConfig `yaml:"interview"`
}

// ApplyFile overlays the YAML file at path onto c. Keys absent from the file
// keep their current values.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	fc := fileConfig{Interview: &c.Interview}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}
