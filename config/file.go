package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hookline/hookline/logging"
	"github.com/hookline/hookline/observability"
)

// File is the optional YAML configuration overlay. Environment variables
// remain the primary source for secrets and addresses; the file covers the
// ambient settings (logging, metrics) that rarely change per deployment.
type File struct {
	// Logging configuration
	Logging logging.Config `yaml:"logging,omitempty"`

	// Metrics configuration
	Metrics observability.ServerConfig `yaml:"metrics,omitempty"`
}

// DefaultFile returns the overlay used when no --config flag is given.
func DefaultFile() File {
	return File{
		Logging: logging.DefaultConfig(),
		Metrics: observability.DefaultServerConfig(),
	}
}

// LoadFile reads and parses a YAML overlay. Unknown keys are rejected so a
// typo in a config file fails loudly at startup.
func LoadFile(path string) (File, error) {
	f := DefaultFile()

	data, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("failed to read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return f, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return f, nil
}
