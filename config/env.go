// Package config provides environment-sourced configuration helpers shared by
// the relay and forward commands. Required names that are absent at startup
// are collected into a single MissingError so the process can exit with a
// complete listing instead of failing one variable at a time.
package config

import (
	"fmt"
	"os"
	"strings"
)

// MissingError lists every required environment variable that was absent.
type MissingError struct {
	Names []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", strings.Join(e.Names, ", "))
}

// Env reads environment variables, tracking which required names were absent.
// Call Missing after all lookups to retrieve the collected error.
type Env struct {
	missing []string
}

// Require returns the value of name, recording it as missing when unset or
// empty.
func (e *Env) Require(name string) string {
	v := os.Getenv(name)
	if v == "" {
		e.missing = append(e.missing, name)
	}
	return v
}

// Get returns the value of name, or fallback when unset or empty.
func (e *Env) Get(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// GetBool returns true when name is set to "true", "1", or "yes".
func (e *Env) GetBool(name string, fallback bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

// Missing returns a MissingError covering every Require miss, or nil when all
// required names were present.
func (e *Env) Missing() error {
	if len(e.missing) == 0 {
		return nil
	}
	return &MissingError{Names: e.missing}
}
