package subscriber

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/hookline/hookline/config"
	"github.com/hookline/hookline/forward"
)

// Environment variable names for the forward command.
const (
	// EnvRelayURL is the channel-open URL with the token embedded, e.g.
	// "wss://relay.example/ws?token=secret".
	EnvRelayURL = "HOOKLINE_RELAY_URL"

	// EnvTargetURL is the local service that receives forwarded callbacks,
	// e.g. "http://localhost:8787".
	EnvTargetURL = "HOOKLINE_TARGET_URL"

	// EnvPreserveHost keeps the original Host header on forwarded requests
	// instead of rewriting it to the target authority.
	EnvPreserveHost = "HOOKLINE_PRESERVE_HOST"
)

// Config is the process-wide subscriber configuration, set once at startup.
type Config struct {
	// RelayURL is the websocket channel-open URL, token included. http(s)
	// schemes are accepted and normalized to ws(s).
	RelayURL string

	// Target describes the local downstream service.
	Target forward.TargetConfig
}

// ConfigFromEnv builds a Config from the environment. Missing required
// variables are collected into one fatal error.
func ConfigFromEnv() (Config, error) {
	var env config.Env

	cfg := Config{
		RelayURL: env.Require(EnvRelayURL),
		Target: forward.TargetConfig{
			URL:          env.Require(EnvTargetURL),
			PreserveHost: env.GetBool(EnvPreserveHost, false),
		},
	}
	if err := env.Missing(); err != nil {
		return Config{}, err
	}

	normalized, err := normalizeRelayURL(cfg.RelayURL)
	if err != nil {
		return Config{}, err
	}
	cfg.RelayURL = normalized
	return cfg, nil
}

// normalizeRelayURL validates the relay URL and maps http(s) to ws(s).
func normalizeRelayURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid relay URL %q: %w", raw, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("relay URL %q must use ws, wss, http, or https", raw)
	}

	if u.Host == "" {
		return "", fmt.Errorf("relay URL %q has no host", raw)
	}
	return u.String(), nil
}
