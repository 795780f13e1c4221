package relay

import (
	"fmt"
	"strings"

	"github.com/hookline/hookline/config"
)

// Environment variable names for the relay service.
const (
	// EnvToken is the shared secret subscribers must present on channel open.
	EnvToken = "HOOKLINE_TOKEN"

	// EnvListenAddr is the bind address for the relay HTTP surface.
	EnvListenAddr = "HOOKLINE_LISTEN_ADDR"

	// EnvUpgradeSuffix overrides the reserved channel-open path suffix.
	EnvUpgradeSuffix = "HOOKLINE_UPGRADE_SUFFIX"
)

// DefaultUpgradeSuffix is the reserved path suffix that distinguishes
// channel-open requests from webhook callbacks.
const DefaultUpgradeSuffix = "/ws"

// Config is the process-wide relay configuration. It is set once at startup
// and read-only thereafter.
type Config struct {
	// ListenAddr is the address to listen on for inbound callbacks and
	// channel-open requests. Format: "host:port".
	ListenAddr string

	// Token is the shared authentication secret. Channel-open requests must
	// carry it in the "token" query parameter.
	Token string

	// UpgradeSuffix is the reserved path suffix for channel-open requests.
	// Any inbound path not ending in it is treated as a webhook callback.
	UpgradeSuffix string
}

// ConfigFromEnv builds a Config from the environment. A missing required
// variable is a fatal startup error carrying every absent name.
func ConfigFromEnv() (Config, error) {
	var env config.Env

	cfg := Config{
		Token:         env.Require(EnvToken),
		ListenAddr:    env.Get(EnvListenAddr, ":8080"),
		UpgradeSuffix: env.Get(EnvUpgradeSuffix, DefaultUpgradeSuffix),
	}
	if err := env.Missing(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks invariants that env parsing cannot express.
func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("token must not be empty")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if !strings.HasPrefix(c.UpgradeSuffix, "/") {
		return fmt.Errorf("upgrade suffix %q must start with /", c.UpgradeSuffix)
	}
	return nil
}
