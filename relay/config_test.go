package relay

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hookline/hookline/config"
)

func TestConfigFromEnv_Defaults(t *testing.T) {
	t.Setenv(EnvToken, "secret")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	require.Equal(t, "secret", cfg.Token)
	require.Equal(t, ":8080", cfg.ListenAddr)
	require.Equal(t, DefaultUpgradeSuffix, cfg.UpgradeSuffix)
}

func TestConfigFromEnv_MissingToken(t *testing.T) {
	t.Setenv(EnvToken, "")

	_, err := ConfigFromEnv()
	require.Error(t, err)

	var missing *config.MissingError
	require.ErrorAs(t, err, &missing)
	require.Contains(t, missing.Names, EnvToken)
	require.Contains(t, err.Error(), EnvToken)
}

func TestConfig_Validate_BadSuffix(t *testing.T) {
	cfg := Config{ListenAddr: ":8080", Token: "x", UpgradeSuffix: "ws"}
	require.Error(t, cfg.Validate())
}
