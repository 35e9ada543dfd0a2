package mega

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestConfigValidateRejectsConcurrencyAboveMaxWorkers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxWorkers = 4
	cfg.ConcurrencyBudget = 5
	require.ErrorIs(t, cfg.Validate(), EARGS)
}

func TestConfigValidateRejectsInvertedRetryDelays(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinRetryDelay = cfg.MaxRetryDelay + 1
	require.ErrorIs(t, cfg.Validate(), EARGS)
}

func TestConfigValidateRequiresProxiesWhenModeNotNone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProxyMode = ProxySingle
	cfg.Proxies = nil
	require.ErrorIs(t, cfg.Validate(), EARGS)

	cfg.Proxies = []string{"http://localhost:8080"}
	require.NoError(t, cfg.Validate())
}

func TestConfigValidateRejectsUnknownProxyMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProxyMode = "bogus"
	require.ErrorIs(t, cfg.Validate(), EARGS)
}
