package mega

import (
	"fmt"
	"time"
)

// ProxyMode selects how outbound HTTP requests pick a proxy, mirroring the
// original client's ProxyMode (src/config.rs in original_source).
type ProxyMode string

const (
	ProxyNone   ProxyMode = "none"
	ProxySingle ProxyMode = "single"
	ProxyRandom ProxyMode = "random"
)

// Config is the external-collaborator configuration surface described in
// spec §6. It carries no persistence of its own — reading/writing a config
// file is the CLI's job (out of scope here).
type Config struct {
	APIURL string

	MaxWorkers         int
	ConcurrencyBudget  int
	MaxRetries         int
	Timeout            time.Duration
	MinRetryDelay      time.Duration
	MaxRetryDelay      time.Duration
	ProxyMode          ProxyMode
	Proxies            []string
}

// DefaultAPIURL is the MEGA `cs` endpoint used when Config.APIURL is empty.
const DefaultAPIURL = "https://g.api.mega.co.nz/cs"

// DefaultConfig returns the spec §6 defaults (sourced from
// original_source/src/config.rs's Default impl).
func DefaultConfig() Config {
	return Config{
		APIURL:            DefaultAPIURL,
		MaxWorkers:        10,
		ConcurrencyBudget: 10,
		MaxRetries:        3,
		Timeout:           10000 * time.Millisecond,
		MinRetryDelay:     1000 * time.Millisecond,
		MaxRetryDelay:     10000 * time.Millisecond,
		ProxyMode:         ProxyNone,
		Proxies:           nil,
	}
}

// Validate enforces the configuration invariants from spec §6:
// 1 <= ConcurrencyBudget <= MaxWorkers; MinRetryDelay <= MaxRetryDelay;
// ProxyMode != none implies Proxies is non-empty.
func (c Config) Validate() error {
	if c.MaxWorkers < 1 {
		return fmt.Errorf("%w: max_workers must be >= 1", EARGS)
	}
	if c.ConcurrencyBudget < 1 || c.ConcurrencyBudget > c.MaxWorkers {
		return fmt.Errorf("%w: concurrency_budget must be in [1, max_workers]", EARGS)
	}
	if c.MinRetryDelay > c.MaxRetryDelay {
		return fmt.Errorf("%w: min_retry_delay must be <= max_retry_delay", EARGS)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must be >= 0", EARGS)
	}
	switch c.ProxyMode {
	case ProxyNone, ProxySingle, ProxyRandom:
	default:
		return fmt.Errorf("%w: unknown proxy_mode %q", EARGS, c.ProxyMode)
	}
	if c.ProxyMode != ProxyNone && len(c.Proxies) == 0 {
		return fmt.Errorf("%w: proxy_mode %q requires a non-empty proxies list", EARGS, c.ProxyMode)
	}
	return nil
}
