package postgres

import (
	"fmt"
	"time"
)

// RegistrationStoreConfig holds store-specific configuration for the
// PostgreSQL registration store. Pool configuration is handled separately via PoolConfig.
type RegistrationStoreConfig struct {
	// AutoMigrate runs the embedded migrations when the store is created.
	AutoMigrate bool

	// QueryTimeoutSeconds is the maximum time a query can run before timing out.
	// Default: 10 seconds
	// Set to -1 to use context timeouts only (no additional timeout)
	QueryTimeoutSeconds int32

	// PoolStatsInterval is how often Start logs connection pool statistics.
	// Default: 30 seconds
	PoolStatsInterval time.Duration
}

// Validate checks that the configuration is valid.
func (c *RegistrationStoreConfig) Validate() error {
	if c.QueryTimeoutSeconds < -1 {
		return fmt.Errorf("query timeout must be -1 or greater")
	}
	if c.PoolStatsInterval < 0 {
		return fmt.Errorf("pool stats interval must not be negative")
	}
	return nil
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *RegistrationStoreConfig) ApplyDefaults() {
	if c.QueryTimeoutSeconds == 0 {
		c.QueryTimeoutSeconds = 10 // 10 seconds
	}
	if c.PoolStatsInterval == 0 {
		c.PoolStatsInterval = 30 * time.Second
	}
}

func (c *RegistrationStoreConfig) queryTimeout() time.Duration {
	if c.QueryTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.QueryTimeoutSeconds) * time.Second
}
