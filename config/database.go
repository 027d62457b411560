package config

import "time"

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"adcopy"`
	Password string `env:"PASSWORD" envDefault:"adcopy"`
	Name     string `env:"NAME"     envDefault:"adcopy"`
	SSLMode  string `env:"SSL_MODE" envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig contains Redis connection configuration shared by the cache
// backend and the queued-mode job broker.
type RedisConfig struct {
	Addr        string        `env:"ADDR"         envDefault:"localhost:6379"`
	Password    string        `env:"PASSWORD"     envDefault:""`
	DB          int           `env:"DB"           envDefault:"0"`
	DialTimeout time.Duration `env:"DIAL_TIMEOUT" envDefault:"5s"`
}

// CacheConfig contains cache manager configuration.
type CacheConfig struct {
	// DefaultTTL is applied when a Set call does not specify a TTL.
	DefaultTTL time.Duration `env:"CACHE_DEFAULT_TTL" envDefault:"1h"`

	// ProbeTimeout bounds the one-shot startup connectivity probe against the
	// shared backend. If the probe fails the manager stays on the in-process
	// fallback for the life of the process.
	ProbeTimeout time.Duration `env:"CACHE_PROBE_TIMEOUT" envDefault:"2s"`
}

// Sanitize applies guardrails to cache configuration values.
func (c *CacheConfig) Sanitize() {
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = time.Hour
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 2 * time.Second
	}
}
