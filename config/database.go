package config

import (
	"net"
	"net/url"
	"strconv"
	"time"
)

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"                    envDefault:"localhost"`
	Port     int    `env:"PORT"                    envDefault:"5432"`
	User     string `env:"USER"                    envDefault:"bms"`
	Password string `env:"PASSWORD"                envDefault:"bms"`
	Name     string `env:"NAME"                    envDefault:"bms"`
	SSLMode  string `env:"SSL_MODE"                envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`

	MaxOpenConns    int           `env:"MAX_OPEN_CONNS"    envDefault:"25"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS"    envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"5m"`
}

// DSN renders the connection URL for the pgx driver.
func (c DBConfig) DSN() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Name,
	}
	q := u.Query()
	q.Set("sslmode", c.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// RedisConfig contains Redis configuration. An empty URI disables Redis; the
// service then runs with the local queue, in-memory breakers and no cache.
type RedisConfig struct {
	URI                string   `env:"URI"                  envDefault:""`
	Password           string   `env:"PASSWORD"             envDefault:""`
	DB                 int      `env:"DB"                   envDefault:"0"`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:""`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	ClusterNodes       []string `env:"CLUSTER_NODES"        envDefault:""`
	UseCluster         bool     `env:"USE_CLUSTER"          envDefault:"false"`
}

// Enabled reports whether any Redis topology is configured.
func (r RedisConfig) Enabled() bool {
	switch {
	case r.UseCluster:
		return len(r.ClusterNodes) > 0
	case r.UseSentinel:
		return len(r.SentinelNodes) > 0
	default:
		return r.URI != ""
	}
}

// CacheConfig contains status cache configuration (Redis-based).
type CacheConfig struct {
	Prefix string `env:"CACHE_PREFIX" envDefault:"bms:cache:"`

	// StatusTTL is how long terminal job records are served from the cache.
	StatusTTL time.Duration `env:"CACHE_STATUS_TTL" envDefault:"10m"`

	// KickoffTTL guards a job against duplicate worker kickoffs.
	KickoffTTL time.Duration `env:"CACHE_KICKOFF_TTL" envDefault:"30s"`
}
