package sessionware

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ErrUnknownDriver is returned by OpenStore for an unsupported driver name.
var ErrUnknownDriver = errors.New("unknown session store driver")

// Config is the file form of the middleware and store settings.
//
//	driver: sqlite
//	dsn: sessions.db
//	table_name: sessions
//	sess_key: session_id
//	default_expiry: 24h
//	logger: true
//	gc:
//	  type: auto
//	  prob_molecular: 1
//	  prob_denominator: 100
//	sync:
//	  enable: true
//	  force: false
type Config struct {
	Driver    string      `yaml:"driver"` // sqlite, postgres, memcached or redis
	DSN       string      `yaml:"dsn"`
	Servers   []string    `yaml:"servers"`
	Redis     RedisConfig `yaml:"redis"`
	TableName string      `yaml:"table_name"`

	SessKey         string        `yaml:"sess_key"`
	DefaultExpiry   time.Duration `yaml:"default_expiry"`
	Logger          *bool         `yaml:"logger"`
	MaxSessionBytes int           `yaml:"max_session_bytes"`

	GC struct {
		Type            string  `yaml:"type"`
		ProbDenominator float64 `yaml:"prob_denominator"`
		ProbMolecular   float64 `yaml:"prob_molecular"`
	} `yaml:"gc"`

	Sync struct {
		Enable bool `yaml:"enable"`
		Force  bool `yaml:"force"`
	} `yaml:"sync"`
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseConfig(b)
}

// ParseConfig parses YAML config.
func ParseConfig(b []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Options converts the file settings into middleware options. GC
// probabilities left out take their defaults.
func (c Config) Options() (Options, error) {
	mode, err := ParseGCMode(c.GC.Type)
	if err != nil {
		return Options{}, err
	}
	gc := DefaultGCPolicy()
	gc.Mode = mode
	if c.GC.ProbDenominator != 0 {
		gc.ProbDenominator = c.GC.ProbDenominator
	}
	if c.GC.ProbMolecular != 0 {
		gc.ProbMolecular = c.GC.ProbMolecular
	}

	opts := Options{
		SessKey:         c.SessKey,
		DefaultExpiry:   c.DefaultExpiry,
		GC:              gc,
		Sync:            SyncOptions{Enable: c.Sync.Enable, Force: c.Sync.Force},
		MaxSessionBytes: c.MaxSessionBytes,
	}
	if c.Logger != nil && !*c.Logger {
		opts.Silent = true
	}
	return opts, nil
}

// OpenStore builds the store named by c.Driver.
func OpenStore(c Config) (Store, error) {
	switch c.Driver {
	case "", "sqlite":
		dsn := c.DSN
		if dsn == "" {
			dsn = "sessions.db"
		}
		return NewSQLiteStoreWithConfig(SQLiteConfig{
			DSN:          dsn,
			TableName:    c.TableName,
			MaxOpenConns: 16,
			MaxIdleConns: 16,
		})
	case "postgres":
		return NewPostgreSQLStoreWithConfig(PostgreSQLConfig{
			DSN:             c.DSN,
			TableName:       c.TableName,
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 1 * time.Minute,
		})
	case "memcached":
		var prefix string
		if c.TableName != "" {
			prefix = c.TableName + ":"
		}
		return NewMemcachedStoreWithConfig(MemcachedConfig{
			Servers: c.Servers,
			Prefix:  prefix,
			Timeout: 1 * time.Second,
		}), nil
	case "redis":
		rc := c.Redis
		if rc.Prefix == "" && c.TableName != "" {
			rc.Prefix = c.TableName + ":"
		}
		return NewRedisStore(rc)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, c.Driver)
}

// Open builds the configured store and a middleware over it. The logger is
// used for every middleware log line.
func Open(c Config, logger *zerolog.Logger) (*Middleware, error) {
	opts, err := c.Options()
	if err != nil {
		return nil, err
	}
	opts.Logger = logger

	store, err := OpenStore(c)
	if err != nil {
		return nil, err
	}
	m, err := New(store, opts)
	if err != nil {
		store.Close()
		return nil, err
	}
	return m, nil
}
