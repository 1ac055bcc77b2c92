package app

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/shrimpsizemoose/trekker/logger"
)

type GSheetConfig struct {
	SheetID         string `toml:"sheet_id"`
	SheetName       string `toml:"sheet_name"`
	CredentialsPath string `toml:"credentials_path"`
	Schedule        string `toml:"schedule"`
	// PublishedOnly skips exports while results are hidden from students.
	PublishedOnly bool `toml:"published_only"`
}

type Config struct {
	Server struct {
		Port       string `toml:"port"`
		EnableAuth bool   `toml:"enable_auth"`
	} `toml:"server"`

	Auth struct {
		JWTSecret   string `toml:"jwt_secret"`
		Issuer      string `toml:"issuer"`
		TokenHeader string `toml:"token_header"`
		// used only when enable_auth is off
		RollNoHeader string `toml:"roll_no_header"`
		RoleHeader   string `toml:"role_header"`
	} `toml:"auth"`

	Database struct {
		DSN           string `toml:"dsn"`
		MigrationsDir string `toml:"migrations_dir"`
	} `toml:"database"`

	Redis struct {
		URL     string `toml:"url"`
		LockKey string `toml:"lock_key"`
		LockTTL string `toml:"lock_ttl"`
	} `toml:"redis"`

	Allotment struct {
		Workers    int    `toml:"workers"`
		RunTimeout string `toml:"run_timeout"`
	} `toml:"allotment"`

	Display struct {
		TimestampFormat string `toml:"timestamp_format"`
	} `toml:"display"`

	Bot struct {
		Token    string  `toml:"token"`
		AdminIDs []int64 `toml:"admin_ids"`
	} `toml:"bot"`

	GSheet []GSheetConfig `toml:"gsheet"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf(
			"error reading config file %s\n> Error: %w\n> Content:\n%s",
			path,
			err,
			string(data),
		)
	}

	if config.Server.Port == "" {
		return nil, fmt.Errorf("server port is not specified in config, use a value like :9999")
	}
	if config.Server.EnableAuth && config.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth is enabled but auth.jwt_secret is empty")
	}
	for _, d := range []string{config.Redis.LockTTL, config.Allotment.RunTimeout} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return nil, fmt.Errorf("invalid duration %q in config: %w", d, err)
		}
	}

	config.applyDefaults()
	if err := config.checkLockTTL(); err != nil {
		return nil, err
	}
	logger.Debug.Printf("Loaded allotment config: %+v", config.Allotment)

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Auth.TokenHeader == "" {
		c.Auth.TokenHeader = "Authorization"
	}
	if c.Auth.RollNoHeader == "" {
		c.Auth.RollNoHeader = "X-Roll-No"
	}
	if c.Auth.RoleHeader == "" {
		c.Auth.RoleHeader = "X-Role"
	}
	if c.Database.MigrationsDir == "" {
		c.Database.MigrationsDir = "./migrations"
	}
	if c.Redis.LockKey == "" {
		c.Redis.LockKey = "allotment:run:lock"
	}
	if c.Redis.LockTTL == "" {
		c.Redis.LockTTL = "10m"
	}
	if c.Allotment.RunTimeout == "" {
		c.Allotment.RunTimeout = "5m"
	}
	if c.Display.TimestampFormat == "" {
		c.Display.TimestampFormat = "2006-01-02 15:04:05"
	}
}

// lockTTLMargin is the room a run's commit gets after run_timeout expires.
// The commit itself is not bounded by run_timeout.
const lockTTLMargin = time.Minute

// checkLockTTL makes sure the Redis key outlives any run holding it, so a
// second instance cannot start while the first is still committing.
func (c *Config) checkLockTTL() error {
	if c.Redis.URL == "" {
		return nil
	}
	timeout := c.RunTimeout()
	if timeout <= 0 {
		return fmt.Errorf("allotment.run_timeout must be positive when redis.url is set")
	}
	if c.LockTTL() < timeout+lockTTLMargin {
		return fmt.Errorf("redis.lock_ttl %s must be at least allotment.run_timeout %s plus %s",
			c.LockTTL(), timeout, lockTTLMargin)
	}
	return nil
}

func (c *Config) LockTTL() time.Duration {
	d, _ := time.ParseDuration(c.Redis.LockTTL)
	return d
}

func (c *Config) RunTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Allotment.RunTimeout)
	return d
}
