package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "CIPHERCHAT"

type Config struct {
	Server     Server     `mapstructure:"server"`
	Database   Database   `mapstructure:"database"`
	Crypto     Crypto     `mapstructure:"crypto"`
	Auth       Auth       `mapstructure:"auth"`
	Membership Membership `mapstructure:"membership"`
	Log        Log        `mapstructure:"log"`
}

type Server struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type Database struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type Crypto struct {
	// PrivateKeySecret seals every user's private key at rest.
	PrivateKeySecret string `mapstructure:"private_key_secret"`
	FanoutWorkers    int    `mapstructure:"fanout_workers"`
}

type Auth struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type Membership struct {
	MaxRetries int `mapstructure:"max_retries"`
}

type Log struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads the config file (explicit path, or config/config.yaml), then
// environment variables, then any bound flags. A missing file is not an error.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "cipherchat.db")
	v.SetDefault("crypto.private_key_secret", "")
	v.SetDefault("crypto.fanout_workers", 8)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "12h")
	v.SetDefault("membership.max_retries", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// flag name -> config key
var flagKeys = map[string]string{
	"addr":      "server.addr",
	"db-driver": "database.driver",
	"db-dsn":    "database.dsn",
	"log-level": "log.level",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("binding flag %s: %w", name, err)
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Crypto.PrivateKeySecret == "" {
		return errors.New("crypto.private_key_secret is required (or CIPHERCHAT_CRYPTO_PRIVATE_KEY_SECRET)")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required (or CIPHERCHAT_AUTH_JWT_SECRET)")
	}
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Crypto.FanoutWorkers < 1 {
		c.Crypto.FanoutWorkers = 1
	}
	if c.Membership.MaxRetries < 1 {
		c.Membership.MaxRetries = 1
	}
	return nil
}
