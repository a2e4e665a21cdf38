package main

import (
	"fmt"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/kestrelhq/authcore"
)

const (
	tokenStoreRedis    = "redis"
	tokenStorePostgres = "postgres"
)

type appConfig struct {
	Auth       authcore.Config `koanf:"auth"`
	Keys       keysConfig      `koanf:"keys"`
	HTTP       httpConfig      `koanf:"http"`
	Postgres   postgresConfig  `koanf:"postgres"`
	Redis      redisConfig     `koanf:"redis"`
	Log        logConfig       `koanf:"log"`
	TokenStore string          `koanf:"token_store"`
}

// keysConfig names key files. Ed25519 keys are PEM, HS256 secrets are raw
// file contents.
type keysConfig struct {
	AccessPrivate  string `koanf:"access_private"`
	AccessPublic   string `koanf:"access_public"`
	RefreshPrivate string `koanf:"refresh_private"`
	RefreshPublic  string `koanf:"refresh_public"`
}

type httpConfig struct {
	Addr              string        `koanf:"addr"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
	MetricsPath       string        `koanf:"metrics_path"`
}

type postgresConfig struct {
	DSN string `koanf:"dsn"`
}

type redisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Embedded bool   `koanf:"embedded"`
}

type logConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func defaultAppConfig() appConfig {
	return appConfig{
		Auth: authcore.DefaultConfig(),
		HTTP: httpConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			MetricsPath:       "/metrics",
		},
		Redis:      redisConfig{Addr: "localhost:6379"},
		Log:        logConfig{Level: "info", Format: "text"},
		TokenStore: tokenStoreRedis,
	}
}

// loadConfig layers the yaml file at path and then flags over the defaults,
// and reads the key files it names.
func loadConfig(path string, flags *pflag.FlagSet) (appConfig, error) {
	cfg := defaultAppConfig()
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return cfg, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}
	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return cfg, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return cfg, oops.Code("CONFIG_INVALID").Wrap(err)
	}

	switch cfg.TokenStore {
	case tokenStoreRedis, tokenStorePostgres:
	default:
		return cfg, oops.Code("CONFIG_INVALID").Errorf("unknown token_store %q", cfg.TokenStore)
	}
	if err := cfg.readKeys(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *appConfig) readKeys() error {
	for _, k := range []struct {
		path string
		dst  *[]byte
	}{
		{c.Keys.AccessPrivate, &c.Auth.JWT.AccessPrivateKey},
		{c.Keys.AccessPublic, &c.Auth.JWT.AccessPublicKey},
		{c.Keys.RefreshPrivate, &c.Auth.JWT.RefreshPrivateKey},
		{c.Keys.RefreshPublic, &c.Auth.JWT.RefreshPublicKey},
	} {
		if k.path == "" {
			continue
		}
		b, err := os.ReadFile(k.path)
		if err != nil {
			return oops.Code("KEY_READ_FAILED").With("path", k.path).Wrap(err)
		}
		*k.dst = b
	}
	return nil
}

func (c appConfig) String() string {
	return fmt.Sprintf("http=%s token_store=%s redis=%s embedded=%t", c.HTTP.Addr, c.TokenStore, c.Redis.Addr, c.Redis.Embedded)
}
