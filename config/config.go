package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	//BackendFile stores bindings as a single JSON document on disk
	BackendFile = "file"
	//BackendRethinkDB stores one document per binding in rethinkdb
	BackendRethinkDB = "rethinkdb"
	//BackendSQLite stores one row per binding in an embedded sqlite database
	BackendSQLite = "sqlite"
)

//Env variables predate the config file, so they keep their old names rather than following the key layout.
var envBindings = map[string]string{
	"discord.token":          "NIA_DISCORD_BOT_TOKEN",
	"discord.dev_uid":        "NIA_DISCORD_DEV_UID",
	"discord.notify_channel": "NIA_NOTIFY_CHANNEL_ID",
	"db.addr":                "NIA_DB_ADDR",
	"db.name":                "NIA_DB_NAME",
}

//Config contains everything needed to start the bot
type Config struct {
	Discord DiscordConfig
	Storage StorageConfig
	Engine  EngineConfig
	Log     LogConfig
	HTTP    HTTPConfig
}

//DiscordConfig contains gateway credentials and notification routing
type DiscordConfig struct {
	Token         string
	DevUID        string
	NotifyChannel string
}

//StorageConfig selects and configures the binding store
type StorageConfig struct {
	Backend string
	Path    string
	DBAddr  string
	DBName  string
}

//EngineConfig tunes the reconciliation engine
type EngineConfig struct {
	Debounce       time.Duration
	RequestTimeout time.Duration
}

//LogConfig controls logrus output
type LogConfig struct {
	Level  string
	Format string
}

//HTTPConfig controls the status API. An empty Listen address disables it.
type HTTPConfig struct {
	Listen string
}

//SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("storage.backend", BackendFile)
	v.SetDefault("storage.path", "bindings.json")
	v.SetDefault("db.name", "nia")
	v.SetDefault("engine.debounce", 2*time.Second)
	v.SetDefault("engine.request_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("http.listen", "")
}

//New creates a viper instance wired to the NIA_ environment and an optional config file
func New(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("NIA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %v: %w", configFile, err)
		}
	}
	return v, nil
}

//Load reads a Config out of v and validates it
func Load(v *viper.Viper) (*Config, error) {
	cfg := Config{
		Discord: DiscordConfig{
			Token:         v.GetString("discord.token"),
			DevUID:        v.GetString("discord.dev_uid"),
			NotifyChannel: v.GetString("discord.notify_channel"),
		},
		Storage: StorageConfig{
			Backend: strings.ToLower(v.GetString("storage.backend")),
			Path:    v.GetString("storage.path"),
			DBAddr:  v.GetString("db.addr"),
			DBName:  v.GetString("db.name"),
		},
		Engine: EngineConfig{
			Debounce:       v.GetDuration("engine.debounce"),
			RequestTimeout: v.GetDuration("engine.request_timeout"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		HTTP: HTTPConfig{
			Listen: v.GetString("http.listen"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

//Validate checks the config for values that would prevent the bot from starting
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendFile, BackendSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path must be set for the %v backend", c.Storage.Backend)
		}
	case BackendRethinkDB:
		if c.Storage.DBAddr == "" {
			return fmt.Errorf("`NIA_DB_ADDR` must be set for the rethinkdb backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Engine.Debounce <= 0 {
		return fmt.Errorf("engine.debounce must be positive, got %v", c.Engine.Debounce)
	}
	if c.Engine.RequestTimeout <= 0 {
		return fmt.Errorf("engine.request_timeout must be positive, got %v", c.Engine.RequestTimeout)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

//ConfigureLogging applies the log settings to the global logrus logger
func (c *Config) ConfigureLogging() {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if c.Log.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
