package cueboxd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/mikey-austin/cuebox/pkg/cue"
)

// Session and history backends.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMongo  = "mongo"
)

// Config is the top-level configuration for cueboxd.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Storage  StorageConfig  `toml:"storage"`
	Playback PlaybackConfig `toml:"playback"`
	Modules  ModulesConfig  `toml:"modules"`
}

// ServerConfig defines shared server settings.
type ServerConfig struct {
	Broker    string     `toml:"broker"`
	Identity  string     `toml:"identity"`
	TopicBase string     `toml:"topic_base"`
	LogLevel  string     `toml:"log_level"`
	LogFormat string     `toml:"log_format"`
	LogOutput string     `toml:"log_output"`
	LogSource bool       `toml:"log_source"`
	LogUTC    bool       `toml:"log_utc"`
	LogColor  bool       `toml:"log_color"`
	TLS       TLSConfig  `toml:"tls"`
	Auth      AuthConfig `toml:"auth"`
}

// TLSConfig holds TLS paths for MQTT.
type TLSConfig struct {
	CA   string `toml:"ca"`
	Cert string `toml:"cert"`
	Key  string `toml:"key"`
}

// AuthConfig holds MQTT auth credentials.
type AuthConfig struct {
	User string `toml:"user"`
	Pass string `toml:"pass"`
}

// StorageConfig selects where catalog, sessions and history live.
// The catalog is always kept in the sqlite database at Path.
type StorageConfig struct {
	Path            string `toml:"path"`
	Sessions        string `toml:"sessions"`
	History         string `toml:"history"`
	HistoryLimit    int    `toml:"history_limit"`
	FileDir         string `toml:"file_dir"`
	RedisURL        string `toml:"redis_url"`
	RedisPrefix     string `toml:"redis_prefix"`
	RedisTTLSec     int64  `toml:"redis_ttl_sec"`
	MongoURI        string `toml:"mongo_uri"`
	MongoDatabase   string `toml:"mongo_database"`
	MongoCollection string `toml:"mongo_collection"`
}

// PlaybackConfig tunes each session variant.
type PlaybackConfig struct {
	Audio VariantConfig `toml:"audio"`
	Video VariantConfig `toml:"video"`
}

// VariantConfig overrides the built-in variant timings.
type VariantConfig struct {
	Enabled           *bool  `toml:"enabled"`
	TickMS            int64  `toml:"tick_ms"`
	PersistWindowMS   int64  `toml:"persist_window_ms"`
	BroadcastWindowMS int64  `toml:"broadcast_window_ms"`
	SharedKey         string `toml:"shared_key"`
}

// On reports whether the variant is enabled. Variants default to on.
func (v VariantConfig) On() bool {
	return v.Enabled == nil || *v.Enabled
}

// Tick returns the tick interval or zero for the variant default.
func (v VariantConfig) Tick() time.Duration {
	return time.Duration(v.TickMS) * time.Millisecond
}

// PersistWindow returns the persistence throttle window.
func (v VariantConfig) PersistWindow() time.Duration {
	return time.Duration(v.PersistWindowMS) * time.Millisecond
}

// BroadcastWindow returns the broadcast throttle window.
func (v VariantConfig) BroadcastWindow() time.Duration {
	return time.Duration(v.BroadcastWindowMS) * time.Millisecond
}

// ModulesConfig holds module configurations.
type ModulesConfig struct {
	SessionServer SessionServerConfig `toml:"session_server"`
	HTTPGateway   HTTPGatewayConfig   `toml:"http_gateway"`
	CatalogSync   CatalogSyncConfig   `toml:"catalog_sync"`
	EmbeddedMQTT  EmbeddedMQTTConfig  `toml:"embedded_mqtt"`
}

// SessionServerConfig configures the MQTT session server.
type SessionServerConfig struct {
	Enabled   bool    `toml:"enabled"`
	NodeID    string  `toml:"node_id"`
	Name      string  `toml:"name"`
	RateLimit float64 `toml:"rate_limit"`
	RateBurst int     `toml:"rate_burst"`
}

// HTTPGatewayConfig configures the HTTP gateway.
type HTTPGatewayConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
	Metrics bool   `toml:"metrics"`
}

// CatalogSyncConfig configures manifest import.
type CatalogSyncConfig struct {
	Enabled    bool   `toml:"enabled"`
	Manifest   string `toml:"manifest"`
	Watch      bool   `toml:"watch"`
	DebounceMS int64  `toml:"debounce_ms"`
}

// EmbeddedMQTTConfig configures the embedded MQTT broker.
type EmbeddedMQTTConfig struct {
	Enabled         bool   `toml:"enabled"`
	Listen          string `toml:"listen"`
	WebsocketListen string `toml:"websocket_listen"`
	AllowAnonymous  bool   `toml:"allow_anonymous"`
	Username        string `toml:"username"`
	Password        string `toml:"password"`
	ViewerUsername  string `toml:"viewer_username"`
	ViewerPassword  string `toml:"viewer_password"`
	TLSCA           string `toml:"tls_ca"`
	TLSCert         string `toml:"tls_cert"`
	TLSKey          string `toml:"tls_key"`
}

// TLSEnabled reports whether the broker listens with TLS.
func (c EmbeddedMQTTConfig) TLSEnabled() bool {
	return c.TLSCert != "" || c.TLSKey != "" || c.TLSCA != ""
}

// LoadConfig loads a config file from path.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Config{}, err
	}
	if info.IsDir() {
		return Config{}, errors.New("config path is a directory")
	}

	var cfg Config
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return Config{}, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return cfg, nil
}

// ApplyDefaults fills unset values.
func (c *Config) ApplyDefaults() error {
	if c.Server.TopicBase == "" {
		c.Server.TopicBase = cue.BaseTopic
	}
	if c.Server.Identity == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "local"
		}
		c.Server.Identity = "cueboxd@" + host
	}
	if c.Storage.Path == "" {
		path, err := DefaultDataPath()
		if err != nil {
			return err
		}
		c.Storage.Path = path
	}
	if c.Storage.Sessions == "" {
		c.Storage.Sessions = BackendSQLite
	}
	if c.Storage.History == "" {
		c.Storage.History = BackendSQLite
	}
	if c.Storage.Sessions == BackendFile && c.Storage.FileDir == "" {
		c.Storage.FileDir = filepath.Join(filepath.Dir(c.Storage.Path), "sessions")
	}
	if c.Modules.SessionServer.NodeID == "" {
		c.Modules.SessionServer.NodeID = "cuebox:session"
	}
	if c.Server.Broker == "" && c.Modules.EmbeddedMQTT.Enabled {
		listen := c.Modules.EmbeddedMQTT.Listen
		if listen == "" {
			listen = "127.0.0.1:1883"
		}
		c.Server.Broker = brokerURL(listen, c.Modules.EmbeddedMQTT.TLSEnabled())
	}
	return nil
}

// Validate reports configuration that cannot run.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Sessions {
	case BackendSQLite, BackendFile:
	case BackendRedis:
		if c.Storage.RedisURL == "" {
			errs = append(errs, errors.New("storage.redis_url required for redis sessions"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown session backend %q", c.Storage.Sessions))
	}
	switch c.Storage.History {
	case BackendSQLite:
	case BackendRedis:
		if c.Storage.RedisURL == "" {
			errs = append(errs, errors.New("storage.redis_url required for redis history"))
		}
	case BackendMongo:
		if c.Storage.MongoURI == "" || c.Storage.MongoDatabase == "" {
			errs = append(errs, errors.New("storage.mongo_uri and storage.mongo_database required for mongo history"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown history backend %q", c.Storage.History))
	}
	if !c.Playback.Audio.On() && !c.Playback.Video.On() {
		errs = append(errs, errors.New("at least one playback variant must be enabled"))
	}
	if c.Modules.CatalogSync.Enabled && c.Modules.CatalogSync.Manifest == "" {
		errs = append(errs, errors.New("modules.catalog_sync.manifest required"))
	}
	if c.Modules.SessionServer.Enabled && c.Server.Broker == "" {
		errs = append(errs, errors.New("server.broker required for session_server"))
	}
	for name, v := range map[string]VariantConfig{"audio": c.Playback.Audio, "video": c.Playback.Video} {
		if v.TickMS < 0 || v.PersistWindowMS < 0 || v.BroadcastWindowMS < 0 {
			errs = append(errs, fmt.Errorf("playback.%s timings must not be negative", name))
		}
	}
	return errors.Join(errs...)
}

// EnabledModules lists the enabled module names.
func (c Config) EnabledModules() []string {
	out := []string{}
	if c.Modules.EmbeddedMQTT.Enabled {
		out = append(out, "embedded_mqtt")
	}
	if c.Modules.CatalogSync.Enabled {
		out = append(out, "catalog_sync")
	}
	if c.Modules.SessionServer.Enabled {
		out = append(out, "session_server")
	}
	if c.Modules.HTTPGateway.Enabled {
		out = append(out, "http_gateway")
	}
	return out
}

// DefaultConfigPath returns the default config location.
func DefaultConfigPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "cuebox", "cueboxd.toml"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "cuebox", "cueboxd.toml"), nil
}

// DefaultDataPath returns the default sqlite database location.
func DefaultDataPath() (string, error) {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "cuebox", "cuebox.db"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "cuebox", "cuebox.db"), nil
}

func brokerURL(listen string, tlsEnabled bool) string {
	if tlsEnabled {
		return "mqtts://" + listen
	}
	return "mqtt://" + listen
}
