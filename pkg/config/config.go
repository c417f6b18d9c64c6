package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment distingue il deployment "local" (nodo sensori) da "cloud".
type Environment string

const (
	EnvLocal Environment = "local"
	EnvCloud Environment = "cloud"
)

// Duration wraps time.Duration so YAML files can say "5s" or a bare number
// of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	s := value.Value
	if n, err := strconv.Atoi(s); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the plain time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DatabaseConfig holds the relational store configuration.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // "postgres" | "sqlite"
	Postgres PostgresConfig `yaml:"postgres"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	TimeZone string `yaml:"timezone"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// CloudConfig describes how the local node reaches the cloud twin.
type CloudConfig struct {
	APIURL string `yaml:"api_url"` // http(s) base, ws URL derived when ws_url empty
	WSURL  string `yaml:"ws_url"`  // explicit override, e.g. wss://host/ws/sensores/
	APIKey string `yaml:"api_key"` // shared secret for the relay channel
}

// RelayConfig tunes the persistent outbound link.
type RelayConfig struct {
	ReconnectInterval    Duration `yaml:"reconnect_interval"`
	MaxReconnectAttempts int      `yaml:"max_reconnect_attempts"`
	HeartbeatInterval    Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout     Duration `yaml:"heartbeat_timeout"`
	AckTimeout           Duration `yaml:"ack_timeout"`
}

// MQTTConfig configures the optional cross-process broadcast bridge.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	ClientID string `yaml:"client_id"`
}

// InfluxConfig configures the optional time-series mirror on the cloud side.
type InfluxConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

// Config is the complete application configuration, shared by both roles.
type Config struct {
	Environment Environment    `yaml:"environment"`
	HTTPPort    string         `yaml:"http_port"`
	Database    DatabaseConfig `yaml:"database"`
	Cloud       CloudConfig    `yaml:"cloud"`
	Relay       RelayConfig    `yaml:"relay"`
	MQTT        MQTTConfig     `yaml:"mqtt"`
	Influx      InfluxConfig   `yaml:"influx"`

	// Operator credentials for the dashboard session login.
	AdminUser     string `yaml:"admin_user"`
	AdminPassword string `yaml:"admin_password"`

	// LocalSectorID is stamped on every reading this node produces. The
	// sector must exist in the local store and in the cloud store; keeping
	// the two ids equal is the operator's job (they are created separately).
	LocalSectorID int `yaml:"local_sector_id"`
	// ReadInterval is how often the local node polls its reading source.
	ReadInterval Duration `yaml:"read_interval"`
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Load reads the YAML file at path (optional), applies env overrides and
// fills defaults. Env vars win over the file so deployments can keep one
// config file per role and tweak per-host values without editing it.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Environment = Environment(env("ENVIRONMENT", string(c.Environment)))
	c.HTTPPort = env("PORT", c.HTTPPort)

	c.Database.Driver = env("DB_DRIVER", c.Database.Driver)
	c.Database.Postgres.Host = env("POSTGRES_HOST", c.Database.Postgres.Host)
	c.Database.Postgres.Port = envInt("POSTGRES_PORT", c.Database.Postgres.Port)
	c.Database.Postgres.User = env("POSTGRES_USER", c.Database.Postgres.User)
	c.Database.Postgres.Password = env("POSTGRES_PASSWORD", c.Database.Postgres.Password)
	c.Database.Postgres.DBName = env("POSTGRES_DB", c.Database.Postgres.DBName)
	c.Database.SQLite.Path = env("SQLITE_PATH", c.Database.SQLite.Path)

	c.Cloud.APIURL = env("CLOUD_API_URL", c.Cloud.APIURL)
	c.Cloud.WSURL = env("CLOUD_WS_URL", c.Cloud.WSURL)
	c.Cloud.APIKey = env("CLOUD_API_KEY", c.Cloud.APIKey)

	if n := envInt("RECONNECT_INTERVAL_S", 0); n > 0 {
		c.Relay.ReconnectInterval = Duration(time.Duration(n) * time.Second)
	}
	c.Relay.MaxReconnectAttempts = envInt("MAX_RECONNECT_ATTEMPTS", c.Relay.MaxReconnectAttempts)
	if n := envInt("HEARTBEAT_INTERVAL_S", 0); n > 0 {
		c.Relay.HeartbeatInterval = Duration(time.Duration(n) * time.Second)
	}
	if n := envInt("HEARTBEAT_TIMEOUT_S", 0); n > 0 {
		c.Relay.HeartbeatTimeout = Duration(time.Duration(n) * time.Second)
	}
	if n := envInt("ACK_TIMEOUT_S", 0); n > 0 {
		c.Relay.AckTimeout = Duration(time.Duration(n) * time.Second)
	}

	c.MQTT.Enabled = envBool("MQTT_ENABLED", c.MQTT.Enabled)
	c.MQTT.Host = env("MQTT_HOST", c.MQTT.Host)
	c.MQTT.Port = envInt("MQTT_PORT", c.MQTT.Port)
	c.MQTT.User = env("MQTT_USER", c.MQTT.User)
	c.MQTT.Password = env("MQTT_PASS", c.MQTT.Password)
	c.MQTT.ClientID = env("MQTT_CLIENT_ID", c.MQTT.ClientID)

	c.Influx.Enabled = envBool("INFLUX_ENABLED", c.Influx.Enabled)
	c.Influx.URL = env("INFLUX_URL", c.Influx.URL)
	c.Influx.Token = env("INFLUX_TOKEN", c.Influx.Token)
	c.Influx.Org = env("INFLUX_ORG", c.Influx.Org)
	c.Influx.Bucket = env("INFLUX_BUCKET", c.Influx.Bucket)

	c.AdminUser = env("ADMIN_USER", c.AdminUser)
	c.AdminPassword = env("ADMIN_PASSWORD", c.AdminPassword)

	c.LocalSectorID = envInt("LOCAL_SECTOR_ID", c.LocalSectorID)
	if n := envInt("READ_INTERVAL_S", 0); n > 0 {
		c.ReadInterval = Duration(time.Duration(n) * time.Second)
	}
}

func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = EnvLocal
	}
	if c.HTTPPort == "" {
		c.HTTPPort = "8000"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = "bivalvia.db"
	}
	if c.Database.Postgres.Port == 0 {
		c.Database.Postgres.Port = 5432
	}
	if c.Database.Postgres.SSLMode == "" {
		c.Database.Postgres.SSLMode = "disable"
	}
	if c.Database.Postgres.TimeZone == "" {
		c.Database.Postgres.TimeZone = "UTC"
	}

	if c.Relay.ReconnectInterval == 0 {
		c.Relay.ReconnectInterval = Duration(5 * time.Second)
	}
	if c.Relay.MaxReconnectAttempts == 0 {
		c.Relay.MaxReconnectAttempts = 10
	}
	if c.Relay.HeartbeatInterval == 0 {
		c.Relay.HeartbeatInterval = Duration(30 * time.Second)
	}
	if c.Relay.HeartbeatTimeout == 0 {
		c.Relay.HeartbeatTimeout = Duration(10 * time.Second)
	}
	if c.Relay.AckTimeout == 0 {
		c.Relay.AckTimeout = Duration(5 * time.Second)
	}

	if c.MQTT.Port == 0 {
		c.MQTT.Port = 1883
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "bivalvia-" + string(c.Environment)
	}

	if c.ReadInterval == 0 {
		c.ReadInterval = Duration(10 * time.Second)
	}
	if c.LocalSectorID == 0 {
		c.LocalSectorID = 1
	}
	if c.AdminUser == "" {
		c.AdminUser = "admin"
	}
}

// Validate checks the combinations that would only fail at runtime otherwise.
func (c *Config) Validate() error {
	switch c.Environment {
	case EnvLocal, EnvCloud:
	default:
		return fmt.Errorf("unsupported environment: %s", c.Environment)
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("postgres host is required")
		}
		if c.Database.Postgres.User == "" {
			return fmt.Errorf("postgres user is required")
		}
		if c.Database.Postgres.DBName == "" {
			return fmt.Errorf("postgres database name is required")
		}
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if c.Environment == EnvLocal {
		if c.Cloud.APIKey == "" {
			return fmt.Errorf("cloud api_key is required in local mode")
		}
		if c.Cloud.APIURL == "" && c.Cloud.WSURL == "" {
			return fmt.Errorf("cloud api_url or ws_url is required in local mode")
		}
	}
	if c.Environment == EnvCloud && c.Cloud.APIKey == "" {
		return fmt.Errorf("cloud api_key is required in cloud mode")
	}
	return nil
}

// GetDSN returns the GORM connection string for the configured driver.
func (c *Config) GetDSN() string {
	switch c.Database.Driver {
	case "postgres":
		pg := c.Database.Postgres
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
			pg.Host, pg.Port, pg.User, pg.Password, pg.DBName, pg.SSLMode, pg.TimeZone)
	case "sqlite":
		return c.Database.SQLite.Path
	default:
		return ""
	}
}

// WebSocketURL builds the ingest endpoint URL the relay dials. An explicit
// ws_url always wins, whatever its path; otherwise it is derived from
// api_url the same way the browser derives it (http->ws, https->wss).
func (c *Config) WebSocketURL() string {
	if c.Cloud.WSURL != "" {
		return c.Cloud.WSURL
	}
	u := c.Cloud.APIURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	if !strings.HasSuffix(u, "/") {
		u += "/"
	}
	return u + "ws/sensores/"
}
