package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends
const (
	StorageBackendDatabase = "database"
	StorageBackendMemory   = "memory"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Redis       RedisConfig       `yaml:"redis"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Storage     StorageConfig     `yaml:"storage"`
	Snapshot    SnapshotConfig    `yaml:"snapshot"`
	Matchmaking MatchmakingConfig `yaml:"matchmaking"`
	GameService GameServiceConfig `yaml:"game_service"`
	FlagSync    FlagSyncConfig    `yaml:"flag_sync"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	KeyPrefix    string        `yaml:"key_prefix"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	Brokers      []string `yaml:"brokers"`
	ReportsTopic string   `yaml:"reports_topic"`
	AuditTopic   string   `yaml:"audit_topic"`
	GroupID      string   `yaml:"group_id"`
	Enabled      bool     `yaml:"enabled"`
	// ReportTimeout bounds the ingestion of a single consumed report
	ReportTimeout time.Duration `yaml:"report_timeout"`
}

// StorageConfig selects where the roster and matchmaking documents live
type StorageConfig struct {
	Backend string `yaml:"backend"`
}

// SnapshotConfig holds the document writer configuration
type SnapshotConfig struct {
	Interval     time.Duration `yaml:"interval"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// MatchmakingConfig holds the match selection tuning
type MatchmakingConfig struct {
	Enabled bool `yaml:"enabled"`
	// WaitScale multiplies (1 - score) to get the debounce wait
	WaitScale time.Duration `yaml:"wait_scale"`
	MaxWait   time.Duration `yaml:"max_wait"`
	// Waits shorter than MinWait commit immediately
	MinWait   time.Duration     `yaml:"min_wait"`
	Gamemodes map[string]string `yaml:"gamemodes"`
	// FetchTimeout bounds the duel lookup of a report, independent of the reporter
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// GameServiceConfig holds the player-profile and duel API configuration
type GameServiceConfig struct {
	DuelURL    string        `yaml:"duel_url"`
	ProfileURL string        `yaml:"profile_url"`
	AuthCookie string        `yaml:"auth_cookie"`
	Timeout    time.Duration `yaml:"timeout"`
}

// FlagSyncConfig holds the profile synchronization worker configuration
type FlagSyncConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 90 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 20
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 2
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "matchmaking"
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 10
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 1
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.ReportsTopic == "" {
		c.Kafka.ReportsTopic = "duel-reports"
	}
	if c.Kafka.AuditTopic == "" {
		c.Kafka.AuditTopic = "duel-audit"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "duel-matchmaker"
	}
	if c.Kafka.ReportTimeout == 0 {
		c.Kafka.ReportTimeout = 30 * time.Second
	}

	// Storage defaults
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageBackendDatabase
	}

	// Snapshot defaults
	if c.Snapshot.Interval == 0 {
		c.Snapshot.Interval = 1 * time.Minute
	}
	if c.Snapshot.WriteTimeout == 0 {
		c.Snapshot.WriteTimeout = 10 * time.Second
	}

	// Matchmaking defaults
	if c.Matchmaking.WaitScale == 0 {
		c.Matchmaking.WaitScale = 100 * time.Second
	}
	if c.Matchmaking.MaxWait == 0 {
		c.Matchmaking.MaxWait = 60 * time.Second
	}
	if c.Matchmaking.MinWait == 0 {
		c.Matchmaking.MinWait = 5 * time.Second
	}
	if c.Matchmaking.FetchTimeout == 0 {
		c.Matchmaking.FetchTimeout = 30 * time.Second
	}
	if c.Matchmaking.Gamemodes == nil {
		c.Matchmaking.Gamemodes = map[string]string{}
	}
	for mode, label := range defaultGamemodes() {
		if c.Matchmaking.Gamemodes[mode] == "" {
			c.Matchmaking.Gamemodes[mode] = label
		}
	}

	// Game service defaults
	if c.GameService.DuelURL == "" {
		c.GameService.DuelURL = "https://game-server.geoguessr.com/api/duels"
	}
	if c.GameService.ProfileURL == "" {
		c.GameService.ProfileURL = "https://www.geoguessr.com/api/v3/users"
	}
	if c.GameService.Timeout == 0 {
		c.GameService.Timeout = 10 * time.Second
	}

	// Flag sync defaults
	if c.FlagSync.Interval == 0 {
		c.FlagSync.Interval = 24 * time.Hour
	}
}

func defaultGamemodes() map[string]string {
	return map[string]string{
		"NM":   "NM 30s",
		"NMPZ": "NMPZ 15s",
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Matchmaking.Enabled = true
	return cfg
}
