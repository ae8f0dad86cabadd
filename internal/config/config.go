package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Discord        DiscordConfig        `yaml:"discord"`
	Database       DatabaseConfig       `yaml:"database"`
	Server         ServerConfig         `yaml:"server"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election"`
	League         LeagueConfig         `yaml:"league"`
}

// DiscordConfig holds Discord bot settings.
type DiscordConfig struct {
	Token   string `yaml:"token" validate:"required"`
	GuildID string `yaml:"guild_id"`
	// ChannelID is the free-agency channel bids are read from and status
	// summaries are posted to.
	ChannelID   string `yaml:"channel_id"`
	AdminRoleID string `yaml:"admin_role_id"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver   string `yaml:"driver" validate:"oneof=postgres sqlite"`
	PGDriver string `yaml:"pg_driver" validate:"oneof=pq pgx"`
	// URL, when set, is used verbatim instead of the discrete fields.
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" validate:"gte=0,lte=65535"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	// Path is the database file used by the sqlite driver.
	Path string `yaml:"path"`
	// Migrate applies the embedded schema on startup.
	Migrate bool `yaml:"migrate"`
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" validate:"gt=0,lte=65535"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// AdminToken guards the operator API. The API is disabled when empty.
	AdminToken string `yaml:"admin_token"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Insecure       bool   `yaml:"insecure"`
}

// LeaderElectionConfig holds Kubernetes leader election settings.
type LeaderElectionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	LeaseName      string        `yaml:"lease_name"`
	LeaseNamespace string        `yaml:"lease_namespace"`
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	RenewDeadline  time.Duration `yaml:"renew_deadline"`
	RetryPeriod    time.Duration `yaml:"retry_period"`
}

// LeagueConfig holds the free-agency rules.
type LeagueConfig struct {
	TimeZone       string        `yaml:"time_zone" validate:"required"`
	LockGrace      time.Duration `yaml:"lock_grace" validate:"gt=0,lte=1h"`
	DefaultBudget  int           `yaml:"default_budget" validate:"gte=0"`
	RosterLimit    int           `yaml:"roster_limit" validate:"gt=0"`
	Teams          []string      `yaml:"teams" validate:"required,min=1,dive,required"`
	AliasFile      string        `yaml:"alias_file"`
	// Assignments maps Discord user IDs to teams. They are written to the
	// store at startup; rows managed elsewhere are left alone.
	Assignments    map[string]string `yaml:"assignments"`
	StatusInterval time.Duration     `yaml:"status_interval" validate:"gte=0"`
	SettleRetries  uint64            `yaml:"settle_retries" validate:"lte=10"`
	GuardTTL       time.Duration     `yaml:"guard_ttl" validate:"gte=0"`
	// ZeroCoinMaxOverall caps the rating a team with no coins left may sign
	// for a zero bid.
	ZeroCoinMaxOverall int `yaml:"zero_coin_max_overall" validate:"gte=0"`
	// OverCapTotalOverall is the roster overall sum above which a team is
	// over the cap. Zero disables the over-cap rule.
	OverCapTotalOverall int `yaml:"over_cap_total_overall" validate:"gte=0"`
	// OverCapMaxOverall caps the rating an over-cap team may sign.
	OverCapMaxOverall int `yaml:"over_cap_max_overall" validate:"gte=0"`
}

// DefaultTeams is the league's canonical team list.
var DefaultTeams = []string{
	"76ers", "Bucks", "Bulls", "Cavaliers", "Celtics", "Grizzlies", "Hawks",
	"Heat", "Hornets", "Jazz", "Kings", "Knicks", "Lakers", "Magic", "Mavs",
	"Nets", "Nuggets", "Pacers", "Pelicans", "Pistons", "Raptors", "Rockets",
	"Spurs", "Suns", "Timberwolves", "Trailblazers", "Warriors", "Wizards",
}

// Load reads a YAML configuration file from the given path. A .env file next
// to it is loaded first and ${VAR} references in the YAML are expanded.
func Load(path string) (*Config, error) {
	path = filepath.Clean(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", envFile, err)
	}

	cfg := Defaults()

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a Config populated with default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:   "postgres",
			PGDriver: "pq",
			Host:     "localhost",
			Port:     5432,
			SSLMode:  "disable",
			Path:     "fabot.db",
			Migrate:  true,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "fabot",
			ServiceVersion: "0.1.0",
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "fabot-leader",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
		League: LeagueConfig{
			TimeZone:       "America/New_York",
			LockGrace:      10 * time.Minute,
			DefaultBudget:  100,
			RosterLimit:    14,
			Teams:          append([]string(nil), DefaultTeams...),
			StatusInterval: time.Hour,
			SettleRetries:  3,
			GuardTTL:       10 * time.Minute,

			ZeroCoinMaxOverall:  70,
			OverCapTotalOverall: 1098,
			OverCapMaxOverall:   70,
		},
	}
}

var validate = validator.New()

// validate checks configuration invariants.
func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("%s: failed %q constraint (value %v)", f.Namespace(), f.Tag(), f.Value())
		}
		return err
	}
	if _, err := time.LoadLocation(c.League.TimeZone); err != nil {
		return fmt.Errorf("league.time_zone: %w", err)
	}
	return nil
}
