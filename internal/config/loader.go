package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sentinel/console/internal/domain"
	"github.com/spf13/viper"
)

var (
	ErrMissingSSHKey   = errors.New("config: ssh.key_path is required")
	ErrUnknownDriver   = errors.New("config: database.driver must be sqlite or postgres")
	ErrInvalidDailyAt  = errors.New("config: daily time must be HH:MM")
	ErrUnknownTimezone = errors.New("config: unknown scheduler timezone")
)

type Config struct {
	Server        ServerConfig    `mapstructure:"server"`
	Database      DatabaseConfig  `mapstructure:"database"`
	Logger        LoggerConfig    `mapstructure:"logger"`
	SSH           SSHConfig       `mapstructure:"ssh"`
	Chat          ChatConfig      `mapstructure:"chat"`
	API           APIConfig       `mapstructure:"api"`
	Scheduler     SchedulerConfig `mapstructure:"scheduler"`
	Approval      ApprovalConfig  `mapstructure:"approval"`
	Auth          AuthConfig      `mapstructure:"auth"`
	InventoryPath string          `mapstructure:"inventory_path"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the postgres connection string, or the sqlite file path.
func (d *DatabaseConfig) DSN() string {
	if d.Driver == "postgres" {
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	}
	return d.Path
}

type LoggerConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

type SSHConfig struct {
	KeyPath        string        `mapstructure:"key_path"`
	User           string        `mapstructure:"user"`
	PrivilegedUser string        `mapstructure:"privileged_user"`
	Port           int           `mapstructure:"port"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
}

// ChatConfig names the channel each notification category is delivered to.
// Directory lists the channels the gateway hosts.
type ChatConfig struct {
	Directory     []string `mapstructure:"directory"`
	Updates       string   `mapstructure:"updates"`
	Media         string   `mapstructure:"media"`
	Tasks         string   `mapstructure:"tasks"`
	Onboarding    string   `mapstructure:"onboarding"`
	Announcements string   `mapstructure:"announcements"`
	Homelab       string   `mapstructure:"homelab"`
}

type APIConfig struct {
	RadarrURL    string        `mapstructure:"radarr_url"`
	RadarrAPIKey string        `mapstructure:"radarr_api_key"`
	SonarrURL    string        `mapstructure:"sonarr_url"`
	SonarrAPIKey string        `mapstructure:"sonarr_api_key"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type SchedulerConfig struct {
	ProgressInterval     time.Duration `mapstructure:"progress_interval"`
	ProgressDelay        time.Duration `mapstructure:"progress_delay"`
	FailureInterval      time.Duration `mapstructure:"failure_interval"`
	FailureDelay         time.Duration `mapstructure:"failure_delay"`
	MaintenanceInterval  time.Duration `mapstructure:"maintenance_interval"`
	StaleTaskAfter       time.Duration `mapstructure:"stale_task_after"`
	DownloadRetention    time.Duration `mapstructure:"download_retention"`
	UpdateReportAt       string        `mapstructure:"update_report_at"`
	UpdateReportPull     bool          `mapstructure:"update_report_pull"`
	TaskDigestAt         string        `mapstructure:"task_digest_at"`
	Timezone             string        `mapstructure:"timezone"`
	DailyGrace           time.Duration `mapstructure:"daily_grace"`
	JobTimeout           time.Duration `mapstructure:"job_timeout"`
	ActiveInstanceWindow time.Duration `mapstructure:"active_instance_window"`
}

// Location resolves the scheduler timezone.
func (s *SchedulerConfig) Location() (*time.Location, error) {
	if s.Timezone == "" || s.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTimezone, s.Timezone)
	}
	return loc, nil
}

type ApprovalConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type AuthConfig struct {
	APIKey         string   `mapstructure:"api_key"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/sentinel.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "sentinel")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "sentinel")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "console")
	v.SetDefault("logger.output_paths", []string{"stdout"})
	v.SetDefault("logger.error_output_paths", []string{"stderr"})

	v.SetDefault("ssh.key_path", "")
	v.SetDefault("ssh.user", "hermes-admin")
	v.SetDefault("ssh.privileged_user", "root")
	v.SetDefault("ssh.port", 22)
	v.SetDefault("ssh.connect_timeout", 10*time.Second)
	v.SetDefault("ssh.probe_timeout", 5*time.Second)
	v.SetDefault("ssh.command_timeout", 60*time.Second)

	v.SetDefault("chat.directory", []string{
		"container-updates", "media-downloads", "claude-tasks",
		"new-service-onboarding-workflow", "announcements", "argus-assistant",
	})
	v.SetDefault("chat.updates", "container-updates")
	v.SetDefault("chat.media", "media-downloads")
	v.SetDefault("chat.tasks", "claude-tasks")
	v.SetDefault("chat.onboarding", "new-service-onboarding-workflow")
	v.SetDefault("chat.announcements", "announcements")
	v.SetDefault("chat.homelab", "argus-assistant")

	v.SetDefault("api.radarr_url", "http://192.168.40.11:7878")
	v.SetDefault("api.radarr_api_key", "")
	v.SetDefault("api.sonarr_url", "http://192.168.40.11:8989")
	v.SetDefault("api.sonarr_api_key", "")
	v.SetDefault("api.timeout", 10*time.Second)

	v.SetDefault("scheduler.progress_interval", time.Minute)
	v.SetDefault("scheduler.progress_delay", 30*time.Second)
	v.SetDefault("scheduler.failure_interval", 5*time.Minute)
	v.SetDefault("scheduler.failure_delay", time.Minute)
	v.SetDefault("scheduler.maintenance_interval", 30*time.Minute)
	v.SetDefault("scheduler.stale_task_after", 2*time.Hour)
	v.SetDefault("scheduler.download_retention", 24*time.Hour)
	v.SetDefault("scheduler.update_report_at", "19:00")
	v.SetDefault("scheduler.update_report_pull", false)
	v.SetDefault("scheduler.task_digest_at", "09:00")
	v.SetDefault("scheduler.timezone", "Local")
	v.SetDefault("scheduler.daily_grace", time.Hour)
	v.SetDefault("scheduler.job_timeout", 10*time.Minute)
	v.SetDefault("scheduler.active_instance_window", 10*time.Minute)

	v.SetDefault("approval.ttl", time.Hour)
	v.SetDefault("approval.sweep_interval", time.Minute)

	v.SetDefault("auth.api_key", "")
	v.SetDefault("auth.allowed_origins", []string{"*"})

	v.SetDefault("inventory_path", "")
}

// Load reads configuration from path (optional) and SENTINEL_* environment
// variables. A .env file in the working directory is loaded first if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the settings the process cannot start without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.SSH.KeyPath) == "" {
		return ErrMissingSSHKey
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.Database.Driver)
	}
	for _, at := range []string{c.Scheduler.UpdateReportAt, c.Scheduler.TaskDigestAt} {
		if _, _, err := ParseClock(at); err != nil {
			return err
		}
	}
	if _, err := c.Scheduler.Location(); err != nil {
		return err
	}
	return nil
}

// ParseClock parses an "HH:MM" wall-clock time.
func ParseClock(s string) (int, int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidDailyAt, s)
	}
	return t.Hour(), t.Minute(), nil
}

// Names maps each notification category to its configured channel name.
func (c ChatConfig) Names() map[domain.Category]string {
	return map[domain.Category]string{
		domain.CategoryUpdates:       c.Updates,
		domain.CategoryMedia:         c.Media,
		domain.CategoryTasks:         c.Tasks,
		domain.CategoryOnboarding:    c.Onboarding,
		domain.CategoryAnnouncements: c.Announcements,
		domain.CategoryHomelab:       c.Homelab,
	}
}
