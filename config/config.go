package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Points    PointsConfig    `mapstructure:"points"`
	Referral  ReferralConfig  `mapstructure:"referral"`
	Admission AdmissionConfig `mapstructure:"admission"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type DatabaseConfig struct {
	URL              string        `mapstructure:"url"`
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	User             string        `mapstructure:"user"`
	Password         string        `mapstructure:"password"`
	DBName           string        `mapstructure:"name"`
	SSLMode          string        `mapstructure:"sslmode"`
	MaxOpenConns     int           `mapstructure:"max_open_conns"`
	MaxIdleConns     int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime  time.Duration `mapstructure:"conn_max_lifetime"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
	QueryTimeout     time.Duration `mapstructure:"query_timeout"`
}

// DSN returns a pgx connection string carrying statement_timeout as a
// runtime parameter so every statement is bounded server-side.
func (d *DatabaseConfig) DSN() string {
	timeoutMs := d.StatementTimeout.Milliseconds()
	if d.URL != "" {
		u, err := url.Parse(d.URL)
		if err != nil || timeoutMs <= 0 {
			return d.URL
		}
		q := u.Query()
		if q.Get("statement_timeout") == "" {
			q.Set("statement_timeout", fmt.Sprintf("%d", timeoutMs))
		}
		u.RawQuery = q.Encode()
		return u.String()
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
	if timeoutMs > 0 {
		dsn += fmt.Sprintf(" statement_timeout=%d", timeoutMs)
	}
	return dsn
}

type ServerConfig struct {
	Port           int    `mapstructure:"port"`
	AllowedOrigins string `mapstructure:"allowed_origins"`
	GatewayToken   string `mapstructure:"gateway_token"`
	BodyLimitBytes int    `mapstructure:"body_limit_bytes"`
}

// Origins splits the comma-separated AllowedOrigins list.
func (s *ServerConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(s.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

type PointsConfig struct {
	FirstAccessBonus     int64 `mapstructure:"first_access_bonus"`
	ContributionBonus    int64 `mapstructure:"contribution_bonus"`
	RefereeSuccessPoints int64 `mapstructure:"referee_success_points"`
}

type ReferralConfig struct {
	EligibilityPoints int64         `mapstructure:"eligibility_points"`
	PointsPerReferral int64         `mapstructure:"points_per_referral"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	AuditCron         string        `mapstructure:"audit_cron"`
}

type AdmissionConfig struct {
	MaxConcurrent int64 `mapstructure:"max_concurrent"`
	MaxQueue      int64 `mapstructure:"max_queue"`
}

type ArchiveConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	AccountID       string `mapstructure:"account_id"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	Bucket          string `mapstructure:"bucket"`
	Endpoint        string `mapstructure:"endpoint"`
}

type SyncConfig struct {
	URL      string        `mapstructure:"url"`
	Token    string        `mapstructure:"token"`
	Interval time.Duration `mapstructure:"interval"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "marketplace")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.statement_timeout", 5*time.Second)
	v.SetDefault("database.query_timeout", 10*time.Second)

	v.SetDefault("server.port", 5200)
	v.SetDefault("server.allowed_origins", "http://localhost:3000")
	v.SetDefault("server.gateway_token", "")
	v.SetDefault("server.body_limit_bytes", 10*1024*1024)

	v.SetDefault("points.first_access_bonus", 10)
	v.SetDefault("points.contribution_bonus", 20)
	v.SetDefault("points.referee_success_points", 30)

	v.SetDefault("referral.eligibility_points", 30)
	v.SetDefault("referral.points_per_referral", 50)
	v.SetDefault("referral.reconcile_interval", 15*time.Second)
	v.SetDefault("referral.audit_cron", "0 * * * *")

	v.SetDefault("admission.max_concurrent", 16)
	v.SetDefault("admission.max_queue", 256)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.account_id", "")
	v.SetDefault("archive.access_key_id", "")
	v.SetDefault("archive.access_key_secret", "")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.endpoint", "")

	v.SetDefault("sync.url", "")
	v.SetDefault("sync.token", "")
	v.SetDefault("sync.interval", 10*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")
}

// Load reads an optional .env file, then environment variables named after
// the config keys (database.max_open_conns -> DATABASE_MAX_OPEN_CONNS).
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Database.URL == "" && c.Database.Host == "" {
		return errors.New("DATABASE_URL or DATABASE_HOST must be set")
	}
	if c.Server.GatewayToken == "" {
		return errors.New("SERVER_GATEWAY_TOKEN must be set")
	}
	if c.Admission.MaxConcurrent <= 0 {
		return errors.New("ADMISSION_MAX_CONCURRENT must be positive")
	}
	if c.Referral.ReconcileInterval <= 0 {
		return errors.New("REFERRAL_RECONCILE_INTERVAL must be positive")
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return errors.New("ARCHIVE_BUCKET must be set when the archive is enabled")
	}
	return nil
}
