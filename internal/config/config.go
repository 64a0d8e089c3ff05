package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

type APIKey struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key"`
	Role string `yaml:"role"`
}

type DBConfig struct {
	DSN             string        `yaml:"dsn"               env:"CDR_DB_DSN"`
	MaxConns        int32         `yaml:"max_conns"         env:"CDR_DB_MAX_CONNS"         env-default:"20"`
	MinConns        int32         `yaml:"min_conns"         env:"CDR_DB_MIN_CONNS"         env-default:"5"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" env:"CDR_DB_MAX_CONN_LIFETIME" env-default:"30m"`
}

type AuthConfig struct {
	JWTSecret   string   `yaml:"jwt_secret"   env:"CDR_JWT_SECRET"`
	JWTIssuer   string   `yaml:"jwt_issuer"   env:"CDR_JWT_ISSUER"   env-default:"cdr-analytics"`
	AdminRole   string   `yaml:"admin_role"   env:"CDR_ADMIN_ROLE"   env-default:"admin"`
	IngestToken string   `yaml:"ingest_token" env:"CDR_INGEST_TOKEN"`
	APIKeys     []APIKey `yaml:"api_keys"`
}

type SMTPConfig struct {
	Host        string        `yaml:"host"         env:"CDR_SMTP_HOST"`
	Port        int           `yaml:"port"         env:"CDR_SMTP_PORT"         env-default:"25"`
	Username    string        `yaml:"username"     env:"CDR_SMTP_USERNAME"`
	Password    string        `yaml:"password"     env:"CDR_SMTP_PASSWORD"`
	From        string        `yaml:"from"         env:"CDR_SMTP_FROM"`
	SendTimeout time.Duration `yaml:"send_timeout" env:"CDR_SMTP_SEND_TIMEOUT" env-default:"30s"`
	// RatePerMinute throttles outgoing messages; 0 disables throttling.
	RatePerMinute int `yaml:"rate_per_minute" env:"CDR_SMTP_RATE_PER_MINUTE" env-default:"30"`
}

type ReportingConfig struct {
	Organization       string        `yaml:"organization"        env:"CDR_REPORT_ORG"          env-default:"CDR"`
	TimeZone           string        `yaml:"time_zone"           env:"CDR_REPORT_TZ"           env-default:"UTC"`
	Locale             string        `yaml:"locale"              env:"CDR_REPORT_LOCALE"       env-default:"en"`
	DefaultRecipients  []string      `yaml:"default_recipients"`
	ExcludedRecipients []string      `yaml:"excluded_recipients"`
	WeeklyCron         string        `yaml:"weekly_cron"         env:"CDR_REPORT_WEEKLY_CRON"  env-default:"0 2 * * 1"`
	MonthlyCron        string        `yaml:"monthly_cron"        env:"CDR_REPORT_MONTHLY_CRON" env-default:"0 2 1 * *"`
	StorageDir         string        `yaml:"storage_dir"         env:"CDR_REPORT_DIR"          env-default:"reports"`
	SendGap            time.Duration `yaml:"send_gap"            env:"CDR_REPORT_SEND_GAP"     env-default:"2s"`
	MaxRetries         int           `yaml:"max_retries"         env:"CDR_REPORT_MAX_RETRIES"  env-default:"2"`
	RetryDelay         time.Duration `yaml:"retry_delay"         env:"CDR_REPORT_RETRY_DELAY"  env-default:"1m"`
	// SchedulerDisabled turns off the cron-driven weekly and monthly runs.
	SchedulerDisabled bool `yaml:"scheduler_disabled" env:"CDR_REPORT_SCHEDULER_DISABLED"`
}

type LogConfig struct {
	Level  string `yaml:"level"  env:"CDR_LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"CDR_LOG_FORMAT" env-default:"json"`
}

type Config struct {
	ListenAddr string          `yaml:"listen_addr" env:"CDR_LISTEN_ADDR" env-default:":8080"`
	DB         DBConfig        `yaml:"db"`
	Auth       AuthConfig      `yaml:"auth"`
	SMTP       SMTPConfig      `yaml:"smtp"`
	Reporting  ReportingConfig `yaml:"reporting"`
	Log        LogConfig       `yaml:"log"`
}

// Load reads the YAML file at path (optional when empty) and applies
// environment overrides and defaults on top of it.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var problems []string

	if c.DB.DSN == "" {
		problems = append(problems, "db.dsn is required")
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		problems = append(problems, "auth.jwt_secret must be at least 32 characters")
	}
	if c.SMTP.Host != "" && c.SMTP.From == "" {
		problems = append(problems, "smtp.from is required when smtp.host is set")
	}
	if _, err := time.LoadLocation(c.Reporting.TimeZone); err != nil {
		problems = append(problems, fmt.Sprintf("reporting.time_zone: %v", err))
	}
	if c.Reporting.MaxRetries < 0 {
		problems = append(problems, "reporting.max_retries must not be negative")
	}
	if c.Reporting.RetryDelay < 0 {
		problems = append(problems, "reporting.retry_delay must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Location returns the reporting time zone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Reporting.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}
