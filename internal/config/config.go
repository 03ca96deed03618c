package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath = "config.toml"
	DefaultHTTPAddr   = ":8080"
	DefaultPGHost     = "127.0.0.1"
	DefaultPGPort     = 5432
	DefaultPGUser     = "postgres"
	DefaultPGDatabase = "loopline"
	DefaultPGSSLMode  = "disable"
)

type Config struct {
	Log        LogConfig        `toml:"log"`
	Server     ServerConfig     `toml:"server"`
	Auth       AuthConfig       `toml:"auth"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Meta       MetaConfig       `toml:"meta"`
	WhatsApp   WhatsAppConfig   `toml:"whatsapp"`
	Email      EmailConfig      `toml:"email"`
	Generation GenerationConfig `toml:"generation"`
	Queues     QueuesConfig     `toml:"queues"`
	Calendar   CalendarConfig   `toml:"calendar"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// MetaConfig covers the Meta-family webhook surface (Messenger, Instagram).
type MetaConfig struct {
	AppSecret   string `toml:"app_secret"`
	VerifyToken string `toml:"verify_token"`
}

// WhatsAppConfig configures the two outbound WhatsApp transports.
type WhatsAppConfig struct {
	Cloud   WhatsAppCloudConfig   `toml:"cloud"`
	Session WhatsAppSessionConfig `toml:"session"`
}

type WhatsAppCloudConfig struct {
	BaseURL       string  `toml:"base_url"`
	AccessToken   string  `toml:"access_token"`
	PhoneNumberID string  `toml:"phone_number_id"`
	RatePerSecond float64 `toml:"rate_per_second"`
}

type WhatsAppSessionConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

type EmailConfig struct {
	Provider string        `toml:"provider"`
	From     string        `toml:"from"`
	Mailgun  MailgunConfig `toml:"mailgun"`
	SMTP     SMTPConfig    `toml:"smtp"`
}

type MailgunConfig struct {
	Domain string `toml:"domain"`
	APIKey string `toml:"api_key"`
}

type SMTPConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

type GenerationConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// QueuesConfig tunes the worker harness. Per-queue overrides beat the defaults.
type QueuesConfig struct {
	PollInterval    Duration               `toml:"poll_interval"`
	ShutdownTimeout Duration               `toml:"shutdown_timeout"`
	MetricsAddr     string                 `toml:"metrics_addr"`
	Overrides       map[string]QueueTuning `toml:"overrides"`
}

type QueueTuning struct {
	Concurrency int      `toml:"concurrency"`
	MaxAttempts int      `toml:"max_attempts"`
	Backoff     Duration `toml:"backoff"`
}

type CalendarConfig struct {
	GraceMinutes      int      `toml:"grace_minutes"`
	ReminderLookahead Duration `toml:"reminder_lookahead"`
	ReminderCooldown  Duration `toml:"reminder_cooldown"`
	PublicBaseURL     string   `toml:"public_base_url"`
}

// Duration wraps time.Duration for TOML decoding ("2s", "30m").
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		WhatsApp: WhatsAppConfig{
			Cloud: WhatsAppCloudConfig{
				BaseURL:       "https://graph.facebook.com/v19.0",
				RatePerSecond: 20,
			},
		},
		Generation: GenerationConfig{
			TimeoutSeconds: 60,
		},
		Queues: QueuesConfig{
			PollInterval:    Duration(time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
			MetricsAddr:     ":9090",
		},
		Calendar: CalendarConfig{
			GraceMinutes:      15,
			ReminderLookahead: Duration(24 * time.Hour),
			ReminderCooldown:  Duration(10 * time.Minute),
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
