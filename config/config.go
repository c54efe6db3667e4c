package config

import (
	"fmt"
	"os"
	"strings"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Mail      MailConfig      `yaml:"mail"`
	TrackMail TrackMailConfig `yaml:"trackmail"`
}

type DatabaseConfig struct {
	// URL имеет приоритет над host/port/... (DATABASE_URL в env).
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	MailOpenedTopicName string `yaml:"mail_opened_topic_name"`
}

type RedisConfig struct {
	// Пустой адрес = кеш выключен.
	Addr               string `yaml:"addr"`
	TrackingTTLSeconds int    `yaml:"tracking_ttl_seconds"`
}

type MailConfig struct {
	Provider string `yaml:"provider"` // "fake" | "resend" | "ses"
	From     string `yaml:"from"`
	Subject  string `yaml:"subject"`

	ResendAPIKey  string `yaml:"resend_api_key"`
	ResendBaseURL string `yaml:"resend_base_url"`

	SESRegion    string `yaml:"ses_region"`
	SESAccessKey string `yaml:"ses_access_key"`
	SESSecretKey string `yaml:"ses_secret_key"`
}

type TrackMailConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	// BaseURL is the public address recipients' clients fetch the pixel from.
	BaseURL string `yaml:"base_url"`
	Secret  string `yaml:"secret"`

	StorageDriver string `yaml:"storage_driver"` // "postgres" | "memory"
	RecordingMode string `yaml:"recording_mode"` // "direct" | "kafka"
	OrphanPolicy  string `yaml:"orphan_policy"`  // "keep" | "rollback"

	RecordTimeoutMs    int    `yaml:"record_timeout_ms"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	TrustProxy     bool     `yaml:"trust_proxy"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	LogFormat string `yaml:"log_format"` // "json" | "text"
	LogLevel  string `yaml:"log_level"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}

// Load читает yaml (если путь задан) и поверх применяет переменные окружения.
func Load(filename string) (*Config, error) {
	cfg := &Config{}
	if filename != "" {
		var err error
		cfg, err = LoadConfig(filename)
		if err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides file values with the deployment variables of the
// original service. PORT becomes ":PORT".
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	if v, ok := lookup("PORT"); ok && strings.TrimSpace(v) != "" {
		c.TrackMail.HTTPAddr = ":" + strings.TrimPrefix(strings.TrimSpace(v), ":")
	}
	set("PASSWORD", &c.TrackMail.Secret)
	set("BASE_URL", &c.TrackMail.BaseURL)
	set("DATABASE_URL", &c.Database.URL)
	set("RESEND_API_KEY", &c.Mail.ResendAPIKey)
	set("MAIL_PROVIDER", &c.Mail.Provider)
	set("REDIS_ADDR", &c.Redis.Addr)
}

func (c *Config) Validate() error {
	if c.TrackMail.Secret == "" {
		return fmt.Errorf("trackmail.secret (PASSWORD) is required")
	}
	if c.TrackMail.BaseURL == "" {
		return fmt.Errorf("trackmail.base_url (BASE_URL) is required")
	}
	switch c.TrackMail.OrphanPolicy {
	case "", "keep", "rollback":
	default:
		return fmt.Errorf("unknown trackmail.orphan_policy %q", c.TrackMail.OrphanPolicy)
	}
	switch c.TrackMail.RecordingMode {
	case "", "direct", "kafka":
	default:
		return fmt.Errorf("unknown trackmail.recording_mode %q", c.TrackMail.RecordingMode)
	}
	switch c.TrackMail.StorageDriver {
	case "", "postgres", "memory":
	default:
		return fmt.Errorf("unknown trackmail.storage_driver %q", c.TrackMail.StorageDriver)
	}
	switch c.Mail.Provider {
	case "", "fake":
	case "resend":
		if c.Mail.ResendAPIKey == "" {
			return fmt.Errorf("mail.resend_api_key (RESEND_API_KEY) is required for provider resend")
		}
	case "ses":
		if c.Mail.SESRegion == "" {
			return fmt.Errorf("mail.ses_region is required for provider ses")
		}
	default:
		return fmt.Errorf("unknown mail.provider %q", c.Mail.Provider)
	}
	return nil
}

// PostgresURL returns database.url or builds one from the separate fields.
func (d DatabaseConfig) PostgresURL() string {
	if d.URL != "" {
		return d.URL
	}
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, sslMode)
}
