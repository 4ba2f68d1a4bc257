package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBSchema    string   `mapstructure:"DB_SCHEMA"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string   `mapstructure:"REDIS_URL"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	HospitalTimezone  string `mapstructure:"HOSPITAL_TIMEZONE"`
	ShiftMorningStart string `mapstructure:"SHIFT_MORNING_START"`
	ShiftMorningEnd   string `mapstructure:"SHIFT_MORNING_END"`
	ShiftNightStart   string `mapstructure:"SHIFT_NIGHT_START"`
	ShiftNightEnd     string `mapstructure:"SHIFT_NIGHT_END"`
	ShiftDoubleStart  string `mapstructure:"SHIFT_DOUBLE_START"`

	PushTimeout             time.Duration `mapstructure:"PUSH_TIMEOUT"`
	FirebaseCredentialsFile string        `mapstructure:"FIREBASE_CREDENTIALS_FILE"`

	TracingEnabled    bool    `mapstructure:"TRACING_ENABLED"`
	OTLPEndpoint      string  `mapstructure:"OTLP_ENDPOINT"`
	TracingSampleRate float64 `mapstructure:"TRACING_SAMPLE_RATE"`

	WaitAlertSchedule         string `mapstructure:"WAIT_ALERT_SCHEDULE"`
	NotificationPurgeSchedule string `mapstructure:"NOTIFICATION_PURGE_SCHEDULE"`
	NotificationRetentionDays int    `mapstructure:"NOTIFICATION_RETENTION_DAYS"`
	AuditBufferSize           int    `mapstructure:"AUDIT_BUFFER_SIZE"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_SCHEMA", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL", "CORS_ORIGINS",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"HOSPITAL_TIMEZONE", "SHIFT_MORNING_START", "SHIFT_MORNING_END", "SHIFT_NIGHT_START", "SHIFT_NIGHT_END", "SHIFT_DOUBLE_START",
	"PUSH_TIMEOUT", "FIREBASE_CREDENTIALS_FILE",
	"TRACING_ENABLED", "OTLP_ENDPOINT", "TRACING_SAMPLE_RATE",
	"WAIT_ALERT_SCHEDULE", "NOTIFICATION_PURGE_SCHEDULE", "NOTIFICATION_RETENTION_DAYS", "AUDIT_BUFFER_SIZE",
}

// Load reads the environment, falling back to a .env file in the working
// directory. It is called once at startup and the result passed down.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_SCHEMA", "urgencias")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("HOSPITAL_TIMEZONE", "America/Santiago")
	v.SetDefault("SHIFT_MORNING_START", "08:00")
	v.SetDefault("SHIFT_MORNING_END", "20:00")
	v.SetDefault("SHIFT_NIGHT_START", "20:00")
	v.SetDefault("SHIFT_NIGHT_END", "08:00")
	v.SetDefault("SHIFT_DOUBLE_START", "08:00")
	v.SetDefault("PUSH_TIMEOUT", "5s")
	v.SetDefault("TRACING_SAMPLE_RATE", 1.0)
	v.SetDefault("WAIT_ALERT_SCHEDULE", "0 */1 * * * *")
	v.SetDefault("NOTIFICATION_PURGE_SCHEDULE", "0 30 3 * * *")
	v.SetDefault("NOTIFICATION_RETENTION_DAYS", 30)
	v.SetDefault("AUDIT_BUFFER_SIZE", 10000)

	for _, k := range keys {
		v.BindEnv(k)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location returns the hospital's time zone; shift windows are wall-clock
// times in it.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.HospitalTimezone)
	if err != nil {
		return nil, fmt.Errorf("HOSPITAL_TIMEZONE %q: %w", c.HospitalTimezone, err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	if c.IsProduction() && c.AuthSigningKey != "" && c.AuthJWKSURL == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is for development only; set AUTH_JWKS_URL in production")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	for name, val := range map[string]string{
		"SHIFT_MORNING_START": c.ShiftMorningStart,
		"SHIFT_MORNING_END":   c.ShiftMorningEnd,
		"SHIFT_NIGHT_START":   c.ShiftNightStart,
		"SHIFT_NIGHT_END":     c.ShiftNightEnd,
		"SHIFT_DOUBLE_START":  c.ShiftDoubleStart,
	} {
		if _, err := time.Parse("15:04", val); err != nil {
			return fmt.Errorf("%s must be HH:MM, got %q", name, val)
		}
	}
	if c.NotificationRetentionDays < 1 {
		return fmt.Errorf("NOTIFICATION_RETENTION_DAYS must be at least 1, got %d", c.NotificationRetentionDays)
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		return fmt.Errorf("TRACING_SAMPLE_RATE must be between 0 and 1, got %v", c.TracingSampleRate)
	}
	if c.PushTimeout <= 0 {
		return fmt.Errorf("PUSH_TIMEOUT must be positive")
	}
	return nil
}
