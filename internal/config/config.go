package config

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	DevHospitalID  string `mapstructure:"DEV_HOSPITAL_ID"`

	DispatchWorkers     int           `mapstructure:"DISPATCH_WORKERS"`
	DispatchQueueSize   int           `mapstructure:"DISPATCH_QUEUE_SIZE"`
	DispatchMaxAttempts int           `mapstructure:"DISPATCH_MAX_ATTEMPTS"`
	DispatchBaseBackoff time.Duration `mapstructure:"DISPATCH_BASE_BACKOFF"`
	SweepInterval       time.Duration `mapstructure:"SWEEP_INTERVAL"`
	SweepGracePeriod    time.Duration `mapstructure:"SWEEP_GRACE_PERIOD"`
	SweepLimit          int           `mapstructure:"SWEEP_LIMIT"`

	RuleEvalInterval       time.Duration `mapstructure:"RULE_EVAL_INTERVAL"`
	ReassessOverdueMinutes int           `mapstructure:"REASSESS_OVERDUE_MINUTES"`

	LocationCacheSize int           `mapstructure:"LOCATION_CACHE_SIZE"`
	LocationCacheTTL  time.Duration `mapstructure:"LOCATION_CACHE_TTL"`

	LogFile string `mapstructure:"LOG_FILE"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY", "DEV_HOSPITAL_ID",
	"DISPATCH_WORKERS", "DISPATCH_QUEUE_SIZE", "DISPATCH_MAX_ATTEMPTS",
	"DISPATCH_BASE_BACKOFF", "SWEEP_INTERVAL", "SWEEP_GRACE_PERIOD", "SWEEP_LIMIT",
	"RULE_EVAL_INTERVAL", "REASSESS_OVERDUE_MINUTES",
	"LOCATION_CACHE_SIZE", "LOCATION_CACHE_TTL", "LOG_FILE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEV_HOSPITAL_ID", "00000000-0000-0000-0000-0000000000aa")
	v.SetDefault("DISPATCH_WORKERS", 4)
	v.SetDefault("DISPATCH_QUEUE_SIZE", 1024)
	v.SetDefault("DISPATCH_MAX_ATTEMPTS", 3)
	v.SetDefault("DISPATCH_BASE_BACKOFF", "5s")
	v.SetDefault("SWEEP_INTERVAL", "5s")
	v.SetDefault("SWEEP_GRACE_PERIOD", "10s")
	v.SetDefault("SWEEP_LIMIT", 100)
	v.SetDefault("RULE_EVAL_INTERVAL", "1m")
	v.SetDefault("REASSESS_OVERDUE_MINUTES", 30)
	v.SetDefault("LOCATION_CACHE_SIZE", 10000)
	v.SetDefault("LOCATION_CACHE_TTL", "10m")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if !cfg.IsDev() && cfg.AuthSigningKey == "" {
		return nil, fmt.Errorf("AUTH_SIGNING_KEY is required outside development")
	}
	if _, err := uuid.Parse(cfg.DevHospitalID); err != nil {
		return nil, fmt.Errorf("DEV_HOSPITAL_ID must be a uuid: %w", err)
	}

	if cfg.IsDev() {
		log.Println("WARNING: server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active — all requests act as admin staff.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// ReassessOverdue returns the triage-reassessment threshold as a duration.
func (c *Config) ReassessOverdue() time.Duration {
	return time.Duration(c.ReassessOverdueMinutes) * time.Minute
}

// DevHospital returns the parsed development hospital id.
func (c *Config) DevHospital() uuid.UUID {
	return uuid.MustParse(c.DevHospitalID)
}
