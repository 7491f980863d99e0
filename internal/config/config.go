package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the review engine.
type Config struct {
	AppName          string
	AppEnv           string
	AppPort          string
	DatabaseURL      string
	DBMaxOpenConns   int
	DBMaxIdleConns   int
	DBConnLifetime   time.Duration
	RedisURL         string
	NATSURL          string
	ChannelBase      string
	JWTSecret        string
	JWTIssuer        string
	JWTLeeway        time.Duration
	CORSAllowOrigins []string

	// Seed values for the settings table. Admin updates override them at runtime.
	ScorePrecision        float64
	DefaultPassThreshold  float64
	DefaultMaxScore       float64
	RegradeSLADays        int
	DefaultReviewWindow   time.Duration
	SettingsRefreshPeriod time.Duration

	StatusSweepInterval   time.Duration
	DeadlineSweepInterval time.Duration
	AIScoringInterval     time.Duration
	ReminderLeadTime      time.Duration

	AIProvider   string
	OpenAIAPIKey string
	OpenAIModel  string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	applyDefaults(v)

	return fromViper(v)
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "GEMA Review Engine")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_lifetime", "30m")
	v.SetDefault("jwt.leeway", "30s")
	v.SetDefault("cors.allow_origins", "*")
	v.SetDefault("channel.base", "gema:review")
	v.SetDefault("grading.precision", 0.5)
	v.SetDefault("grading.pass_threshold", 60)
	v.SetDefault("grading.max_score", 100)
	v.SetDefault("regrade.sla_days", 7)
	v.SetDefault("review.default_window", "72h")
	v.SetDefault("settings.refresh_interval", "30s")
	v.SetDefault("scheduler.status_interval", "1m")
	v.SetDefault("scheduler.deadline_interval", "1h")
	v.SetDefault("scheduler.ai_interval", "10m")
	v.SetDefault("scheduler.reminder_lead", "24h")
	v.SetDefault("ai.provider", "openai")
	v.SetDefault("openai.model", "gpt-4o-mini")
}

func fromViper(v *viper.Viper) (Config, error) {
	durations := map[string]time.Duration{}
	for _, key := range []string{
		"database.conn_lifetime",
		"jwt.leeway",
		"review.default_window",
		"settings.refresh_interval",
		"scheduler.status_interval",
		"scheduler.deadline_interval",
		"scheduler.ai_interval",
		"scheduler.reminder_lead",
	} {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		if parsed < 0 || (parsed == 0 && key != "jwt.leeway") {
			return Config{}, fmt.Errorf("%s must be positive", key)
		}
		durations[key] = parsed
	}

	cfg := Config{
		AppName:               v.GetString("app.name"),
		AppEnv:                v.GetString("app.env"),
		AppPort:               v.GetString("app.port"),
		DatabaseURL:           v.GetString("database.url"),
		DBMaxOpenConns:        v.GetInt("database.max_open_conns"),
		DBMaxIdleConns:        v.GetInt("database.max_idle_conns"),
		DBConnLifetime:        durations["database.conn_lifetime"],
		RedisURL:              v.GetString("redis.url"),
		NATSURL:               v.GetString("nats.url"),
		ChannelBase:           v.GetString("channel.base"),
		JWTSecret:             v.GetString("jwt.secret"),
		JWTIssuer:             v.GetString("jwt.issuer"),
		JWTLeeway:             durations["jwt.leeway"],
		CORSAllowOrigins:      splitList(v.GetString("cors.allow_origins")),
		ScorePrecision:        v.GetFloat64("grading.precision"),
		DefaultPassThreshold:  v.GetFloat64("grading.pass_threshold"),
		DefaultMaxScore:       v.GetFloat64("grading.max_score"),
		RegradeSLADays:        v.GetInt("regrade.sla_days"),
		DefaultReviewWindow:   durations["review.default_window"],
		SettingsRefreshPeriod: durations["settings.refresh_interval"],
		StatusSweepInterval:   durations["scheduler.status_interval"],
		DeadlineSweepInterval: durations["scheduler.deadline_interval"],
		AIScoringInterval:     durations["scheduler.ai_interval"],
		ReminderLeadTime:      durations["scheduler.reminder_lead"],
		AIProvider:            strings.ToLower(v.GetString("ai.provider")),
		OpenAIAPIKey:          v.GetString("openai_api_key"),
		OpenAIModel:           v.GetString("openai.model"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}
	if cfg.DBMaxIdleConns > cfg.DBMaxOpenConns {
		cfg.DBMaxIdleConns = cfg.DBMaxOpenConns
	}

	if cfg.DefaultMaxScore <= 0 {
		cfg.DefaultMaxScore = 100
	}
	if cfg.ScorePrecision <= 0 || cfg.ScorePrecision > cfg.DefaultMaxScore {
		return Config{}, fmt.Errorf("grading precision must be within (0, %v]", cfg.DefaultMaxScore)
	}
	if cfg.DefaultPassThreshold < 0 || cfg.DefaultPassThreshold > cfg.DefaultMaxScore {
		return Config{}, fmt.Errorf("pass threshold must be within [0, %v]", cfg.DefaultMaxScore)
	}
	if cfg.RegradeSLADays < 0 {
		cfg.RegradeSLADays = 7
	}

	return cfg, nil
}

func splitList(raw string) []string {
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
