package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata" // guide_timezone must resolve in minimal images

	"github.com/go-playground/validator/v10"
)

// ErrMissingDatabaseURL is returned when no database is configured and dry-run is off.
var ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"
	defaultTimezone  = "Europe/Lisbon"
)

// Config holds application configuration.
type Config struct {
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`
	RedisURL    string `yaml:"redis_url" env:"REDIS_URL"`
	ServerPort  string `yaml:"server_port" env:"SERVER_PORT" validate:"omitempty,numeric"`
	DryRun      bool   `yaml:"dry_run" env:"DRY_RUN"`

	// Upstream client.
	GridURL           string        `yaml:"grid_url" env:"MEO_GRID_URL" validate:"required,url"`
	ProgramsURL       string        `yaml:"programs_url" env:"MEO_PROGRAMS_URL" validate:"required,url"`
	ProgramDetailsURL string        `yaml:"program_details_url" env:"MEO_PROGRAM_DETAILS_URL" validate:"required,url"`
	ChannelInfoURL    string        `yaml:"channel_info_url" env:"MEO_CHANNEL_INFO_URL" validate:"required,url"`
	UserAgent         string        `yaml:"user_agent" env:"FETCHER_USER_AGENT" validate:"required"`
	Timeout           time.Duration `yaml:"timeout" env:"FETCHER_TIMEOUT" validate:"gt=0"`
	EnrichChannels    bool          `yaml:"enrich_channels" env:"ENRICH_CHANNELS"`

	// Throughput ceiling shared by every outbound call: RequestsPerPeriod per RatePeriod.
	RequestsPerPeriod int           `yaml:"requests_per_period" env:"REQUESTS_PER_PERIOD" validate:"gt=0"`
	RatePeriod        time.Duration `yaml:"rate_period" env:"RATE_PERIOD" validate:"gt=0"`

	// DaysToFetch is bounded like service.MaxWindowDays.
	DaysToFetch      int           `yaml:"days_to_fetch" env:"DAYS_TO_FETCH" validate:"gt=0,lte=14"`
	BatchConcurrency int           `yaml:"batch_concurrency" env:"BATCH_CONCURRENCY" validate:"gt=0"`
	GuideTimezone    string        `yaml:"guide_timezone" env:"GUIDE_TIMEZONE" validate:"required,timezone"`
	ScheduleInterval time.Duration `yaml:"schedule_interval" env:"SCHEDULE_INTERVAL" validate:"gte=0"`

	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL" validate:"omitempty,oneof=trace debug info warn error disabled"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT" validate:"omitempty,oneof=json console"`
}

// Default returns a Config with every optional field set.
func Default() *Config {
	return &Config{
		ServerPort:        "8080",
		GridURL:           "https://authservice.apps.meo.pt/Services/GridTv/GridTvMng.svc/getGridAnon",
		ProgramsURL:       "https://authservice.apps.meo.pt/Services/GridTv/GridTvMng.svc/getProgramsFromChannels",
		ProgramDetailsURL: "https://authservice.apps.meo.pt/Services/GridTv/GridTvMng.svc/getProgramDetails",
		ChannelInfoURL:    "https://meogouser.apps.meo.pt/Services/GridTv/GridTv.svc/GetChannelInfo",
		UserAgent:         defaultUserAgent,
		Timeout:           10 * time.Second,
		EnrichChannels:    true,
		RequestsPerPeriod: 3,
		RatePeriod:        time.Second,
		DaysToFetch:       1,
		BatchConcurrency:  4,
		GuideTimezone:     defaultTimezone,
		ScheduleInterval:  6 * time.Hour,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// Load builds config from environment variables.
// If DATABASE_URL is not set, Load tries to load .env.local and .env from the current directory.
// DATABASE_URL is required unless DRY_RUN is true.
func Load() (*Config, error) {
	if os.Getenv("DATABASE_URL") == "" {
		loadEnvFiles()
	}
	c := Default()
	c.DatabaseURL = os.Getenv("DATABASE_URL")
	c.RedisURL = os.Getenv("REDIS_URL")
	setString(&c.ServerPort, "SERVER_PORT")
	setString(&c.GridURL, "MEO_GRID_URL")
	setString(&c.ProgramsURL, "MEO_PROGRAMS_URL")
	setString(&c.ProgramDetailsURL, "MEO_PROGRAM_DETAILS_URL")
	setString(&c.ChannelInfoURL, "MEO_CHANNEL_INFO_URL")
	setString(&c.UserAgent, "FETCHER_USER_AGENT")
	setString(&c.GuideTimezone, "GUIDE_TIMEZONE")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")
	if err := setDuration(&c.Timeout, "FETCHER_TIMEOUT"); err != nil {
		return nil, err
	}
	if err := setDuration(&c.RatePeriod, "RATE_PERIOD"); err != nil {
		return nil, err
	}
	if err := setDuration(&c.ScheduleInterval, "SCHEDULE_INTERVAL"); err != nil {
		return nil, err
	}
	if err := setInt(&c.RequestsPerPeriod, "REQUESTS_PER_PERIOD"); err != nil {
		return nil, err
	}
	if err := setInt(&c.DaysToFetch, "DAYS_TO_FETCH"); err != nil {
		return nil, err
	}
	if err := setInt(&c.BatchConcurrency, "BATCH_CONCURRENCY"); err != nil {
		return nil, err
	}
	if err := setBool(&c.EnrichChannels, "ENRICH_CHANNELS"); err != nil {
		return nil, err
	}
	if err := setBool(&c.DryRun, "DRY_RUN"); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the database requirement.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" && !c.DryRun {
		return ErrMissingDatabaseURL
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}
