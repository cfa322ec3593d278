package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	DatabaseURL       string `yaml:"database_url"`
	RedisURL          string `yaml:"redis_url"`
	ServerPort        string `yaml:"server_port"`
	DryRun            bool   `yaml:"dry_run"`
	GridURL           string `yaml:"grid_url"`
	ProgramsURL       string `yaml:"programs_url"`
	ProgramDetailsURL string `yaml:"program_details_url"`
	ChannelInfoURL    string `yaml:"channel_info_url"`
	UserAgent         string `yaml:"user_agent"`
	Timeout           string `yaml:"timeout"`
	EnrichChannels    *bool  `yaml:"enrich_channels"`
	RequestsPerPeriod int    `yaml:"requests_per_period"`
	RatePeriod        string `yaml:"rate_period"`
	DaysToFetch       int    `yaml:"days_to_fetch"`
	BatchConcurrency  int    `yaml:"batch_concurrency"`
	GuideTimezone     string `yaml:"guide_timezone"`
	ScheduleInterval  string `yaml:"schedule_interval"`
	LogLevel          string `yaml:"log_level"`
	LogFormat         string `yaml:"log_format"`
}

// LoadFromFile loads config from a YAML file. database_url is required unless dry_run is set.
// Keys left out keep their defaults. DRY_RUN in the environment overrides dry_run.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	c := Default()
	c.DatabaseURL = f.DatabaseURL
	c.RedisURL = f.RedisURL
	c.DryRun = f.DryRun
	if err := setBool(&c.DryRun, "DRY_RUN"); err != nil {
		return nil, err
	}
	overrideString(&c.ServerPort, f.ServerPort)
	overrideString(&c.GridURL, f.GridURL)
	overrideString(&c.ProgramsURL, f.ProgramsURL)
	overrideString(&c.ProgramDetailsURL, f.ProgramDetailsURL)
	overrideString(&c.ChannelInfoURL, f.ChannelInfoURL)
	overrideString(&c.UserAgent, f.UserAgent)
	overrideString(&c.GuideTimezone, f.GuideTimezone)
	overrideString(&c.LogLevel, f.LogLevel)
	overrideString(&c.LogFormat, f.LogFormat)
	if f.EnrichChannels != nil {
		c.EnrichChannels = *f.EnrichChannels
	}
	if f.RequestsPerPeriod != 0 {
		c.RequestsPerPeriod = f.RequestsPerPeriod
	}
	if f.DaysToFetch != 0 {
		c.DaysToFetch = f.DaysToFetch
	}
	if f.BatchConcurrency != 0 {
		c.BatchConcurrency = f.BatchConcurrency
	}
	for _, d := range []struct {
		dst *time.Duration
		raw string
		key string
	}{
		{&c.Timeout, f.Timeout, "timeout"},
		{&c.RatePeriod, f.RatePeriod, "rate_period"},
		{&c.ScheduleInterval, f.ScheduleInterval, "schedule_interval"},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = v
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func overrideString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
