package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Selectors are the CSS selectors of the arrival portal's page elements.
type Selectors struct {
	CaptchaImage  string `yaml:"captcha_image"`
	CodeInput     string `yaml:"code_input"`
	Submit        string `yaml:"submit"`
	CaptchaError  string `yaml:"captcha_error"`
	StationSelect string `yaml:"station_select"`
	ResultTable   string `yaml:"result_table"`
	Refresh       string `yaml:"refresh"`
}

type PortalConfig struct {
	URL               string        `yaml:"url"`
	Headless          bool          `yaml:"headless"`
	BrowserBin        string        `yaml:"browser_bin"`
	SettleDelay       time.Duration `yaml:"settle_delay"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	Selectors         Selectors     `yaml:"selectors"`
}

type StationsConfig struct {
	URL                 string        `yaml:"url"`
	Referer             string        `yaml:"referer"`
	Timeout             time.Duration `yaml:"timeout"`
	SupportedLines      []string      `yaml:"supported_lines"`
	NonOperationalCodes []string      `yaml:"non_operational_codes"` // e.g., ["TE10", "TE21"]
}

type Config struct {
	Portal          PortalConfig   `yaml:"portal"`
	Stations        StationsConfig `yaml:"stations"`
	CaptchaDir      string         `yaml:"captcha_dir"`
	MapImage        string         `yaml:"map_image"`
	Timezone        string         `yaml:"timezone"`
	RefreshInterval time.Duration  `yaml:"refresh_interval"`
	ChatIdleTTL     time.Duration  `yaml:"chat_idle_ttl"`
	CleanupInterval time.Duration  `yaml:"cleanup_interval"`
	AlertCooldown   time.Duration  `yaml:"alert_cooldown"`
	MetricsAddr     string         `yaml:"metrics_addr"` // empty disables the ops listener
}

// Default returns the configuration for the SMRT train arrival portal.
func Default() Config {
	return Config{
		Portal: PortalConfig{
			URL:               "https://trainarrivalweb.smrt.com.sg/",
			Headless:          true,
			SettleDelay:       500 * time.Millisecond,
			NavigationTimeout: 30 * time.Second,
			Selectors: Selectors{
				CaptchaImage:  "#imgCaptcha",
				CodeInput:     "#txtCodeNumber",
				Submit:        "#ibtnSubmit",
				CaptchaError:  ".captcha-error",
				StationSelect: "#ddlStation",
				ResultTable:   "table#gvTime",
				Refresh:       "#ibtnRefresh",
			},
		},
		Stations: StationsConfig{
			URL:                 "https://connect.smrt.wwprojects.com/smrt/api/stations",
			Referer:             "http://journey.smrt.com.sg/journey/station_info/",
			Timeout:             60 * time.Second,
			SupportedLines:      []string{"NS", "EW", "CC", "TE", "CE"},
			NonOperationalCodes: []string{"TE10", "TE21"},
		},
		CaptchaDir:      "captchas",
		MapImage:        "network_map.jpg",
		Timezone:        "Asia/Singapore",
		RefreshInterval: 3 * time.Second,
		ChatIdleTTL:     24 * time.Hour,
		CleanupInterval: 10 * time.Minute,
		AlertCooldown:   15 * time.Minute,
	}
}

// Location resolves the configured timezone, falling back to local time.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Portal.URL == "" {
		return fmt.Errorf("portal: url is required")
	}
	sel := c.Portal.Selectors
	if sel.CaptchaImage == "" || sel.CodeInput == "" || sel.Submit == "" || sel.CaptchaError == "" ||
		sel.StationSelect == "" || sel.ResultTable == "" || sel.Refresh == "" {
		return fmt.Errorf("portal.selectors: all selectors are required")
	}
	if c.Portal.NavigationTimeout <= 0 {
		return fmt.Errorf("portal: navigation_timeout must be positive")
	}
	if c.Portal.SettleDelay < 0 {
		return fmt.Errorf("portal: settle_delay must not be negative")
	}

	if c.Stations.URL == "" {
		return fmt.Errorf("stations: url is required")
	}
	if c.Stations.Timeout <= 0 {
		return fmt.Errorf("stations: timeout must be positive")
	}
	if len(c.Stations.SupportedLines) == 0 {
		return fmt.Errorf("stations: at least one supported line is required")
	}

	if c.CaptchaDir == "" {
		return fmt.Errorf("captcha_dir is required")
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
		}
	}
	if c.RefreshInterval < 0 {
		return fmt.Errorf("refresh_interval must not be negative")
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup_interval must be positive")
	}

	return nil
}
