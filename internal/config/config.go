// Package config assembles runtime configuration from the environment and
// an optional firmdesk.yaml file.
package config

import (
	"fmt"
	"os"

	"github.com/firmdesk/firmdesk/internal/calendar"
	"github.com/firmdesk/firmdesk/internal/dates"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration. Secrets come from the
// environment; structural settings from firmdesk.yaml.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	DBPath     string `yaml:"db_path"`
	TimeZone   string `yaml:"time_zone"`

	Calendar calendar.Window `yaml:"calendar"`

	Digest DigestConfig `yaml:"digest"`

	MailSignature string `yaml:"mail_signature"`

	// Environment only.
	CronSecret  string `yaml:"-"`
	GoogleToken string `yaml:"-"`
	MailFrom    string `yaml:"-"`
	ReportDir   string `yaml:"report_dir"`
}

// DigestConfig controls the daily summary mail.
type DigestConfig struct {
	// FirmRecipients receive the whole-firm digest in addition to the
	// per-assignee copies.
	FirmRecipients []string `yaml:"firm_recipients"`
	Subject        string   `yaml:"subject"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8787"
	}
	if c.DBPath == "" {
		c.DBPath = "./firmdesk.db"
	}
	if c.TimeZone == "" {
		c.TimeZone = dates.DefaultZone
	}
	if c.Calendar.StartHH == 0 && c.Calendar.EndHH == 0 {
		c.Calendar = calendar.DefaultWindow()
	}
	if c.Calendar.TimeZone == "" {
		c.Calendar.TimeZone = c.TimeZone
	}
	if c.Digest.Subject == "" {
		c.Digest.Subject = "Compliance digest for {{date}}"
	}
	if c.MailSignature == "" {
		c.MailSignature = "Compliance Team"
	}
	if c.ReportDir == "" {
		c.ReportDir = "./reports"
	}
}

// Load reads .env (when present), then the yaml file (when present), then
// overlays environment variables.
func Load(yamlPath string) (*Config, error) {
	// A missing .env is the normal production case.
	_ = godotenv.Load()

	var c Config
	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err == nil {
			if err := yaml.Unmarshal(data, &c); err != nil {
				return nil, fmt.Errorf("parse %s: %w", yamlPath, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read %s: %w", yamlPath, err)
		}
	}

	if v := os.Getenv("FIRMDESK_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("FIRMDESK_DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("FIRMDESK_REPORT_DIR"); v != "" {
		c.ReportDir = v
	}
	c.CronSecret = os.Getenv("CRON_SECRET")
	c.GoogleToken = os.Getenv("GOOGLE_OAUTH_TOKEN")
	c.MailFrom = os.Getenv("BOT_FROM")
	if v := os.Getenv("MAIL_SIGNATURE"); v != "" {
		c.MailSignature = v
	}

	c.ApplyDefaults()
	return &c, nil
}
