package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/foxzi/outreach/internal/catalog"
	"github.com/foxzi/outreach/internal/followup"
	"github.com/foxzi/outreach/internal/models"
	"github.com/foxzi/outreach/internal/ratelimit"
)

// Provider types
const (
	ProviderSMTP     = "smtp"
	ProviderSendGrid = "sendgrid"
	ProviderResend   = "resend"
)

// Config is the main configuration structure
type Config struct {
	Logging      LoggingConfig             `yaml:"logging"`
	Storage      StorageConfig             `yaml:"storage"`
	LLM          LLMConfig                 `yaml:"llm"`
	Providers    []ProviderConfig          `yaml:"providers"`
	RateLimit    ratelimit.Config          `yaml:"rate_limit"`
	Orchestrator OrchestratorConfig        `yaml:"orchestrator"`
	Campaigns    []models.Campaign         `yaml:"campaigns"`
	Intents      []models.Intent           `yaml:"intents"`
	Templates    []models.Template         `yaml:"templates"`
	Knowledge    []models.KnowledgeSnippet `yaml:"knowledge"`
	Metrics      MetricsConfig             `yaml:"metrics"`
	API          APIConfig                 `yaml:"api"`
	Review       ReviewConfig              `yaml:"review"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// StorageConfig contains storage settings
type StorageConfig struct {
	Path string `yaml:"path"`
}

// LLMConfig configures the OpenAI-compatible completion endpoint.
// When disabled every component uses its rule-based fallback.
type LLMConfig struct {
	Enabled bool          `yaml:"enabled"`
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"` // per call
}

// ProviderConfig describes one sending mailbox and its optional inbox
type ProviderConfig struct {
	ID       string `yaml:"id"`
	Type     string `yaml:"type"` // smtp, sendgrid, resend
	From     string `yaml:"from"`
	FromName string `yaml:"from_name"`

	// API providers
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`

	SMTP *SMTPConfig `yaml:"smtp,omitempty"`
	IMAP *IMAPConfig `yaml:"imap,omitempty"`
	DKIM *DKIMConfig `yaml:"dkim,omitempty"`
}

// SMTPConfig contains SMTP submission settings
type SMTPConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	TLS                string        `yaml:"tls"` // none, starttls, implicit
	HelloName          string        `yaml:"hello_name"`
	Timeout            time.Duration `yaml:"timeout"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
}

// IMAPConfig contains inbox polling settings
type IMAPConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	TLS         *bool         `yaml:"tls"` // default true
	Timeout     time.Duration `yaml:"timeout"`
	MaxMessages int           `yaml:"max_messages"`
}

// DKIMConfig contains DKIM signing settings for SMTP providers
type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Domain   string `yaml:"domain"`
	Selector string `yaml:"selector"`
	KeyFile  string `yaml:"key_file"`
}

// OrchestratorConfig tunes the inbound and follow-up loops
type OrchestratorConfig struct {
	InboundInterval  time.Duration `yaml:"inbound_interval"`
	InboundFolder    string        `yaml:"inbound_folder"`
	FollowUpInterval time.Duration `yaml:"followup_interval"`
	SendTimeout      time.Duration `yaml:"send_timeout"`
	TouchLease       time.Duration `yaml:"touch_lease"`
	HistorySize      int           `yaml:"history_size"`
	MaxAutoReplies   int           `yaml:"max_auto_replies"`
	CacheSize        int           `yaml:"cache_size"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled         bool          `yaml:"enabled"`
	ListenAddr      string        `yaml:"listen_addr"`      // Default: :9090
	Path            string        `yaml:"path"`             // Default: /metrics
	CollectInterval time.Duration `yaml:"collect_interval"` // Default: 15s
	AllowedIPs      []string      `yaml:"allowed_ips"`      // IP addresses/CIDRs allowed to access metrics
}

// APIConfig contains HTTP management API settings
type APIConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	APIKey     string `yaml:"api_key"`
}

// ReviewConfig configures reviewer notifications
type ReviewConfig struct {
	AMQPURL string `yaml:"amqp_url"` // empty disables publishing
	Queue   string `yaml:"queue"`
}

// LoadDotEnv loads environment files, ignoring missing ones
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandSecrets()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// expandSecrets resolves ${VAR} references in credential fields only.
// Template bodies may contain literal dollar amounts.
func (c *Config) expandSecrets() {
	c.LLM.APIKey = os.ExpandEnv(c.LLM.APIKey)
	c.LLM.BaseURL = os.ExpandEnv(c.LLM.BaseURL)
	c.API.APIKey = os.ExpandEnv(c.API.APIKey)
	c.Review.AMQPURL = os.ExpandEnv(c.Review.AMQPURL)
	for i := range c.Providers {
		p := &c.Providers[i]
		p.APIKey = os.ExpandEnv(p.APIKey)
		if p.SMTP != nil {
			p.SMTP.Username = os.ExpandEnv(p.SMTP.Username)
			p.SMTP.Password = os.ExpandEnv(p.SMTP.Password)
		}
		if p.IMAP != nil {
			p.IMAP.Username = os.ExpandEnv(p.IMAP.Username)
			p.IMAP.Password = os.ExpandEnv(p.IMAP.Password)
		}
	}
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Storage.Path == "" {
		c.Storage.Path = "/var/lib/outreach/outreach.db"
	}

	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 30 * time.Second
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}

	for i := range c.Providers {
		p := &c.Providers[i]
		if p.SMTP != nil {
			if p.SMTP.Port == 0 {
				p.SMTP.Port = 587
			}
			if p.SMTP.TLS == "" {
				p.SMTP.TLS = "starttls"
			}
			if p.SMTP.Timeout == 0 {
				p.SMTP.Timeout = 60 * time.Second
			}
		}
		if p.IMAP != nil {
			if p.IMAP.Port == 0 {
				p.IMAP.Port = 993
			}
			if p.IMAP.TLS == nil {
				enabled := true
				p.IMAP.TLS = &enabled
			}
			if p.IMAP.Timeout == 0 {
				p.IMAP.Timeout = 60 * time.Second
			}
			if p.IMAP.MaxMessages == 0 {
				p.IMAP.MaxMessages = 100
			}
		}
	}

	if c.RateLimit.FlushInterval == 0 {
		c.RateLimit.FlushInterval = 10 * time.Second
	}

	o := &c.Orchestrator
	if o.InboundInterval == 0 {
		o.InboundInterval = 60 * time.Second
	}
	if o.InboundFolder == "" {
		o.InboundFolder = "INBOX"
	}
	if o.FollowUpInterval == 0 {
		o.FollowUpInterval = 5 * time.Minute
	}
	if o.SendTimeout == 0 {
		o.SendTimeout = 60 * time.Second
	}
	if o.TouchLease == 0 {
		o.TouchLease = 10 * time.Minute
	}
	if o.HistorySize == 0 {
		o.HistorySize = 10
	}
	if o.MaxAutoReplies == 0 {
		o.MaxAutoReplies = 3
	}
	if o.CacheSize == 0 {
		o.CacheSize = 1024
	}
	if o.CacheTTL == 0 {
		o.CacheTTL = 15 * time.Minute
	}

	for i := range c.Campaigns {
		fu := &c.Campaigns[i].FollowUp
		if fu.ScheduleType == "" {
			fu.ScheduleType = models.ScheduleInterval
		}
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.CollectInterval == 0 {
		c.Metrics.CollectInterval = 15 * time.Second
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}

	if c.Review.Queue == "" {
		c.Review.Queue = "outreach.reviews"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	if c.LLM.Enabled && c.LLM.APIKey == "" && c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.api_key or llm.base_url is required when llm is enabled")
	}

	if err := c.validateProviders(); err != nil {
		return err
	}

	if err := c.validateRateLimit(); err != nil {
		return err
	}

	if c.Orchestrator.MaxAutoReplies < 0 {
		return fmt.Errorf("orchestrator.max_auto_replies must not be negative")
	}
	if c.Orchestrator.HistorySize < 0 {
		return fmt.Errorf("orchestrator.history_size must not be negative")
	}

	if err := c.validateCampaigns(); err != nil {
		return err
	}

	if _, err := c.Catalog(); err != nil {
		return err
	}

	return nil
}

// validateProviders validates mailbox configuration
func (c *Config) validateProviders() error {
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("providers[%d].id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true

		if p.From == "" {
			return fmt.Errorf("providers.%s.from is required", p.ID)
		}

		switch p.Type {
		case ProviderSMTP:
			if p.SMTP == nil || p.SMTP.Host == "" {
				return fmt.Errorf("providers.%s.smtp.host is required for smtp providers", p.ID)
			}
			validTLS := map[string]bool{"none": true, "starttls": true, "implicit": true}
			if !validTLS[p.SMTP.TLS] {
				return fmt.Errorf("providers.%s.smtp.tls must be one of: none, starttls, implicit", p.ID)
			}
		case ProviderSendGrid, ProviderResend:
			if p.APIKey == "" {
				return fmt.Errorf("providers.%s.api_key is required for %s providers", p.ID, p.Type)
			}
		default:
			return fmt.Errorf("providers.%s.type must be one of: smtp, sendgrid, resend", p.ID)
		}

		if p.IMAP != nil && (p.IMAP.Host == "" || p.IMAP.Username == "") {
			return fmt.Errorf("providers.%s.imap requires host and username", p.ID)
		}

		if p.DKIM != nil && p.DKIM.Enabled {
			if p.Type != ProviderSMTP {
				return fmt.Errorf("providers.%s.dkim is only supported for smtp providers", p.ID)
			}
			if p.DKIM.Domain == "" || p.DKIM.Selector == "" || p.DKIM.KeyFile == "" {
				return fmt.Errorf("providers.%s.dkim requires domain, selector and key_file", p.ID)
			}
		}
	}
	return nil
}

// validateRateLimit rejects negative limits
func (c *Config) validateRateLimit() error {
	check := func(name string, l *ratelimit.LimitConfig) error {
		if l == nil {
			return nil
		}
		if l.MessagesPerHour < 0 || l.MessagesPerDay < 0 {
			return fmt.Errorf("rate_limit.%s must not be negative", name)
		}
		return nil
	}

	if err := check("global", c.RateLimit.Global); err != nil {
		return err
	}
	if err := check("default_provider", c.RateLimit.DefaultProvider); err != nil {
		return err
	}
	for id, l := range c.RateLimit.Providers {
		if err := check("providers."+id, l); err != nil {
			return err
		}
	}
	return nil
}

// validateCampaigns validates follow-up schedules
func (c *Config) validateCampaigns() error {
	for _, camp := range c.Campaigns {
		fu := &camp.FollowUp
		switch fu.ScheduleType {
		case models.ScheduleInterval:
			for _, days := range fu.Intervals {
				if days < 0 {
					return fmt.Errorf("campaigns.%s.follow_up.intervals must not be negative", camp.ID)
				}
			}
			if fu.Enabled && len(fu.Intervals) == 0 {
				return fmt.Errorf("campaigns.%s.follow_up.intervals must not be empty", camp.ID)
			}
		case models.ScheduleDatetime:
			if fu.Enabled && len(fu.Dates) == 0 {
				return fmt.Errorf("campaigns.%s.follow_up.dates must not be empty", camp.ID)
			}
		default:
			return fmt.Errorf("campaigns.%s.follow_up.schedule_type must be interval or datetime", camp.ID)
		}

		if fu.MaxFollowUps < 0 {
			return fmt.Errorf("campaigns.%s.follow_up.max_follow_ups must not be negative", camp.ID)
		}

		if err := followup.ValidateWindow(fu); err != nil {
			return fmt.Errorf("campaigns.%s.follow_up: %w", camp.ID, err)
		}
	}
	return nil
}

// Catalog builds the content catalog from the campaign, template,
// intent and knowledge sections
func (c *Config) Catalog() (*catalog.Catalog, error) {
	return catalog.New(c.Campaigns, c.Templates, c.Intents, c.Knowledge)
}

// ProviderIDs returns configured provider ids in file order
func (c *Config) ProviderIDs() []string {
	ids := make([]string, 0, len(c.Providers))
	for _, p := range c.Providers {
		ids = append(ids, p.ID)
	}
	return ids
}
