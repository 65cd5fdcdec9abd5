// Package config provides configuration management for the rebalancer.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // schedule.timezone must resolve in minimal containers

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

// Environment modes.
const (
	ModeSandbox    = "sandbox"
	ModeProduction = "production"
)

const (
	defaultSymbol            = "TQQQ"
	defaultSlippage          = 0.005
	maxSlippage              = 0.1
	defaultRunAt             = "15:45"
	defaultTimezone          = "America/New_York"
	defaultPollInterval      = time.Minute
	dateLayout               = "2006-01-02"
	defaultClientTimeout     = 10 * time.Second
	defaultRequestsPerSecond = 2.0
	defaultSMTPPort          = 587
	defaultStatusPort        = 8080
	defaultLogDir            = "logs"
)

// Config represents the complete application configuration.
type Config struct {
	Environment  EnvironmentConfig  `yaml:"environment"`
	Broker       BrokerConfig       `yaml:"broker"`
	BrokerClient BrokerClientConfig `yaml:"broker_client"`
	Email        EmailConfig        `yaml:"email"`
	Strategy     StrategyConfig     `yaml:"strategy"`
	Schedule     ScheduleConfig     `yaml:"schedule"`
	Storage      StorageConfig      `yaml:"storage"`
	Logging      LoggingConfig      `yaml:"logging"`
	Status       StatusConfig       `yaml:"status"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // sandbox | production
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig holds one endpoint per environment.
type BrokerConfig struct {
	Sandbox    BrokerEndpoint `yaml:"sandbox"`
	Production BrokerEndpoint `yaml:"production"`
}

// BrokerEndpoint is an environment's API location and credentials.
type BrokerEndpoint struct {
	BaseURL       string `yaml:"base_url"`
	Login         string `yaml:"login"`
	Password      string `yaml:"password"`
	AccountNumber string `yaml:"account_number"`
}

// BrokerClientConfig tunes the HTTP client.
type BrokerClientConfig struct {
	Timeout           string  `yaml:"timeout"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	CircuitBreaker    *bool   `yaml:"circuit_breaker"` // default true
}

// EmailConfig defines the SMTP relay and addresses.
type EmailConfig struct {
	SMTPHost       string `yaml:"smtp_host"`
	SMTPPort       int    `yaml:"smtp_port"`
	Sender         string `yaml:"sender"`
	SenderPassword string `yaml:"sender_password"`
	Receiver       string `yaml:"receiver"`
}

// StrategyConfig defines the allocation target.
type StrategyConfig struct {
	Symbol           string   `yaml:"symbol"`
	TargetAllocation float64  `yaml:"target_allocation"`
	BuySlippage      *float64 `yaml:"buy_slippage"`
	SellSlippage     *float64 `yaml:"sell_slippage"`
	DryRun           bool     `yaml:"dry_run"`
}

// ScheduleConfig defines when runs are attempted.
type ScheduleConfig struct {
	RunAt        string `yaml:"run_at"`   // "HH:MM"
	Timezone     string `yaml:"timezone"` // e.g., "America/New_York"
	PollInterval string `yaml:"poll_interval"`
	// ExtraClosures lists unscheduled full-day market closures as YYYY-MM-DD.
	ExtraClosures []string `yaml:"extra_closures"`
}

// StorageConfig defines where the session token is cached.
type StorageConfig struct {
	Backend string `yaml:"backend"` // json | sqlite
	Path    string `yaml:"path"`
}

// LoggingConfig defines the log file location.
type LoggingConfig struct {
	Dir string `yaml:"dir"`
}

// StatusConfig controls the read-only status server.
type StatusConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"` // optional; /health stays open
}

// Load reads and parses the configuration file from the specified path.
// A .env file beside it is loaded first; variables already set win.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	envFile := filepath.Join(filepath.Dir(configPath), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", envFile, err)
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Validate config
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate fills defaults and returns the first invalid setting.
func (c *Config) Validate() error {
	c.normalize()

	// Environment validation
	if c.Environment.Mode != ModeSandbox && c.Environment.Mode != ModeProduction {
		return fmt.Errorf("environment.mode must be 'sandbox' or 'production'")
	}
	switch c.Environment.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("environment.log_level must be one of debug, info, warn, error")
	}

	// Broker validation, active environment only
	section := "broker." + c.Environment.Mode
	b := c.ActiveBroker()
	if b.BaseURL == "" {
		return fmt.Errorf("%s.base_url is required", section)
	}
	if !strings.HasPrefix(b.BaseURL, "https://") && !strings.HasPrefix(b.BaseURL, "http://") {
		return fmt.Errorf("%s.base_url must be an http(s) URL", section)
	}
	if b.Login == "" {
		return fmt.Errorf("%s.login is required", section)
	}
	if b.Password == "" {
		return fmt.Errorf("%s.password is required", section)
	}
	if b.AccountNumber == "" {
		return fmt.Errorf("%s.account_number is required", section)
	}
	if _, err := time.ParseDuration(c.BrokerClient.Timeout); err != nil {
		return fmt.Errorf("broker_client.timeout invalid: %w", err)
	}
	if c.BrokerClient.RequestsPerSecond <= 0 {
		return fmt.Errorf("broker_client.requests_per_second must be > 0")
	}

	// Email validation
	if c.Email.SMTPHost == "" {
		return fmt.Errorf("email.smtp_host is required")
	}
	if c.Email.SMTPPort <= 0 || c.Email.SMTPPort > 65535 {
		return fmt.Errorf("email.smtp_port must be between 1 and 65535")
	}
	if c.Email.Sender == "" {
		return fmt.Errorf("email.sender is required")
	}
	if c.Email.SenderPassword == "" {
		return fmt.Errorf("email.sender_password is required")
	}
	if c.Email.Receiver == "" {
		return fmt.Errorf("email.receiver is required")
	}

	// Strategy validation
	if c.Strategy.TargetAllocation <= 0 {
		return fmt.Errorf("strategy.target_allocation must be > 0")
	}
	if s := *c.Strategy.BuySlippage; s < 0 || s >= maxSlippage {
		return fmt.Errorf("strategy.buy_slippage must be in [0, %.1f)", maxSlippage)
	}
	if s := *c.Strategy.SellSlippage; s < 0 || s >= maxSlippage {
		return fmt.Errorf("strategy.sell_slippage must be in [0, %.1f)", maxSlippage)
	}

	// Schedule validation
	if _, err := time.Parse("15:04", c.Schedule.RunAt); err != nil {
		return fmt.Errorf("schedule.run_at must be HH:MM")
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone invalid: %w", err)
	}
	if d, err := time.ParseDuration(c.Schedule.PollInterval); err != nil || d <= 0 || d > time.Minute {
		return fmt.Errorf("schedule.poll_interval must be a duration in (0, 1m]")
	}
	for _, day := range c.Schedule.ExtraClosures {
		if _, err := time.Parse(dateLayout, day); err != nil {
			return fmt.Errorf("schedule.extra_closures: %q is not YYYY-MM-DD", day)
		}
	}

	// Storage validation
	if c.Storage.Backend != "json" && c.Storage.Backend != "sqlite" {
		return fmt.Errorf("storage.backend must be 'json' or 'sqlite'")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	if c.Status.Enabled && (c.Status.Port <= 0 || c.Status.Port > 65535) {
		return fmt.Errorf("status.port must be between 1 and 65535")
	}

	return nil
}

// normalize sets default values for optional settings
func (c *Config) normalize() {
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.BrokerClient.Timeout == "" {
		c.BrokerClient.Timeout = defaultClientTimeout.String()
	}
	if c.BrokerClient.RequestsPerSecond == 0 {
		c.BrokerClient.RequestsPerSecond = defaultRequestsPerSecond
	}
	if c.Email.SMTPPort == 0 {
		c.Email.SMTPPort = defaultSMTPPort
	}
	if c.Strategy.Symbol == "" {
		c.Strategy.Symbol = defaultSymbol
	}
	c.Strategy.Symbol = strings.ToUpper(c.Strategy.Symbol)
	if c.Strategy.BuySlippage == nil {
		v := defaultSlippage
		c.Strategy.BuySlippage = &v
	}
	if c.Strategy.SellSlippage == nil {
		v := defaultSlippage
		c.Strategy.SellSlippage = &v
	}
	if c.Schedule.RunAt == "" {
		c.Schedule.RunAt = defaultRunAt
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = defaultTimezone
	}
	if c.Schedule.PollInterval == "" {
		c.Schedule.PollInterval = defaultPollInterval.String()
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "json"
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = defaultLogDir
	}
	if c.Status.Port == 0 {
		c.Status.Port = defaultStatusPort
	}
}

// IsSandbox returns true if the rebalancer targets the certification environment.
func (c *Config) IsSandbox() bool {
	return c.Environment.Mode == ModeSandbox
}

// ActiveBroker returns the endpoint for the configured mode.
func (c *Config) ActiveBroker() BrokerEndpoint {
	if c.IsSandbox() {
		return c.Broker.Sandbox
	}
	return c.Broker.Production
}

// Location returns the schedule timezone, falling back to a fixed Eastern
// offset if it cannot be resolved.
func (c *Config) Location() *time.Location {
	tz := c.Schedule.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		// Fallback for minimal containers
		return time.FixedZone("ET", -5*60*60)
	}
	return loc
}

// GetPollInterval returns the trigger poll interval.
func (c *Config) GetPollInterval() time.Duration {
	d, err := time.ParseDuration(c.Schedule.PollInterval)
	if err != nil || d <= 0 {
		return defaultPollInterval
	}
	return d
}

// GetExtraClosures returns the configured closures as dates in the schedule
// timezone. Entries that do not parse are skipped; Validate rejects them.
func (c *Config) GetExtraClosures() []time.Time {
	loc := c.Location()
	days := make([]time.Time, 0, len(c.Schedule.ExtraClosures))
	for _, s := range c.Schedule.ExtraClosures {
		d, err := time.ParseInLocation(dateLayout, s, loc)
		if err != nil {
			continue
		}
		days = append(days, d)
	}
	return days
}

// GetClientTimeout returns the per-request broker timeout.
func (c *Config) GetClientTimeout() time.Duration {
	d, err := time.ParseDuration(c.BrokerClient.Timeout)
	if err != nil || d <= 0 {
		return defaultClientTimeout
	}
	return d
}

// CircuitBreakerEnabled reports whether broker calls go through the breaker.
func (c *Config) CircuitBreakerEnabled() bool {
	return c.BrokerClient.CircuitBreaker == nil || *c.BrokerClient.CircuitBreaker
}

// GetBuySlippage returns the buy-side limit offset.
func (c *Config) GetBuySlippage() float64 {
	if c.Strategy.BuySlippage == nil {
		return defaultSlippage
	}
	return *c.Strategy.BuySlippage
}

// GetSellSlippage returns the sell-side limit offset.
func (c *Config) GetSellSlippage() float64 {
	if c.Strategy.SellSlippage == nil {
		return defaultSlippage
	}
	return *c.Strategy.SellSlippage
}
