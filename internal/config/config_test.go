package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Setenv("TT_SANDBOX_LOGIN", "alice")
	t.Setenv("TT_SANDBOX_PASSWORD", "secret")
	t.Setenv("TT_SANDBOX_ACCOUNT", "5WX00001")
	t.Setenv("EMAIL_APP_PASSWORD", "app-pass")

	configPath := filepath.Join("..", "..", "config.yaml.example")
	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Expected config to load successfully from example file, got error: %v", err)
	}
	if got := cfg.ActiveBroker().Login; got != "alice" {
		t.Errorf("ActiveBroker().Login = %q, want %q (env expansion)", got, "alice")
	}
	if !cfg.IsSandbox() {
		t.Error("example config should target the sandbox")
	}
}

func TestLoad_InvalidPath(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Error("Expected error when loading nonexistent config file, got nil")
	}
}

func TestLoad_UnknownField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("environment:\n  mode: sandbox\n  colour: blue\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "parsing config") {
		t.Fatalf("expected parse error for unknown field, got %v", err)
	}
}

func TestLoad_DotEnvBesideConfig(t *testing.T) {
	dir := t.TempDir()
	env := "RB_TEST_LOGIN=from-dotenv\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("RB_TEST_LOGIN") })

	yml := strings.Replace(minimalYAML, "login: alice", "login: ${RB_TEST_LOGIN}", 1)
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Broker.Sandbox.Login; got != "from-dotenv" {
		t.Errorf("login = %q, want value from .env", got)
	}
}

const minimalYAML = `
environment:
  mode: sandbox
broker:
  sandbox:
    base_url: https://api.cert.tastyworks.com
    login: alice
    password: secret
    account_number: 5WX00001
email:
  smtp_host: smtp.example.com
  sender: bot@example.com
  sender_password: pw
  receiver: me@example.com
strategy:
  target_allocation: 2000
storage:
  path: data/session.json
`

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Strategy.Symbol != "TQQQ" {
		t.Errorf("symbol = %q, want TQQQ", cfg.Strategy.Symbol)
	}
	if cfg.GetBuySlippage() != 0.005 || cfg.GetSellSlippage() != 0.005 {
		t.Errorf("slippage = %v/%v, want 0.005", cfg.GetBuySlippage(), cfg.GetSellSlippage())
	}
	if cfg.Schedule.RunAt != "15:45" {
		t.Errorf("run_at = %q, want 15:45", cfg.Schedule.RunAt)
	}
	if cfg.Schedule.Timezone != "America/New_York" {
		t.Errorf("timezone = %q", cfg.Schedule.Timezone)
	}
	if cfg.GetPollInterval() != time.Minute {
		t.Errorf("poll interval = %v", cfg.GetPollInterval())
	}
	if cfg.GetClientTimeout() != 10*time.Second {
		t.Errorf("client timeout = %v", cfg.GetClientTimeout())
	}
	if cfg.BrokerClient.RequestsPerSecond != 2 {
		t.Errorf("rps = %v", cfg.BrokerClient.RequestsPerSecond)
	}
	if !cfg.CircuitBreakerEnabled() {
		t.Error("circuit breaker should default on")
	}
	if cfg.Email.SMTPPort != 587 {
		t.Errorf("smtp port = %d", cfg.Email.SMTPPort)
	}
	if cfg.Storage.Backend != "json" {
		t.Errorf("backend = %q", cfg.Storage.Backend)
	}
	if cfg.Logging.Dir != "logs" {
		t.Errorf("log dir = %q", cfg.Logging.Dir)
	}
	if cfg.Environment.LogLevel != "info" {
		t.Errorf("log level = %q", cfg.Environment.LogLevel)
	}
}

func validConfig() *Config {
	zero := 0.0
	return &Config{
		Environment: EnvironmentConfig{Mode: ModeProduction, LogLevel: "info"},
		Broker: BrokerConfig{
			Production: BrokerEndpoint{
				BaseURL:       "https://api.tastyworks.com",
				Login:         "alice",
				Password:      "secret",
				AccountNumber: "5WX00001",
			},
		},
		Email: EmailConfig{
			SMTPHost:       "smtp.example.com",
			Sender:         "bot@example.com",
			SenderPassword: "pw",
			Receiver:       "me@example.com",
		},
		Strategy: StrategyConfig{TargetAllocation: 2000, SellSlippage: &zero},
		Storage:  StorageConfig{Backend: "sqlite", Path: "data/session.db"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad mode", func(c *Config) { c.Environment.Mode = "paper" }, "environment.mode"},
		{"bad log level", func(c *Config) { c.Environment.LogLevel = "trace" }, "environment.log_level"},
		{"sandbox section required when sandbox", func(c *Config) { c.Environment.Mode = ModeSandbox }, "broker.sandbox.base_url"},
		{"missing login", func(c *Config) { c.Broker.Production.Login = "" }, "broker.production.login"},
		{"missing password", func(c *Config) { c.Broker.Production.Password = "" }, "broker.production.password"},
		{"missing account", func(c *Config) { c.Broker.Production.AccountNumber = "" }, "broker.production.account_number"},
		{"non-http base url", func(c *Config) { c.Broker.Production.BaseURL = "api.tastyworks.com" }, "base_url must be"},
		{"bad client timeout", func(c *Config) { c.BrokerClient.Timeout = "soon" }, "broker_client.timeout"},
		{"negative rps", func(c *Config) { c.BrokerClient.RequestsPerSecond = -1 }, "requests_per_second"},
		{"missing smtp host", func(c *Config) { c.Email.SMTPHost = "" }, "email.smtp_host"},
		{"missing receiver", func(c *Config) { c.Email.Receiver = "" }, "email.receiver"},
		{"zero target", func(c *Config) { c.Strategy.TargetAllocation = 0 }, "target_allocation"},
		{"slippage too large", func(c *Config) { v := 0.1; c.Strategy.BuySlippage = &v }, "buy_slippage"},
		{"negative slippage", func(c *Config) { v := -0.01; c.Strategy.SellSlippage = &v }, "sell_slippage"},
		{"bad run_at", func(c *Config) { c.Schedule.RunAt = "3:45pm" }, "schedule.run_at"},
		{"bad timezone", func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" }, "schedule.timezone"},
		{"poll interval too long", func(c *Config) { c.Schedule.PollInterval = "5m" }, "poll_interval"},
		{"bad extra closure", func(c *Config) { c.Schedule.ExtraClosures = []string{"2025-01-09", "01/09/2025"} }, "schedule.extra_closures"},
		{"bad backend", func(c *Config) { c.Storage.Backend = "redis" }, "storage.backend"},
		{"missing storage path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"bad status port", func(c *Config) { c.Status.Enabled = true; c.Status.Port = 70000 }, "status.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ZeroSlippageIsKept(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.GetSellSlippage() != 0 {
		t.Errorf("explicit zero slippage replaced with %v", cfg.GetSellSlippage())
	}
	if cfg.GetBuySlippage() != 0.005 {
		t.Errorf("unset buy slippage = %v, want default", cfg.GetBuySlippage())
	}
}

func TestActiveBroker(t *testing.T) {
	cfg := validConfig()
	cfg.Broker.Sandbox.Login = "sandbox-user"
	if cfg.ActiveBroker().Login != "alice" {
		t.Error("production mode should use the production section")
	}
	cfg.Environment.Mode = ModeSandbox
	if cfg.ActiveBroker().Login != "sandbox-user" {
		t.Error("sandbox mode should use the sandbox section")
	}
}

func TestCircuitBreakerToggle(t *testing.T) {
	cfg := validConfig()
	off := false
	cfg.BrokerClient.CircuitBreaker = &off
	if cfg.CircuitBreakerEnabled() {
		t.Error("explicit false should disable the breaker")
	}
}

func TestLocation(t *testing.T) {
	cfg := validConfig()
	cfg.Schedule.Timezone = "UTC"
	if cfg.Location() != time.UTC {
		t.Errorf("Location() = %v, want UTC", cfg.Location())
	}
}

func TestGetExtraClosures(t *testing.T) {
	cfg := validConfig()
	cfg.Schedule.ExtraClosures = []string{"2025-01-09", "2018-12-05"}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	days := cfg.GetExtraClosures()
	if len(days) != 2 {
		t.Fatalf("got %d closures, want 2", len(days))
	}
	loc := cfg.Location()
	want := time.Date(2025, time.January, 9, 0, 0, 0, 0, loc)
	if !days[0].Equal(want) {
		t.Errorf("closure[0] = %v, want %v", days[0], want)
	}
	if days[0].Location() != loc {
		t.Errorf("closure parsed in %v, want %v", days[0].Location(), loc)
	}
}
