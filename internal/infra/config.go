package infra

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application settings. Sensitive values can be overridden
// through environment variables after loading.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Broker struct {
		Name      string   `yaml:"name"`
		WSURL     string   `yaml:"ws_url"`
		Symbols   []string `yaml:"symbols"`
		Account   string   `yaml:"account"`
		ClientID  string   `yaml:"client_id"`
		AccessKey string   `yaml:"access_key"`
		SecretKey string   `yaml:"secret_key"`
		// Paper trading: fills are simulated locally and nothing reaches
		// a real broker.
		Paper bool `yaml:"paper"`
	} `yaml:"broker"`

	Execution struct {
		HeartbeatSec       int    `yaml:"heartbeat_sec"`
		TotalTimeoutSec    int    `yaml:"total_timeout_sec"`
		PassiveTimeoutSec  int    `yaml:"passive_timeout_sec"`
		CancelWaitSec      int    `yaml:"cancel_wait_sec"`
		ImbalanceThreshold int    `yaml:"imbalance_threshold"`
		ImbalanceSizeRatio int    `yaml:"imbalance_size_ratio"`
		MarketCloseMin     int    `yaml:"market_close_min"`
		SizeLimit          int    `yaml:"size_limit"`
		DefaultAlgo        string `yaml:"default_algo"`
		MarketAlgo         string `yaml:"market_algo"`
	} `yaml:"execution"`

	Stack struct {
		DBPath          string `yaml:"db_path"`
		PassIntervalSec int    `yaml:"pass_interval_sec"`
	} `yaml:"stack"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file, applies environment
// overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	e := &c.Execution
	if e.HeartbeatSec == 0 {
		e.HeartbeatSec = 30
	}
	if e.TotalTimeoutSec == 0 {
		e.TotalTimeoutSec = 600
	}
	if e.PassiveTimeoutSec == 0 {
		e.PassiveTimeoutSec = 300
	}
	if e.CancelWaitSec == 0 {
		e.CancelWaitSec = 60
	}
	if e.ImbalanceThreshold == 0 {
		e.ImbalanceThreshold = 5
	}
	if e.ImbalanceSizeRatio == 0 {
		e.ImbalanceSizeRatio = 3
	}
	if e.MarketCloseMin == 0 {
		e.MarketCloseMin = 30
	}
	if e.SizeLimit == 0 {
		e.SizeLimit = 1
	}
	if e.DefaultAlgo == "" {
		e.DefaultAlgo = "best"
	}
	if e.MarketAlgo == "" {
		e.MarketAlgo = "market"
	}
	if c.Stack.DBPath == "" {
		c.Stack.DBPath = "data/oms.db"
	}
	if c.Stack.PassIntervalSec == 0 {
		c.Stack.PassIntervalSec = 10
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if !c.Broker.Paper {
		if c.Broker.WSURL == "" || (!hasPrefix(c.Broker.WSURL, "ws://") && !hasPrefix(c.Broker.WSURL, "wss://")) {
			return fmt.Errorf("invalid broker WS URL: %s", c.Broker.WSURL)
		}
		if c.Broker.Account == "" {
			return fmt.Errorf("broker account is required")
		}
	}
	if c.Execution.TotalTimeoutSec < c.Execution.PassiveTimeoutSec {
		return fmt.Errorf("total timeout %ds shorter than passive timeout %ds",
			c.Execution.TotalTimeoutSec, c.Execution.PassiveTimeoutSec)
	}
	if c.Execution.SizeLimit < 0 {
		return fmt.Errorf("size limit must not be negative")
	}
	return nil
}

// Heartbeat returns the algo heartbeat interval as a duration.
func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.Execution.HeartbeatSec) * time.Second
}

// TotalTimeout returns the maximum lifetime of one algo session.
func (c *Config) TotalTimeout() time.Duration {
	return time.Duration(c.Execution.TotalTimeoutSec) * time.Second
}

// PassiveTimeout returns how long a resting limit order may wait before
// turning aggressive.
func (c *Config) PassiveTimeout() time.Duration {
	return time.Duration(c.Execution.PassiveTimeoutSec) * time.Second
}

// CancelWait returns the bounded wait for a cancel confirmation.
func (c *Config) CancelWait() time.Duration {
	return time.Duration(c.Execution.CancelWaitSec) * time.Second
}

// MarketCloseCutoff returns how close to market close execution switches to
// aggressive completion.
func (c *Config) MarketCloseCutoff() time.Duration {
	return time.Duration(c.Execution.MarketCloseMin) * time.Minute
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv replaces sensitive settings from the environment when set.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("OMS_BROKER_KEY"); key != "" {
		cfg.Broker.AccessKey = key
	}
	if secret := os.Getenv("OMS_BROKER_SECRET"); secret != "" {
		cfg.Broker.SecretKey = secret
	}
	if account := os.Getenv("OMS_BROKER_ACCOUNT"); account != "" {
		cfg.Broker.Account = account
	}
}
