package infra

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  name: oms
broker:
  paper: true
logging:
  level: debug
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Execution.HeartbeatSec != 30 {
		t.Errorf("heartbeat default = %d", cfg.Execution.HeartbeatSec)
	}
	if cfg.Execution.TotalTimeoutSec != 600 || cfg.Execution.PassiveTimeoutSec != 300 {
		t.Errorf("timeout defaults = %d/%d", cfg.Execution.TotalTimeoutSec, cfg.Execution.PassiveTimeoutSec)
	}
	if cfg.Execution.ImbalanceThreshold != 5 || cfg.Execution.SizeLimit != 1 {
		t.Errorf("imbalance defaults = %d/%d", cfg.Execution.ImbalanceThreshold, cfg.Execution.SizeLimit)
	}
}

func TestLoadConfigRejectsBadBrokerURL(t *testing.T) {
	path := writeConfig(t, `
broker:
  ws_url: http://not-a-ws-url
  account: DU12345
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for non-ws broker URL")
	}
}

func TestLoadConfigRejectsInconsistentTimeouts(t *testing.T) {
	path := writeConfig(t, `
broker:
  paper: true
execution:
  total_timeout_sec: 60
  passive_timeout_sec: 300
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for total timeout < passive timeout")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OMS_BROKER_KEY", "env-key")
	t.Setenv("OMS_BROKER_ACCOUNT", "DU99999")

	path := writeConfig(t, `
broker:
  ws_url: wss://broker.example/ws
  account: DU11111
  access_key: file-key
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Broker.AccessKey != "env-key" {
		t.Errorf("access key = %q, want env override", cfg.Broker.AccessKey)
	}
	if cfg.Broker.Account != "DU99999" {
		t.Errorf("account = %q, want env override", cfg.Broker.Account)
	}
}
