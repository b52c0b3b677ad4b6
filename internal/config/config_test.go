package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
listen = "0.0.0.0:9000"
base_path = "/control"
auth_secret = "s3cret"
audience = "gatewarden"
team_domain = "ops.example.com"

[gateway]
command = "/opt/agentgw/start-gateway.sh"
signatures = ["agentgw gateway"]
port = 18790
api_key_env = "AGENTGW_API_KEY"
start_timeout = "90s"
kill_grace = "5s"

[state]
dir = "/home/agent/.agentgw"
durable_root = "/mnt/durable"

[volume]
bucket = "agent-state"
endpoint = "https://{account}.storage.example.com"
mount_command = "mount-bucket {bucket} {path} --endpoint {endpoint}"

[backup]
mirror_command = "rsync -a --delete {src}/ {dst}/"
sync_every = "15m"

[history]
enabled = true
dsn = "sqlite:///var/lib/gatewarden/history.db"

[metrics]
enabled = true
listen = "127.0.0.1:9102"

[log]
level = "debug"
file = "/var/log/gatewarden.log"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Listen != "0.0.0.0:9000" {
		t.Errorf("listen = %q", cfg.Server.Listen)
	}
	if cfg.Server.BasePath != "/control" {
		t.Errorf("base_path = %q", cfg.Server.BasePath)
	}
	if cfg.Gateway.Port != 18790 {
		t.Errorf("port = %d", cfg.Gateway.Port)
	}
	if cfg.Gateway.StartTimeout != 90*time.Second {
		t.Errorf("start_timeout = %v", cfg.Gateway.StartTimeout)
	}
	if cfg.Backup.SyncEvery != 15*time.Minute {
		t.Errorf("sync_every = %v", cfg.Backup.SyncEvery)
	}
	if !cfg.History.Enabled || cfg.History.DSN == "" {
		t.Errorf("history = %+v", cfg.History)
	}

	l := cfg.Layout()
	if l.StateDir != "/home/agent/.agentgw" || l.DurableRoot != "/mnt/durable" {
		t.Errorf("layout = %+v", l)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[gateway]
command = "/opt/agentgw/start-gateway.sh"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Listen != DefaultListen {
		t.Errorf("listen default = %q", cfg.Server.Listen)
	}
	if cfg.Server.BasePath != DefaultBasePath {
		t.Errorf("base_path default = %q", cfg.Server.BasePath)
	}
	if cfg.Gateway.Port != DefaultGatewayPort {
		t.Errorf("port default = %d", cfg.Gateway.Port)
	}
	if len(cfg.Gateway.Signatures) == 0 {
		t.Errorf("signatures default empty")
	}
	if cfg.Volume.AccessKeyEnv != DefaultAccessKeyEnv ||
		cfg.Volume.SecretKeyEnv != DefaultSecretKeyEnv ||
		cfg.Volume.AccountEnv != DefaultAccountEnv {
		t.Errorf("credential env defaults = %+v", cfg.Volume)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatalf("missing file should error")
	}
}

func TestCredentialsFromEnv(t *testing.T) {
	path := writeConfig(t, `
[volume]
access_key_env = "TEST_GW_AK"
secret_key_env = "TEST_GW_SK"
account_env = "TEST_GW_ACCT"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	t.Setenv("TEST_GW_AK", "ak")
	t.Setenv("TEST_GW_SK", "sk")
	t.Setenv("TEST_GW_ACCT", "acct")

	creds := cfg.Credentials()
	if !creds.Present() {
		t.Fatalf("credentials should be present: %+v", creds)
	}
	if creds.AccountID != "acct" {
		t.Errorf("account = %q", creds.AccountID)
	}
}
