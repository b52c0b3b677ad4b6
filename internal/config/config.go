package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/gatewarden/gatewarden/internal/state"
	"github.com/gatewarden/gatewarden/internal/volume"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Server  ServerConfig  `toml:"server" mapstructure:"server"`
	Gateway GatewayConfig `toml:"gateway" mapstructure:"gateway"`
	State   StateConfig   `toml:"state" mapstructure:"state"`
	Volume  VolumeConfig  `toml:"volume" mapstructure:"volume"`
	Backup  BackupConfig  `toml:"backup" mapstructure:"backup"`
	History HistoryConfig `toml:"history" mapstructure:"history"`
	Metrics MetricsConfig `toml:"metrics" mapstructure:"metrics"`
	Log     LogConfig     `toml:"log" mapstructure:"log"`
}

type ServerConfig struct {
	Listen     string `toml:"listen" mapstructure:"listen"`
	BasePath   string `toml:"base_path" mapstructure:"base_path"`
	AuthSecret string `toml:"auth_secret" mapstructure:"auth_secret"`
	Audience   string `toml:"audience" mapstructure:"audience"`
	TeamDomain string `toml:"team_domain" mapstructure:"team_domain"`
}

type GatewayConfig struct {
	Command      string        `toml:"command" mapstructure:"command"`
	Signatures   []string      `toml:"signatures" mapstructure:"signatures"`
	Port         int           `toml:"port" mapstructure:"port"`
	APIKeyEnv    string        `toml:"api_key_env" mapstructure:"api_key_env"`
	StartTimeout time.Duration `toml:"start_timeout" mapstructure:"start_timeout"`
	KillGrace    time.Duration `toml:"kill_grace" mapstructure:"kill_grace"`
}

type StateConfig struct {
	Dir         string `toml:"dir" mapstructure:"dir"`
	DurableRoot string `toml:"durable_root" mapstructure:"durable_root"`
}

type VolumeConfig struct {
	Bucket       string `toml:"bucket" mapstructure:"bucket"`
	Endpoint     string `toml:"endpoint" mapstructure:"endpoint"`
	MountCommand string `toml:"mount_command" mapstructure:"mount_command"`
	AccessKeyEnv string `toml:"access_key_env" mapstructure:"access_key_env"`
	SecretKeyEnv string `toml:"secret_key_env" mapstructure:"secret_key_env"`
	AccountEnv   string `toml:"account_env" mapstructure:"account_env"`
}

type BackupConfig struct {
	MirrorCommand string        `toml:"mirror_command" mapstructure:"mirror_command"`
	SyncEvery     time.Duration `toml:"sync_every" mapstructure:"sync_every"`
}

type HistoryConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	DSN     string `toml:"dsn" mapstructure:"dsn"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

type LogConfig struct {
	Level string `toml:"level" mapstructure:"level"`
	File  string `toml:"file" mapstructure:"file"`
	Dir   string `toml:"dir" mapstructure:"dir"`
}

// Defaults for omitted fields. Environment variable names follow the
// durable volume provider's conventions.
const (
	DefaultListen       = "127.0.0.1:8481"
	DefaultBasePath     = "/api"
	DefaultGatewayPort  = 18789
	DefaultAccessKeyEnv = "DURABLE_ACCESS_KEY_ID"
	DefaultSecretKeyEnv = "DURABLE_SECRET_ACCESS_KEY"
	DefaultAccountEnv   = "DURABLE_ACCOUNT_ID"
)

// Load parses the TOML config at path and applies defaults.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	fc.applyDefaults()
	return &fc, nil
}

func (fc *FileConfig) applyDefaults() {
	if fc.Server.Listen == "" {
		fc.Server.Listen = DefaultListen
	}
	if fc.Server.BasePath == "" {
		fc.Server.BasePath = DefaultBasePath
	}
	if fc.Gateway.Port == 0 {
		fc.Gateway.Port = DefaultGatewayPort
	}
	if len(fc.Gateway.Signatures) == 0 {
		fc.Gateway.Signatures = []string{"agentgw gateway", "start-gateway.sh"}
	}
	if fc.State.Dir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			fc.State.Dir = home + "/" + state.ProductDir
		}
	}
	if fc.Volume.AccessKeyEnv == "" {
		fc.Volume.AccessKeyEnv = DefaultAccessKeyEnv
	}
	if fc.Volume.SecretKeyEnv == "" {
		fc.Volume.SecretKeyEnv = DefaultSecretKeyEnv
	}
	if fc.Volume.AccountEnv == "" {
		fc.Volume.AccountEnv = DefaultAccountEnv
	}
}

// Layout derives the state layout from the config.
func (fc *FileConfig) Layout() state.Layout {
	return state.Layout{StateDir: fc.State.Dir, DurableRoot: fc.State.DurableRoot}
}

// Credentials reads object-storage credentials from the configured
// environment variable names. Called per operation so rotation works.
func (fc *FileConfig) Credentials() volume.Credentials {
	return volume.Credentials{
		AccessKey: os.Getenv(fc.Volume.AccessKeyEnv),
		SecretKey: os.Getenv(fc.Volume.SecretKeyEnv),
		AccountID: os.Getenv(fc.Volume.AccountEnv),
	}
}
