// Package config implements the layered configuration the daemon reads
// at startup: flags (bound by the caller) override environment
// variables, which override the daemon-dir's config.yaml, which falls
// back to the defaults below. It is a thin wrapper over viper rather
// than a bespoke parser, following the teacher's own reach for viper in
// its config surface.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// RemoteKind selects which sync backend the daemon runs (§4.10).
type RemoteKind string

const (
	RemoteWebSocket RemoteKind = "websocket"
	RemoteGit       RemoteKind = "git"
)

// Config is the resolved daemon configuration (§6 EXPANSION: config.yaml
// fields).
type Config struct {
	RemoteKind RemoteKind `mapstructure:"remote.kind"`
	RemoteURL  string     `mapstructure:"remote.url"`
	NodeID     uint32     `mapstructure:"node_id"`

	ReconnectMaxDelaySecs int `mapstructure:"reconnect_max_delay_secs"`
	ReconnectMaxRetries   int `mapstructure:"reconnect_max_retries"`
	HeartbeatIntervalMS   int `mapstructure:"heartbeat_interval_ms"`
	HeartbeatTimeoutMS    int `mapstructure:"heartbeat_timeout_ms"`

	GitBranch              string `mapstructure:"git.branch"`
	GitWorktreeDirOverride string `mapstructure:"git.worktree_dir_override"`

	LogFile  string `mapstructure:"log_file"`
	LogLevel string `mapstructure:"log_level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("remote.kind", string(RemoteWebSocket))
	v.SetDefault("remote.url", "")
	v.SetDefault("node_id", 0)
	v.SetDefault("reconnect_max_delay_secs", 30)
	v.SetDefault("reconnect_max_retries", 0)
	v.SetDefault("heartbeat_interval_ms", 15000)
	v.SetDefault("heartbeat_timeout_ms", 5000)
	v.SetDefault("git.branch", "wok/oplog")
	v.SetDefault("git.worktree_dir_override", "")
	v.SetDefault("log_file", "")
	v.SetDefault("log_level", "info")
}

// Load resolves Config from daemonDir/config.yaml, environment
// variables prefixed WOK_ (nested keys use `_` in place of `.`), and
// the defaults above, in that precedence order.
func Load(daemonDir string) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(daemonDir)

	v.SetEnvPrefix("wok")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("config: read %s/config.yaml: %w", daemonDir, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	fillNestedKeys(v, &cfg)
	return &cfg, v, nil
}

// fillNestedKeys copies the dotted remote.* and git.* keys into cfg:
// v.Unmarshal decodes viper's nested settings map, where these keys sit
// under "remote" and "git", so their dotted tags alone never match.
func fillNestedKeys(v *viper.Viper, cfg *Config) {
	cfg.RemoteKind = RemoteKind(v.GetString("remote.kind"))
	cfg.RemoteURL = v.GetString("remote.url")
	cfg.GitBranch = v.GetString("git.branch")
	cfg.GitWorktreeDirOverride = v.GetString("git.worktree_dir_override")
}

// WatchReload arranges for onChange to be called, debounced by
// debounce, whenever config.yaml changes on disk, following the
// teacher's fsnotify-plus-debounce-timer pattern for its own directory
// watches.
func WatchReload(v *viper.Viper, debounce time.Duration, onChange func(*Config)) {
	var timer *time.Timer
	v.OnConfigChange(func(_ fsnotify.Event) {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			var cfg Config
			if err := v.Unmarshal(&cfg); err != nil {
				return
			}
			fillNestedKeys(v, &cfg)
			onChange(&cfg)
		})
	})
	v.WatchConfig()
}

// ReconnectMaxDelay, HeartbeatInterval and HeartbeatTimeout convert the
// yaml's plain-integer fields into the time.Duration values
// internal/syncws.Config expects.
func (c *Config) ReconnectMaxDelay() time.Duration {
	return time.Duration(c.ReconnectMaxDelaySecs) * time.Second
}

func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMS) * time.Millisecond
}

func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutMS) * time.Millisecond
}
