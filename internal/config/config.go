// Package config resolves the referee box's runtime knobs: display log
// capacity, the post-run settling window, the robot wire defaults, and
// the script/beacon cadence. Structured the way the teacher's
// internal/config resolves its own Config: a plain JSON-tagged struct
// with a Defaults constructor and a file-backed Load.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config is the resolved runtime configuration for one refboxd process.
type Config struct {
	DisplayLogSize     int           `json:"display_log_size"`
	AfterStopDuration  time.Duration `json:"after_stop_duration"`
	RSBBHost           string        `json:"rsbb_host"`
	RSBBCipher         string        `json:"rsbb_cipher"`
	HeartbeatInterval  time.Duration `json:"heartbeat_interval"`
	BeaconRetransmit   time.Duration `json:"beacon_retransmit"`
	BasePort           int           `json:"base_port"`
}

// Defaults returns the configuration the source ships out of the box.
func Defaults() *Config {
	return &Config{
		DisplayLogSize:    3000,
		AfterStopDuration: 120 * time.Second,
		RSBBHost:          "10.255.255.255",
		RSBBCipher:        "chacha20poly1305",
		HeartbeatInterval: 200 * time.Millisecond,
		BeaconRetransmit:  200 * time.Millisecond,
		BasePort:          31000,
	}
}

// Load reads a JSON configuration file at path, filling any field left
// unset with its default value. A missing file is not an error: Defaults
// is returned unchanged.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg as JSON to path.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshaling: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}
