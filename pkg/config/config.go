// Package config centralizes the node's tunables, loaded with defaults
// and overlaid from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// NodeConfig holds all configuration for a greychain node.
type NodeConfig struct {
	// Identity
	RSABits int // RSA modulus size for the node's keypair

	// Mining
	DifficultyShift uint // mining hash must be below math.MaxUint64 >> DifficultyShift

	// Wire
	FixedContentSize int           // size of a packet's content window
	ConnectTimeout   time.Duration // outbound dial timeout
	StartingPort     uint16        // first port handed out by the process-wide counter

	// Join protocol
	StatusWait time.Duration // how long a joining node waits for NodesRes replies
	PollInterval time.Duration // accept/event-loop poll interval

	// Storage
	DataDir string // directory for ledger snapshots and the shutdown text dump

	// Logging
	LogLevel string // debug, info, warn, error

	// Monitoring
	EnableMonitoring bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *NodeConfig {
	return &NodeConfig{
		RSABits:          2048,
		DifficultyShift:  24,
		FixedContentSize: 9000,
		ConnectTimeout:   5 * time.Second,
		StartingPort:     6969,
		StatusWait:       7 * time.Second,
		PollInterval:     100 * time.Millisecond,
		DataDir:          "./blockchains",
		LogLevel:         "info",
		EnableMonitoring: false,
	}
}

// LoadFromEnv loads configuration from environment variables, overlaying
// DefaultConfig.
func LoadFromEnv() *NodeConfig {
	cfg := DefaultConfig()

	if v := os.Getenv("GREYCHAIN_RSA_BITS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RSABits = n
		}
	}

	if v := os.Getenv("GREYCHAIN_DIFFICULTY_SHIFT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.DifficultyShift = uint(n)
		}
	}

	if v := os.Getenv("GREYCHAIN_CONNECT_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ConnectTimeout = time.Duration(n) * time.Millisecond
		}
	}

	if v := os.Getenv("GREYCHAIN_STARTING_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 65535 {
			cfg.StartingPort = uint16(n)
		}
	}

	if v := os.Getenv("GREYCHAIN_STATUS_WAIT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.StatusWait = time.Duration(n) * time.Millisecond
		}
	}

	if v := os.Getenv("GREYCHAIN_POLL_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PollInterval = time.Duration(n) * time.Millisecond
		}
	}

	if v := os.Getenv("GREYCHAIN_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	if v := os.Getenv("GREYCHAIN_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if v := os.Getenv("GREYCHAIN_ENABLE_MONITORING"); v != "" {
		cfg.EnableMonitoring = strings.ToLower(v) == "true"
	}

	return cfg
}

// Validate checks if the configuration is usable.
func (c *NodeConfig) Validate() error {
	if c.RSABits < 2048 {
		return fmt.Errorf("RSA bits too small: %d (minimum 2048)", c.RSABits)
	}
	if c.FixedContentSize <= 0 {
		return fmt.Errorf("fixed content size must be positive: %d", c.FixedContentSize)
	}
	if c.StartingPort == 0 {
		return fmt.Errorf("starting port cannot be 0")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	return nil
}

// String returns a human-readable rendering of the configuration.
func (c *NodeConfig) String() string {
	return fmt.Sprintf(`greychain node configuration:
  RSA Bits:          %d
  Difficulty Shift:  %d
  Fixed Content Size: %d
  Connect Timeout:   %v
  Starting Port:     %d
  Status Wait:       %v
  Poll Interval:     %v
  Data Directory:    %s
  Log Level:         %s
  Enable Monitoring: %v`,
		c.RSABits,
		c.DifficultyShift,
		c.FixedContentSize,
		c.ConnectTimeout,
		c.StartingPort,
		c.StatusWait,
		c.PollInterval,
		c.DataDir,
		c.LogLevel,
		c.EnableMonitoring,
	)
}
