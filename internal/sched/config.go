package sched

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	yaml "github.com/goccy/go-yaml"
)

// Config mirrors config.yml
type Config struct {
	Capacity          int    `yaml:"capacity"`            // 50 (by default)
	KernelStackBase   uint64 `yaml:"kernel_stack_base"`   // 0x20000
	KernelStackStride uint64 `yaml:"kernel_stack_stride"` // 0x400
	UserStackBase     uint64 `yaml:"user_stack_base"`     // 0x50000
	UserStackStride   uint64 `yaml:"user_stack_stride"`   // 0x800
	BootPriority      uint   `yaml:"boot_priority"`       // 1
	LogLevel          string `yaml:"log_level"`           // info
	LogEncoding       string `yaml:"log_encoding"`        // console
	TraceCSV          string `yaml:"trace_csv"`           // empty = no trace
}

// DefaultConfig matches the memory map of the reference board.
func DefaultConfig() Config {
	return Config{
		Capacity:          50,
		KernelStackBase:   0x20000,
		KernelStackStride: 0x400,
		UserStackBase:     0x50000,
		UserStackStride:   0x800,
		BootPriority:      1,
		LogLevel:          "info",
		LogEncoding:       "console",
	}
}

// Load reads YAML and overrides defaults; empty path or a missing file
// gives the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.clamp()
	return cfg, nil
}

// clamp applies the sanity limits the kernel relies on.
func (c *Config) clamp() {
	def := DefaultConfig()
	if c.Capacity <= 0 {
		c.Capacity = def.Capacity
	} else if c.Capacity > int(MaxTaskID) {
		c.Capacity = int(MaxTaskID)
	}
	if c.KernelStackStride == 0 {
		c.KernelStackStride = def.KernelStackStride
	}
	if c.UserStackStride == 0 {
		c.UserStackStride = def.UserStackStride
	}
	if c.KernelStackBase == 0 {
		c.KernelStackBase = def.KernelStackBase
	}
	if c.UserStackBase == 0 {
		c.UserStackBase = def.UserStackBase
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.LogEncoding == "" {
		c.LogEncoding = def.LogEncoding
	}
}
