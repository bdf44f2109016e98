package pmrecover

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-ini/ini"
)

// RecoveryConfig holds the tunables the rebuilder reads at startup: an
// ini.File underneath, a typed struct with ini tags for
// (de)serialization, and validation applied before the config is
// trusted.
type RecoveryConfig struct {
	file *ini.File

	NumRebuildThreads     int    `ini:"num_rebuild_threads"`
	SegmentBasedRebuild   bool   `ini:"segment_based_rebuild"`
	RestoreSkiplistStride int    `ini:"restore_skiplist_stride"`
	CheckpointTimestamp   uint64 `ini:"checkpoint_timestamp"`
	HashTableShards       int    `ini:"hash_table_shards"`
	MaxAccessThreads      int    `ini:"max_access_threads"`
	ReclaimAuditLog       bool   `ini:"reclaim_audit_log"`
	VerboseLevel          int    `ini:"verbose_level"`
	DebugFlags            string `ini:"debug_flags"`
}

const recoverySection = "recovery"

func defaultRecoveryConfig() *RecoveryConfig {
	return &RecoveryConfig{
		NumRebuildThreads:     4,
		SegmentBasedRebuild:   true,
		RestoreSkiplistStride: kRestoreSkiplistStride,
		CheckpointTimestamp:   0,
		HashTableShards:       32,
		MaxAccessThreads:      16,
		ReclaimAuditLog:       false,
		VerboseLevel:          0,
		DebugFlags:            "",
	}
}

// LoadConfig loads recovery.ini from dir, creating it with defaults if
// absent.
func LoadConfig(dir string) (*RecoveryConfig, error) {
	path := filepath.Join(dir, "recovery.ini")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := defaultRecoveryConfig()
		if err := cfg.save(path); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading recovery config: %w", err)
	}

	cfg := defaultRecoveryConfig()
	cfg.file = f
	sec := f.Section(recoverySection)
	if err := sec.MapTo(cfg); err != nil {
		return nil, fmt.Errorf("mapping recovery config: %w", err)
	}
	return cfg, nil
}

func (c *RecoveryConfig) save(path string) error {
	f := ini.Empty()
	sec, err := f.NewSection(recoverySection)
	if err != nil {
		return err
	}
	if err := sec.ReflectFrom(c); err != nil {
		return err
	}
	c.file = f
	return f.SaveTo(path)
}

// Save persists the current field values back to disk.
func (c *RecoveryConfig) Save(dir string) error {
	return c.save(filepath.Join(dir, "recovery.ini"))
}

// ApplyOverrides parses "key:value" strings (CLI overrides) and applies
// them to the in-memory config.
func (c *RecoveryConfig) ApplyOverrides(overrides []string) error {
	for _, o := range overrides {
		parts := strings.SplitN(o, ":", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid override %q, expected key:value", o)
		}
		key, val := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		if err := c.setField(key, val); err != nil {
			return err
		}
	}
	return nil
}

func (c *RecoveryConfig) setField(key, val string) error {
	switch key {
	case "num_rebuild_threads":
		n, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		c.NumRebuildThreads = n
	case "segment_based_rebuild":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return err
		}
		c.SegmentBasedRebuild = b
	case "restore_skiplist_stride":
		n, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		c.RestoreSkiplistStride = n
	case "checkpoint_timestamp":
		n, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return err
		}
		c.CheckpointTimestamp = n
	case "hash_table_shards":
		n, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		c.HashTableShards = n
	case "max_access_threads":
		n, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		c.MaxAccessThreads = n
	case "reclaim_audit_log":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return err
		}
		c.ReclaimAuditLog = b
	case "verbose_level":
		n, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		c.VerboseLevel = n
	case "debug_flags":
		c.DebugFlags = val
	default:
		return fmt.Errorf("unknown recovery config key %q", key)
	}
	return nil
}

// Validate checks invariants the rebuilder assumes hold, returning
// InvalidConfiguration on failure.
func (c *RecoveryConfig) Validate() error {
	if c.NumRebuildThreads < 1 {
		return NewStatusError(InvalidConfiguration, nil, "num_rebuild_threads must be >= 1")
	}
	if c.RestoreSkiplistStride < 1 {
		return NewStatusError(InvalidConfiguration, nil, "restore_skiplist_stride must be >= 1")
	}
	if c.HashTableShards < 1 {
		return NewStatusError(InvalidConfiguration, nil, "hash_table_shards must be >= 1")
	}
	if c.NumRebuildThreads > c.MaxAccessThreads {
		c.NumRebuildThreads = c.MaxAccessThreads
	}
	return nil
}
