// Package conf loads the changelog engine's configuration, mirroring the
// ini-file-backed Cfg pattern the rest of this codebase's lineage uses
// for node configuration.
package conf

import (
	"fmt"
	"time"

	"gopkg.in/ini.v1"
)

// Cfg holds the options of spec.md §6 plus the node's log destinations.
type Cfg struct {
	Raw *ini.File

	ChangelogDir string `default:"/var/fmd" ini:"changelog_dir"`

	MaxLogBytes int64 `default:"6442450944" ini:"max_log_bytes"`

	ForceVersion bool `default:"false" ini:"force_version"`
	DumpOnReplay bool `default:"false" ini:"dump_on_replay"`
	FsckOnly     bool `default:"false" ini:"fsck_only"`

	PeerTimeoutSeconds int `default:"10" ini:"peer_timeout_seconds"`

	InfoLogPath  string `default:"" ini:"info_log"`
	ErrorLogPath string `default:"" ini:"error_log"`
	LogLevel     string `default:"info" ini:"log_level"`
}

// DefaultCfg returns a Cfg populated with the defaults above, used when
// no ini file is given.
func DefaultCfg() *Cfg {
	return &Cfg{
		ChangelogDir:       "/var/fmd",
		MaxLogBytes:        6 * 1024 * 1024 * 1024,
		PeerTimeoutSeconds: 10,
		LogLevel:           "info",
	}
}

// LoadCfg loads configPath into a Cfg, applying DefaultCfg's values for
// anything the file doesn't set.
func LoadCfg(configPath string) (*Cfg, error) {
	cfg := DefaultCfg()
	if configPath == "" {
		return cfg, nil
	}

	raw, err := ini.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("conf: load %s: %w", configPath, err)
	}
	cfg.Raw = raw

	sec := raw.Section("fmd")
	if sec.HasKey("changelog_dir") {
		cfg.ChangelogDir = sec.Key("changelog_dir").String()
	}
	if sec.HasKey("max_log_bytes") {
		v, err := sec.Key("max_log_bytes").Int64()
		if err != nil {
			return nil, fmt.Errorf("conf: max_log_bytes: %w", err)
		}
		cfg.MaxLogBytes = v
	}
	if sec.HasKey("force_version") {
		cfg.ForceVersion = sec.Key("force_version").MustBool(false)
	}
	if sec.HasKey("dump_on_replay") {
		cfg.DumpOnReplay = sec.Key("dump_on_replay").MustBool(false)
	}
	if sec.HasKey("fsck_only") {
		cfg.FsckOnly = sec.Key("fsck_only").MustBool(false)
	}
	if sec.HasKey("peer_timeout_seconds") {
		v, err := sec.Key("peer_timeout_seconds").Int()
		if err != nil {
			return nil, fmt.Errorf("conf: peer_timeout_seconds: %w", err)
		}
		cfg.PeerTimeoutSeconds = v
	}
	if sec.HasKey("info_log") {
		cfg.InfoLogPath = sec.Key("info_log").String()
	}
	if sec.HasKey("error_log") {
		cfg.ErrorLogPath = sec.Key("error_log").String()
	}
	if sec.HasKey("log_level") {
		cfg.LogLevel = sec.Key("log_level").String()
	}

	return cfg, nil
}

// PeerTimeout returns PeerTimeoutSeconds as a time.Duration.
func (c *Cfg) PeerTimeout() time.Duration {
	return time.Duration(c.PeerTimeoutSeconds) * time.Second
}
