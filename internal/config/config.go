// Package config loads the repository's config.toml into an immutable
// Config value (spec §6.5), threaded explicitly into the storage,
// claims, and executor constructors rather than looked up from ambient
// state (spec §9's "global configuration" design note). Grounded on the
// teacher's internal/config/config.go: the same "walk up from cwd to
// find the dotdir config file, then user config dir, then home dir"
// search order, rebuilt over BurntSushi/toml instead of viper/yaml
// since spec §6.5 names config.toml explicitly.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Strictness controls how aggressively validation rejects malformed
// labels (spec §6.5 validation.strictness).
type Strictness string

const (
	StrictnessLoose  Strictness = "loose"
	StrictnessStrict Strictness = "strict"
)

// EnforceMode is the worktree.enforce_leases setting (spec §4.4).
type EnforceMode string

const (
	EnforceStrict EnforceMode = "strict"
	EnforceWarn   EnforceMode = "warn"
	EnforceOff    EnforceMode = "off"
)

// TypeHierarchy describes the configured type-label strategic tiering
// (spec §6.5 type_hierarchy.*), used by the "strategic" query (spec
// §4.7) and by validate's "orphaned type labels" check (spec §4.5).
type TypeHierarchy struct {
	Types             map[string]int    `toml:"types"`
	StrategicTypes    []string          `toml:"strategic_types"`
	LabelAssociations map[string]string `toml:"label_associations"`
}

// IsStrategic reports whether typeName is declared in the strategic
// tier.
func (h TypeHierarchy) IsStrategic(typeName string) bool {
	for _, t := range h.StrategicTypes {
		if t == typeName {
			return true
		}
	}
	return false
}

// Validation holds the validation.* config table (spec §6.5).
type Validation struct {
	Strictness             Strictness `toml:"strictness"`
	DefaultType             string     `toml:"default_type"`
	RequireTypeLabel        bool       `toml:"require_type_label"`
	LabelRegex              string     `toml:"label_regex"`
	RejectMalformedLabels   bool       `toml:"reject_malformed_labels"`
	EnforceNamespaceRegistry bool      `toml:"enforce_namespace_registry"`
	WarnOrphanedLeaves      bool       `toml:"warn_orphaned_leaves"`
}

// Namespace is one entry of namespaces.<name> (spec §6.5).
type Namespace struct {
	Description string   `toml:"description"`
	Unique      bool     `toml:"unique"`
	Examples    []string `toml:"examples"`
}

// Worktree holds the worktree.* config table governing lease
// enforcement and policy limits (spec §4.3.3, §4.4, §6.5).
type Worktree struct {
	EnforceLeases                EnforceMode `toml:"enforce_leases"`
	StaleThresholdSecs           int64       `toml:"stale_threshold_secs"`
	MaxIndefiniteLeasesPerAgent  int         `toml:"max_indefinite_leases_per_agent"`
	MaxIndefiniteLeasesPerRepo   int         `toml:"max_indefinite_leases_per_repo"`
}

// Logging holds the logging.* config table (SPEC_FULL.md §6, ambient
// stack addition: not product telemetry, operational logging of the
// kernel's own writes).
type Logging struct {
	Level        string `toml:"level"`
	File         string `toml:"file"`
	MaxSizeMB    int    `toml:"max_size_mb"`
	MaxBackups   int    `toml:"max_backups"`
	MaxAgeDays   int    `toml:"max_age_days"`
}

// VersionInfo holds version.* (spec §6.5).
type VersionInfo struct {
	Schema int `toml:"schema"`
}

// Config is the immutable, fully-resolved repository configuration
// (spec §6.5). The Config returned by Default is valid and matches
// every documented default.
type Config struct {
	Version       VersionInfo          `toml:"version"`
	TypeHierarchy TypeHierarchy        `toml:"type_hierarchy"`
	Validation    Validation           `toml:"validation"`
	Namespaces    map[string]Namespace `toml:"namespaces"`
	Worktree      Worktree             `toml:"worktree"`
	Logging       Logging              `toml:"logging"`

	// path is the file this Config was loaded from, if any; empty for
	// Default(). Retained for diagnostics only.
	path string
}

// Default returns the configuration in effect when no config.toml is
// found, matching every "default" called out in spec §6.5.
func Default() Config {
	return Config{
		Version: VersionInfo{Schema: 2},
		Validation: Validation{
			Strictness: StrictnessLoose,
		},
		Worktree: Worktree{
			EnforceLeases:               EnforceStrict,
			StaleThresholdSecs:          300,
			MaxIndefiniteLeasesPerAgent: 5,
			MaxIndefiniteLeasesPerRepo:  50,
		},
		Logging: Logging{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}

// UniqueNamespace reports whether namespace is declared unique, either
// explicitly via namespaces.<name>.unique or implicitly because it is
// "type" (spec §3.1 calls out "type" as unique by name regardless of
// configuration).
func (c Config) UniqueNamespace(namespace string) bool {
	if namespace == "type" {
		return true
	}
	if ns, ok := c.Namespaces[namespace]; ok {
		return ns.Unique
	}
	return false
}

// Load reads config.toml starting from startDir and walking up through
// parent directories looking for <dir>/.jit/config.toml, matching the
// teacher's cascading lookup order: project dotdir, then user config
// dir, then home dir. Defaults fill in anything the file omits. A
// missing file at every location is not an error; Default() is returned.
func Load(startDir string) (Config, error) {
	cfg := Default()

	path, err := findConfigFile(startDir)
	if err != nil {
		return cfg, err
	}
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}
	cfg.path = path
	return cfg, nil
}

// findConfigFile implements the three-tier search order from the
// teacher's Initialize(): walk up from startDir looking for
// .jit/config.toml, then ~/.config/jit/config.toml, then
// ~/.jit/config.toml.
func findConfigFile(startDir string) (string, error) {
	dir := startDir
	for {
		candidate := filepath.Join(dir, ".jit", "config.toml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	if confDir, err := os.UserConfigDir(); err == nil {
		candidate := filepath.Join(confDir, "jit", "config.toml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		candidate := filepath.Join(home, ".jit", "config.toml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", nil
}

// Path returns the file this Config was loaded from, or "" if it is a
// Default() with nothing on disk.
func (c Config) Path() string { return c.path }
