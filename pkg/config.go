package fileintegrity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-ini/ini"
)

// Config represents the .fit/config configuration
type Config struct {
	configPath string
	ini        *ini.File
}

// HashConfig represents hashing configuration
type HashConfig struct {
	Mode      HashMode // Which fingerprint slots are computed
	Algorithm string   // Digest algorithm: sha1, sha256, sha512, blake3
}

// PerformanceConfig represents performance-related configuration
type PerformanceConfig struct {
	Workers int // Fixed hash worker count, 0 lets the throughput scaler decide
}

// IgnoreConfig represents the reconciliation ignore policy
type IgnoreConfig struct {
	Attributes bool // Never report attribute changes
	Dates      bool // Never report date changes
	Renamed    bool // Report renamed files as unchanged
}

// FilterConfig represents filename include/exclude patterns
type FilterConfig struct {
	Include []string
	Exclude []string
}

// DuplicatesConfig represents duplicate set ordering
type DuplicatesConfig struct {
	Sort  string // wasted, count, size
	Order string // asc, desc
}

// StoreConfig represents state persistence configuration
type StoreConfig struct {
	Compression string // zstd, lz4
}

// VerboseConfig represents verbosity configuration
type VerboseConfig struct {
	Level int    // Default verbose level (0=quiet, 1=basic, 2=detailed, 3=trace)
	Debug string // Default debug flags (comma-separated)
}

// AllConfig represents all configuration options
type AllConfig struct {
	Hash        *HashConfig
	Performance *PerformanceConfig
	Ignore      *IgnoreConfig
	Filter      *FilterConfig
	Duplicates  *DuplicatesConfig
	Store       *StoreConfig
	Verbose     *VerboseConfig
}

// configDefaults lists every section and key with its default value, in file order
var configDefaults = []struct {
	section string
	keys    [][2]string
}{
	{"hash", [][2]string{{"mode", "full"}, {"algorithm", DefaultHashAlgorithm}}},
	{"performance", [][2]string{{"workers", "0"}}},
	{"ignore", [][2]string{{"attributes", "false"}, {"dates", "false"}, {"renamed", "false"}}},
	{"filter", [][2]string{{"include", ""}, {"exclude", ""}}},
	{"duplicates", [][2]string{{"sort", "wasted"}, {"order", "desc"}}},
	{"store", [][2]string{{"compression", "zstd"}}},
	{"verbose", [][2]string{{"level", "0"}, {"debug", ""}}},
}

// overrideKeys maps a command-line override key onto its section and key
var overrideKeys = map[string][2]string{
	"mode":              {"hash", "mode"},
	"algorithm":         {"hash", "algorithm"},
	"workers":           {"performance", "workers"},
	"ignore_attributes": {"ignore", "attributes"},
	"ignore_dates":      {"ignore", "dates"},
	"ignore_renamed":    {"ignore", "renamed"},
	"include":           {"filter", "include"},
	"exclude":           {"filter", "exclude"},
	"sort":              {"duplicates", "sort"},
	"order":             {"duplicates", "order"},
	"compression":       {"store", "compression"},
	"level":             {"verbose", "level"},
	"debug":             {"verbose", "debug"},
}

// LoadConfig loads configuration from the config file inside repoDir,
// creating it with defaults when it does not exist
func LoadConfig(repoDir string) (*Config, error) {
	configPath := filepath.Join(repoDir, ConfigFileName)

	cfg := &Config{
		configPath: configPath,
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg.ini = ini.Empty()
		if err := cfg.setDefaults(); err != nil {
			return nil, fmt.Errorf("failed to set default config: %w", err)
		}
		if err := cfg.Save(); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
	} else {
		iniFile, err := ini.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		cfg.ini = iniFile
	}

	return cfg, nil
}

// NewDefaultConfig returns an in-memory configuration holding the defaults.
// Save is a no-op for it.
func NewDefaultConfig() *Config {
	cfg := &Config{ini: ini.Empty()}
	// Only fails on duplicate keys, which the defaults table does not have
	_ = cfg.setDefaults()
	return cfg
}

// setDefaults sets default configuration values
func (c *Config) setDefaults() error {
	for _, def := range configDefaults {
		section, err := c.ini.NewSection(def.section)
		if err != nil {
			return fmt.Errorf("failed to create %s section: %w", def.section, err)
		}
		for _, kv := range def.keys {
			if _, err := section.NewKey(kv[0], kv[1]); err != nil {
				return fmt.Errorf("failed to set default %s.%s: %w", def.section, kv[0], err)
			}
		}
	}
	return nil
}

// value returns the key's value or the fallback when the section or key is absent
func (c *Config) value(section, key, fallback string) string {
	if !c.ini.HasSection(section) {
		return fallback
	}
	s := c.ini.Section(section)
	if !s.HasKey(key) {
		return fallback
	}
	return strings.TrimSpace(s.Key(key).String())
}

func (c *Config) boolValue(section, key string) bool {
	if !c.ini.HasSection(section) || !c.ini.Section(section).HasKey(key) {
		return false
	}
	v, err := c.ini.Section(section).Key(key).Bool()
	return err == nil && v
}

func splitPatterns(value string) []string {
	var patterns []string
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
	}
	return patterns
}

// GetHashConfig returns the hash configuration
func (c *Config) GetHashConfig() *HashConfig {
	hashConfig := &HashConfig{
		Mode:      HashModeFull,
		Algorithm: c.value("hash", "algorithm", DefaultHashAlgorithm),
	}
	if mode, err := ParseHashMode(c.value("hash", "mode", "full")); err == nil {
		hashConfig.Mode = mode
	}
	return hashConfig
}

// GetPerformanceConfig returns the performance configuration
func (c *Config) GetPerformanceConfig() *PerformanceConfig {
	performanceConfig := &PerformanceConfig{}
	if c.ini.HasSection("performance") {
		section := c.ini.Section("performance")
		if section.HasKey("workers") {
			if workers, err := section.Key("workers").Int(); err == nil {
				performanceConfig.Workers = workers
			}
		}
	}
	return performanceConfig
}

// GetIgnoreConfig returns the reconciliation ignore policy
func (c *Config) GetIgnoreConfig() *IgnoreConfig {
	return &IgnoreConfig{
		Attributes: c.boolValue("ignore", "attributes"),
		Dates:      c.boolValue("ignore", "dates"),
		Renamed:    c.boolValue("ignore", "renamed"),
	}
}

// GetFilterConfig returns the filename filter configuration
func (c *Config) GetFilterConfig() *FilterConfig {
	return &FilterConfig{
		Include: splitPatterns(c.value("filter", "include", "")),
		Exclude: splitPatterns(c.value("filter", "exclude", "")),
	}
}

// GetDuplicatesConfig returns the duplicate ordering configuration
func (c *Config) GetDuplicatesConfig() *DuplicatesConfig {
	return &DuplicatesConfig{
		Sort:  strings.ToLower(c.value("duplicates", "sort", "wasted")),
		Order: strings.ToLower(c.value("duplicates", "order", "desc")),
	}
}

// GetStoreConfig returns the persistence configuration
func (c *Config) GetStoreConfig() *StoreConfig {
	return &StoreConfig{
		Compression: strings.ToLower(c.value("store", "compression", "zstd")),
	}
}

// GetVerboseConfig returns the verbose configuration
func (c *Config) GetVerboseConfig() *VerboseConfig {
	verboseConfig := &VerboseConfig{
		Debug: c.value("verbose", "debug", ""),
	}
	if c.ini.HasSection("verbose") {
		section := c.ini.Section("verbose")
		if section.HasKey("level") {
			if level, err := section.Key("level").Int(); err == nil {
				verboseConfig.Level = level
			}
		}
	}
	return verboseConfig
}

// GetAllConfig returns all configuration options
func (c *Config) GetAllConfig() *AllConfig {
	return &AllConfig{
		Hash:        c.GetHashConfig(),
		Performance: c.GetPerformanceConfig(),
		Ignore:      c.GetIgnoreConfig(),
		Filter:      c.GetFilterConfig(),
		Duplicates:  c.GetDuplicatesConfig(),
		Store:       c.GetStoreConfig(),
		Verbose:     c.GetVerboseConfig(),
	}
}

// SetHashMode sets the hash mode
func (c *Config) SetHashMode(mode HashMode) error {
	c.ini.Section("hash").Key("mode").SetValue(mode.String())
	return c.Save()
}

// SetHashAlgorithm sets the digest algorithm
func (c *Config) SetHashAlgorithm(algorithm string) error {
	if err := ValidateHashAlgorithm(algorithm); err != nil {
		return err
	}
	c.ini.Section("hash").Key("algorithm").SetValue(strings.ToLower(algorithm))
	return c.Save()
}

// SetWorkers sets the fixed number of hash workers, 0 for dynamic
func (c *Config) SetWorkers(workers int) error {
	if err := ValidateWorkers(workers); err != nil {
		return err
	}
	c.ini.Section("performance").Key("workers").SetValue(fmt.Sprintf("%d", workers))
	return c.Save()
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	if c.configPath == "" {
		return nil
	}
	return c.ini.SaveTo(c.configPath)
}

// ApplyOverrides applies command-line overrides to the configuration.
// Accepts strings like "mode:small", "workers:8", "ignore_dates:true", "level:2"
func (c *Config) ApplyOverrides(overrides []string) error {
	for _, override := range overrides {
		parts := strings.SplitN(override, ":", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid override format '%s', expected 'key:value'", override)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		target, ok := overrideKeys[key]
		if !ok {
			return fmt.Errorf("unsupported override key '%s'", key)
		}
		c.ini.Section(target[0]).Key(target[1]).SetValue(value)
	}

	return c.Validate()
}

// Validate checks every configured value
func (c *Config) Validate() error {
	if _, err := ParseHashMode(c.value("hash", "mode", "full")); err != nil {
		return err
	}
	all := c.GetAllConfig()
	if err := ValidateHashAlgorithm(all.Hash.Algorithm); err != nil {
		return err
	}
	if err := ValidateWorkers(all.Performance.Workers); err != nil {
		return err
	}
	if err := ValidateDuplicateSort(all.Duplicates.Sort); err != nil {
		return err
	}
	if err := ValidateSortOrder(all.Duplicates.Order); err != nil {
		return err
	}
	if err := ValidateCompression(all.Store.Compression); err != nil {
		return err
	}
	return ValidateVerboseLevel(all.Verbose.Level)
}

// ValidateWorkers validates that the hash worker count is reasonable
func ValidateWorkers(workers int) error {
	if workers < 0 {
		return fmt.Errorf("hash workers must not be negative, got: %d", workers)
	}
	if workers > 64 {
		return fmt.Errorf("hash workers should not exceed 64, got: %d", workers)
	}
	return nil
}

// ValidateDuplicateSort validates the duplicate set sort key
func ValidateDuplicateSort(key string) error {
	if _, err := ParseDuplicateSort(key); err != nil {
		return err
	}
	return nil
}

// ValidateSortOrder validates the duplicate set order
func ValidateSortOrder(order string) error {
	switch strings.ToLower(order) {
	case "asc", "desc":
		return nil
	default:
		return fmt.Errorf("unsupported sort order: %s (supported: asc, desc)", order)
	}
}

// ValidateCompression validates the state compression codec
func ValidateCompression(codec string) error {
	if _, err := ParseCompression(codec); err != nil {
		return err
	}
	return nil
}

// ValidateVerboseLevel validates that a verbose level is valid
func ValidateVerboseLevel(level int) error {
	if level < 0 || level > 3 {
		return fmt.Errorf("invalid verbose level: %d (supported: 0-3)", level)
	}
	return nil
}
