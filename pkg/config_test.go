package fileintegrity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	tempDir := t.TempDir()

	config, err := LoadConfig(tempDir)
	require.NoError(t, err)
	require.NoError(t, config.Validate())

	all := config.GetAllConfig()
	assert.Equal(t, HashModeFull, all.Hash.Mode)
	assert.Equal(t, DefaultHashAlgorithm, all.Hash.Algorithm)
	assert.Equal(t, 0, all.Performance.Workers)
	assert.Equal(t, &IgnoreConfig{}, all.Ignore)
	assert.Empty(t, all.Filter.Include)
	assert.Empty(t, all.Filter.Exclude)
	assert.Equal(t, "wasted", all.Duplicates.Sort)
	assert.Equal(t, "desc", all.Duplicates.Order)
	assert.Equal(t, "zstd", all.Store.Compression)
	assert.Equal(t, 0, all.Verbose.Level)

	assert.FileExists(t, filepath.Join(tempDir, ConfigFileName), "config file should be created")
}

func TestConfigOverrides(t *testing.T) {
	config, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	err = config.ApplyOverrides([]string{
		"mode:small",
		"algorithm:blake3",
		"workers:8",
		"ignore_dates:true",
		"ignore_renamed:yes",
		"include:*.jpg, *.png",
		"exclude:*.tmp",
		"sort:count",
		"order:asc",
		"compression:lz4",
		"level:2",
		"debug:scan,reconcile",
	})
	require.NoError(t, err)

	all := config.GetAllConfig()
	assert.Equal(t, HashModeSmall, all.Hash.Mode)
	assert.Equal(t, "blake3", all.Hash.Algorithm)
	assert.Equal(t, 8, all.Performance.Workers)
	assert.Equal(t, &IgnoreConfig{Dates: true, Renamed: true}, all.Ignore)
	assert.Equal(t, []string{"*.jpg", "*.png"}, all.Filter.Include)
	assert.Equal(t, []string{"*.tmp"}, all.Filter.Exclude)
	assert.Equal(t, "count", all.Duplicates.Sort)
	assert.Equal(t, "asc", all.Duplicates.Order)
	assert.Equal(t, "lz4", all.Store.Compression)
	assert.Equal(t, 2, all.Verbose.Level)
	assert.Equal(t, "scan,reconcile", all.Verbose.Debug)
}

func TestConfigOverrides_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		override string
	}{
		{"missing separator", "mode"},
		{"unknown key", "colour:red"},
		{"bad mode", "mode:huge"},
		{"bad algorithm", "algorithm:md5"},
		{"negative workers", "workers:-1"},
		{"too many workers", "workers:65"},
		{"bad sort", "sort:name"},
		{"bad order", "order:sideways"},
		{"bad compression", "compression:gzip"},
		{"bad level", "level:9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewDefaultConfig()
			assert.Error(t, config.ApplyOverrides([]string{tt.override}))
		})
	}
}

func TestConfigSettersPersist(t *testing.T) {
	tempDir := t.TempDir()
	config, err := LoadConfig(tempDir)
	require.NoError(t, err)

	require.NoError(t, config.SetHashMode(HashModeMedium))
	require.NoError(t, config.SetHashAlgorithm("SHA256"))
	require.NoError(t, config.SetWorkers(4))
	assert.Error(t, config.SetHashAlgorithm("crc32"))
	assert.Error(t, config.SetWorkers(100))

	reloaded, err := LoadConfig(tempDir)
	require.NoError(t, err)
	hash := reloaded.GetHashConfig()
	assert.Equal(t, HashModeMedium, hash.Mode)
	assert.Equal(t, "sha256", hash.Algorithm)
	assert.Equal(t, 4, reloaded.GetPerformanceConfig().Workers)
}

func TestConfigMissingKeysFallBack(t *testing.T) {
	tempDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, ConfigFileName), []byte("[hash]\nmode = medium\n"), 0644))

	config, err := LoadConfig(tempDir)
	require.NoError(t, err)
	require.NoError(t, config.Validate())

	all := config.GetAllConfig()
	assert.Equal(t, HashModeMedium, all.Hash.Mode)
	assert.Equal(t, DefaultHashAlgorithm, all.Hash.Algorithm)
	assert.Equal(t, "wasted", all.Duplicates.Sort)
	assert.Equal(t, "zstd", all.Store.Compression)
}

func TestNewDefaultConfig_SaveIsNoop(t *testing.T) {
	config := NewDefaultConfig()
	require.NoError(t, config.SetHashMode(HashModeNone))
	assert.Equal(t, HashModeNone, config.GetHashConfig().Mode)
}

func TestParseHashMode(t *testing.T) {
	for name, expected := range map[string]HashMode{
		"none": HashModeNone, "small": HashModeSmall, "fast": HashModeSmall,
		"Medium": HashModeMedium, "full": HashModeFull, " all ": HashModeFull,
	} {
		mode, err := ParseHashMode(name)
		require.NoError(t, err, name)
		assert.Equal(t, expected, mode, name)
	}
	_, err := ParseHashMode("partial")
	assert.Error(t, err)

	assert.True(t, HashModeFull.Computes(HashModeSmall))
	assert.True(t, HashModeMedium.Computes(HashModeMedium))
	assert.False(t, HashModeMedium.Computes(HashModeFull))
	assert.False(t, HashModeFull.Computes(HashModeNone))
}

func TestGetHashAlgorithm(t *testing.T) {
	for _, name := range []string{"sha1", "sha256", "SHA512", "blake3"} {
		algorithm, err := GetHashAlgorithm(name)
		require.NoError(t, err, name)
		h := algorithm.NewFunc()
		h.Write([]byte("fit"))
		assert.Len(t, h.Sum(nil), algorithm.Size, name)
	}
	assert.Error(t, ValidateHashAlgorithm("md5"))
}
