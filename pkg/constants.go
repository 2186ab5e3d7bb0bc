package fileintegrity

import (
	"fmt"
	"strings"
)

// Repository layout constants
const (
	RepoDirName      = ".fit"
	ConfigFileName   = "config"
	IgnoreFileName   = "ignore"
	StatesDirName    = "states"
	LastStateFile    = "last"
	StateFilePattern = "state_%d.json.%s"
)

// CurrentStateVersion is the schema version written into every State.
// States with a different version are not compared against.
const CurrentStateVersion = 1

// NoHash is stored in a fingerprint slot whose stream was not active.
const NoHash = "no_hash"

// Stream sizes
const (
	SmallBlockSize  int64 = 4 * 1024
	MediumBlockSize int64 = 1024 * 1024
	FullChunkSize   int64 = 30 * 1024 * 1024
)

// Pipeline constants
const (
	QueueCapacity = 500
	MinWorkerCap  = 4
)

// HashMode selects which fingerprint slots are computed. Modes are ordered:
// a stronger mode computes every slot a weaker one does.
type HashMode int

const (
	HashModeNone HashMode = iota
	HashModeSmall
	HashModeMedium
	HashModeFull
)

// String returns the configuration name of the mode
func (m HashMode) String() string {
	switch m {
	case HashModeNone:
		return "none"
	case HashModeSmall:
		return "small"
	case HashModeMedium:
		return "medium"
	case HashModeFull:
		return "full"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// ParseHashMode returns the hash mode for a name (case-insensitive)
func ParseHashMode(name string) (HashMode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none", "dont-hash":
		return HashModeNone, nil
	case "small", "fast":
		return HashModeSmall, nil
	case "medium":
		return HashModeMedium, nil
	case "full", "all":
		return HashModeFull, nil
	default:
		return HashModeNone, fmt.Errorf("unsupported hash mode: %s (supported: none, small, medium, full)", name)
	}
}

// MarshalText implements encoding.TextMarshaler
func (m HashMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *HashMode) UnmarshalText(text []byte) error {
	mode, err := ParseHashMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// Computes reports whether slot is computed under mode m.
func (m HashMode) Computes(slot HashMode) bool {
	return slot != HashModeNone && slot <= m
}

// minMode returns the weaker of two modes
func minMode(a, b HashMode) HashMode {
	if a < b {
		return a
	}
	return b
}
