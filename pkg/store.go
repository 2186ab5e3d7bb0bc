package fileintegrity

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-ini/ini"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the codec states are written with
type Compression int

const (
	CompressionZstd Compression = iota
	CompressionLZ4
)

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

func (c Compression) String() string {
	if c == CompressionLZ4 {
		return "lz4"
	}
	return "zstd"
}

// Extension returns the file name suffix of the codec
func (c Compression) Extension() string {
	if c == CompressionLZ4 {
		return "lz4"
	}
	return "zst"
}

// ParseCompression returns the codec for a name
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "zstd", "zst", "":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return CompressionZstd, fmt.Errorf("unsupported compression: %s (supported: zstd, lz4)", name)
	}
}

// StateHeader summarises a saved state without its file list
type StateHeader struct {
	Number             int       `json:"-"`
	Timestamp          time.Time `json:"timestamp"`
	Comment            string    `json:"comment"`
	FileCount          int       `json:"fileCount"`
	FilesContentLength int64     `json:"filesContentLength"`
	HashMode           HashMode  `json:"hashMode"`
	HashAlgorithm      string    `json:"hashAlgorithm"`
}

// Store manages the numbered states of a repository
type Store struct {
	BasePath    string // .fit directory path
	StatesDir   string // .fit/states
	compression Compression
}

// NewStore creates a store inside the repository directory
func NewStore(repoDir string, compression Compression) *Store {
	statesDir := filepath.Join(repoDir, StatesDirName)
	VerboseLog(3, "NewStore: repoDir=%s, statesDir=%s", repoDir, statesDir)
	return &Store{
		BasePath:    repoDir,
		StatesDir:   statesDir,
		compression: compression,
	}
}

// Initialise creates the states directory and the side-record with a new
// repository id
func (s *Store) Initialise() error {
	if err := os.MkdirAll(s.StatesDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", s.StatesDir, err)
	}
	if _, err := os.Stat(s.lastPath()); os.IsNotExist(err) {
		return s.writeLast(0, uuid.NewString())
	}
	return nil
}

// RepositoryID returns the id stored in the side-record
func (s *Store) RepositoryID() (string, error) {
	_, id, err := s.readLast()
	return id, err
}

// Save persists a state under the next number and returns that number.
// The state is sealed first when it carries no digest.
func (s *Store) Save(state *State) (int, error) {
	defer VerboseEnter()()
	if state.StateHash == "" {
		if err := state.Seal(); err != nil {
			return 0, err
		}
	}

	last, err := s.LastNumber()
	if err != nil {
		return 0, err
	}
	number := last + 1
	path := filepath.Join(s.StatesDir, fmt.Sprintf(StateFilePattern, number, s.compression.Extension()))

	if err := s.writeState(path, state); err != nil {
		return 0, err
	}

	_, id, _ := s.readLast()
	if id == "" {
		id = uuid.NewString()
	}
	if err := s.writeLast(number, id); err != nil {
		return 0, err
	}
	VerboseLog(1, "saved state %d (%d files) to %s", number, state.FileCount, filepath.Base(path))
	return number, nil
}

func (s *Store) writeState(path string, state *State) error {
	tmp, err := os.CreateTemp(s.StatesDir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	buffered := bufio.NewWriter(tmp)
	var compressor io.WriteCloser
	switch s.compression {
	case CompressionLZ4:
		compressor = lz4.NewWriter(buffered)
	default:
		enc, err := zstd.NewWriter(buffered, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			tmp.Close()
			return fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		compressor = enc
	}

	if err := json.NewEncoder(compressor).Encode(state); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if err := compressor.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to finish %s stream: %w", s.compression, err)
	}
	if err := buffered.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close state: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move state into place: %w", err)
	}
	return nil
}

// Load reads state number n, verifies its digest and degrades its
// fingerprints to mode when mode is weaker than the stored one
func (s *Store) Load(n int, mode HashMode) (*State, error) {
	defer VerboseEnter()()
	path, err := s.statePath(n)
	if err != nil {
		return nil, err
	}

	state := &State{}
	if err := s.decodeFile(path, state); err != nil {
		return nil, err
	}
	if err := state.Verify(); err != nil {
		return nil, fmt.Errorf("state %d: %w", n, err)
	}
	return state.DegradeTo(mode), nil
}

// LoadLast loads the most recent state. It returns ErrStateNotFound when
// no state has been saved.
func (s *Store) LoadLast(mode HashMode) (*State, int, error) {
	n, err := s.LastNumber()
	if err != nil {
		return nil, 0, err
	}
	if n == 0 {
		return nil, 0, ErrStateNotFound
	}
	state, err := s.Load(n, mode)
	return state, n, err
}

func (s *Store) decodeFile(path string, v interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	buffered := bufio.NewReader(f)
	magic, err := buffered.Peek(4)
	if err != nil {
		return fmt.Errorf("%w: %s is truncated", ErrCorruptedState, filepath.Base(path))
	}

	var reader io.Reader
	switch {
	case bytes.Equal(magic, zstdMagic):
		dec, err := zstd.NewReader(buffered)
		if err != nil {
			return fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		defer dec.Close()
		reader = dec
	case bytes.Equal(magic, lz4Magic):
		reader = lz4.NewReader(buffered)
	default:
		return fmt.Errorf("%w: %s has unknown compression", ErrCorruptedState, filepath.Base(path))
	}

	if err := json.NewDecoder(reader).Decode(v); err != nil {
		return fmt.Errorf("%w: failed to decode %s: %v", ErrCorruptedState, filepath.Base(path), err)
	}
	return nil
}

// statePath returns the file holding state n, whichever codec wrote it
func (s *Store) statePath(n int) (string, error) {
	for _, c := range []Compression{s.compression, CompressionZstd, CompressionLZ4} {
		path := filepath.Join(s.StatesDir, fmt.Sprintf(StateFilePattern, n, c.Extension()))
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %d", ErrStateNotFound, n)
}

func (s *Store) exists(n int) bool {
	_, err := s.statePath(n)
	return err == nil
}

// LastNumber returns the number of the most recent state, 0 when there is
// none. A stale side-record is repaired by probing the state files.
func (s *Store) LastNumber() (int, error) {
	recorded, id, err := s.readLast()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn().Err(err).Msg("unreadable state side-record, probing state files")
	}

	n := recorded
	switch {
	case s.exists(n + 1):
		for s.exists(n + 1) {
			n++
		}
	case n > 0 && !s.exists(n):
		for n > 0 && !s.exists(n) {
			n--
		}
	}

	if n != recorded {
		VerboseLog(1, "state side-record said %d, found %d", recorded, n)
		if id == "" {
			id = uuid.NewString()
		}
		if err := s.writeLast(n, id); err != nil {
			return 0, err
		}
	}
	return n, nil
}

// List returns the headers of every saved state in number order
func (s *Store) List() ([]StateHeader, error) {
	entries, err := os.ReadDir(s.StatesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read states directory: %w", err)
	}

	var headers []StateHeader
	for _, entry := range entries {
		n, ok := parseStateFileName(entry.Name())
		if !ok {
			continue
		}
		var header StateHeader
		if err := s.decodeFile(filepath.Join(s.StatesDir, entry.Name()), &header); err != nil {
			logger.Warn().Str("file", entry.Name()).Err(err).Msg("skipping unreadable state")
			continue
		}
		header.Number = n
		headers = append(headers, header)
	}

	sort.Slice(headers, func(i, j int) bool { return headers[i].Number < headers[j].Number })
	return headers, nil
}

// parseStateFileName extracts n from state_<n>.json.<ext>
func parseStateFileName(name string) (int, bool) {
	if !strings.HasPrefix(name, "state_") {
		return 0, false
	}
	rest := strings.TrimPrefix(name, "state_")
	idx := strings.Index(rest, ".json.")
	if idx <= 0 {
		return 0, false
	}
	n, err := strconv.Atoi(rest[:idx])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func (s *Store) lastPath() string {
	return filepath.Join(s.StatesDir, LastStateFile)
}

func (s *Store) readLast() (int, string, error) {
	if _, err := os.Stat(s.lastPath()); err != nil {
		return 0, "", err
	}
	cfg, err := ini.Load(s.lastPath())
	if err != nil {
		return 0, "", fmt.Errorf("failed to load state side-record: %w", err)
	}
	section := cfg.Section("state")
	id := section.Key("repository").String()
	last, err := section.Key("last").Int()
	if err != nil {
		return 0, id, fmt.Errorf("invalid last state number: %w", err)
	}
	return last, id, nil
}

func (s *Store) writeLast(n int, id string) error {
	cfg := ini.Empty()
	section, err := cfg.NewSection("state")
	if err != nil {
		return fmt.Errorf("failed to create state section: %w", err)
	}
	if _, err := section.NewKey("last", strconv.Itoa(n)); err != nil {
		return fmt.Errorf("failed to set last state number: %w", err)
	}
	if _, err := section.NewKey("repository", id); err != nil {
		return fmt.Errorf("failed to set repository id: %w", err)
	}
	if err := os.MkdirAll(s.StatesDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", s.StatesDir, err)
	}
	if err := cfg.SaveTo(s.lastPath()); err != nil {
		return fmt.Errorf("failed to save state side-record: %w", err)
	}
	return nil
}
