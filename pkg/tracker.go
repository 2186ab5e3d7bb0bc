package fileintegrity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Tracker binds a tracked root directory to its repository: configuration,
// ignore rules, attribute capture and the state store
type Tracker struct {
	RootDir string
	RepoDir string

	config        *Config
	ignoreManager *IgnoreManager
	attributes    AttributeProvider
	store         *Store
}

// StatusOptions adjusts a single Status call
type StatusOptions struct {
	Mode   *HashMode // overrides the configured hash mode
	Subdir string    // restrict the comparison to this directory below the root
	Rehash bool      // re-hash hash-matched files when the last state used a stronger mode
}

// StatusResult is the outcome of comparing the tree with the last state
type StatusResult struct {
	Comparison     *Comparison
	Current        *State
	Previous       *State // nil when there is no usable previous state
	PreviousNumber int
	Stats          ScanStats
}

// NewTracker creates a tracker for rootDir. Nothing is read or created until
// Open or Init is called.
func NewTracker(rootDir string) (*Tracker, error) {
	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", rootDir, err)
	}
	repoDir := filepath.Join(absRoot, RepoDirName)
	return &Tracker{
		RootDir:       absRoot,
		RepoDir:       repoDir,
		ignoreManager: NewIgnoreManager(repoDir),
		attributes:    PosixAttributes{},
	}, nil
}

// FindRoot returns the tracked root at or above dir by searching upward for
// the repository directory
func FindRoot(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	// Inside the repository directory itself, its parent is the root
	if filepath.Base(dir) == RepoDirName {
		return filepath.Dir(dir), nil
	}

	for {
		if info, err := os.Stat(filepath.Join(dir, RepoDirName)); err == nil && info.IsDir() {
			if realDir, err := filepath.EvalSymlinks(dir); err == nil {
				return realDir, nil
			}
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("%w (or any of the parent directories): %s directory not found", ErrNotRepository, RepoDirName)
}

// Open loads the configuration, ignore rules and store of an existing repository
func (t *Tracker) Open() error {
	info, err := os.Stat(t.RepoDir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotRepository, t.RootDir)
	}
	return t.load()
}

func (t *Tracker) load() error {
	config, err := LoadConfig(t.RepoDir)
	if err != nil {
		return err
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	t.config = config

	if err := t.ignoreManager.LoadIgnorePatterns(); err != nil {
		return fmt.Errorf("failed to load ignore patterns: %w", err)
	}

	compression, err := ParseCompression(config.GetStoreConfig().Compression)
	if err != nil {
		return err
	}
	t.store = NewStore(t.RepoDir, compression)
	return nil
}

// Config returns the loaded configuration
func (t *Tracker) Config() *Config {
	return t.config
}

// Store returns the state store
func (t *Tracker) Store() *Store {
	return t.store
}

// ApplyConfigOverrides applies "key:value" overrides for this process only
func (t *Tracker) ApplyConfigOverrides(overrides []string) error {
	if t.config == nil {
		return fmt.Errorf("no configuration loaded, cannot apply overrides")
	}
	if err := t.config.ApplyOverrides(overrides); err != nil {
		return fmt.Errorf("failed to apply configuration overrides: %w", err)
	}
	compression, err := ParseCompression(t.config.GetStoreConfig().Compression)
	if err != nil {
		return err
	}
	t.store.compression = compression
	return nil
}

// SetAttributeProvider replaces the attribute capture used by scans and comparisons
func (t *Tracker) SetAttributeProvider(p AttributeProvider) {
	t.attributes = p
}

// Init creates the repository, scans the tree and saves the first state
func (t *Tracker) Init(ctx context.Context, comment string) (int, error) {
	defer VerboseEnter()()
	if _, err := os.Stat(t.RepoDir); err == nil {
		return 0, fmt.Errorf("%w: %s", ErrRepositoryExists, t.RepoDir)
	}
	for dir := t.RootDir; ; dir = filepath.Dir(dir) {
		if filepath.Base(dir) == RepoDirName {
			return 0, fmt.Errorf("cannot create a repository inside %s", dir)
		}
		if filepath.Dir(dir) == dir {
			break
		}
	}

	if err := os.MkdirAll(t.RepoDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", t.RepoDir, err)
	}
	if err := t.load(); err != nil {
		return 0, err
	}
	if err := t.store.Initialise(); err != nil {
		return 0, err
	}

	state, _, err := t.scanState(ctx, t.config.GetHashConfig().Mode, "")
	if err != nil {
		return 0, err
	}
	state.Comment = comment
	return t.store.Save(state)
}

// scanState scans the tree and wraps the result in a State
func (t *Tracker) scanState(ctx context.Context, mode HashMode, subdir string) (*State, ScanStats, error) {
	scanner, err := t.newScanner(mode, subdir)
	if err != nil {
		return nil, ScanStats{}, err
	}
	result, err := scanner.Scan(ctx)
	if err != nil {
		return nil, ScanStats{}, fmt.Errorf("failed to scan %s: %w", t.RootDir, err)
	}
	state := NewState(result.Files, mode, scanner.Options().Algorithm.Name, result.Ignored)
	return state, result.Stats, nil
}

func (t *Tracker) newScanner(mode HashMode, subdir string) (*Scanner, error) {
	all := t.config.GetAllConfig()
	algorithm, err := GetHashAlgorithm(all.Hash.Algorithm)
	if err != nil {
		return nil, err
	}
	return NewScanner(t.RootDir, ScanOptions{
		Mode:       mode,
		Algorithm:  algorithm,
		Workers:    all.Performance.Workers,
		Subdir:     subdir,
		Ignore:     t.ignoreManager,
		Filter:     FilenameFilter{Include: all.Filter.Include, Exclude: all.Filter.Exclude},
		Attributes: t.attributes,
	})
}

func (t *Tracker) compareOptions(corruption bool) CompareOptions {
	ignore := t.config.GetIgnoreConfig()
	return CompareOptions{
		Corruption:       corruption,
		IgnoreAttributes: ignore.Attributes,
		IgnoreDates:      ignore.Dates,
		IgnoreRenamed:    ignore.Renamed,
		Attributes:       t.attributes,
	}
}

// loadLast returns the last state with its original fingerprints, or nil
// when none has been saved
func (t *Tracker) loadLast() (*State, int, error) {
	state, n, err := t.store.LoadLast(HashModeFull)
	if errors.Is(err, ErrStateNotFound) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return state, n, nil
}

// Status scans the tree and reconciles it with the last state
func (t *Tracker) Status(ctx context.Context, opts StatusOptions) (*StatusResult, error) {
	defer VerboseEnter()()
	mode := t.config.GetHashConfig().Mode
	if opts.Mode != nil {
		mode = *opts.Mode
	}
	subdir := strings.Trim(filepath.ToSlash(filepath.Clean("/"+opts.Subdir)), "/")

	current, stats, err := t.scanState(ctx, mode, subdir)
	if err != nil {
		return nil, err
	}
	previous, n, err := t.loadLast()
	if err != nil {
		return nil, err
	}
	if previous != nil && subdir != "" {
		previous = previous.FilterDirectory(subdir)
	}

	comparison, err := Reconcile(previous, current, t.compareOptions(false))
	if err != nil {
		return nil, err
	}

	if opts.Rehash && previous != nil && previous.HashMode > mode && comparison.CommonMode == mode {
		if err := t.confirmHashMatches(ctx, comparison, previous.HashMode); err != nil {
			return nil, err
		}
	}

	return &StatusResult{
		Comparison:     comparison,
		Current:        current,
		Previous:       previous,
		PreviousNumber: n,
		Stats:          stats,
	}, nil
}

// confirmHashMatches re-hashes the files matched by content at the last
// state's stronger mode. A file whose stronger fingerprint differs from the
// record it was matched with is reported as added, and a rename source that
// it claimed is reported as deleted.
func (t *Tracker) confirmHashMatches(ctx context.Context, c *Comparison, mode HashMode) error {
	var records []FileRecord
	for _, kind := range []Modification{Renamed, Copied, Duplicated} {
		for _, d := range c.Bucket(kind) {
			records = append(records, d.Record)
		}
	}
	if len(records) == 0 {
		return nil
	}

	scanner, err := t.newScanner(mode, "")
	if err != nil {
		return err
	}
	rehashed, err := scanner.Rehash(ctx, records)
	if err != nil {
		return fmt.Errorf("failed to re-hash matched files: %w", err)
	}
	strong := make(map[string]Fingerprint, len(rehashed))
	for _, r := range rehashed {
		strong[r.Path] = r.Hash
	}

	var lostSources []*FileRecord
	for _, kind := range []Modification{Renamed, Copied, Duplicated} {
		kept := c.buckets[kind][:0]
		for _, d := range c.buckets[kind] {
			hash, ok := strong[d.Record.Path]
			// An unchanged fingerprint means the file could not be re-read
			if !ok || hash == d.Record.Hash || hash.Degrade(mode) == d.Previous.Hash.Degrade(mode) {
				kept = append(kept, d)
				continue
			}
			VerboseLog(1, "%s no longer matches %s at %s hashing", d.Record.Path, d.Previous.Path, mode)
			c.add(Added, &d.Record, nil)
			if kind == Renamed {
				lostSources = append(lostSources, d.Previous)
			}
		}
		c.buckets[kind] = kept
	}

	// A source that lost its rename goes to the first confirmed copy of it,
	// and is only deleted when no such copy remains
	for _, source := range lostSources {
		if !c.promoteToRenamed(source.Path) {
			c.add(Deleted, source, nil)
		}
	}
	c.sortBuckets()
	return nil
}

// Commit saves the current tree as a new state when anything changed since
// the last one. It returns the new state number, or 0 when nothing was saved.
func (t *Tracker) Commit(ctx context.Context, comment string) (int, *StatusResult, error) {
	defer VerboseEnter()()
	result, err := t.Status(ctx, StatusOptions{})
	if err != nil {
		return 0, nil, err
	}
	if result.PreviousNumber > 0 && !result.Comparison.Modified() && len(result.Comparison.Warnings) == 0 {
		VerboseLog(1, "nothing changed since state %d", result.PreviousNumber)
		return 0, result, nil
	}
	result.Current.Comment = comment
	n, err := t.store.Save(result.Current)
	if err != nil {
		return 0, result, err
	}
	return n, result, nil
}

// CorruptionScan compares the tree with the last state looking for content
// that changed without its dates changing
func (t *Tracker) CorruptionScan(ctx context.Context) (*StatusResult, error) {
	defer VerboseEnter()()
	mode := t.config.GetHashConfig().Mode
	if mode == HashModeNone {
		return nil, fmt.Errorf("%w: corruption scan needs content hashing", ErrHashModeTooWeak)
	}

	current, stats, err := t.scanState(ctx, mode, "")
	if err != nil {
		return nil, err
	}
	previous, n, err := t.loadLast()
	if err != nil {
		return nil, err
	}
	comparison, err := Reconcile(previous, current, t.compareOptions(true))
	if err != nil {
		return nil, err
	}
	return &StatusResult{Comparison: comparison, Current: current, Previous: previous, PreviousNumber: n, Stats: stats}, nil
}

// FindDuplicates scans the tree and groups files with identical content.
// Full hashing is required.
func (t *Tracker) FindDuplicates(ctx context.Context) ([]DuplicateSet, error) {
	defer VerboseEnter()()
	all := t.config.GetAllConfig()
	if all.Hash.Mode != HashModeFull {
		return nil, fmt.Errorf("%w: duplicate detection needs %s hashing, configured %s", ErrHashModeTooWeak, HashModeFull, all.Hash.Mode)
	}
	sortKey, err := ParseDuplicateSort(all.Duplicates.Sort)
	if err != nil {
		return nil, err
	}

	state, _, err := t.scanState(ctx, HashModeFull, "")
	if err != nil {
		return nil, err
	}
	return FindDuplicates(state, DuplicateOptions{
		Filter:     FilenameFilter{Include: all.Filter.Include, Exclude: all.Filter.Exclude},
		Sort:       sortKey,
		Descending: all.Duplicates.Order != "asc",
		Root:       t.RootDir,
	})
}

// States lists every saved state
func (t *Tracker) States() ([]StateHeader, error) {
	return t.store.List()
}
