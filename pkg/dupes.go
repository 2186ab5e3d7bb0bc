package fileintegrity

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DuplicateSet is a group of at least two files with identical length and fingerprint
type DuplicateSet struct {
	Files []FileRecord `json:"files"`
}

// Size returns the length of each member
func (d DuplicateSet) Size() int64 {
	if len(d.Files) == 0 {
		return 0
	}
	return d.Files[0].Size
}

// Count returns the number of members
func (d DuplicateSet) Count() int {
	return len(d.Files)
}

// WastedSpace returns the bytes taken by the redundant copies
func (d DuplicateSet) WastedSpace() int64 {
	if len(d.Files) < 2 {
		return 0
	}
	return int64(len(d.Files)-1) * d.Size()
}

// DuplicateSort selects the key duplicate sets are ordered by
type DuplicateSort int

const (
	SortByWasted DuplicateSort = iota
	SortByCount
	SortBySize
)

func (s DuplicateSort) String() string {
	switch s {
	case SortByCount:
		return "count"
	case SortBySize:
		return "size"
	default:
		return "wasted"
	}
}

// ParseDuplicateSort returns the sort key for a name
func ParseDuplicateSort(name string) (DuplicateSort, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "wasted", "":
		return SortByWasted, nil
	case "count":
		return SortByCount, nil
	case "size":
		return SortBySize, nil
	default:
		return SortByWasted, fmt.Errorf("unsupported duplicate sort: %s (supported: wasted, count, size)", name)
	}
}

// DuplicateOptions controls duplicate grouping
type DuplicateOptions struct {
	Filter     FilenameFilter
	Sort       DuplicateSort
	Descending bool
	// Root, when set, is used to skip records whose file no longer exists
	Root string
}

// FindDuplicates groups the records of a state by (length, fingerprint).
// Zero-length files, files missing on disk and filtered-out files never
// appear in a set. The state must have been hashed in full mode.
func FindDuplicates(state *State, opts DuplicateOptions) ([]DuplicateSet, error) {
	defer VerboseEnter()()
	if state.HashMode != HashModeFull {
		return nil, fmt.Errorf("%w: duplicate detection needs %s hashing, state has %s", ErrHashModeTooWeak, HashModeFull, state.HashMode)
	}

	files := make([]FileRecord, 0, len(state.Files))
	for _, f := range state.Files {
		if f.Size == 0 || !opts.Filter.Match(f.Path) {
			continue
		}
		if opts.Root != "" {
			if _, err := os.Lstat(filepath.Join(opts.Root, filepath.FromSlash(f.Path))); err != nil {
				if IsDebugEnabled("dupes") {
					VerboseLog(3, "dupes: skipping %s: %v", f.Path, err)
				}
				continue
			}
		}
		files = append(files, f)
	}

	sort.Slice(files, func(i, j int) bool {
		ki, kj := files[i].Hash.Key(), files[j].Hash.Key()
		if ki != kj {
			return ki < kj
		}
		if files[i].Size != files[j].Size {
			return files[i].Size < files[j].Size
		}
		return files[i].Path < files[j].Path
	})

	var sets []DuplicateSet
	var run []FileRecord
	flush := func() {
		if len(run) > 1 {
			sets = append(sets, DuplicateSet{Files: run})
		}
		run = nil
	}
	for _, f := range files {
		if len(run) > 0 && !run[0].SameContent(f) {
			flush()
		}
		run = append(run, f)
	}
	flush()

	SortDuplicateSets(sets, opts.Sort, opts.Descending)
	VerboseLog(2, "found %d duplicate sets among %d files", len(sets), len(files))
	return sets, nil
}

// SortDuplicateSets orders sets by key. Ties are broken by the first member path.
func SortDuplicateSets(sets []DuplicateSet, key DuplicateSort, descending bool) {
	value := func(d DuplicateSet) int64 {
		switch key {
		case SortByCount:
			return int64(d.Count())
		case SortBySize:
			return d.Size()
		default:
			return d.WastedSpace()
		}
	}
	sort.SliceStable(sets, func(i, j int) bool {
		vi, vj := value(sets[i]), value(sets[j])
		if vi != vj {
			if descending {
				return vi > vj
			}
			return vi < vj
		}
		return sets[i].Files[0].Path < sets[j].Files[0].Path
	})
}

// TotalWasted sums the wasted space of every set
func TotalWasted(sets []DuplicateSet) int64 {
	var total int64
	for _, d := range sets {
		total += d.WastedSpace()
	}
	return total
}
