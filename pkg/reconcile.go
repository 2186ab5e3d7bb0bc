package fileintegrity

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Modification classifies one file in a Comparison
type Modification int

const (
	Unchanged Modification = iota
	Added
	Deleted
	ContentModified
	DateModified
	AttributesModified
	Renamed
	Copied
	Duplicated
	Corrupted
)

// Modifications lists every reported classification in report order
var Modifications = []Modification{
	Added, Copied, Duplicated, DateModified, ContentModified, AttributesModified, Renamed, Deleted, Corrupted,
}

func (m Modification) String() string {
	switch m {
	case Unchanged:
		return "unchanged"
	case Added:
		return "added"
	case Deleted:
		return "deleted"
	case ContentModified:
		return "content-modified"
	case DateModified:
		return "date-modified"
	case AttributesModified:
		return "attributes-modified"
	case Renamed:
		return "renamed"
	case Copied:
		return "copied"
	case Duplicated:
		return "duplicated"
	case Corrupted:
		return "corrupted"
	default:
		return fmt.Sprintf("modification(%d)", int(m))
	}
}

// Difference pairs a classified record with the previous record it was
// matched against. Previous keeps its original fingerprint whatever hash
// mode the comparison ran at. For deletions Record is the previous record
// and Previous is nil; for additions Previous is nil.
type Difference struct {
	Kind     Modification
	Record   FileRecord
	Previous *FileRecord
}

// CompareOptions selects the reconciliation mode and the ignore policy
type CompareOptions struct {
	// Corruption runs the hardware corruption scan: a same-name file whose
	// content changed while its dates did not is reported as corrupted.
	Corruption       bool
	IgnoreAttributes bool
	IgnoreDates      bool
	IgnoreRenamed    bool
	// Attributes strips attributes it does not support from the previous
	// state. nil keeps every attribute.
	Attributes AttributeProvider
}

// Comparison is the classified result of reconciling two states
type Comparison struct {
	Unchanged  int
	CommonMode HashMode
	Warnings   []string

	buckets map[Modification][]Difference
}

func newComparison(mode HashMode) *Comparison {
	return &Comparison{CommonMode: mode, buckets: make(map[Modification][]Difference)}
}

// Bucket returns the differences of one kind, sorted by path
func (c *Comparison) Bucket(kind Modification) []Difference {
	return c.buckets[kind]
}

// Count returns the number of differences of one kind
func (c *Comparison) Count(kind Modification) int {
	if kind == Unchanged {
		return c.Unchanged
	}
	return len(c.buckets[kind])
}

// Modified reports whether any difference was found
func (c *Comparison) Modified() bool {
	for _, b := range c.buckets {
		if len(b) > 0 {
			return true
		}
	}
	return false
}

// Differences returns every difference, grouped in report order
func (c *Comparison) Differences() []Difference {
	var all []Difference
	for _, kind := range Modifications {
		all = append(all, c.buckets[kind]...)
	}
	return all
}

// CurrentTotal returns unchanged plus every current-side classification.
// After a successful Reconcile it equals the current state's file count.
func (c *Comparison) CurrentTotal() int {
	total := c.Unchanged
	for kind, b := range c.buckets {
		if kind != Deleted {
			total += len(b)
		}
	}
	return total
}

// promoteToRenamed turns the first duplicated or copied entry whose previous
// record is source into a rename of it. Buckets must be sorted.
func (c *Comparison) promoteToRenamed(source string) bool {
	for _, kind := range []Modification{Duplicated, Copied} {
		for i, d := range c.buckets[kind] {
			if d.Previous == nil || d.Previous.Path != source {
				continue
			}
			c.buckets[kind] = append(c.buckets[kind][:i], c.buckets[kind][i+1:]...)
			d.Kind = Renamed
			c.buckets[Renamed] = append(c.buckets[Renamed], d)
			return true
		}
	}
	return false
}

func (c *Comparison) add(kind Modification, current *FileRecord, previous *FileRecord) {
	d := Difference{Kind: kind, Record: current.Clone()}
	if previous != nil {
		p := previous.Clone()
		d.Previous = &p
	}
	c.buckets[kind] = append(c.buckets[kind], d)
	if IsDebugEnabled("reconcile") {
		VerboseLog(3, "reconcile: %s %s", kind, current.Path)
	}
}

func (c *Comparison) sortBuckets() {
	for kind := range c.buckets {
		bucket := c.buckets[kind]
		sort.Slice(bucket, func(i, j int) bool { return bucket[i].Record.Path < bucket[j].Record.Path })
	}
}

func (c *Comparison) warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	c.Warnings = append(c.Warnings, msg)
	logger.Warn().Msg(msg)
}

// Reconcile classifies every file of curr against prev. prev may be nil,
// in which case every current file is added. Neither state is modified.
func Reconcile(prev, curr *State, opts CompareOptions) (*Comparison, error) {
	defer VerboseEnter()()

	if prev != nil {
		switch {
		case prev.Version != curr.Version:
			cmp := newComparison(curr.HashMode)
			cmp.warn("previous state has version %d, current is %d: comparing against an empty state", prev.Version, curr.Version)
			return reconcile(nil, curr, opts, cmp)
		case prev.HashAlgorithm != "" && curr.HashAlgorithm != "" && !strings.EqualFold(prev.HashAlgorithm, curr.HashAlgorithm):
			cmp := newComparison(curr.HashMode)
			cmp.warn("previous state was hashed with %s, current with %s: comparing against an empty state", prev.HashAlgorithm, curr.HashAlgorithm)
			return reconcile(nil, curr, opts, cmp)
		}
	}

	mode := curr.HashMode
	if prev != nil {
		mode = minMode(prev.HashMode, curr.HashMode)
	}
	return reconcile(prev, curr, opts, newComparison(mode))
}

func reconcile(prev, curr *State, opts CompareOptions, c *Comparison) (*Comparison, error) {
	mode := c.CommonMode
	var prevFiles []FileRecord
	if prev != nil {
		prevFiles = prev.Files
	}
	previous := prepareWork(prevFiles, mode, opts, true)
	current := prepareWork(curr.Files, mode, opts, false)

	// Pass 1: identical composite fingerprint
	pool := newRecordPool(16)
	composites := make(map[string]struct{}, len(previous))
	for i := range previous {
		composites[compositeKey(&previous[i].work)] = struct{}{}
		if !pool.Insert(&previous[i], poolMissing) {
			return nil, fmt.Errorf("%w: previous state lists %s twice", ErrReconcileInvariant, previous[i].work.Path)
		}
	}

	var pending []*workRecord
	for i := range current {
		w := &current[i]
		if _, ok := composites[compositeKey(&w.work)]; ok {
			if _, context := pool.Find(w.work.Path); context == poolMissing {
				pool.UpdateContext(w.work.Path, poolMatched)
				c.Unchanged++
				continue
			}
		}
		pending = append(pending, w)
	}

	// Pass 2: same name
	var unmatched []*workRecord
	for _, w := range pending {
		p, context := pool.Find(w.work.Path)
		if p == nil || context != poolMissing {
			unmatched = append(unmatched, w)
			continue
		}

		if opts.Corruption {
			if !p.work.SameContent(w.work) && p.work.Time.Equal(w.work.Time) {
				c.add(Corrupted, w.original, p.original)
			} else {
				c.Unchanged++
			}
			pool.UpdateContext(p.work.Path, poolMatched)
			continue
		}

		sameContent := p.work.SameContent(w.work)
		switch {
		case sameContent && !p.work.Time.Equal(w.work.Time):
			c.add(DateModified, w.original, p.original)
		case sameContent && !p.work.SameAttributes(w.work):
			c.add(AttributesModified, w.original, p.original)
		case sameContent:
			c.Unchanged++
		default:
			c.add(ContentModified, w.original, p.original)
			pool.UpdateContext(p.work.Path, poolModified)
			continue
		}
		pool.UpdateContext(p.work.Path, poolMatched)
	}

	// Pass 3: same content under another name
	var byContent map[string][]*workRecord
	if !opts.Corruption && mode != HashModeNone {
		byContent = make(map[string][]*workRecord)
		pool.ForEach(func(p *workRecord, _ string) bool {
			if p.work.Size > 0 {
				key := contentKey(&p.work)
				byContent[key] = append(byContent[key], p)
			}
			return true
		})
	}

	for _, w := range unmatched {
		if byContent == nil || w.work.Size == 0 {
			c.add(Added, w.original, nil)
			continue
		}
		candidates := byContent[contentKey(&w.work)]
		if len(candidates) == 0 {
			c.add(Added, w.original, nil)
			continue
		}

		// Prefer a record nobody has matched yet, then the first by path
		match := candidates[0]
		for _, candidate := range candidates {
			if _, context := pool.Find(candidate.work.Path); context == poolMissing {
				match = candidate
				break
			}
		}
		_, matchContext := pool.Find(match.work.Path)

		switch matchContext {
		case poolMissing:
			if opts.IgnoreRenamed {
				c.Unchanged++
			} else {
				c.add(Renamed, w.original, match.original)
			}
		case poolModified:
			c.add(Copied, w.original, match.original)
		default:
			c.add(Duplicated, w.original, match.original)
		}

		for _, candidate := range candidates {
			if _, context := pool.Find(candidate.work.Path); context == poolMissing {
				pool.UpdateContext(candidate.work.Path, poolClaimed)
			}
		}
	}

	// Pass 4: whatever is still missing was deleted, unless now ignored
	missing, ignored := pool.CountContext(poolMissing), 0
	pool.ForEachContext(poolMissing, func(p *workRecord) bool {
		if curr.IsIgnored(p.original.Path) {
			ignored++
		} else {
			c.add(Deleted, p.original, nil)
		}
		return true
	})
	if c.Count(Deleted)+ignored != missing {
		return nil, fmt.Errorf("%w: %d previous records unmatched, %d deleted and %d ignored", ErrReconcileInvariant, missing, c.Count(Deleted), ignored)
	}

	if total := c.CurrentTotal(); total != len(curr.Files) {
		return nil, fmt.Errorf("%w: %d records classified, current state has %d", ErrReconcileInvariant, total, len(curr.Files))
	}

	c.sortBuckets()

	VerboseLog(2, "reconciled %d files at %s: %d unchanged, %d added, %d deleted, %d modified",
		len(curr.Files), mode, c.Unchanged, c.Count(Added), c.Count(Deleted), c.Count(ContentModified))
	return c, nil
}

// prepareWork builds the side-table of working copies: fingerprints degraded
// to the common mode and ignored aspects cleared
func prepareWork(files []FileRecord, mode HashMode, opts CompareOptions, previous bool) []workRecord {
	out := make([]workRecord, len(files))
	for i := range files {
		work := files[i].Clone()
		work.Hash = work.Hash.Degrade(mode)
		if previous && opts.Attributes != nil {
			work.Attributes = stripUnsupported(work.Attributes, opts.Attributes)
		}
		if opts.IgnoreAttributes {
			work.Attributes = nil
		}
		if opts.IgnoreDates {
			work.Time = FileTime{}
		}
		out[i] = workRecord{work: work, original: &files[i]}
	}
	return out
}

// compositeKey identifies a record by name, length, time, content and attributes
func compositeKey(r *FileRecord) string {
	var sb strings.Builder
	sb.WriteString(r.Path)
	sb.WriteByte(0)
	sb.WriteString(strconv.FormatInt(r.Size, 10))
	sb.WriteByte(0)
	sb.WriteString(strconv.FormatInt(r.Time.Creation/1000, 10))
	sb.WriteByte(0)
	sb.WriteString(strconv.FormatInt(r.Time.LastModified/1000, 10))
	sb.WriteByte(0)
	sb.WriteString(r.Hash.Key())
	sb.WriteByte(0)
	sb.WriteString(r.attributesKey())
	return sb.String()
}

// contentKey identifies a record by length and fingerprint only
func contentKey(r *FileRecord) string {
	return strconv.FormatInt(r.Size, 10) + "|" + r.Hash.Key()
}
