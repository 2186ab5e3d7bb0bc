package fileintegrity

import (
	"strings"

	zcsl "github.com/mattkeenan/zerocopyskiplist"
)

// Pool contexts of a previous record during reconciliation
const (
	poolMissing  = "missing"  // not yet matched by any current record
	poolMatched  = "matched"  // matched by name or content
	poolModified = "modified" // matched by name with different content
	poolClaimed  = "claimed"  // consumed by a hash match
)

// workRecord is the reconciliation side-table entry for one record. The
// persisted FileRecord is never mutated; comparisons use the working copy.
type workRecord struct {
	work     FileRecord // degraded and policy-nulled copy used for comparison
	original *FileRecord
}

// recordPool is a path-ordered pool of previous records with a context per
// entry tracking how far each record got through reconciliation
type recordPool struct {
	skiplist *zcsl.ZeroCopySkiplist[workRecord, string, string]
}

func newRecordPool(maxLevels int) *recordPool {
	if maxLevels < 8 {
		maxLevels = 16
	}

	getKeyFromItem := func(w *workRecord) string {
		return w.work.Path
	}
	getItemSize := func(w *workRecord) int {
		return int(w.work.Size)
	}
	cmpKey := func(a, b string) int {
		return strings.Compare(a, b)
	}

	return &recordPool{
		skiplist: zcsl.MakeZeroCopySkiplist[workRecord, string, string](
			maxLevels,
			getKeyFromItem,
			getItemSize,
			cmpKey,
		),
	}
}

// Insert adds a record with the given context
func (p *recordPool) Insert(w *workRecord, context string) bool {
	return p.skiplist.Insert(w, context)
}

// Find returns the record stored under path and its context
func (p *recordPool) Find(path string) (*workRecord, string) {
	node, context := p.skiplist.Find(path)
	if node == nil {
		return nil, ""
	}
	return node.Item(), context
}

// UpdateContext moves the record stored under path to a new context
func (p *recordPool) UpdateContext(path, context string) bool {
	return p.skiplist.UpdateContext(path, context)
}

// ForEach iterates through all records in path order
func (p *recordPool) ForEach(callback func(*workRecord, string) bool) {
	for current := p.skiplist.First(); current != nil; current = current.Next() {
		if !callback(current.Item(), current.Context()) {
			break
		}
	}
}

// ForEachContext iterates through records in the given context, in path order
func (p *recordPool) ForEachContext(context string, callback func(*workRecord) bool) {
	p.ForEach(func(w *workRecord, entryContext string) bool {
		if entryContext == context {
			return callback(w)
		}
		return true
	})
}

// CountContext returns how many records are in the given context
func (p *recordPool) CountContext(context string) int {
	count := 0
	p.ForEachContext(context, func(*workRecord) bool {
		count++
		return true
	})
	return count
}

