// Package fileintegrity snapshots a directory tree into integrity-checked
// states and reconciles two states to classify every file as unchanged,
// added, deleted, content-modified, date-modified, attributes-modified,
// renamed, copied, duplicated or corrupted.
//
// # Core API
//
// The main entry point is Tracker, which manages the .fit repository of a
// directory:
//
//	t, _ := fileintegrity.NewTracker("/path/to/dir")
//	n, err := t.Init(ctx, "first state")
//
// Compare the tree with the last state:
//
//	result, err := t.Status(ctx, fileintegrity.StatusOptions{})
//	for _, d := range result.Comparison.Differences() {
//		fmt.Printf("%s %s\n", d.Kind, d.Record.Path)
//	}
//
// Find duplicate files (needs full hashing):
//
//	sets, err := t.FindDuplicates(ctx)
//
// # Hashing
//
// Every file gets a three-slot Fingerprint. The small and medium slots hash
// up to three sampled blocks of 4 KiB and 1 MiB; the full slot hashes the
// whole content. A StreamMerger reads each byte at most once while serving
// all active slots. The HashMode decides which slots are computed; slots
// that are not hold the NoHash sentinel.
//
// The lower-level pieces can be used on their own: Scanner walks and
// fingerprints a tree, Reconcile compares two States, FindDuplicates groups
// one State by content and Store persists States.
//
// # Configuration
//
// Enable debug output:
//
//	fileintegrity.SetDebugFlags("scan,reconcile,scaler")
//	fileintegrity.SetVerboseLevel(2)
package fileintegrity
