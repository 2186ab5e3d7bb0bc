package fileintegrity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultQueueTimeout bounds a single push to or pop from the scan queue.
// Exceeding it means the other side of the queue has stalled.
const DefaultQueueTimeout = 2 * time.Hour

// ScanOptions configures a Scanner
type ScanOptions struct {
	Mode         HashMode
	Algorithm    *HashAlgorithm    // nil selects DefaultHashAlgorithm
	Workers      int               // 0 lets the throughput scaler grow the pool
	Subdir       string            // slash-separated directory below the root to restrict the walk to
	Ignore       IgnoreRules       // nil ignores only the repository directory
	Filter       FilenameFilter
	Attributes   AttributeProvider // nil captures no attributes
	QueueTimeout time.Duration     // 0 selects DefaultQueueTimeout
}

// ScanStats summarises a finished scan
type ScanStats struct {
	Files       int64
	Skipped     int64
	BytesHashed int64
	Workers     int
	Duration    time.Duration
}

// ScanResult is the output of a walk: the sorted records and the ignored paths
type ScanResult struct {
	Files   []FileRecord
	Ignored []string
	Stats   ScanStats
}

// scanJob is one unit of work on the queue. record is set for re-hash jobs.
type scanJob struct {
	relPath string
	absPath string
	info    os.FileInfo
	record  *FileRecord
}

// scanProgress is shared between the walker, the workers and the scaler
type scanProgress struct {
	bytesHashed  atomic.Int64
	filesHashed  atomic.Int64
	filesSkipped atomic.Int64
	workers      atomic.Int32
}

// Scanner walks a directory tree and fingerprints every regular file
type Scanner struct {
	root      string
	opts      ScanOptions
	scanMutex sync.Mutex
}

// NewScanner creates a scanner rooted at root
func NewScanner(root string, opts ScanOptions) (*Scanner, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", root, err)
	}
	if opts.Algorithm == nil {
		opts.Algorithm, err = GetHashAlgorithm(DefaultHashAlgorithm)
		if err != nil {
			return nil, err
		}
	}
	if opts.Ignore == nil {
		opts.Ignore = noIgnore{}
	}
	if opts.Attributes == nil {
		opts.Attributes = NoAttributes{}
	}
	if opts.QueueTimeout <= 0 {
		opts.QueueTimeout = DefaultQueueTimeout
	}
	if err := ValidateWorkers(opts.Workers); err != nil {
		return nil, err
	}
	if err := opts.Filter.ValidatePatterns(); err != nil {
		return nil, err
	}
	opts.Subdir = strings.Trim(filepath.ToSlash(filepath.Clean("/"+opts.Subdir)), "/")
	return &Scanner{root: absRoot, opts: opts}, nil
}

// Root returns the absolute root directory
func (s *Scanner) Root() string {
	return s.root
}

// Options returns the effective options
func (s *Scanner) Options() ScanOptions {
	return s.opts
}

// Scan walks the tree and returns a record for every regular file that is
// neither ignored nor filtered out. Files that cannot be read are logged and
// skipped.
func (s *Scanner) Scan(ctx context.Context) (*ScanResult, error) {
	defer VerboseEnter()()
	s.scanMutex.Lock()
	defer s.scanMutex.Unlock()

	start := time.Now()
	var ignored []string
	produce := func(ctx context.Context, push func(scanJob) error) error {
		var err error
		ignored, err = s.walk(ctx, push)
		return err
	}

	files, progress, workers, err := s.run(ctx, produce)
	if err != nil {
		return nil, err
	}
	sort.Strings(ignored)

	result := &ScanResult{
		Files:   files,
		Ignored: ignored,
		Stats: ScanStats{
			Files:       progress.filesHashed.Load(),
			Skipped:     progress.filesSkipped.Load(),
			BytesHashed: progress.bytesHashed.Load(),
			Workers:     workers,
			Duration:    time.Since(start),
		},
	}
	VerboseLog(1, "scanned %d files (%d skipped) with %d workers in %s",
		result.Stats.Files, result.Stats.Skipped, workers, result.Stats.Duration.Round(time.Millisecond))
	return result, nil
}

// Rehash recomputes the fingerprints of already known records at the
// scanner's hash mode. Every other field is kept. A record whose file cannot
// be read is returned unchanged.
func (s *Scanner) Rehash(ctx context.Context, records []FileRecord) ([]FileRecord, error) {
	defer VerboseEnter()()
	s.scanMutex.Lock()
	defer s.scanMutex.Unlock()

	produce := func(ctx context.Context, push func(scanJob) error) error {
		for i := range records {
			record := records[i].Clone()
			job := scanJob{
				relPath: record.Path,
				absPath: filepath.Join(s.root, filepath.FromSlash(record.Path)),
				record:  &record,
			}
			if err := push(job); err != nil {
				return err
			}
		}
		return nil
	}

	files, _, _, err := s.run(ctx, produce)
	return files, err
}

// run drives one producer and the hash worker pool to completion
func (s *Scanner) run(parent context.Context, produce func(context.Context, func(scanJob) error) error) ([]FileRecord, *scanProgress, int, error) {
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	progress := &scanProgress{}
	queue := make(chan scanJob, QueueCapacity)

	pool := newWorkerPool(ctx, cancel, s, queue, progress)

	var producerWg sync.WaitGroup
	producerWg.Add(1)
	go func() {
		defer producerWg.Done()
		defer close(queue)
		push := func(job scanJob) error {
			timer := time.NewTimer(s.opts.QueueTimeout)
			defer timer.Stop()
			select {
			case queue <- job:
				return nil
			case <-timer.C:
				return fmt.Errorf("%w: enqueue of %s blocked for %s", ErrQueueTimeout, job.relPath, s.opts.QueueTimeout)
			case <-ctx.Done():
				return context.Cause(ctx)
			}
		}
		if err := produce(ctx, push); err != nil {
			cancel(err)
		}
	}()

	stopScaler := func() {}
	switch {
	case s.opts.Mode == HashModeNone:
		pool.Add()
	case s.opts.Workers > 0:
		for i := 0; i < s.opts.Workers; i++ {
			pool.Add()
		}
	default:
		pool.Add()
		scaler := NewThroughputScaler(progress, pool.Add)
		scalerCtx, scalerCancel := context.WithCancel(ctx)
		var scalerWg sync.WaitGroup
		scalerWg.Add(1)
		go func() {
			defer scalerWg.Done()
			scaler.Run(scalerCtx)
		}()
		stopScaler = func() {
			scalerCancel()
			scalerWg.Wait()
		}
	}

	producerWg.Wait()
	// The pool cannot grow once the scaler has returned, so Wait is safe
	stopScaler()
	files := pool.Wait()

	if err := context.Cause(ctx); err != nil {
		if parent.Err() != nil {
			return nil, progress, pool.Size(), parent.Err()
		}
		return nil, progress, pool.Size(), err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, progress, pool.Size(), nil
}

// walk traverses the tree depth-first in name order, pushing every regular
// file that passes the ignore rules and the filename filter. It returns the
// ignored paths; directories carry a trailing slash.
func (s *Scanner) walk(ctx context.Context, push func(scanJob) error) ([]string, error) {
	var ignored []string
	start := s.root
	if s.opts.Subdir != "" {
		start = filepath.Join(s.root, filepath.FromSlash(s.opts.Subdir))
	}

	var walkDir func(absDir, relDir string) error
	walkDir = func(absDir, relDir string) error {
		if err := ctx.Err(); err != nil {
			return context.Cause(ctx)
		}

		entries, err := os.ReadDir(absDir)
		if err != nil {
			logger.Warn().Str("path", relDir).Err(err).Msg("cannot read directory, skipping")
			return nil
		}

		for _, entry := range entries {
			relPath := entry.Name()
			if relDir != "" {
				relPath = relDir + "/" + entry.Name()
			}
			absPath := filepath.Join(absDir, entry.Name())

			if entry.IsDir() {
				if s.opts.Ignore.IsIgnored(relPath, true) {
					if !isRepoPath(relPath) {
						ignored = append(ignored, relPath+"/")
					}
					continue
				}
				if err := walkDir(absPath, relPath); err != nil {
					return err
				}
				continue
			}

			if !entry.Type().IsRegular() {
				continue
			}
			if s.opts.Ignore.IsIgnored(relPath, false) {
				if !isRepoPath(relPath) {
					ignored = append(ignored, relPath)
				}
				continue
			}
			if !s.opts.Filter.Match(relPath) {
				continue
			}

			info, err := entry.Info()
			if err != nil {
				logger.Warn().Str("path", relPath).Err(err).Msg("cannot stat file, skipping")
				continue
			}
			if IsDebugEnabled("scan") {
				VerboseLog(3, "walk: found file %s", relPath)
			}
			if err := push(scanJob{relPath: relPath, absPath: absPath, info: info}); err != nil {
				return err
			}
		}
		return nil
	}

	info, err := os.Stat(start)
	if err != nil {
		return nil, fmt.Errorf("failed to stat scan root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan root %s is not a directory", start)
	}
	return ignored, walkDir(start, s.opts.Subdir)
}

func isRepoPath(relPath string) bool {
	return relPath == RepoDirName || strings.HasPrefix(relPath, RepoDirName+"/")
}

// workerPool owns the hash workers of one run. Each worker keeps its own
// stream merger and result list; lists are only gathered after Wait.
type workerPool struct {
	ctx      context.Context
	cancel   context.CancelCauseFunc
	scanner  *Scanner
	queue    <-chan scanJob
	progress *scanProgress

	mu      sync.Mutex
	wg      sync.WaitGroup
	workers []*hashWorker
}

func newWorkerPool(ctx context.Context, cancel context.CancelCauseFunc, s *Scanner, queue <-chan scanJob, progress *scanProgress) *workerPool {
	return &workerPool{ctx: ctx, cancel: cancel, scanner: s, queue: queue, progress: progress}
}

// Add starts one more worker
func (p *workerPool) Add() {
	p.mu.Lock()
	defer p.mu.Unlock()

	w := &hashWorker{
		id:       len(p.workers) + 1,
		pool:     p,
		merger:   NewStreamMerger(p.scanner.opts.Algorithm, p.scanner.opts.Mode),
		progress: p.progress,
	}
	p.workers = append(p.workers, w)
	p.progress.workers.Add(1)
	p.wg.Add(1)
	go w.run()
}

// Size returns how many workers were started
func (p *workerPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Wait blocks until every worker has drained the queue and returns the
// concatenated results
func (p *workerPool) Wait() []FileRecord {
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, w := range p.workers {
		total += len(w.results)
	}
	files := make([]FileRecord, 0, total)
	for _, w := range p.workers {
		files = append(files, w.results...)
	}
	return files
}

type hashWorker struct {
	id       int
	pool     *workerPool
	merger   *StreamMerger
	progress *scanProgress
	results  []FileRecord
}

func (w *hashWorker) run() {
	defer w.pool.wg.Done()
	timeout := w.pool.scanner.opts.QueueTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(timeout)

		select {
		case job, ok := <-w.pool.queue:
			if !ok {
				return
			}
			w.handle(job)
		case <-timer.C:
			w.pool.cancel(fmt.Errorf("%w: worker %d waited %s for work", ErrQueueTimeout, w.id, timeout))
			return
		case <-w.pool.ctx.Done():
			return
		}
	}
}

func (w *hashWorker) handle(job scanJob) {
	record, err := w.process(job)
	switch {
	case err == nil:
		w.results = append(w.results, record)
		w.progress.filesHashed.Add(1)
	case errors.Is(err, ErrHashIncomplete):
		w.pool.cancel(err)
	case job.record != nil:
		logger.Warn().Str("path", job.relPath).Err(err).Msg("cannot re-hash file, keeping previous fingerprint")
		w.results = append(w.results, *job.record)
		w.progress.filesSkipped.Add(1)
	default:
		logger.Warn().Str("path", job.relPath).Err(err).Msg("cannot hash file, skipping")
		w.progress.filesSkipped.Add(1)
	}
}

// process builds the record for one job
func (w *hashWorker) process(job scanJob) (FileRecord, error) {
	f, err := os.Open(job.absPath)
	if err != nil {
		return FileRecord{}, err
	}
	defer f.Close()

	info := job.info
	if info == nil {
		if info, err = f.Stat(); err != nil {
			return FileRecord{}, err
		}
	}

	if w.merger.Mode() != HashModeNone {
		adviseAccess(f, w.merger.Mode())
	}
	reader := &countingReaderAt{r: f, counter: &w.progress.bytesHashed}
	hash, _, err := w.merger.HashReader(reader, info.Size())
	if err != nil {
		return FileRecord{}, err
	}

	if job.record != nil {
		record := *job.record
		record.Hash = hash
		return record, nil
	}

	times, err := fileTimes(job.absPath, info)
	if err != nil {
		return FileRecord{}, err
	}
	attrs, err := w.pool.scanner.opts.Attributes.Capture(job.absPath, info)
	if err != nil {
		return FileRecord{}, fmt.Errorf("failed to capture attributes: %w", err)
	}

	if IsDebugEnabled("scan") {
		VerboseLog(3, "worker %d: hashed %s", w.id, job.relPath)
	}
	return FileRecord{
		Path:       job.relPath,
		Size:       info.Size(),
		Time:       times,
		Hash:       hash,
		Attributes: attrs,
	}, nil
}

// countingReaderAt adds every byte read to a shared counter
type countingReaderAt struct {
	r       io.ReaderAt
	counter *atomic.Int64
}

func (c *countingReaderAt) ReadAt(p []byte, off int64) (int, error) {
	n, err := c.r.ReadAt(p, off)
	c.counter.Add(int64(n))
	return n, err
}
