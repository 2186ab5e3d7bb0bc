package fileintegrity

import (
	"encoding/hex"
	"hash"
)

// HashStream accumulates one fingerprint slot from the byte ranges it declares
// for the current file. A stream that is not active for the current hash mode
// declares no ranges and reports the NoHash sentinel as its digest.
type HashStream interface {
	// Reset prepares the stream for a file of the given size.
	Reset(fileSize int64, active bool)
	// Active reports whether the stream is computed for the current file.
	Active() bool
	// NextRange returns the first declared range not yet consumed at or
	// after cursor, clipped to start no earlier than cursor.
	NextRange(cursor int64) (Range, bool)
	// Update feeds the parts of data (which starts at position) that fall
	// inside the declared ranges.
	Update(position int64, data []byte)
	// HashComplete reports whether every declared byte has been consumed.
	HashComplete() bool
	// Digest finalises the stream and returns the hex digest or NoHash.
	Digest() string
	// Ranges returns the declared ranges for the current file.
	Ranges() []Range
}

// streamBase holds the range bookkeeping and digest accumulation shared by
// all stream kinds.
type streamBase struct {
	hasher   hash.Hash
	active   bool
	ranges   []Range
	next     int   // first range that may still be unconsumed
	fedTo    int64 // bytes before this position have been fed
	total    int64
	consumed int64
}

func newStreamBase(algorithm *HashAlgorithm) streamBase {
	return streamBase{hasher: algorithm.NewFunc()}
}

func (b *streamBase) reset(ranges []Range, active bool) {
	b.hasher.Reset()
	b.active = active
	b.ranges = ranges
	b.next = 0
	b.fedTo = 0
	b.consumed = 0
	b.total = 0
	for _, r := range ranges {
		b.total += r.Len()
	}
}

func (b *streamBase) Active() bool {
	return b.active
}

func (b *streamBase) Ranges() []Range {
	return b.ranges
}

func (b *streamBase) NextRange(cursor int64) (Range, bool) {
	if !b.active {
		return Range{}, false
	}
	for b.next < len(b.ranges) && b.ranges[b.next].To <= cursor {
		b.next++
	}
	if b.next >= len(b.ranges) {
		return Range{}, false
	}
	r := b.ranges[b.next]
	if r.From < cursor {
		r.From = cursor
	}
	return r, true
}

func (b *streamBase) Update(position int64, data []byte) {
	if !b.active || len(data) == 0 {
		return
	}
	chunk := Range{From: position, To: position + int64(len(data))}
	for i := b.next; i < len(b.ranges); i++ {
		r := b.ranges[i]
		if r.From >= chunk.To {
			break
		}
		overlap := r.Intersect(chunk)
		if overlap.From < b.fedTo {
			overlap.From = b.fedTo
		}
		if overlap.IsEmpty() {
			continue
		}
		b.hasher.Write(data[overlap.From-position : overlap.To-position])
		b.consumed += overlap.Len()
		b.fedTo = overlap.To
	}
}

func (b *streamBase) HashComplete() bool {
	return b.consumed == b.total
}

func (b *streamBase) Digest() string {
	if !b.active {
		return NoHash
	}
	return hex.EncodeToString(b.hasher.Sum(nil))
}

// sampledStream hashes at most three blocks of a fixed size: the second
// block, the middle block and the last whole block, depending on file size.
type sampledStream struct {
	streamBase
	blockSize int64
}

func newSampledStream(algorithm *HashAlgorithm, blockSize int64) *sampledStream {
	return &sampledStream{streamBase: newStreamBase(algorithm), blockSize: blockSize}
}

func (s *sampledStream) Reset(fileSize int64, active bool) {
	if !active {
		s.reset(nil, false)
		return
	}
	s.reset(sampleRanges(fileSize, s.blockSize), true)
}

// sampleRanges returns the block ranges sampled for a file. Block 1 is used
// in preference to block 0 so that common file headers are skipped.
func sampleRanges(fileSize, blockSize int64) []Range {
	blocks := fileSize / blockSize
	var indexes []int64
	switch {
	case fileSize > 4*blockSize:
		indexes = []int64{1, blocks / 2, blocks - 1}
	case fileSize > 3*blockSize:
		indexes = []int64{1, blocks - 1}
	case fileSize > 2*blockSize:
		indexes = []int64{1}
	default:
		indexes = []int64{0}
	}

	ranges := make([]Range, 0, len(indexes))
	for _, index := range indexes {
		from := min(fileSize, index*blockSize)
		to := min(fileSize, index*blockSize+blockSize)
		if to > from {
			ranges = append(ranges, Range{From: from, To: to})
		}
	}
	return ranges
}

// fullStream hashes the whole file in sequential chunks.
type fullStream struct {
	streamBase
	chunkSize int64
}

func newFullStream(algorithm *HashAlgorithm, chunkSize int64) *fullStream {
	return &fullStream{streamBase: newStreamBase(algorithm), chunkSize: chunkSize}
}

func (s *fullStream) Reset(fileSize int64, active bool) {
	if !active {
		s.reset(nil, false)
		return
	}
	var ranges []Range
	for from := int64(0); from < fileSize; from += s.chunkSize {
		ranges = append(ranges, Range{From: from, To: min(fileSize, from+s.chunkSize)})
	}
	s.reset(ranges, true)
}
