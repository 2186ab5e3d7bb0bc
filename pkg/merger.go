package fileintegrity

import (
	"errors"
	"fmt"
	"io"
)

// StreamMerger drives the small, medium and full streams over one file,
// choosing each physical read so that every active stream is served and no
// byte is read twice.
type StreamMerger struct {
	small  HashStream
	medium HashStream
	full   HashStream
	mode   HashMode
	buffer []byte
}

// NewStreamMerger creates a merger using the given digest algorithm
func NewStreamMerger(algorithm *HashAlgorithm, mode HashMode) *StreamMerger {
	return &StreamMerger{
		small:  newSampledStream(algorithm, SmallBlockSize),
		medium: newSampledStream(algorithm, MediumBlockSize),
		full:   newFullStream(algorithm, FullChunkSize),
		mode:   mode,
	}
}

// Mode returns the hash mode the merger computes
func (m *StreamMerger) Mode() HashMode {
	return m.mode
}

// Reset prepares every stream for a file of the given size
func (m *StreamMerger) Reset(fileSize int64) {
	m.small.Reset(fileSize, m.mode.Computes(HashModeSmall))
	m.medium.Reset(fileSize, m.mode.Computes(HashModeMedium))
	m.full.Reset(fileSize, m.mode.Computes(HashModeFull))
}

// NextFetchRange returns the next contiguous range to read from storage
func (m *StreamMerger) NextFetchRange(cursor int64) (Range, bool) {
	if m.full.Active() {
		r, ok := m.full.NextRange(cursor)
		if !ok {
			return Range{}, false
		}
		if s, ok := m.medium.NextRange(cursor); ok {
			r = r.AdjustToContain(s)
		}
		if s, ok := m.small.NextRange(cursor); ok {
			r = r.AdjustToContain(s)
		}
		return r, true
	}

	s, smallOK := m.small.NextRange(cursor)
	md, mediumOK := m.medium.NextRange(cursor)
	switch {
	case smallOK && mediumOK:
		if !s.Touches(md) {
			if s.From < md.From {
				return s, true
			}
			return md, true
		}
		return s.Union(md), true
	case smallOK:
		return s, true
	case mediumOK:
		return md, true
	default:
		return Range{}, false
	}
}

// Update broadcasts fetched bytes to every active stream
func (m *StreamMerger) Update(position int64, data []byte) {
	m.small.Update(position, data)
	m.medium.Update(position, data)
	m.full.Update(position, data)
}

// Complete verifies that every active stream consumed all of its ranges
func (m *StreamMerger) Complete() error {
	streams := []struct {
		name   string
		stream HashStream
	}{
		{"small", m.small},
		{"medium", m.medium},
		{"full", m.full},
	}
	for _, s := range streams {
		if s.stream.Active() && !s.stream.HashComplete() {
			return fmt.Errorf("%w: %s stream", ErrHashIncomplete, s.name)
		}
	}
	return nil
}

// Fingerprint finalises the streams
func (m *StreamMerger) Fingerprint() Fingerprint {
	return Fingerprint{
		Small:  m.small.Digest(),
		Medium: m.medium.Digest(),
		Full:   m.full.Digest(),
	}
}

// HashReader fingerprints size bytes read from r. The returned count is the
// number of bytes physically read.
func (m *StreamMerger) HashReader(r io.ReaderAt, size int64) (Fingerprint, int64, error) {
	m.Reset(size)
	if m.mode == HashModeNone {
		return m.Fingerprint(), 0, nil
	}

	var read int64
	cursor := int64(0)
	for {
		fetch, ok := m.NextFetchRange(cursor)
		if !ok {
			break
		}
		if fetch.IsEmpty() {
			return Fingerprint{}, read, fmt.Errorf("%w: empty fetch range %s", ErrHashIncomplete, fetch)
		}
		buf := m.grow(fetch.Len())
		n, err := r.ReadAt(buf, fetch.From)
		if err != nil && !(errors.Is(err, io.EOF) && int64(n) == fetch.Len()) {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return Fingerprint{}, read, fmt.Errorf("failed to read %s: %w", fetch, err)
		}
		read += int64(n)
		m.Update(fetch.From, buf[:n])
		cursor = fetch.To
	}

	if err := m.Complete(); err != nil {
		return Fingerprint{}, read, err
	}
	return m.Fingerprint(), read, nil
}

func (m *StreamMerger) grow(size int64) []byte {
	if int64(cap(m.buffer)) < size {
		m.buffer = make([]byte, size)
	}
	return m.buffer[:size]
}
