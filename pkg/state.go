package fileintegrity

import (
	"path"
	"sort"
	"strings"
	"time"
)

// Fingerprint holds the three content digests of a file. A slot that was not
// computed holds NoHash, never an empty string.
type Fingerprint struct {
	Small  string `json:"small" cbor:"small"`
	Medium string `json:"medium" cbor:"medium"`
	Full   string `json:"full" cbor:"full"`
}

// EmptyFingerprint returns a fingerprint with every slot set to NoHash
func EmptyFingerprint() Fingerprint {
	return Fingerprint{Small: NoHash, Medium: NoHash, Full: NoHash}
}

// Degrade returns a copy with every slot stronger than mode replaced by NoHash
func (f Fingerprint) Degrade(mode HashMode) Fingerprint {
	out := f
	if !mode.Computes(HashModeSmall) {
		out.Small = NoHash
	}
	if !mode.Computes(HashModeMedium) {
		out.Medium = NoHash
	}
	if !mode.Computes(HashModeFull) {
		out.Full = NoHash
	}
	return out
}

// IsEmpty reports whether no slot holds a digest
func (f Fingerprint) IsEmpty() bool {
	return f.Small == NoHash && f.Medium == NoHash && f.Full == NoHash
}

// Key returns a string usable as a map key for identity comparisons
func (f Fingerprint) Key() string {
	return f.Small + "|" + f.Medium + "|" + f.Full
}

// FileTime is the time pair of a file in milliseconds since the epoch
type FileTime struct {
	Creation     int64 `json:"creation" cbor:"creation"`
	LastModified int64 `json:"lastModified" cbor:"lastModified"`
}

// NewFileTime builds a FileTime from wall-clock values
func NewFileTime(creation, lastModified time.Time) FileTime {
	return FileTime{Creation: creation.UnixMilli(), LastModified: lastModified.UnixMilli()}
}

// Equal compares at second resolution to tolerate filesystem rounding
func (t FileTime) Equal(o FileTime) bool {
	return t.Creation/1000 == o.Creation/1000 && t.LastModified/1000 == o.LastModified/1000
}

// FileRecord describes one tracked file
type FileRecord struct {
	Path       string            `json:"path"`
	Size       int64             `json:"size"`
	Time       FileTime          `json:"time"`
	Hash       Fingerprint       `json:"hash"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Clone returns a deep copy of the record
func (r FileRecord) Clone() FileRecord {
	out := r
	if r.Attributes != nil {
		out.Attributes = make(map[string]string, len(r.Attributes))
		for k, v := range r.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}

// SameContent reports whether both records have the same length and fingerprint
func (r FileRecord) SameContent(o FileRecord) bool {
	return r.Size == o.Size && r.Hash == o.Hash
}

// SameAttributes compares the attribute maps, treating nil and empty alike
func (r FileRecord) SameAttributes(o FileRecord) bool {
	if len(r.Attributes) != len(o.Attributes) {
		return false
	}
	for k, v := range r.Attributes {
		if ov, ok := o.Attributes[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// attributesKey renders the attributes in a stable order
func (r FileRecord) attributesKey() string {
	if len(r.Attributes) == 0 {
		return ""
	}
	keys := make([]string, 0, len(r.Attributes))
	for k := range r.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(r.Attributes[k])
		sb.WriteByte(';')
	}
	return sb.String()
}

// State is a snapshot of every tracked file at one point in time
type State struct {
	Version            int          `json:"version"`
	Timestamp          time.Time    `json:"timestamp"`
	Comment            string       `json:"comment"`
	FileCount          int          `json:"fileCount"`
	FilesContentLength int64        `json:"filesContentLength"`
	HashMode           HashMode     `json:"hashMode"`
	HashAlgorithm      string       `json:"hashAlgorithm"`
	Files              []FileRecord `json:"files"`
	IgnoredFiles       []string     `json:"ignoredFiles"`
	StateHash          string       `json:"stateHash"`
}

// NewState assembles a State from records, sorting them by path
func NewState(files []FileRecord, mode HashMode, algorithm string, ignored []string) *State {
	s := &State{
		Version:       CurrentStateVersion,
		Timestamp:     time.Now().UTC(),
		HashMode:      mode,
		HashAlgorithm: algorithm,
		Files:         files,
		IgnoredFiles:  ignored,
	}
	s.normalise()
	return s
}

// normalise sorts files and ignored paths and recomputes totals
func (s *State) normalise() {
	sort.Slice(s.Files, func(i, j int) bool { return s.Files[i].Path < s.Files[j].Path })
	if s.IgnoredFiles == nil {
		s.IgnoredFiles = []string{}
	}
	sort.Strings(s.IgnoredFiles)
	s.FileCount = len(s.Files)
	s.FilesContentLength = 0
	for _, f := range s.Files {
		s.FilesContentLength += f.Size
	}
}

// Clone returns a deep copy of the state
func (s *State) Clone() *State {
	out := *s
	out.Files = make([]FileRecord, len(s.Files))
	for i, f := range s.Files {
		out.Files[i] = f.Clone()
	}
	if s.IgnoredFiles != nil {
		out.IgnoredFiles = make([]string, len(s.IgnoredFiles))
		copy(out.IgnoredFiles, s.IgnoredFiles)
	}
	return &out
}

// FilterDirectory returns a new State holding only the records under dir.
// The receiver is not modified.
func (s *State) FilterDirectory(dir string) *State {
	dir = strings.Trim(path.Clean("/"+dir), "/")
	out := s.Clone()
	if dir == "" {
		return out
	}
	prefix := dir + "/"
	files := out.Files[:0]
	for _, f := range out.Files {
		if strings.HasPrefix(f.Path, prefix) {
			files = append(files, f)
		}
	}
	out.Files = files
	ignored := out.IgnoredFiles[:0]
	for _, p := range out.IgnoredFiles {
		if strings.HasPrefix(p, prefix) {
			ignored = append(ignored, p)
		}
	}
	out.IgnoredFiles = ignored
	out.normalise()
	return out
}

// DegradeTo returns a copy whose fingerprints only carry slots computed by mode
func (s *State) DegradeTo(mode HashMode) *State {
	out := s.Clone()
	if mode >= s.HashMode {
		return out
	}
	for i := range out.Files {
		out.Files[i].Hash = out.Files[i].Hash.Degrade(mode)
	}
	out.HashMode = mode
	return out
}

// IsIgnored reports whether path falls under one of the ignored prefixes
func (s *State) IsIgnored(p string) bool {
	for _, ignored := range s.IgnoredFiles {
		if p == strings.TrimSuffix(ignored, "/") || (strings.HasSuffix(ignored, "/") && strings.HasPrefix(p, ignored)) {
			return true
		}
	}
	return false
}
