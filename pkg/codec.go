package fileintegrity

import (
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// stateDomainKey separates state digests from any other BLAKE3 keyed hash.
var stateDomainKey = [32]byte{
	'f', 'i', 't', '.', 's', 't', 'a', 't', 'e', '.', 'c', 'o', 'n', 't', 'e', 'n',
	't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// encMode uses Core Deterministic Encoding so the same content always
// produces the same bytes (sorted map keys, shortest integers).
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("fileintegrity: CBOR encoder initialisation failed: " + err.Error())
	}
}

type digestRecord struct {
	Path       string            `cbor:"path"`
	Size       int64             `cbor:"size"`
	Time       FileTime          `cbor:"time"`
	Hash       Fingerprint       `cbor:"hash"`
	Attributes map[string]string `cbor:"attributes,omitempty"`
}

type digestContent struct {
	Files   []digestRecord `cbor:"files"`
	Ignored []string       `cbor:"ignored"`
}

// ComputeStateHash returns the integrity digest over the normalised content
// of a State: every record and the ignored set, independent of input order.
func ComputeStateHash(s *State) (string, error) {
	content := digestContent{
		Files:   make([]digestRecord, 0, len(s.Files)),
		Ignored: append([]string{}, s.IgnoredFiles...),
	}
	for _, f := range s.Files {
		record := digestRecord{Path: f.Path, Size: f.Size, Time: f.Time, Hash: f.Hash}
		if len(f.Attributes) > 0 {
			record.Attributes = f.Attributes
		}
		content.Files = append(content.Files, record)
	}
	sort.Slice(content.Files, func(i, j int) bool { return content.Files[i].Path < content.Files[j].Path })
	sort.Strings(content.Ignored)

	data, err := encMode.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("failed to encode state content: %w", err)
	}

	hasher, err := blake3.NewKeyed(stateDomainKey[:])
	if err != nil {
		return "", fmt.Errorf("failed to create state hasher: %w", err)
	}
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Seal computes and stores the integrity digest of the state
func (s *State) Seal() error {
	digest, err := ComputeStateHash(s)
	if err != nil {
		return err
	}
	s.StateHash = digest
	return nil
}

// Verify recomputes the integrity digest and compares it with the stored one
func (s *State) Verify() error {
	digest, err := ComputeStateHash(s)
	if err != nil {
		return err
	}
	if digest != s.StateHash {
		return fmt.Errorf("%w: digest %s does not match stored %s", ErrCorruptedState, digest, s.StateHash)
	}
	return nil
}
