package fileintegrity

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"strings"

	"github.com/zeebo/blake3"
)

// Hash type constants
const (
	HashTypeSHA1   uint16 = 1
	HashTypeSHA256 uint16 = 2
	HashTypeSHA512 uint16 = 3
	HashTypeBLAKE3 uint16 = 4
)

// DefaultHashAlgorithm is used when the configuration does not name one
const DefaultHashAlgorithm = "sha512"

// HashAlgorithm represents a hash algorithm configuration
type HashAlgorithm struct {
	Name    string
	TypeID  uint16
	Size    int
	NewFunc func() hash.Hash
}

// GetHashAlgorithm returns the hash algorithm configuration for the given name
func GetHashAlgorithm(name string) (*HashAlgorithm, error) {
	switch strings.ToLower(name) {
	case "sha1":
		return &HashAlgorithm{
			Name:    "sha1",
			TypeID:  HashTypeSHA1,
			Size:    sha1.Size,
			NewFunc: func() hash.Hash { return sha1.New() },
		}, nil
	case "sha256":
		return &HashAlgorithm{
			Name:    "sha256",
			TypeID:  HashTypeSHA256,
			Size:    sha256.Size,
			NewFunc: func() hash.Hash { return sha256.New() },
		}, nil
	case "sha512":
		return &HashAlgorithm{
			Name:    "sha512",
			TypeID:  HashTypeSHA512,
			Size:    sha512.Size,
			NewFunc: func() hash.Hash { return sha512.New() },
		}, nil
	case "blake3":
		return &HashAlgorithm{
			Name:    "blake3",
			TypeID:  HashTypeBLAKE3,
			Size:    32,
			NewFunc: func() hash.Hash { return blake3.New() },
		}, nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %s", name)
	}
}

// ValidateHashAlgorithm validates that a hash algorithm is supported
func ValidateHashAlgorithm(algorithm string) error {
	if _, err := GetHashAlgorithm(algorithm); err != nil {
		return fmt.Errorf("%w (supported: sha1, sha256, sha512, blake3)", err)
	}
	return nil
}
