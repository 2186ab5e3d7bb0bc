package fileintegrity

import (
	"os"
	"strings"
)

// Attribute names captured by PosixAttributes
const (
	AttrPosixPermissions = "posix:permissions"
	AttrPosixOwner       = "posix:owner"
	AttrPosixGroup       = "posix:group"
)

// AttributeProvider captures the platform attributes of a file as opaque
// name/value pairs and reports which attribute names the platform supports.
type AttributeProvider interface {
	Capture(absPath string, info os.FileInfo) (map[string]string, error)
	Supported(name string) bool
}

// NoAttributes captures nothing and supports nothing
type NoAttributes struct{}

func (NoAttributes) Capture(string, os.FileInfo) (map[string]string, error) {
	return nil, nil
}

func (NoAttributes) Supported(string) bool {
	return false
}

// PosixAttributes captures permission bits and numeric ownership
type PosixAttributes struct{}

// Capture returns the posix attributes of the file
func (PosixAttributes) Capture(absPath string, info os.FileInfo) (map[string]string, error) {
	attrs := map[string]string{
		AttrPosixPermissions: permissionString(info.Mode().Perm()),
	}
	owner, group, ok, err := fileOwner(absPath)
	if err != nil {
		return nil, err
	}
	if ok {
		attrs[AttrPosixOwner] = owner
		attrs[AttrPosixGroup] = group
	}
	return attrs, nil
}

// Supported reports whether name is a posix attribute available on this platform
func (PosixAttributes) Supported(name string) bool {
	switch name {
	case AttrPosixPermissions:
		return true
	case AttrPosixOwner, AttrPosixGroup:
		return ownershipSupported
	default:
		return false
	}
}

// permissionString renders permission bits the way ls does, e.g. rwxr-x---
func permissionString(perm os.FileMode) string {
	return strings.TrimPrefix(perm.String(), "-")
}

// stripUnsupported removes attributes the provider cannot capture, so they
// never show up as differences
func stripUnsupported(attrs map[string]string, provider AttributeProvider) map[string]string {
	if len(attrs) == 0 || provider == nil {
		return attrs
	}
	var out map[string]string
	for k, v := range attrs {
		if !provider.Supported(k) {
			continue
		}
		if out == nil {
			out = make(map[string]string, len(attrs))
		}
		out[k] = v
	}
	return out
}
