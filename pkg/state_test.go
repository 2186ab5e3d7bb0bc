package fileintegrity

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_CloneIsFaithful(t *testing.T) {
	s := fullState(record("a", "alpha", 0), record("b", "beta", 0))
	s.Files[0].Attributes = map[string]string{AttrPosixPermissions: "rw-r--r--"}
	require.NotNil(t, s.IgnoredFiles)
	require.Empty(t, s.IgnoredFiles)

	clone := s.Clone()
	if diff := cmp.Diff(s, clone); diff != "" {
		t.Errorf("clone differs (-state +clone):\n%s", diff)
	}
	assert.NotNil(t, clone.IgnoredFiles)
	assert.NotNil(t, s.DegradeTo(HashModeSmall).IgnoredFiles)

	clone.Files[0].Attributes[AttrPosixPermissions] = "rwxrwxrwx"
	assert.Equal(t, "rw-r--r--", s.Files[0].Attributes[AttrPosixPermissions])
}

func TestState_CloneCopiesIgnoredFiles(t *testing.T) {
	s := NewState(nil, HashModeFull, DefaultHashAlgorithm, []string{"cache/", "tmp/"})
	clone := s.Clone()
	clone.IgnoredFiles[0] = "other/"
	assert.Equal(t, []string{"cache/", "tmp/"}, s.IgnoredFiles)
}
