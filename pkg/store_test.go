package fileintegrity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, compression Compression) *Store {
	t.Helper()
	store := NewStore(t.TempDir(), compression)
	require.NoError(t, store.Initialise())
	return store
}

func sampleState(comment string) *State {
	attrs := record("docs/readme.md", "hello", 1000)
	attrs.Attributes = map[string]string{AttrPosixPermissions: "rw-r--r--"}
	state := NewState([]FileRecord{
		record("b.bin", "binary", 0),
		attrs,
		record("a.txt", "alpha", 2000),
		record("empty", "", 0),
	}, HashModeFull, DefaultHashAlgorithm, []string{"build/", "core"})
	state.Comment = comment
	return state
}

func TestStore_RoundTrip(t *testing.T) {
	for _, compression := range []Compression{CompressionZstd, CompressionLZ4} {
		t.Run(compression.String(), func(t *testing.T) {
			store := newTestStore(t, compression)
			original := sampleState("first")

			n, err := store.Save(original)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
			assert.NotEmpty(t, original.StateHash)
			assert.FileExists(t, filepath.Join(store.StatesDir, "state_1.json."+compression.Extension()))

			loaded, err := store.Load(1, HashModeFull)
			require.NoError(t, err)
			require.NoError(t, loaded.Verify())
			if diff := cmp.Diff(original, loaded); diff != "" {
				t.Errorf("loaded state differs (-saved +loaded):\n%s", diff)
			}
		})
	}
}

func TestStore_LoadDegradesWeakerMode(t *testing.T) {
	store := newTestStore(t, CompressionZstd)
	original := sampleState("")
	_, err := store.Save(original)
	require.NoError(t, err)

	loaded, err := store.Load(1, HashModeSmall)
	require.NoError(t, err)
	assert.Equal(t, HashModeSmall, loaded.HashMode)
	for i, f := range loaded.Files {
		assert.Equal(t, original.Files[i].Hash.Small, f.Hash.Small)
		assert.Equal(t, NoHash, f.Hash.Medium)
		assert.Equal(t, NoHash, f.Hash.Full)
	}
}

func TestStore_DetectsTamperedState(t *testing.T) {
	store := newTestStore(t, CompressionZstd)
	state := sampleState("")
	require.NoError(t, state.Seal())
	state.Files[0].Size++

	_, err := store.Save(state)
	require.NoError(t, err)

	_, err = store.Load(1, HashModeFull)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptedState)
}

func TestStore_DetectsUndecodableFile(t *testing.T) {
	store := newTestStore(t, CompressionZstd)

	require.NoError(t, os.WriteFile(filepath.Join(store.StatesDir, "state_1.json.zst"), []byte("not a compressed state"), 0644))
	_, err := store.Load(1, HashModeFull)
	assert.ErrorIs(t, err, ErrCorruptedState)

	require.NoError(t, os.WriteFile(filepath.Join(store.StatesDir, "state_2.json.zst"), []byte{0x28}, 0644))
	_, err = store.Load(2, HashModeFull)
	assert.ErrorIs(t, err, ErrCorruptedState)
}

func TestStore_LoadMissing(t *testing.T) {
	store := newTestStore(t, CompressionZstd)

	_, err := store.Load(7, HashModeFull)
	assert.ErrorIs(t, err, ErrStateNotFound)

	_, _, err = store.LoadLast(HashModeFull)
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestStore_SequentialNumbers(t *testing.T) {
	store := newTestStore(t, CompressionZstd)

	for i := 1; i <= 3; i++ {
		n, err := store.Save(sampleState(""))
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	last, n, err := store.LoadLast(HashModeFull)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 4, last.FileCount)
}

func TestStore_SideRecordSelfHealing(t *testing.T) {
	store := newTestStore(t, CompressionZstd)
	id, err := store.RepositoryID()
	require.NoError(t, err)
	require.NotEmpty(t, id)

	for i := 0; i < 3; i++ {
		_, err := store.Save(sampleState(""))
		require.NoError(t, err)
	}

	t.Run("stale low", func(t *testing.T) {
		require.NoError(t, store.writeLast(1, id))
		n, err := store.LastNumber()
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		recorded, _, err := store.readLast()
		require.NoError(t, err)
		assert.Equal(t, 3, recorded, "side-record should be rewritten")
	})

	t.Run("stale high", func(t *testing.T) {
		require.NoError(t, os.Remove(filepath.Join(store.StatesDir, "state_3.json.zst")))
		n, err := store.LastNumber()
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("missing side-record", func(t *testing.T) {
		require.NoError(t, os.Remove(store.lastPath()))
		n, err := store.LastNumber()
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("garbage side-record", func(t *testing.T) {
		require.NoError(t, os.WriteFile(store.lastPath(), []byte("[state]\nlast = many\n"), 0644))
		n, err := store.LastNumber()
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	next, err := store.Save(sampleState(""))
	require.NoError(t, err)
	assert.Equal(t, 3, next)
}

func TestStore_RepositoryIDStable(t *testing.T) {
	store := newTestStore(t, CompressionZstd)
	before, err := store.RepositoryID()
	require.NoError(t, err)

	_, err = store.Save(sampleState(""))
	require.NoError(t, err)
	require.NoError(t, store.Initialise())

	after, err := store.RepositoryID()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestStore_MixedCodecs(t *testing.T) {
	dir := t.TempDir()
	zstdStore := NewStore(dir, CompressionZstd)
	require.NoError(t, zstdStore.Initialise())
	_, err := zstdStore.Save(sampleState("zstd"))
	require.NoError(t, err)

	lz4Store := NewStore(dir, CompressionLZ4)
	n, err := lz4Store.Save(sampleState("lz4"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, store := range []*Store{zstdStore, lz4Store} {
		first, err := store.Load(1, HashModeFull)
		require.NoError(t, err)
		assert.Equal(t, "zstd", first.Comment)
		second, err := store.Load(2, HashModeFull)
		require.NoError(t, err)
		assert.Equal(t, "lz4", second.Comment)
	}
}

func TestStore_List(t *testing.T) {
	store := newTestStore(t, CompressionZstd)
	for _, comment := range []string{"one", "two"} {
		_, err := store.Save(sampleState(comment))
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(store.StatesDir, "state_9.json.zst"), []byte("junk"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(store.StatesDir, "notes.txt"), []byte("x"), 0644))

	headers, err := store.List()
	require.NoError(t, err)
	require.Len(t, headers, 2)
	assert.Equal(t, 1, headers[0].Number)
	assert.Equal(t, "one", headers[0].Comment)
	assert.Equal(t, 2, headers[1].Number)
	assert.Equal(t, 4, headers[1].FileCount)
	assert.Equal(t, int64(16), headers[1].FilesContentLength)
	assert.Equal(t, HashModeFull, headers[1].HashMode)
}

func TestParseStateFileName(t *testing.T) {
	tests := []struct {
		name string
		n    int
		ok   bool
	}{
		{"state_1.json.zst", 1, true},
		{"state_42.json.lz4", 42, true},
		{"state_0.json.zst", 0, false},
		{"state_x.json.zst", 0, false},
		{"state_3.txt", 0, false},
		{"last", 0, false},
	}
	for _, tt := range tests {
		n, ok := parseStateFileName(tt.name)
		assert.Equal(t, tt.ok, ok, tt.name)
		assert.Equal(t, tt.n, n, tt.name)
	}
}

func TestComputeStateHash_OrderIndependent(t *testing.T) {
	a := sampleState("")
	b := a.Clone()
	b.Files[0], b.Files[1] = b.Files[1], b.Files[0]
	b.IgnoredFiles[0], b.IgnoredFiles[1] = b.IgnoredFiles[1], b.IgnoredFiles[0]
	b.Comment = "comments are not covered"

	ha, err := ComputeStateHash(a)
	require.NoError(t, err)
	hb, err := ComputeStateHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)

	b.Files[2].Hash.Full = "changed"
	hc, err := ComputeStateHash(b)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hc)
}

func TestCompression_Parse(t *testing.T) {
	c, err := ParseCompression("LZ4")
	require.NoError(t, err)
	assert.Equal(t, CompressionLZ4, c)
	assert.Equal(t, "lz4", c.Extension())

	c, err = ParseCompression("zstd")
	require.NoError(t, err)
	assert.Equal(t, "zst", c.Extension())

	_, err = ParseCompression("gzip")
	assert.Error(t, err)
}
