package fileintegrity

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type TrackerSuite struct {
	suite.Suite
	root    string
	ctx     context.Context
	tracker *Tracker
}

func TestTrackerSuite(t *testing.T) {
	suite.Run(t, new(TrackerSuite))
}

func (s *TrackerSuite) SetupTest() {
	root, err := filepath.EvalSymlinks(s.T().TempDir())
	s.Require().NoError(err)
	s.root = root
	s.ctx = context.Background()

	s.write("docs/readme.md", []byte("read me first"))
	s.write("docs/guide.md", []byte("the guide"))
	s.write("photo.jpg", patternData(5*SmallBlockSize+7))
	s.write("notes.txt", []byte("some notes"))

	s.tracker = s.newTracker()
	n, err := s.tracker.Init(s.ctx, "initial")
	s.Require().NoError(err)
	s.Require().Equal(1, n)
}

func (s *TrackerSuite) newTracker() *Tracker {
	tracker, err := NewTracker(s.root)
	s.Require().NoError(err)
	tracker.SetAttributeProvider(NoAttributes{})
	return tracker
}

// reopen returns a tracker for the existing repository, as a new process would
func (s *TrackerSuite) reopen(overrides ...string) *Tracker {
	tracker := s.newTracker()
	s.Require().NoError(tracker.Open())
	if len(overrides) > 0 {
		s.Require().NoError(tracker.ApplyConfigOverrides(overrides))
	}
	return tracker
}

func (s *TrackerSuite) write(rel string, content []byte) {
	abs := filepath.Join(s.root, filepath.FromSlash(rel))
	s.Require().NoError(os.MkdirAll(filepath.Dir(abs), 0755))
	s.Require().NoError(os.WriteFile(abs, content, 0644))
}

func (s *TrackerSuite) setMtime(rel string, mtime time.Time) {
	s.Require().NoError(os.Chtimes(filepath.Join(s.root, filepath.FromSlash(rel)), mtime, mtime))
}

func (s *TrackerSuite) mtime(rel string) time.Time {
	info, err := os.Stat(filepath.Join(s.root, filepath.FromSlash(rel)))
	s.Require().NoError(err)
	return info.ModTime()
}

func (s *TrackerSuite) TestInitCreatesRepository() {
	s.DirExists(filepath.Join(s.root, RepoDirName, StatesDirName))
	s.FileExists(filepath.Join(s.root, RepoDirName, ConfigFileName))
	s.FileExists(filepath.Join(s.root, RepoDirName, IgnoreFileName))

	_, err := s.newTracker().Init(s.ctx, "again")
	s.ErrorIs(err, ErrRepositoryExists)

	headers, err := s.tracker.States()
	s.Require().NoError(err)
	s.Require().Len(headers, 1)
	s.Equal("initial", headers[0].Comment)
	s.Equal(4, headers[0].FileCount)
}

func (s *TrackerSuite) TestInitInsideRepositoryDirectory() {
	tracker, err := NewTracker(filepath.Join(s.root, RepoDirName, "nested"))
	s.Require().NoError(err)
	_, err = tracker.Init(s.ctx, "")
	s.Error(err)
}

func (s *TrackerSuite) TestFindRoot() {
	root, err := FindRoot(filepath.Join(s.root, "docs"))
	s.Require().NoError(err)
	s.Equal(s.root, root)

	root, err = FindRoot(filepath.Join(s.root, RepoDirName))
	s.Require().NoError(err)
	s.Equal(s.root, root)

	_, err = FindRoot(s.T().TempDir())
	s.ErrorIs(err, ErrNotRepository)

	s.ErrorIs(s.newTrackerAt(s.T().TempDir()).Open(), ErrNotRepository)
}

func (s *TrackerSuite) newTrackerAt(dir string) *Tracker {
	tracker, err := NewTracker(dir)
	s.Require().NoError(err)
	return tracker
}

func (s *TrackerSuite) TestStatusUnchanged() {
	result, err := s.reopen().Status(s.ctx, StatusOptions{})
	s.Require().NoError(err)
	s.False(result.Comparison.Modified())
	s.Equal(4, result.Comparison.Unchanged)
	s.Equal(1, result.PreviousNumber)
	s.Equal(int64(4), result.Stats.Files)
}

func (s *TrackerSuite) TestStatusClassifiesChanges() {
	later := s.mtime("notes.txt").Add(time.Hour)

	s.write("notes.txt", []byte("edited notes"))
	s.setMtime("notes.txt", later)
	s.Require().NoError(os.Rename(filepath.Join(s.root, "docs/guide.md"), filepath.Join(s.root, "docs/manual.md")))
	s.write("new.txt", []byte("brand new"))
	s.setMtime("docs/readme.md", later)

	result, err := s.reopen().Status(s.ctx, StatusOptions{})
	s.Require().NoError(err)
	c := result.Comparison

	s.Equal([]string{"notes.txt"}, paths(c.Bucket(ContentModified)))
	s.Equal([]string{"docs/manual.md"}, paths(c.Bucket(Renamed)))
	s.Equal("docs/guide.md", c.Bucket(Renamed)[0].Previous.Path)
	s.Equal([]string{"new.txt"}, paths(c.Bucket(Added)))
	s.Equal([]string{"docs/readme.md"}, paths(c.Bucket(DateModified)))
	s.Empty(c.Bucket(Deleted))
	s.Equal(1, c.Unchanged)
}

func (s *TrackerSuite) TestStatusSubdir() {
	s.write("notes.txt", []byte("changed outside docs"))
	s.Require().NoError(os.Remove(filepath.Join(s.root, "docs/guide.md")))

	result, err := s.reopen().Status(s.ctx, StatusOptions{Subdir: "docs"})
	s.Require().NoError(err)
	c := result.Comparison

	s.Equal([]string{"docs/guide.md"}, paths(c.Bucket(Deleted)))
	s.Empty(c.Bucket(ContentModified))
	s.Equal(1, c.Unchanged)
	s.Len(result.Previous.Files, 2)
}

func (s *TrackerSuite) TestStatusWithWeakerModeOverride() {
	mode := HashModeNone
	s.Require().NoError(os.Rename(filepath.Join(s.root, "notes.txt"), filepath.Join(s.root, "renamed.txt")))

	result, err := s.reopen().Status(s.ctx, StatusOptions{Mode: &mode})
	s.Require().NoError(err)
	c := result.Comparison

	s.Equal(HashModeNone, c.CommonMode)
	s.Equal([]string{"renamed.txt"}, paths(c.Bucket(Added)))
	s.Equal([]string{"notes.txt"}, paths(c.Bucket(Deleted)))
}

func (s *TrackerSuite) TestRehashRejectsFalseMatch() {
	// Same length and same sampled blocks, different first byte
	original := patternData(5*SmallBlockSize + 7)
	altered := append([]byte(nil), original...)
	altered[0] ^= 0xff

	s.Require().NoError(os.Remove(filepath.Join(s.root, "photo.jpg")))
	s.write("copy.jpg", altered)
	mode := HashModeSmall

	result, err := s.reopen().Status(s.ctx, StatusOptions{Mode: &mode})
	s.Require().NoError(err)
	s.Equal([]string{"copy.jpg"}, paths(result.Comparison.Bucket(Renamed)))

	result, err = s.reopen().Status(s.ctx, StatusOptions{Mode: &mode, Rehash: true})
	s.Require().NoError(err)
	c := result.Comparison
	s.Empty(c.Bucket(Renamed))
	s.Equal([]string{"copy.jpg"}, paths(c.Bucket(Added)))
	s.Equal([]string{"photo.jpg"}, paths(c.Bucket(Deleted)))
	s.Equal(len(result.Current.Files), c.CurrentTotal())
}

func (s *TrackerSuite) TestRehashKeepsTrueMatch() {
	s.Require().NoError(os.Rename(filepath.Join(s.root, "photo.jpg"), filepath.Join(s.root, "moved.jpg")))
	mode := HashModeSmall

	result, err := s.reopen().Status(s.ctx, StatusOptions{Mode: &mode, Rehash: true})
	s.Require().NoError(err)
	s.Equal([]string{"moved.jpg"}, paths(result.Comparison.Bucket(Renamed)))
	s.Empty(result.Comparison.Bucket(Deleted))
}

func (s *TrackerSuite) TestRehashPromotesConfirmedCopyToRename() {
	original := patternData(5*SmallBlockSize + 7)
	altered := append([]byte(nil), original...)
	altered[0] ^= 0xff

	s.Require().NoError(os.Remove(filepath.Join(s.root, "photo.jpg")))
	s.write("a-false.jpg", altered)
	s.write("b-true.jpg", original)
	mode := HashModeSmall

	result, err := s.reopen().Status(s.ctx, StatusOptions{Mode: &mode})
	s.Require().NoError(err)
	s.Equal([]string{"a-false.jpg"}, paths(result.Comparison.Bucket(Renamed)))
	s.Equal([]string{"b-true.jpg"}, paths(result.Comparison.Bucket(Duplicated)))

	result, err = s.reopen().Status(s.ctx, StatusOptions{Mode: &mode, Rehash: true})
	s.Require().NoError(err)
	c := result.Comparison
	s.Equal([]string{"b-true.jpg"}, paths(c.Bucket(Renamed)))
	s.Equal("photo.jpg", c.Bucket(Renamed)[0].Previous.Path)
	s.Equal(Renamed, c.Bucket(Renamed)[0].Kind)
	s.Equal([]string{"a-false.jpg"}, paths(c.Bucket(Added)))
	s.Empty(c.Bucket(Duplicated))
	s.Empty(c.Bucket(Deleted))
	s.Equal(len(result.Current.Files), c.CurrentTotal())
}

func (s *TrackerSuite) TestCommit() {
	tracker := s.reopen()

	n, result, err := tracker.Commit(s.ctx, "nothing")
	s.Require().NoError(err)
	s.Equal(0, n)
	s.False(result.Comparison.Modified())

	s.write("added.txt", []byte("more"))
	n, result, err = tracker.Commit(s.ctx, "second")
	s.Require().NoError(err)
	s.Equal(2, n)
	s.Equal(1, result.Comparison.Count(Added))

	status, err := s.reopen().Status(s.ctx, StatusOptions{})
	s.Require().NoError(err)
	s.False(status.Comparison.Modified())
	s.Equal(2, status.PreviousNumber)
}

func (s *TrackerSuite) TestCorruptionScan() {
	original := s.mtime("notes.txt")
	s.write("notes.txt", []byte("some n0tes"))
	s.setMtime("notes.txt", original)

	later := s.mtime("docs/guide.md").Add(time.Hour)
	s.write("docs/guide.md", []byte("the guide, revised"))
	s.setMtime("docs/guide.md", later)

	result, err := s.reopen().CorruptionScan(s.ctx)
	s.Require().NoError(err)
	c := result.Comparison
	s.Equal([]string{"notes.txt"}, paths(c.Bucket(Corrupted)))
	s.Empty(c.Bucket(ContentModified))
	s.Equal(3, c.Unchanged)

	_, err = s.reopen("mode:none").CorruptionScan(s.ctx)
	s.ErrorIs(err, ErrHashModeTooWeak)
}

func (s *TrackerSuite) TestFindDuplicates() {
	s.write("backup/notes.txt", []byte("some notes"))
	s.write("backup/notes-2.txt", []byte("some notes"))
	s.write("empty-1", nil)
	s.write("empty-2", nil)

	sets, err := s.reopen().FindDuplicates(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(sets, 1)
	s.Equal([]string{"backup/notes-2.txt", "backup/notes.txt", "notes.txt"}, recordPaths(sets[0].Files))
	s.Equal(int64(20), sets[0].WastedSpace())

	_, err = s.reopen("mode:medium").FindDuplicates(s.ctx)
	s.ErrorIs(err, ErrHashModeTooWeak)
}

func (s *TrackerSuite) TestIgnoredDirectoryIsNotDeleted() {
	s.write("cache/blob", []byte("cached"))
	tracker := s.reopen()
	n, _, err := tracker.Commit(s.ctx, "with cache")
	s.Require().NoError(err)
	s.Require().Equal(2, n)

	s.Require().NoError(os.WriteFile(filepath.Join(s.root, RepoDirName, IgnoreFileName), []byte("^cache/$\n"), 0644))
	result, err := s.reopen().Status(s.ctx, StatusOptions{})
	s.Require().NoError(err)
	s.False(result.Comparison.Modified())
	s.Equal([]string{"cache/"}, result.Current.IgnoredFiles)
}

func (s *TrackerSuite) TestConfigOverridesSelectCompression() {
	tracker := s.reopen("compression:lz4")
	s.write("extra.txt", []byte("extra"))
	n, _, err := tracker.Commit(s.ctx, "lz4")
	s.Require().NoError(err)
	s.FileExists(filepath.Join(s.root, RepoDirName, StatesDirName, "state_2.json.lz4"))

	loaded, err := s.reopen().Store().Load(n, HashModeFull)
	s.Require().NoError(err)
	s.Equal("lz4", loaded.Comment)
}
