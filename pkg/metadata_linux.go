//go:build linux

package fileintegrity

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

const ownershipSupported = true

// statxTimes reads the creation and modification times. Filesystems without
// a birth time report the modification time as creation time.
func statxTimes(absPath string) (FileTime, error) {
	var stx unix.Statx_t
	mask := unix.STATX_BTIME | unix.STATX_MTIME
	if err := unix.Statx(unix.AT_FDCWD, absPath, unix.AT_SYMLINK_NOFOLLOW, mask, &stx); err != nil {
		return FileTime{}, fmt.Errorf("failed to statx %s: %w", absPath, err)
	}

	modified := stx.Mtime.Sec*1000 + int64(stx.Mtime.Nsec)/1e6
	created := modified
	if stx.Mask&unix.STATX_BTIME != 0 {
		created = stx.Btime.Sec*1000 + int64(stx.Btime.Nsec)/1e6
	}
	return FileTime{Creation: created, LastModified: modified}, nil
}

// fileTimes returns the time pair of a file
func fileTimes(absPath string, info os.FileInfo) (FileTime, error) {
	t, err := statxTimes(absPath)
	if errors.Is(err, unix.ENOSYS) {
		return NewFileTime(info.ModTime(), info.ModTime()), nil
	}
	return t, err
}

// fileOwner returns the numeric owner and group of a file
func fileOwner(absPath string) (string, string, bool, error) {
	var stx unix.Statx_t
	if err := unix.Statx(unix.AT_FDCWD, absPath, unix.AT_SYMLINK_NOFOLLOW, unix.STATX_UID|unix.STATX_GID, &stx); err != nil {
		return "", "", false, fmt.Errorf("failed to statx %s: %w", absPath, err)
	}
	return strconv.FormatUint(uint64(stx.Uid), 10), strconv.FormatUint(uint64(stx.Gid), 10), true, nil
}

// adviseAccess tells the kernel how the file will be read: whole files
// sequentially, sampled blocks at random offsets
func adviseAccess(f *os.File, mode HashMode) {
	advice := unix.FADV_SEQUENTIAL
	if mode != HashModeFull {
		advice = unix.FADV_RANDOM
	}
	if err := unix.Fadvise(int(f.Fd()), 0, 0, advice); err != nil && IsDebugEnabled("scan") {
		logger.Debug().Str("path", f.Name()).Err(err).Msg("fadvise failed")
	}
}
