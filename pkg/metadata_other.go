//go:build !linux

package fileintegrity

import "os"

const ownershipSupported = false

func fileTimes(absPath string, info os.FileInfo) (FileTime, error) {
	return NewFileTime(info.ModTime(), info.ModTime()), nil
}

func fileOwner(absPath string) (string, string, bool, error) {
	return "", "", false, nil
}

func adviseAccess(f *os.File, mode HashMode) {}
