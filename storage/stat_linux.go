//go:build linux

package storage

import (
	"os"
	"syscall"
	"time"
)

// fileTimes extracts access/modification/change times from the OS stat
// structure. Only timestamps are read; uid, gid and mode never leave this
// function.
func fileTimes(info os.FileInfo) (atime, mtime, ctime time.Time) {
	mtime = info.ModTime()
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return mtime, mtime, mtime
	}
	atime = time.Unix(int64(st.Atim.Sec), int64(st.Atim.Nsec))
	ctime = time.Unix(int64(st.Ctim.Sec), int64(st.Ctim.Nsec))
	return atime, mtime, ctime
}
