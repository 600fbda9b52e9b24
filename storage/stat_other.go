//go:build !linux

package storage

import (
	"os"
	"time"
)

// fileTimes falls back to the modification time on platforms where the raw
// stat structure is not portable to decode.
func fileTimes(info os.FileInfo) (atime, mtime, ctime time.Time) {
	m := info.ModTime()
	return m, m, m
}
