//go:build !windows

package localfs

import (
	"os"
	"syscall"
	"time"
)

func statOwner(info os.FileInfo) (uid, gid uint32) {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return st.Uid, st.Gid
	}
	return 0, 0
}

func unixTime(sec uint32) time.Time {
	return time.Unix(int64(sec), 0)
}
