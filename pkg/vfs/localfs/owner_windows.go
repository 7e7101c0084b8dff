//go:build windows

package localfs

import (
	"os"
	"time"
)

func statOwner(info os.FileInfo) (uid, gid uint32) {
	return 0, 0
}

func unixTime(sec uint32) time.Time {
	return time.Unix(int64(sec), 0)
}
