//go:build unix

package workspace

import (
	"io/fs"
	"strconv"
	"syscall"
)

// ownerID extracts the numeric uid from a stat result.
func ownerID(info fs.FileInfo) string {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return strconv.FormatUint(uint64(st.Uid), 10)
	}
	return ""
}
