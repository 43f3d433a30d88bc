//go:build unix

package local

import (
	"path/filepath"

	"golang.org/x/sys/unix"
)

// filesystemCapacity returns the available and total bytes of the
// filesystem holding path; zeros when it cannot be determined.
func filesystemCapacity(path string) (available, total uint64) {
	var st unix.Statfs_t
	if err := unix.Statfs(filepath.Dir(path), &st); err != nil {
		return 0, 0
	}
	bsize := uint64(st.Bsize)
	return uint64(st.Bavail) * bsize, uint64(st.Blocks) * bsize
}
