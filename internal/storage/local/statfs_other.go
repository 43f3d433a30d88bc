//go:build !unix

package local

func filesystemCapacity(path string) (available, total uint64) {
	return 0, 0
}
