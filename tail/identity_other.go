//go:build !unix

package tail

import "os"

// FileID identifies a file independently of its path. Without inode
// information only truncation can be detected.
type FileID struct {
	Dev   uint64
	Inode uint64
}

func identify(f *os.File) (FileID, int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return FileID{}, 0, err
	}
	return FileID{}, fi.Size(), nil
}
