//go:build unix

package tail

import (
	"os"

	"golang.org/x/sys/unix"
)

// FileID identifies a file independently of its path.
type FileID struct {
	Dev   uint64
	Inode uint64
}

func identify(f *os.File) (FileID, int64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return FileID{}, 0, err
	}
	return FileID{Dev: uint64(st.Dev), Inode: uint64(st.Ino)}, st.Size, nil
}
