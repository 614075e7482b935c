package source

import (
	"fmt"

	"golang.org/x/exp/mmap"
)

// File is a local file mapped into memory.
type File struct {
	*mmap.ReaderAt
}

// OpenFile maps the file at path.
func OpenFile(path string) (*File, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to map %s: %w", path, err)
	}
	return &File{ReaderAt: r}, nil
}

func (f *File) Size() int64 { return int64(f.Len()) }
