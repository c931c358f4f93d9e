// Package vfs reads directories of the file system service. Only the
// directory record layout is known here; opening paths is left to an Opener.
package vfs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// INodeID identifies a file within the file system.
type INodeID uint32

// recordHeader precedes every directory entry on disk. Next is the length of
// the whole record including header and name.
type recordHeader struct {
	Inode   uint32
	NameLen uint32
	Next    uint32
}

const recordHeaderSize = 12

// ErrCorrupt reports a directory record whose lengths do not add up.
var ErrCorrupt = errors.New("vfs: corrupt directory record")

// Opener opens a path for reading.
type Opener interface {
	Open(path string) (io.ReadSeekCloser, error)
}

// DirEntry is one directory entry.
type DirEntry struct {
	Inode INodeID
	Name  string
}

// DirReader iterates over the entries of a directory.
type DirReader struct {
	r      io.ReadSeeker
	closer io.Closer
}

// ReadDir opens the directory at path.
func ReadDir(o Opener, path string) (*DirReader, error) {
	f, err := o.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &DirReader{r: f, closer: f}, nil
}

// NewDirReader reads directory records from r.
func NewDirReader(r io.ReadSeeker) *DirReader {
	return &DirReader{r: r}
}

// Next returns the next entry. It returns io.EOF after the last one.
func (d *DirReader) Next() (DirEntry, error) {
	var h recordHeader
	if err := binary.Read(d.r, binary.LittleEndian, &h); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return DirEntry{}, ErrCorrupt
		}
		return DirEntry{}, err
	}

	used := uint64(recordHeaderSize) + uint64(h.NameLen)
	if uint64(h.Next) < used {
		return DirEntry{}, fmt.Errorf("%w: record of %d bytes holds a %d byte name", ErrCorrupt, h.Next, h.NameLen)
	}

	name := make([]byte, h.NameLen)
	if _, err := io.ReadFull(d.r, name); err != nil {
		return DirEntry{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if skip := int64(uint64(h.Next) - used); skip > 0 {
		if _, err := d.r.Seek(skip, io.SeekCurrent); err != nil {
			return DirEntry{}, err
		}
	}
	return DirEntry{Inode: INodeID(h.Inode), Name: string(name)}, nil
}

// All reads the remaining entries.
func (d *DirReader) All() ([]DirEntry, error) {
	var entries []DirEntry
	for {
		e, err := d.Next()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return entries, err
		}
		entries = append(entries, e)
	}
}

// Close closes the underlying file if the reader opened it.
func (d *DirReader) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}
