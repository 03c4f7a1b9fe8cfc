// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kar

import (
	"bytes"
	"io"

	"github.com/pierrec/lz4"
	"github.com/pkg/errors"
	"golang.org/x/exp/mmap"
)

// Open opens the kar archived from r. It will also check
// if the file is actually a kar archive, will return an error
// when file incorrect.
func Open(r io.ReaderAt) (*Archive, error) {
	prefix := make([]byte, MagicLength+HeaderSizeLength)
	if _, err := r.ReadAt(prefix, 0); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, errors.Wrap(ErrFileFormat, "short file")
		}
		return nil, errors.Wrap(err, "kar")
	}
	if !bytes.Equal(prefix[:MagicLength], magic[:]) {
		return nil, errors.Wrap(ErrFileFormat, "bad magic")
	}

	headerSize := binaryToInt64(prefix[MagicLength:])
	if headerSize <= 0 || headerSize > 1<<30 {
		return nil, errors.Wrapf(ErrFileFormat, "header size %d", headerSize)
	}
	headerBytes := make([]byte, headerSize)
	if _, err := r.ReadAt(headerBytes, MagicLength+HeaderSizeLength); err != nil {
		return nil, errors.Wrap(ErrFileFormat, "truncated header")
	}

	ar := &Archive{
		reader:     r,
		dataOffset: MagicLength + HeaderSizeLength + headerSize,
	}
	if err := gobDecode(&ar.header, headerBytes); err != nil {
		return nil, errors.Wrapf(ErrFileFormat, "header: %v", err)
	}
	return ar, nil
}

// Archive provides concurrent io for a kar file, and can provide
// an io.Reader for each file separately to perform actions on.
type Archive struct {
	reader     io.ReaderAt
	header     Header
	dataOffset int64
}

// Header returns the archive header, including the index
func (a *Archive) Header() Header {
	return a.header
}

// ReadAll returns the entire contents of a file with a given name
func (a *Archive) ReadAll(name string) ([]byte, error) {
	r, err := a.Open(name)
	if err != nil {
		return nil, err
	}
	out := make([]byte, r.entry.Size)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, errors.Wrapf(ErrFileFormat, "%q: %v", name, err)
	}
	return out, nil
}

// Open returns a Reader for a file in the Archive
func (a *Archive) Open(name string) (*Reader, error) {
	entry, ok := a.header.Entry(name)
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%q", name)
	}
	section := io.NewSectionReader(a.reader, a.dataOffset+entry.Offset, entry.CompressedSize)
	return &Reader{
		entry:  entry,
		reader: lz4.NewReader(section),
	}, nil
}

// Reader is a reader for a single file in an Archive.
// Abstracts away the location that needs to be known.
type Reader struct {
	entry  IndexEntry
	reader io.Reader
}

// Size returns the uncompressed size of the file
func (r *Reader) Size() int64 {
	return r.entry.Size
}

// Read reads already decompressed data
func (r *Reader) Read(p []byte) (n int, err error) {
	return r.reader.Read(p)
}

// File is an archive memory mapped from disk
type File struct {
	*Archive
	mapped *mmap.ReaderAt
}

// OpenFile memory maps the archive at path
func OpenFile(path string) (*File, error) {
	mapped, err := mmap.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "kar")
	}
	ar, err := Open(mapped)
	if err != nil {
		mapped.Close()
		return nil, errors.Wrap(err, path)
	}
	return &File{Archive: ar, mapped: mapped}, nil
}

// Close unmaps the archive
func (f *File) Close() error {
	return f.mapped.Close()
}
