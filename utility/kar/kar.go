// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package kar is an api for an lz4 backed file format.
// It's purpose is to be well suited for streaming resources
// from it. It's designed to be memory mapped, so (unlike tar) it knows
// where all the files are located before they're read. The archive itself
// is not compressed, rather every file is individually compressed, so it can
// be read from its place and decompressed on the fly. This somewhat compromises
// space efficiency, which is not the primary goal of this package. It instead
// focuses on getting resources from disk to a usable state as fast as
// possible. It can be read from concurrently.
//
// Layout: the magic, the header length as a little endian int64, the gob
// encoded Header, then the compressed files back to back. Index offsets
// are relative to the first byte after the header.
package kar

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"

	"github.com/pkg/errors"
)

// package errors
var (
	ErrFileFormat = errors.New("corrupted or not a kar archive")
	ErrNotFound   = errors.New("file not found in archive")
)

// Sizes relevant to the header of file
const (
	MagicLength      = 4
	HeaderSizeLength = 8
)

var magic = [MagicLength]byte{'K', 'A', 'R', '\x00'}

// IndexEntry is info for one file in the file index.
type IndexEntry struct {
	Name           string
	Offset         int64
	Size           int64
	CompressedSize int64
}

// Header is the file header for kar files.
type Header struct {
	Author      string
	DateCreated int64
	Version     int64
	Index       []IndexEntry
}

// Entry finds the index entry of a file
func (h *Header) Entry(name string) (IndexEntry, bool) {
	for _, e := range h.Index {
		if e.Name == name {
			return e, true
		}
	}
	return IndexEntry{}, false
}

func int64ToBinary(num int64) []byte {
	b := make([]byte, HeaderSizeLength)
	binary.LittleEndian.PutUint64(b, uint64(num))
	return b
}

func binaryToInt64(bts []byte) int64 {
	return int64(binary.LittleEndian.Uint64(bts))
}

func gobEncode(data interface{}) ([]byte, error) {
	var encoded bytes.Buffer
	if err := gob.NewEncoder(&encoded).Encode(data); err != nil {
		return nil, err
	}
	return encoded.Bytes(), nil
}

func gobDecode(obj interface{}, bts []byte) error {
	return gob.NewDecoder(bytes.NewReader(bts)).Decode(obj)
}
