// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kar_test

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/pkg/errors"

	"github.com/devblok/kframe/utility/kar"
)

var (
	testString1 = "idunvovkjnreovmegihjbrqlkmfrjnb"
	testString2 = "idunvovkjnreovmsdvwrvnervnreegihjbrqlkmfrjnb"
)

func newBuilder(c *qt.C) *kar.Builder {
	builder, err := kar.NewBuilder(kar.Header{
		Author:      "devblok",
		DateCreated: time.Date(2019, 9, 1, 0, 0, 0, 0, time.UTC).Unix(),
		Version:     1,
	})
	c.Assert(err, qt.IsNil)
	c.TB.Cleanup(func() { builder.Close() })
	return builder
}

func build(c *qt.C, files map[string]string) []byte {
	builder := newBuilder(c)
	for _, name := range []string{"test", "test2", "empty", "big"} {
		if contents, ok := files[name]; ok {
			c.Assert(builder.Add(name, strings.NewReader(contents)), qt.IsNil)
		}
	}
	var buf bytes.Buffer
	written, err := builder.WriteTo(&buf)
	c.Assert(err, qt.IsNil)
	c.Assert(written, qt.Equals, int64(buf.Len()))
	return buf.Bytes()
}

func TestCreateAndRead(t *testing.T) {
	c := qt.New(t)
	data := build(c, map[string]string{"test": testString1, "test2": testString2})

	ar, err := kar.Open(bytes.NewReader(data))
	c.Assert(err, qt.IsNil)

	f, err := ar.Open("test2")
	c.Assert(err, qt.IsNil)
	c.Assert(f.Size(), qt.Equals, int64(len(testString2)))
	result, err := io.ReadAll(f)
	c.Assert(err, qt.IsNil)
	c.Assert(string(result), qt.Equals, testString2)
}

func TestCreateAndReadAll(t *testing.T) {
	c := qt.New(t)
	big := strings.Repeat("koru kframe ", 10000)
	data := build(c, map[string]string{"test": testString1, "test2": testString2, "empty": "", "big": big})

	ar, err := kar.Open(bytes.NewReader(data))
	c.Assert(err, qt.IsNil)

	header := ar.Header()
	c.Assert(header.Author, qt.Equals, "devblok")
	c.Assert(header.Version, qt.Equals, int64(1))
	c.Assert(header.Index, qt.HasLen, 4)
	c.Assert(header.Index[1].Offset, qt.Equals, header.Index[0].CompressedSize)
	c.Assert(header.Index[3].Size, qt.Equals, int64(len(big)))
	c.Assert(header.Index[3].CompressedSize < header.Index[3].Size, qt.Equals, true)

	for name, expected := range map[string]string{"test": testString1, "test2": testString2, "empty": "", "big": big} {
		contents, err := ar.ReadAll(name)
		c.Assert(err, qt.IsNil)
		c.Assert(string(contents), qt.Equals, expected, qt.Commentf(name))
	}

	_, err = ar.ReadAll("missing")
	c.Assert(err, qt.ErrorMatches, `"missing": file not found in archive`)
	c.Assert(errors.Is(err, kar.ErrNotFound), qt.Equals, true)
}

func TestConcurrentReads(t *testing.T) {
	c := qt.New(t)
	data := build(c, map[string]string{"test": testString1, "test2": testString2})
	ar, err := kar.Open(bytes.NewReader(data))
	c.Assert(err, qt.IsNil)

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := "test"
			if i%2 == 1 {
				name = "test2"
			}
			contents, err := ar.ReadAll(name)
			if err == nil {
				results[i] = string(contents)
			}
		}(i)
	}
	wg.Wait()
	for i, r := range results {
		expected := testString1
		if i%2 == 1 {
			expected = testString2
		}
		c.Assert(r, qt.Equals, expected)
	}
}

func TestAddTwice(t *testing.T) {
	c := qt.New(t)
	builder := newBuilder(c)
	c.Assert(builder.Add("test", strings.NewReader(testString1)), qt.IsNil)
	c.Assert(builder.Add("test", strings.NewReader(testString2)), qt.ErrorMatches, `kar: "test" added twice`)
	c.Assert(builder.Len(), qt.Equals, 1)
}

func TestOpenInvalid(t *testing.T) {
	tests := []struct {
		about string
		data  []byte
		match string
	}{{
		about: "empty",
		data:  nil,
		match: "short file: corrupted or not a kar archive",
	}, {
		about: "bad magic",
		data:  []byte("TAR\x00\x08\x00\x00\x00\x00\x00\x00\x00"),
		match: "bad magic: corrupted or not a kar archive",
	}, {
		about: "truncated header",
		data:  []byte("KAR\x00\x40\x00\x00\x00\x00\x00\x00\x00abc"),
		match: "truncated header: corrupted or not a kar archive",
	}, {
		about: "negative header size",
		data:  []byte("KAR\x00\xff\xff\xff\xff\xff\xff\xff\xff"),
		match: "header size -1: corrupted or not a kar archive",
	}}
	for _, test := range tests {
		t.Run(test.about, func(t *testing.T) {
			c := qt.New(t)
			_, err := kar.Open(bytes.NewReader(test.data))
			c.Assert(err, qt.ErrorMatches, test.match)
			c.Assert(errors.Is(err, kar.ErrFileFormat), qt.Equals, true)
		})
	}
}

func TestOpenFile(t *testing.T) {
	c := qt.New(t)
	path := filepath.Join(c.TempDir(), "opentest.kar")
	c.Assert(os.WriteFile(path, build(c, map[string]string{"test": "this is a test", "test2": "this is another test"}), 0644), qt.IsNil)

	f, err := kar.OpenFile(path)
	c.Assert(err, qt.IsNil)
	defer f.Close()

	contents, err := f.ReadAll("test2")
	c.Assert(err, qt.IsNil)
	c.Assert(string(contents), qt.Equals, "this is another test")

	_, err = kar.OpenFile(filepath.Join(c.TempDir(), "missing.kar"))
	c.Assert(err, qt.ErrorMatches, "kar: .*")
}
