// This file is part of dbgutil.
//
// dbgutil is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// dbgutil is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with dbgutil.  If not, see <https://www.gnu.org/licenses/>.

// Package bufreader implements the seekable byte-stream abstraction the
// image and DWARF readers are built on: a window of bytes refilled from an
// underlying file as the read cursor advances, plus a fixed-buffer variant
// over an already-materialized section for in-memory reads.
package bufreader

import (
	"io"

	"github.com/oa-333/dbgutil-sub000/dbgerr"
)

const defaultWindow = 64 * 1024

// Stream is the minimal seekable, readable byte-stream interface both
// implementations below satisfy; the image and DWARF readers program
// against this rather than against *os.File or []byte directly.
type Stream interface {
	// ReadAt reads len(p) bytes starting at absolute offset off. It returns
	// dbgerr.EOF (wrapped) if fewer bytes than requested could be read
	// because the stream ended.
	ReadAt(p []byte, off int64) (int, error)

	// Size returns the total size of the stream in bytes.
	Size() int64
}

// File is a Stream backed by an os.File-like ReaderAt, refilling a window
// of bytes as reads move outside of it. It exists so that large object
// files don't need to be read into memory up front merely to walk their
// section and symbol tables.
type File struct {
	r    io.ReaderAt
	size int64

	winOff int64
	win    []byte
}

// NewFile wraps r (of the given total size) in a File stream with a
// default-sized refill window.
func NewFile(r io.ReaderAt, size int64) *File {
	return &File{r: r, size: size, winOff: -1}
}

func (f *File) Size() int64 { return f.size }

func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > f.size {
		return 0, dbgerr.Errorf(dbgerr.InvalidArgument, "offset %d out of range [0,%d]", off, f.size)
	}

	n := 0
	for n < len(p) {
		if f.winOff < 0 || off < f.winOff || off >= f.winOff+int64(len(f.win)) {
			if err := f.refill(off); err != nil {
				return n, err
			}
		}

		avail := f.win[off-f.winOff:]
		c := copy(p[n:], avail)
		if c == 0 {
			break
		}
		n += c
		off += int64(c)
	}

	if n < len(p) {
		return n, dbgerr.Errorf(dbgerr.EOF, "short read: got %d of %d bytes", n, len(p))
	}
	return n, nil
}

func (f *File) refill(off int64) error {
	want := defaultWindow
	if rem := f.size - off; rem < int64(want) {
		want = int(rem)
	}
	if want <= 0 {
		return dbgerr.Errorf(dbgerr.EOF, "read past end of stream at offset %d", off)
	}

	buf := make([]byte, want)
	n, err := f.r.ReadAt(buf, off)
	if n == 0 && err != nil {
		return dbgerr.Errorf(dbgerr.SystemFailure, "refilling window at offset %d: %v", off, err)
	}

	f.win = buf[:n]
	f.winOff = off
	return nil
}

// Fixed is a Stream over an already fully materialized byte buffer, used
// for DWARF sections and other in-memory reads where there's no benefit to
// windowed refilling.
type Fixed struct {
	buf []byte
}

// NewFixed wraps buf as a fixed, in-memory Stream.
func NewFixed(buf []byte) *Fixed {
	return &Fixed{buf: buf}
}

func (f *Fixed) Size() int64 { return int64(len(f.buf)) }

func (f *Fixed) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(f.buf)) {
		return 0, dbgerr.Errorf(dbgerr.InvalidArgument, "offset %d out of range [0,%d]", off, len(f.buf))
	}
	n := copy(p, f.buf[off:])
	if n < len(p) {
		return n, dbgerr.Errorf(dbgerr.EOF, "short read: got %d of %d bytes", n, len(p))
	}
	return n, nil
}

// Bytes returns the full, underlying buffer. Callers must not mutate it.
func (f *Fixed) Bytes() []byte { return f.buf }
