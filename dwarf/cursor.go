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

package dwarf

import (
	"encoding/binary"

	"github.com/oa-333/dbgutil-sub000/dbgerr"
	"github.com/oa-333/dbgutil-sub000/dwarf/leb128"
)

// cursor is a forward-only little-endian reader over one section's bytes.
// Every DWARF sub-format in this package (line program, abbrev table, CU
// DIE, range lists, aranges) is parsed with one of these.
type cursor struct {
	buf []byte
	off int
}

func newCursor(buf []byte, off int) *cursor {
	return &cursor{buf: buf, off: off}
}

func (c *cursor) pos() int { return c.off }

func (c *cursor) atEnd() bool { return c.off >= len(c.buf) }

func (c *cursor) remaining() int { return len(c.buf) - c.off }

func (c *cursor) require(n int) error {
	if c.off < 0 || c.off+n > len(c.buf) {
		return dbgerr.Errorf(dbgerr.DataCorrupt, "truncated DWARF data: need %d bytes at offset %d, have %d", n, c.off, len(c.buf))
	}
	return nil
}

func (c *cursor) u8() (uint8, error) {
	if err := c.require(1); err != nil {
		return 0, err
	}
	v := c.buf[c.off]
	c.off++
	return v, nil
}

func (c *cursor) u16() (uint16, error) {
	if err := c.require(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(c.buf[c.off:])
	c.off += 2
	return v, nil
}

func (c *cursor) u32() (uint32, error) {
	if err := c.require(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(c.buf[c.off:])
	c.off += 4
	return v, nil
}

func (c *cursor) u64() (uint64, error) {
	if err := c.require(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(c.buf[c.off:])
	c.off += 8
	return v, nil
}

func (c *cursor) bytes(n int) ([]byte, error) {
	if err := c.require(n); err != nil {
		return nil, err
	}
	v := c.buf[c.off : c.off+n]
	c.off += n
	return v, nil
}

func (c *cursor) skip(n int) error {
	if err := c.require(n); err != nil {
		return err
	}
	c.off += n
	return nil
}

func (c *cursor) uleb() (uint64, error) {
	if c.off >= len(c.buf) {
		return 0, dbgerr.Errorf(dbgerr.DataCorrupt, "truncated ULEB128 at offset %d", c.off)
	}
	v, n := leb128.DecodeULEB128(c.buf[c.off:])
	if c.off+n > len(c.buf) {
		return 0, dbgerr.Errorf(dbgerr.DataCorrupt, "truncated ULEB128 at offset %d", c.off)
	}
	c.off += n
	return v, nil
}

func (c *cursor) sleb() (int64, error) {
	if c.off >= len(c.buf) {
		return 0, dbgerr.Errorf(dbgerr.DataCorrupt, "truncated SLEB128 at offset %d", c.off)
	}
	v, n := leb128.DecodeSLEB128(c.buf[c.off:])
	if c.off+n > len(c.buf) {
		return 0, dbgerr.Errorf(dbgerr.DataCorrupt, "truncated SLEB128 at offset %d", c.off)
	}
	c.off += n
	return v, nil
}

// cstring reads a NUL-terminated string starting at the cursor.
func (c *cursor) cstring() (string, error) {
	start := c.off
	for c.off < len(c.buf) && c.buf[c.off] != 0 {
		c.off++
	}
	if c.off >= len(c.buf) {
		return "", dbgerr.Errorf(dbgerr.DataCorrupt, "unterminated string at offset %d", start)
	}
	s := string(c.buf[start:c.off])
	c.off++
	return s, nil
}

// stringAt reads a NUL-terminated string at an absolute offset into buf,
// used for .debug_str / .debug_line_str indirection (DW_FORM_strp,
// DW_FORM_line_strp).
func stringAt(buf []byte, off uint64) (string, error) {
	if off > uint64(len(buf)) {
		return "", dbgerr.Errorf(dbgerr.DataCorrupt, "string offset %d out of range", off)
	}
	cur := newCursor(buf, int(off))
	return cur.cstring()
}

// initialLength reads a DWARF initial-length field: either a 32-bit value,
// or the 64-bit format escape 0xFFFFFFFF followed by a 64-bit value. It
// returns the length and whether the 64-bit DWARF format is in effect.
func (c *cursor) initialLength() (uint64, bool, error) {
	v, err := c.u32()
	if err != nil {
		return 0, false, err
	}
	if v != 0xFFFFFFFF {
		return uint64(v), false, nil
	}
	v64, err := c.u64()
	if err != nil {
		return 0, false, err
	}
	return v64, true, nil
}
