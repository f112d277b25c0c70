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

package leb128_test

import (
	"testing"

	"github.com/oa-333/dbgutil-sub000/dwarf/leb128"
)

func TestDecodeULEB128(t *testing.T) {
	cases := []struct {
		in     []byte
		wantN  int
		wantV  uint64
	}{
		{[]byte{0x7f, 0x00}, 1, 127},
		{[]byte{0x80, 0x01, 0x00}, 2, 128},
		{[]byte{0x81, 0x01, 0x00}, 2, 129},
		{[]byte{0x82, 0x01, 0x00}, 2, 130},
		{[]byte{0xb9, 0x64, 0x00}, 2, 12857},
	}
	for _, c := range cases {
		r, n := leb128.DecodeULEB128(c.in)
		if n != c.wantN || r != c.wantV {
			t.Fatalf("DecodeULEB128(%v) = (%d, %d), want (%d, %d)", c.in, r, n, c.wantV, c.wantN)
		}
	}
}

func TestDecodeSLEB128(t *testing.T) {
	cases := []struct {
		in    []byte
		wantN int
		wantV int64
	}{
		{[]byte{0x02, 0x00}, 1, 2},
		{[]byte{0x7e, 0x00}, 1, -2},
		{[]byte{0xff, 0x00}, 2, 127},
		{[]byte{0x81, 0x7f}, 2, -127},
		{[]byte{0x80, 0x01}, 2, 128},
		{[]byte{0x80, 0x7f}, 2, -128},
		{[]byte{0x81, 0x01}, 2, 129},
		{[]byte{0xff, 0x7e}, 2, -129},
	}
	for _, c := range cases {
		r, n := leb128.DecodeSLEB128(c.in)
		if n != c.wantN || r != c.wantV {
			t.Fatalf("DecodeSLEB128(%v) = (%d, %d), want (%d, %d)", c.in, r, n, c.wantV, c.wantN)
		}
	}
}
