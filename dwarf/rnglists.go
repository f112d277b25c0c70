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

import "github.com/oa-333/dbgutil-sub000/dbgerr"

const (
	rleEndOfList    = 0x00
	rleBaseAddressx = 0x01
	rleStartxEndx   = 0x02
	rleStartxLength = 0x03
	rleOffsetPair   = 0x04
	rleBaseAddress  = 0x05
	rleStartEnd     = 0x06
	rleStartLength  = 0x07
)

// walkRangeList streams a .debug_rnglists entry sequence starting at off and
// returns the global [low, high) envelope across every start_end/start_length
// pair it contributes. base_address entries are consumed (their operand would
// rebase the indexed entry kinds this core implementation leaves
// NOT_IMPLEMENTED) but do not affect start_end/start_length, which already
// carry full addresses.
func walkRangeList(rnglists []byte, off uint64, addressSize int) (low, high uint64, err error) {
	c := newCursor(rnglists, int(off))

	low = ^uint64(0)
	high = 0
	seenAny := false

	readAddr := func() (uint64, error) {
		if addressSize == 8 {
			return c.u64()
		}
		v, err := c.u32()
		return uint64(v), err
	}

	contribute := func(lo, hi uint64) {
		seenAny = true
		if lo < low {
			low = lo
		}
		if hi > high {
			high = hi
		}
	}

	for {
		kind, err := c.u8()
		if err != nil {
			return 0, 0, err
		}

		switch kind {
		case rleEndOfList:
			if !seenAny {
				return 0, 0, dbgerr.Errorf(dbgerr.NotFound, "empty range list at offset %d", off)
			}
			return low, high, nil
		case rleBaseAddress:
			if _, err := readAddr(); err != nil {
				return 0, 0, err
			}
		case rleStartEnd:
			s, err := readAddr()
			if err != nil {
				return 0, 0, err
			}
			e, err := readAddr()
			if err != nil {
				return 0, 0, err
			}
			contribute(s, e)
		case rleStartLength:
			s, err := readAddr()
			if err != nil {
				return 0, 0, err
			}
			l, err := c.uleb()
			if err != nil {
				return 0, 0, err
			}
			contribute(s, s+l)
		case rleBaseAddressx, rleStartxEndx, rleStartxLength, rleOffsetPair:
			return 0, 0, dbgerr.Errorf(dbgerr.NotImplemented, "range list entry kind 0x%x is not supported", kind)
		default:
			return 0, 0, dbgerr.Errorf(dbgerr.DataCorrupt, "unrecognized range list entry kind 0x%x", kind)
		}
	}
}
