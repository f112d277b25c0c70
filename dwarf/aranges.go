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
	"sort"

	"github.com/oa-333/dbgutil-sub000/dbgerr"
)

// arange is one half-open interval [Low,High) tagged with the debug-info
// offset of the compilation unit it belongs to.
type arange struct {
	Low, High uint64
	CUOffset  uint64
}

// arangeMap is the sorted-by-Low multimap built from .debug_aranges; several
// entries may share an identical Low when more than one CU claims the same
// range, so lookups check every entry in the run sharing the Low of the last
// entry at or below the query address rather than assuming uniqueness.
type arangeMap struct {
	entries []arange
}

// buildArangeMap reads every .debug_aranges header in sequence. Each header
// is version 2, gives the owning CU's .debug_info offset, an address size
// and a (required-zero) segment size; after the header, (address,size)
// tuples follow, aligned to 2*address_size, until the (0,0) terminator.
func buildArangeMap(sec []byte) (*arangeMap, error) {
	m := &arangeMap{}
	c := newCursor(sec, 0)

	for !c.atEnd() {
		length, is64, err := c.initialLength()
		if err != nil {
			return nil, err
		}
		headerStart := c.pos()
		unitEnd := headerStart + int(length)
		if unitEnd > len(sec) {
			return nil, dbgerr.Errorf(dbgerr.DataCorrupt, ".debug_aranges unit length overruns section")
		}

		version, err := c.u16()
		if err != nil {
			return nil, err
		}
		if version != 2 {
			return nil, dbgerr.Errorf(dbgerr.NotImplemented, ".debug_aranges version %d is not supported", version)
		}

		cuOffset, err := readSecOffset(c, is64)
		if err != nil {
			return nil, err
		}
		addressSize, err := c.u8()
		if err != nil {
			return nil, err
		}
		segSize, err := c.u8()
		if err != nil {
			return nil, err
		}
		if segSize != 0 {
			return nil, dbgerr.Errorf(dbgerr.NotImplemented, "non-zero .debug_aranges segment_size is not supported")
		}

		tupleSize := 2 * int(addressSize)
		// the tuple array is aligned to a tupleSize boundary measured from
		// the start of the whole section.
		if pad := (c.pos() - 0) % tupleSize; pad != 0 {
			if err := c.skip(tupleSize - pad); err != nil {
				return nil, err
			}
		}

		for {
			var addr, size uint64
			if addressSize == 8 {
				a, err := c.u64()
				if err != nil {
					return nil, err
				}
				s, err := c.u64()
				if err != nil {
					return nil, err
				}
				addr, size = a, s
			} else {
				a, err := c.u32()
				if err != nil {
					return nil, err
				}
				s, err := c.u32()
				if err != nil {
					return nil, err
				}
				addr, size = uint64(a), uint64(s)
			}

			if addr == 0 && size == 0 {
				break
			}
			if size == 0 {
				continue
			}
			m.entries = append(m.entries, arange{Low: addr, High: addr + size, CUOffset: cuOffset})
		}

		c.off = unitEnd
	}

	sort.Slice(m.entries, func(i, j int) bool { return m.entries[i].Low < m.entries[j].Low })
	return m, nil
}

func readSecOffset(c *cursor, is64 bool) (uint64, error) {
	if is64 {
		return c.u64()
	}
	v, err := c.u32()
	return uint64(v), err
}

// lookup returns every CU offset whose arange bucket contains addr. Several
// buckets may share an identical Low when a CU's aranges generator emits
// duplicate tuples; lookup walks backward from the lower-bound only while
// Low stays unchanged, since disjoint intervals never need to be revisited.
func (m *arangeMap) lookup(addr uint64) []uint64 {
	idx := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].Low > addr })
	if idx == 0 {
		return nil
	}

	var hits []uint64
	sharedLow := m.entries[idx-1].Low
	for i := idx - 1; i >= 0 && m.entries[i].Low == sharedLow; i-- {
		if addr < m.entries[i].High {
			hits = append(hits, m.entries[i].CUOffset)
		}
	}
	return hits
}
