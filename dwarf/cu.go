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

const dwUTCompile = 0x01

// Attribute codes this package assigns semantics to; everything else is
// read (to stay in sync with the cursor) and discarded.
const (
	atName       = 0x03
	atStmtList   = 0x10
	atLowPC      = 0x11
	atHighPC     = 0x12
	atAddrBase   = 0x73
	atRanges     = 0x55
)

// cuSummary is the subset of a compile unit's DIE this resolver needs: just
// enough to hand off to the line engine, plus the unit's own address envelope
// (LowPC/HighPC, RangeLow/RangeHigh). Resolve picks CUs through
// .debug_aranges alone and does not consult that envelope.
type cuSummary struct {
	Name        string
	HasStmt     bool
	StmtList    uint64
	LowPC       uint64
	HasHighPC   bool
	HighPC      uint64
	HasRanges   bool
	RangeLow    uint64
	RangeHigh   uint64
	AddrBase    uint64
	BaseAddress uint64
	Is64        bool
	AddressSize int
}

// readCUSummary reads the compile unit header at cuOffset in .debug_info,
// resolves its abbreviation table, decodes the top-level DIE's attributes,
// and — when the CU carries a DW_AT_ranges attribute — walks .debug_rnglists
// to compute its address envelope.
func readCUSummary(sec Sections, cuOffset uint64) (cuSummary, error) {
	var out cuSummary

	c := newCursor(sec.Info, int(cuOffset))
	length, is64, err := c.initialLength()
	if err != nil {
		return out, err
	}
	unitEnd := c.pos() + int(length)
	if unitEnd > len(sec.Info) {
		return out, dbgerr.Errorf(dbgerr.DataCorrupt, "CU at offset %d overruns .debug_info", cuOffset)
	}
	out.Is64 = is64

	version, err := c.u16()
	if err != nil {
		return out, err
	}

	var abbrevOffset uint64
	var addressSize uint8

	switch version {
	case 5:
		unitType, err := c.u8()
		if err != nil {
			return out, err
		}
		if unitType != dwUTCompile {
			return out, dbgerr.Errorf(dbgerr.NotImplemented, "CU unit_type 0x%x is not supported", unitType)
		}
		addressSize, err = c.u8()
		if err != nil {
			return out, err
		}
		abbrevOffset, err = readSecOffset(c, is64)
		if err != nil {
			return out, err
		}
	case 3:
		abbrevOffset, err = readSecOffset(c, is64)
		if err != nil {
			return out, err
		}
		addressSize, err = c.u8()
		if err != nil {
			return out, err
		}
	case 4:
		return out, dbgerr.Errorf(dbgerr.NotImplemented, "DWARF CU version 4 is not supported")
	default:
		return out, dbgerr.Errorf(dbgerr.NotImplemented, "DWARF CU version %d is not supported", version)
	}
	out.AddressSize = int(addressSize)

	abbrevs, err := readAbbrevTable(sec.Abbrev, abbrevOffset)
	if err != nil {
		return out, err
	}

	code, err := c.uleb()
	if err != nil {
		return out, err
	}
	decl, ok := abbrevs[code]
	if !ok {
		return out, dbgerr.Errorf(dbgerr.DataCorrupt, "abbreviation code %d not found for CU at offset %d", code, cuOffset)
	}
	if decl.tag != tagCompileUnit {
		return out, dbgerr.Errorf(dbgerr.InvalidState, "top-level DIE of CU at offset %d is not DW_TAG_compile_unit", cuOffset)
	}

	var highPCIsOffset bool
	var highPCRaw formValue

	for _, spec := range decl.attrs {
		v, err := readForm(c, spec.form, sec, is64, out.AddressSize, spec.implicitConst)
		if err != nil {
			return out, err
		}

		switch spec.attr {
		case atName:
			out.Name = v.str
		case atStmtList:
			out.HasStmt = true
			out.StmtList = v.u64
		case atLowPC:
			out.LowPC = v.u64
		case atHighPC:
			highPCRaw = v
			highPCIsOffset = spec.form != formAddr
			out.HasHighPC = true
		case atAddrBase:
			out.AddrBase = v.u64
			// Best-effort: BaseAddress is only ever consumed by the
			// base_addressx/startx_endx/startx_length range-list entry
			// kinds, which are themselves NOT_IMPLEMENTED (rnglists.go), so
			// a missing or malformed .debug_addr here must not fail the
			// whole CU the way an unresolvable DW_AT_ranges does.
			if base, err := readAddrBase(sec, v.u64, out.AddressSize); err == nil {
				out.BaseAddress = base
			}
		case atRanges:
			out.HasRanges = true
			low, high, err := resolveRanges(sec, v, spec.form, out.AddressSize)
			if err != nil {
				return out, err
			}
			out.RangeLow, out.RangeHigh = low, high
		}
	}

	if out.HasHighPC {
		if highPCIsOffset {
			out.HighPC = out.LowPC + highPCRaw.u64
		} else {
			out.HighPC = highPCRaw.u64
		}
	}

	return out, nil
}

// resolveRanges dispatches a DW_AT_ranges attribute: either an index into
// .debug_rnglists (DW_FORM_rnglistx) or a direct DW_FORM_sec_offset into
// .debug_rnglists. clang/gcc emit DW_FORM_rnglistx for DW_AT_ranges by
// default under DWARF5, so treating it as NOT_IMPLEMENTED would fail line
// resolution for most real-world CUs that carry both stmt_list and ranges.
// The original implementation reads the rnglistx operand's ULEB128 value and
// uses it directly as a .debug_rnglists offset rather than indexing through
// a per-CU offset table; this keeps that same behavior rather than adding an
// offset-table indirection the original never implements.
func resolveRanges(sec Sections, v formValue, f form, addressSize int) (uint64, uint64, error) {
	switch f {
	case formRnglistx, formSecOffset:
		return walkRangeList(sec.Rnglists, v.u64, addressSize)
	default:
		return 0, 0, dbgerr.Errorf(dbgerr.NotImplemented, "unsupported form for DW_AT_ranges")
	}
}

// readAddrBase resolves a DW_AT_addr_base attribute: offset is a byte offset
// into .debug_addr (as decoded from the attribute's DW_FORM_sec_offset
// value), and the address stored there becomes the CU's base address, the
// same single read the original implementation's readAddr performs.
func readAddrBase(sec Sections, offset uint64, addressSize int) (uint64, error) {
	if sec.Addr == nil {
		return 0, dbgerr.Errorf(dbgerr.NotImplemented, ".debug_addr section not present, cannot resolve DW_AT_addr_base")
	}
	if offset > uint64(len(sec.Addr)) {
		return 0, dbgerr.Errorf(dbgerr.DataCorrupt, "DW_AT_addr_base offset %d exceeds .debug_addr size %d", offset, len(sec.Addr))
	}
	c := newCursor(sec.Addr, int(offset))
	if addressSize == 8 {
		return c.u64()
	}
	v, err := c.u32()
	return uint64(v), err
}
