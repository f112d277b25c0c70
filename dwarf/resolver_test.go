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

package dwarf_test

import (
	"encoding/binary"
	"testing"

	"github.com/oa-333/dbgutil-sub000/dbgerr"
	"github.com/oa-333/dbgutil-sub000/dwarf"
)

func encodeULEB(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			break
		}
	}
	return out
}

func encodeSLEB(v int64) []byte {
	var out []byte
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			more = false
		} else {
			b |= 0x80
		}
		out = append(out, b)
	}
	return out
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func le64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func le16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

// buildDebugLine assembles a DWARF v5 .debug_line program that, once
// executed, yields the three rows from the specification's worked example,
// (0x400100,10), (0x400110,11), (0x400120,12), followed by the row that
// DW_LNE_end_sequence appends at 0x400120.
func buildDebugLine(t *testing.T) []byte {
	t.Helper()

	var header []byte
	header = append(header, 1, 1, 1) // min_instruction_length, max_ops_per_instruction, default_is_stmt
	header = append(header, 0xfb)           // line_base = -5 (two's complement)
	header = append(header, 14)             // line_range
	header = append(header, 13)             // opcode_base
	header = append(header, make([]byte, 12)...) // standard_opcode_lengths (unused by this program)

	// directory table: one entry, DW_LNCT_path/DW_FORM_string.
	header = append(header, 1)       // format count
	header = append(header, 1, 0x08) // (DW_LNCT_path, DW_FORM_string)
	header = append(header, 1)       // directory count
	header = append(header, []byte("/src\x00")...)

	// file-name table: two entries, DW_LNCT_path/string + DW_LNCT_directory_index/udata.
	header = append(header, 2)             // format count
	header = append(header, 1, 0x08)       // (DW_LNCT_path, DW_FORM_string)
	header = append(header, 2, 0x0f)       // (DW_LNCT_directory_index, DW_FORM_udata)
	header = append(header, 2)             // file count
	header = append(header, []byte("main.c\x00")...)
	header = append(header, 0)
	header = append(header, []byte("main.c\x00")...)
	header = append(header, 0)

	var program []byte
	appendExt := func(subOpcode byte, operand []byte) {
		program = append(program, 0)
		program = append(program, encodeULEB(uint64(1+len(operand)))...)
		program = append(program, subOpcode)
		program = append(program, operand...)
	}

	appendExt(2, le64(0x400100)) // DW_LNE_set_address
	program = append(program, 3)
	program = append(program, encodeSLEB(9)...) // DW_LNS_advance_line +9 -> line=10
	program = append(program, 1)                // DW_LNS_copy -> row (0x400100, 10)
	program = append(program, 2)
	program = append(program, encodeULEB(0x10)...) // DW_LNS_advance_pc +0x10
	program = append(program, 3)
	program = append(program, encodeSLEB(1)...) // DW_LNS_advance_line +1 -> line=11
	program = append(program, 1)                // DW_LNS_copy -> row (0x400110, 11)
	program = append(program, 2)
	program = append(program, encodeULEB(0x10)...) // DW_LNS_advance_pc +0x10
	program = append(program, 3)
	program = append(program, encodeSLEB(1)...) // DW_LNS_advance_line +1 -> line=12
	program = append(program, 1)                // DW_LNS_copy -> row (0x400120, 12)
	appendExt(1, nil)                           // DW_LNE_end_sequence

	headerLengthField := le32(uint32(len(header)))

	var unit []byte
	unit = append(unit, le16(5)...) // version
	unit = append(unit, 8, 0)       // address_size, segment_selector_size
	unit = append(unit, headerLengthField...)
	unit = append(unit, header...)
	unit = append(unit, program...)

	var sec []byte
	sec = append(sec, le32(uint32(len(unit)))...)
	sec = append(sec, unit...)
	return sec
}

// buildDebugAranges builds a single .debug_aranges header covering
// [0x400000, 0x401000) tagged to CU offset 0.
func buildDebugAranges(t *testing.T) []byte {
	t.Helper()

	const addressSize = 8
	const tupleSize = 2 * addressSize

	var body []byte
	body = append(body, le16(2)...)  // version
	body = append(body, le32(0)...)  // debug_info_offset
	body = append(body, addressSize, 0)

	// pad to a tupleSize boundary measured from the start of the section:
	// 4 (initial length) + len(body) must be a multiple of tupleSize.
	for (4+len(body))%tupleSize != 0 {
		body = append(body, 0)
	}

	body = append(body, le64(0x400000)...)
	body = append(body, le64(0x1000)...)
	body = append(body, le64(0)...) // terminator
	body = append(body, le64(0)...)

	var sec []byte
	sec = append(sec, le32(uint32(len(body)))...)
	sec = append(sec, body...)
	return sec
}

// buildDebugAbbrevAndInfo builds a one-CU .debug_abbrev/.debug_info pair:
// DW_TAG_compile_unit with DW_AT_low_pc, DW_AT_high_pc (absolute address
// form) and DW_AT_stmt_list pointing at offset 0 of .debug_line.
func buildDebugAbbrevAndInfo(t *testing.T) (abbrev, info []byte) {
	t.Helper()

	abbrev = append(abbrev, encodeULEB(1)...) // abbreviation code 1
	abbrev = append(abbrev, encodeULEB(0x11)...) // DW_TAG_compile_unit
	abbrev = append(abbrev, 0)                   // has_children = no
	abbrev = append(abbrev, encodeULEB(0x11)...) // DW_AT_low_pc
	abbrev = append(abbrev, encodeULEB(0x01)...) // DW_FORM_addr
	abbrev = append(abbrev, encodeULEB(0x12)...) // DW_AT_high_pc
	abbrev = append(abbrev, encodeULEB(0x01)...) // DW_FORM_addr (treated as absolute, not an offset)
	abbrev = append(abbrev, encodeULEB(0x10)...) // DW_AT_stmt_list
	abbrev = append(abbrev, encodeULEB(0x17)...) // DW_FORM_sec_offset
	abbrev = append(abbrev, 0, 0)                 // attribute list terminator
	abbrev = append(abbrev, 0)                    // abbreviation table terminator

	var unit []byte
	unit = append(unit, le16(5)...) // version
	unit = append(unit, 1)          // unit_type = DW_UT_compile
	unit = append(unit, 8)          // address_size
	unit = append(unit, le32(0)...) // abbrev_offset
	unit = append(unit, encodeULEB(1)...) // abbreviation code
	unit = append(unit, le64(0x400000)...) // DW_AT_low_pc
	unit = append(unit, le64(0x401000)...) // DW_AT_high_pc
	unit = append(unit, le32(0)...)        // DW_AT_stmt_list -> offset 0 in .debug_line

	info = append(info, le32(uint32(len(unit)))...)
	info = append(info, unit...)
	return abbrev, info
}

func TestResolveWorkedExample(t *testing.T) {
	abbrev, info := buildDebugAbbrevAndInfo(t)

	sec := dwarf.Sections{
		Info:     info,
		Aranges:  buildDebugAranges(t),
		Line:     buildDebugLine(t),
		Str:      []byte{0},
		LineStr:  []byte{0},
		Abbrev:   abbrev,
		Rnglists: []byte{},
	}

	r, err := dwarf.Open(sec)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	loc, err := r.Resolve(0x40011C)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if loc.Line != 11 {
		t.Fatalf("Line = %d, want 11", loc.Line)
	}
	if loc.File != "main.c" {
		t.Fatalf("File = %q, want %q", loc.File, "main.c")
	}
}

func TestResolveAddressOutsideAnyCU(t *testing.T) {
	abbrev, info := buildDebugAbbrevAndInfo(t)

	sec := dwarf.Sections{
		Info:     info,
		Aranges:  buildDebugAranges(t),
		Line:     buildDebugLine(t),
		Str:      []byte{0},
		LineStr:  []byte{0},
		Abbrev:   abbrev,
		Rnglists: []byte{},
	}

	r, err := dwarf.Open(sec)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := r.Resolve(0x500000); !dbgerr.Is(err, dbgerr.NotFound) {
		t.Fatalf("expected NotFound for address outside any CU, got %v", err)
	}
}
