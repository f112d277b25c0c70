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

const (
	lnctPath           = 0x1
	lnctDirectoryIndex = 0x2
	lnctTimestamp      = 0x3
	lnctSize           = 0x4
	lnctMD5            = 0x5
)

const (
	lnsCopy             = 1
	lnsAdvancePC        = 2
	lnsAdvanceLine      = 3
	lnsSetFile          = 4
	lnsSetColumn        = 5
	lnsNegateStmt       = 6
	lnsSetBasicBlock    = 7
	lnsConstAddPC       = 8
	lnsFixedAdvancePC   = 9
	lnsSetPrologueEnd   = 10
	lnsSetEpilogueBegin = 11
	lnsSetISA           = 12
)

const (
	lneEndSequence     = 1
	lneSetAddress      = 2
	lneSetDiscriminator = 4
)

// lineRow is one entry of the resolved address→source-position matrix.
type lineRow struct {
	Address    uint64
	File       uint32
	Line       uint32
	Column     uint32
	EndSeq     bool
}

// fileEntry is one decoded entry of the file-name table (DWARF v5: index 0
// is a real, meaningful entry, unlike the v2-v4 formats).
type fileEntry struct {
	Name      string
	DirIndex  uint64
}

// lineProgram is a fully-executed line-number program: its header (just the
// file table, which the symbol engine surfaces as source file names) and its
// stably-sorted address matrix.
type lineProgram struct {
	Files []fileEntry
	Rows  []lineRow
}

type entryFormat struct {
	contentType uint64
	form        form
}

func readEntryFormats(c *cursor) ([]entryFormat, error) {
	count, err := c.u8()
	if err != nil {
		return nil, err
	}
	formats := make([]entryFormat, count)
	for i := range formats {
		ct, err := c.uleb()
		if err != nil {
			return nil, err
		}
		f, err := c.uleb()
		if err != nil {
			return nil, err
		}
		formats[i] = entryFormat{contentType: ct, form: form(f)}
	}
	return formats, nil
}

// readDirOrFileTable reads a DWARF v5 directory or file-name table: a count
// of entries, each decoded per the supplied content-type/form pairs.
func readDirOrFileTable(c *cursor, formats []entryFormat, sec Sections, is64 bool, addressSize int) ([]fileEntry, error) {
	count, err := c.uleb()
	if err != nil {
		return nil, err
	}

	entries := make([]fileEntry, count)
	for i := range entries {
		var e fileEntry
		for _, f := range formats {
			v, err := readForm(c, f.form, sec, is64, addressSize, 0)
			if err != nil {
				return nil, err
			}
			switch f.contentType {
			case lnctPath:
				e.Name = v.str
			case lnctDirectoryIndex:
				e.DirIndex = v.u64
			case lnctTimestamp, lnctSize, lnctMD5:
				// recorded in the wire format but not surfaced by this resolver.
			}
		}
		entries[i] = e
	}
	return entries, nil
}

// executeLineProgram parses the .debug_line header at off and runs its
// state machine to completion, producing the stably-sorted address matrix.
func executeLineProgram(sec Sections, off uint64) (*lineProgram, error) {
	c := newCursor(sec.Line, int(off))

	unitLength, is64, err := c.initialLength()
	if err != nil {
		return nil, err
	}
	programEnd := c.pos() + int(unitLength)
	if programEnd > len(sec.Line) {
		return nil, dbgerr.Errorf(dbgerr.DataCorrupt, "line program at offset %d overruns .debug_line", off)
	}

	version, err := c.u16()
	if err != nil {
		return nil, err
	}
	if version != 5 {
		return nil, dbgerr.Errorf(dbgerr.NotImplemented, "line program version %d is not supported", version)
	}

	addressSize, err := c.u8()
	if err != nil {
		return nil, err
	}
	segSelSize, err := c.u8()
	if err != nil {
		return nil, err
	}
	if segSelSize != 0 {
		return nil, dbgerr.Errorf(dbgerr.NotImplemented, "non-zero segment_selector_size is not supported")
	}

	headerLength, err := readSecOffset(c, is64)
	if err != nil {
		return nil, err
	}
	programStart := c.pos() + int(headerLength)

	minInstLen, err := c.u8()
	if err != nil {
		return nil, err
	}
	maxOpsPerInst, err := c.u8()
	if err != nil {
		return nil, err
	}
	if maxOpsPerInst == 0 {
		maxOpsPerInst = 1
	}
	defaultIsStmt, err := c.u8()
	if err != nil {
		return nil, err
	}
	lineBase, err := c.u8()
	if err != nil {
		return nil, err
	}
	signedLineBase := int32(int8(lineBase))
	lineRange, err := c.u8()
	if err != nil {
		return nil, err
	}
	opcodeBase, err := c.u8()
	if err != nil {
		return nil, err
	}

	stdOpcodeLengths := make([]uint8, opcodeBase-1)
	for i := range stdOpcodeLengths {
		stdOpcodeLengths[i], err = c.u8()
		if err != nil {
			return nil, err
		}
	}

	dirFormats, err := readEntryFormats(c)
	if err != nil {
		return nil, err
	}
	dirs, err := readDirOrFileTable(c, dirFormats, sec, is64, int(addressSize))
	if err != nil {
		return nil, err
	}
	_ = dirs

	fileFormats, err := readEntryFormats(c)
	if err != nil {
		return nil, err
	}
	files, err := readDirOrFileTable(c, fileFormats, sec, is64, int(addressSize))
	if err != nil {
		return nil, err
	}

	prog := &lineProgram{Files: files}

	sm := newLineStateMachine(defaultIsStmt != 0)
	c.off = programStart

	for c.off < programEnd {
		opcode, err := c.u8()
		if err != nil {
			return nil, err
		}

		switch {
		case opcode == 0:
			length, err := c.uleb()
			if err != nil {
				return nil, err
			}
			subStart := c.pos()
			subOpcode, err := c.u8()
			if err != nil {
				return nil, err
			}

			switch subOpcode {
			case lneEndSequence:
				sm.endSequence = true
				prog.Rows = append(prog.Rows, sm.row())
				sm.reset(defaultIsStmt != 0)
			case lneSetAddress:
				addr, err := readAddrN(c, int(addressSize))
				if err != nil {
					return nil, err
				}
				sm.address = addr
				sm.opIndex = 0
			case lneSetDiscriminator:
				disc, err := c.uleb()
				if err != nil {
					return nil, err
				}
				sm.discriminator = disc
			default:
				// unrecognized vendor extension: skip by the declared length.
			}

			c.off = subStart + int(length)

		case int(opcode) < int(opcodeBase):
			if err := execStandardOpcode(c, sm, prog, opcode, stdOpcodeLengths, minInstLen, maxOpsPerInst, signedLineBase, lineRange, opcodeBase); err != nil {
				return nil, err
			}

		default:
			adjusted := uint32(opcode) - uint32(opcodeBase)
			advanceAddrOp(sm, uint64(adjusted/uint32(lineRange)), minInstLen, maxOpsPerInst)
			lineDelta := signedLineBase + int32(adjusted%uint32(lineRange))
			sm.line = uint32(int64(sm.line) + int64(lineDelta))
			prog.Rows = append(prog.Rows, sm.row())
			sm.basicBlock = false
			sm.prologueEnd = false
			sm.epilogueBegin = false
			sm.discriminator = 0
		}
	}

	sort.SliceStable(prog.Rows, func(i, j int) bool { return prog.Rows[i].Address < prog.Rows[j].Address })
	return prog, nil
}

func readAddrN(c *cursor, size int) (uint64, error) {
	if size == 8 {
		return c.u64()
	}
	v, err := c.u32()
	return uint64(v), err
}

// lineStateMachine is the DWARF line-number program register file (DWARF5
// §6.2.2); fields not needed to produce lineRow are tracked only because the
// opcodes that mutate them are part of the bytecode contract.
type lineStateMachine struct {
	address       uint64
	opIndex       uint32
	file          uint32
	line          uint32
	column        uint32
	isStmt        bool
	basicBlock    bool
	endSequence   bool
	prologueEnd   bool
	epilogueBegin bool
	isa           uint32
	discriminator uint64
}

func newLineStateMachine(defaultIsStmt bool) *lineStateMachine {
	sm := &lineStateMachine{}
	sm.reset(defaultIsStmt)
	return sm
}

func (sm *lineStateMachine) reset(defaultIsStmt bool) {
	sm.address = 0
	sm.opIndex = 0
	sm.file = 1
	sm.line = 1
	sm.column = 0
	sm.isStmt = defaultIsStmt
	sm.basicBlock = false
	sm.endSequence = false
	sm.prologueEnd = false
	sm.epilogueBegin = false
	sm.isa = 0
	sm.discriminator = 0
}

func (sm *lineStateMachine) row() lineRow {
	return lineRow{Address: sm.address, File: sm.file, Line: sm.line, Column: sm.column, EndSeq: sm.endSequence}
}

func advanceAddrOp(sm *lineStateMachine, opAdvance uint64, minInstLen, maxOpsPerInst uint8) {
	if maxOpsPerInst <= 1 {
		sm.address += opAdvance * uint64(minInstLen)
		return
	}
	total := uint64(sm.opIndex) + opAdvance
	sm.address += (total / uint64(maxOpsPerInst)) * uint64(minInstLen)
	sm.opIndex = uint32(total % uint64(maxOpsPerInst))
}

func execStandardOpcode(c *cursor, sm *lineStateMachine, prog *lineProgram, opcode uint8, stdOpcodeLengths []uint8, minInstLen, maxOpsPerInst uint8, lineBase int32, lineRange uint8, opcodeBase uint8) error {
	switch opcode {
	case lnsCopy:
		prog.Rows = append(prog.Rows, sm.row())
		sm.basicBlock = false
		sm.prologueEnd = false
		sm.epilogueBegin = false
		sm.discriminator = 0
	case lnsAdvancePC:
		adv, err := c.uleb()
		if err != nil {
			return err
		}
		advanceAddrOp(sm, adv, minInstLen, maxOpsPerInst)
	case lnsAdvanceLine:
		delta, err := c.sleb()
		if err != nil {
			return err
		}
		newLine := int64(sm.line) + delta
		if newLine < 1 {
			return dbgerr.Errorf(dbgerr.InvalidState, "DW_LNS_advance_line would drive line below 1")
		}
		sm.line = uint32(newLine)
	case lnsSetFile:
		v, err := c.uleb()
		if err != nil {
			return err
		}
		if v > 0xFFFFFFFF {
			return dbgerr.Errorf(dbgerr.InvalidArgument, "DW_LNS_set_file operand out of range")
		}
		sm.file = uint32(v)
	case lnsSetColumn:
		v, err := c.uleb()
		if err != nil {
			return err
		}
		if v > 0xFFFFFFFF {
			return dbgerr.Errorf(dbgerr.InvalidArgument, "DW_LNS_set_column operand out of range")
		}
		sm.column = uint32(v)
	case lnsNegateStmt:
		sm.isStmt = !sm.isStmt
	case lnsSetBasicBlock:
		sm.basicBlock = true
	case lnsConstAddPC:
		adjusted := uint32(255) - uint32(opcodeBase)
		advanceAddrOp(sm, uint64(adjusted/uint32(lineRange)), minInstLen, maxOpsPerInst)
	case lnsFixedAdvancePC:
		adv, err := c.u16()
		if err != nil {
			return err
		}
		sm.address += uint64(adv)
		sm.opIndex = 0
	case lnsSetPrologueEnd:
		sm.prologueEnd = true
	case lnsSetEpilogueBegin:
		sm.epilogueBegin = true
	case lnsSetISA:
		v, err := c.uleb()
		if err != nil {
			return err
		}
		sm.isa = uint32(v)
	default:
		// vendor-defined standard opcode: consume its declared operand count.
		n := int(stdOpcodeLengths[opcode-1])
		for i := 0; i < n; i++ {
			if _, err := c.uleb(); err != nil {
				return err
			}
		}
	}
	return nil
}

// lookup implements the line-matrix search: lower-bound by address, with a
// one-row step-back and a tie-break preferring the CU's own source over
// headers pulled in from elsewhere, matching the file index of primaryFile
// when more than one row shares the winning address.
func (p *lineProgram) lookup(addr uint64, primaryFile uint32) (lineRow, error) {
	rows := p.Rows
	idx := sort.Search(len(rows), func(i int) bool { return rows[i].Address > addr })

	pick := func(i int) (lineRow, bool) {
		if i < 0 || i >= len(rows) {
			return lineRow{}, false
		}
		if rows[i].Address > addr {
			return lineRow{}, false
		}
		return rows[i], true
	}

	candIdx := idx - 1
	if candIdx < 0 {
		return lineRow{}, dbgerr.Errorf(dbgerr.NotFound, "address 0x%x precedes the line matrix", addr)
	}

	if rows[candIdx].Address == addr {
		// scan the whole same-address run for a primary-file preferred row.
		lo := candIdx
		for lo > 0 && rows[lo-1].Address == addr {
			lo--
		}
		hi := candIdx
		for hi+1 < len(rows) && rows[hi+1].Address == addr {
			hi++
		}
		for i := lo; i <= hi; i++ {
			if rows[i].File == primaryFile {
				return rows[i], nil
			}
		}
		return rows[lo], nil
	}

	row, ok := pick(candIdx)
	if !ok || row.Address > addr {
		return lineRow{}, dbgerr.Errorf(dbgerr.NotFound, "no line matrix row covers address 0x%x", addr)
	}
	return row, nil
}
