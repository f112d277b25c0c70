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

package image

import (
	"encoding/binary"
	"os"
	"sort"

	"github.com/oa-333/dbgutil-sub000/bufreader"
	"github.com/oa-333/dbgutil-sub000/dbgerr"
)

// e_ident indices.
const (
	eiClass   = 4
	eiData    = 5
	eiVersion = 6
)

const (
	elfClass32 = 1
	elfClass64 = 2

	elfDataLSB = 1
	elfDataMSB = 2

	evCurrent = 1
)

const (
	etExec = 2
	etDyn  = 3
)

const (
	em386   = 3
	emX8664 = 62
)

const (
	sttFunc = 2
	sttFile = 4
	shnUndef = 0
)

type elfReader struct {
	stream     bufreader.Stream
	file       *os.File
	loadAddr   uint64
	is64       bool
	sections   map[string]*Section
	sectionIdx []string
	// sectionByIndex is positional: entry i holds the *Section built from
	// raw section-header-table entry i (nil for the reserved SHT_NULL
	// entry), so a symbol's raw st_shndx (Symbol.Section+1) always indexes
	// correctly into it even when two sections share a name and e.sections/sectionIdx
	// collapse them to one entry.
	sectionByIndex []*Section
	symbols        []Symbol
	sourceFile     []string
}

func (e *elfReader) RelocationBase() uint64 { return 0 }

func (e *elfReader) Close() error {
	if e.file != nil {
		return e.file.Close()
	}
	return nil
}

func (e *elfReader) SourceFiles() []string { return e.sourceFile }

func (e *elfReader) Section(name string) (*Section, error) {
	s, ok := e.sections[name]
	if !ok {
		return nil, dbgerr.Errorf(dbgerr.NotFound, "section %q not present", name)
	}
	return s, nil
}

func (e *elfReader) SectionData(name string) ([]byte, error) {
	s, err := e.Section(name)
	if err != nil {
		return nil, err
	}
	return s.Data(e.stream)
}

func (e *elfReader) ForEachSection(prefix string, visitor func(*Section) error) error {
	for _, name := range e.sectionIdx {
		if len(prefix) > 0 && (len(name) < len(prefix) || name[:len(prefix)] != prefix) {
			continue
		}
		if err := visitor(e.sections[name]); err != nil {
			return err
		}
	}
	return nil
}

func (e *elfReader) SearchSymbol(addr uint64) (Symbol, error) {
	idx := sort.Search(len(e.symbols), func(i int) bool {
		return e.symbols[i].Offset > addr
	})
	if idx == 0 {
		return Symbol{}, dbgerr.Errorf(dbgerr.NotFound, "no symbol covers address 0x%x", addr)
	}
	sym := e.symbols[idx-1]
	if addr < sym.Offset || addr >= sym.Offset+sym.Size {
		return Symbol{}, dbgerr.Errorf(dbgerr.NotFound, "no symbol covers address 0x%x", addr)
	}
	return sym, nil
}

func readAll(stream bufreader.Stream, off, size uint64) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, size)
	if _, err := stream.ReadAt(buf, int64(off)); err != nil {
		return nil, err
	}
	return buf, nil
}

func openELF(stream bufreader.Stream, f *os.File, loadAddr uint64) (Reader, error) {
	ident, err := readAll(stream, 0, 16)
	if err != nil {
		return nil, dbgerr.Errorf(dbgerr.DataCorrupt, "reading e_ident: %v", err)
	}

	var is64 bool
	switch ident[eiClass] {
	case elfClass32:
		is64 = false
	case elfClass64:
		is64 = true
	default:
		return nil, dbgerr.Errorf(dbgerr.NotImplemented, "unsupported ELF class %d", ident[eiClass])
	}

	switch ident[eiData] {
	case elfDataLSB:
		// supported
	case elfDataMSB:
		return nil, dbgerr.Errorf(dbgerr.NotImplemented, "big-endian ELF is not supported")
	default:
		return nil, dbgerr.Errorf(dbgerr.InvalidArgument, "unsupported ELF data encoding %d", ident[eiData])
	}

	if ident[eiVersion] != evCurrent {
		return nil, dbgerr.Errorf(dbgerr.InvalidArgument, "unsupported ELF identification version %d", ident[eiVersion])
	}

	r := &elfReader{stream: stream, file: f, loadAddr: loadAddr, is64: is64, sections: map[string]*Section{}}

	hdr, err := r.readHeader()
	if err != nil {
		return nil, err
	}

	if hdr.eType != etExec && hdr.eType != etDyn {
		return nil, dbgerr.Errorf(dbgerr.NotImplemented, "unsupported ELF object type %d", hdr.eType)
	}
	if hdr.eMachine != em386 && hdr.eMachine != emX8664 {
		return nil, dbgerr.Errorf(dbgerr.NotImplemented, "unsupported ELF machine %d", hdr.eMachine)
	}

	if err := r.readSections(hdr); err != nil {
		return nil, err
	}
	if err := r.readSymbols(); err != nil {
		return nil, err
	}

	return r, nil
}

type elfFileHeader struct {
	eType     uint16
	eMachine  uint16
	eShoff    uint64
	eShentsize uint16
	eShnum    uint16
	eShstrndx uint16
}

func (e *elfReader) readHeader() (elfFileHeader, error) {
	var hdr elfFileHeader

	if e.is64 {
		buf, err := readAll(e.stream, 0, 64)
		if err != nil {
			return hdr, dbgerr.Errorf(dbgerr.DataCorrupt, "reading ELF64 header: %v", err)
		}
		hdr.eType = binary.LittleEndian.Uint16(buf[16:18])
		hdr.eMachine = binary.LittleEndian.Uint16(buf[18:20])
		hdr.eShoff = binary.LittleEndian.Uint64(buf[40:48])
		hdr.eShentsize = binary.LittleEndian.Uint16(buf[58:60])
		hdr.eShnum = binary.LittleEndian.Uint16(buf[60:62])
		hdr.eShstrndx = binary.LittleEndian.Uint16(buf[62:64])
	} else {
		buf, err := readAll(e.stream, 0, 52)
		if err != nil {
			return hdr, dbgerr.Errorf(dbgerr.DataCorrupt, "reading ELF32 header: %v", err)
		}
		hdr.eType = binary.LittleEndian.Uint16(buf[16:18])
		hdr.eMachine = binary.LittleEndian.Uint16(buf[18:20])
		hdr.eShoff = uint64(binary.LittleEndian.Uint32(buf[32:36]))
		hdr.eShentsize = binary.LittleEndian.Uint16(buf[46:48])
		hdr.eShnum = binary.LittleEndian.Uint16(buf[48:50])
		hdr.eShstrndx = binary.LittleEndian.Uint16(buf[50:52])
	}

	return hdr, nil
}

type rawSection struct {
	nameOff uint32
	typ     uint32
	offset  uint64
	size    uint64
	link    uint32
}

func (e *elfReader) readSectionTable(hdr elfFileHeader) ([]rawSection, error) {
	raws := make([]rawSection, hdr.eShnum)
	entSize := uint64(hdr.eShentsize)

	buf, err := readAll(e.stream, hdr.eShoff, entSize*uint64(hdr.eShnum))
	if err != nil {
		return nil, dbgerr.Errorf(dbgerr.DataCorrupt, "reading section headers: %v", err)
	}

	for i := range raws {
		b := buf[uint64(i)*entSize:]
		if e.is64 {
			raws[i] = rawSection{
				nameOff: binary.LittleEndian.Uint32(b[0:4]),
				typ:     binary.LittleEndian.Uint32(b[4:8]),
				offset:  binary.LittleEndian.Uint64(b[24:32]),
				size:    binary.LittleEndian.Uint64(b[32:40]),
				link:    binary.LittleEndian.Uint32(b[40:44]),
			}
		} else {
			raws[i] = rawSection{
				nameOff: binary.LittleEndian.Uint32(b[0:4]),
				typ:     binary.LittleEndian.Uint32(b[4:8]),
				offset:  uint64(binary.LittleEndian.Uint32(b[16:20])),
				size:    uint64(binary.LittleEndian.Uint32(b[20:24])),
				link:    binary.LittleEndian.Uint32(b[24:28]),
			}
		}
	}
	return raws, nil
}

const shtNull = 0

func (e *elfReader) readSections(hdr elfFileHeader) error {
	raws, err := e.readSectionTable(hdr)
	if err != nil {
		return err
	}
	if int(hdr.eShstrndx) >= len(raws) {
		return dbgerr.Errorf(dbgerr.DataCorrupt, "shstrndx %d out of range", hdr.eShstrndx)
	}

	shstrtab, err := readAll(e.stream, raws[hdr.eShstrndx].offset, raws[hdr.eShstrndx].size)
	if err != nil {
		return dbgerr.Errorf(dbgerr.DataCorrupt, "reading section header string table: %v", err)
	}

	e.sectionByIndex = make([]*Section, len(raws))
	for i, raw := range raws {
		if raw.typ == shtNull {
			continue
		}
		name := cString(shstrtab, raw.nameOff)
		sec := &Section{Name: name, Offset: raw.offset, Size: raw.size}
		e.sectionByIndex[i] = sec
		if _, exists := e.sections[name]; exists {
			continue
		}
		e.sectionIdx = append(e.sectionIdx, name)
		e.sections[name] = sec
	}

	return nil
}

func cString(buf []byte, off uint32) string {
	if int(off) >= len(buf) {
		return ""
	}
	end := off
	for int(end) < len(buf) && buf[end] != 0 {
		end++
	}
	return string(buf[off:end])
}

func (e *elfReader) readSymbols() error {
	symtab, ok := e.sections[".symtab"]
	if !ok {
		return dbgerr.Errorf(dbgerr.NotFound, ".symtab section not present")
	}
	strtab, ok := e.sections[".strtab"]
	if !ok {
		return dbgerr.Errorf(dbgerr.NotFound, ".strtab section not present")
	}

	symBuf, err := symtab.Data(e.stream)
	if err != nil {
		return err
	}
	strBuf, err := strtab.Data(e.stream)
	if err != nil {
		return err
	}

	entSize := 24
	if !e.is64 {
		entSize = 16
	}
	if len(symBuf)%entSize != 0 {
		return dbgerr.Errorf(dbgerr.DataCorrupt, ".symtab size %d not a multiple of entry size %d", len(symBuf), entSize)
	}

	currentFileIdx := -1
	count := len(symBuf) / entSize

	for i := 0; i < count; i++ {
		b := symBuf[i*entSize:]

		var nameOff uint32
		var value, size uint64
		var info, shndx uint16
		var stInfo uint8

		if e.is64 {
			nameOff = binary.LittleEndian.Uint32(b[0:4])
			stInfo = b[4]
			shndx = binary.LittleEndian.Uint16(b[6:8])
			value = binary.LittleEndian.Uint64(b[8:16])
			size = binary.LittleEndian.Uint64(b[16:24])
		} else {
			nameOff = binary.LittleEndian.Uint32(b[0:4])
			value = uint64(binary.LittleEndian.Uint32(b[4:8]))
			size = uint64(binary.LittleEndian.Uint32(b[8:12]))
			stInfo = b[12]
			shndx = binary.LittleEndian.Uint16(b[14:16])
		}
		info = uint16(stInfo & 0xf)

		if shndx == shnUndef {
			continue
		}

		name := cString(strBuf, nameOff)

		switch info {
		case sttFile:
			e.sourceFile = append(e.sourceFile, name)
			currentFileIdx = len(e.sourceFile) - 1
		case sttFunc:
			e.symbols = append(e.symbols, Symbol{
				Offset:     value,
				Size:       size,
				Name:       name,
				SourceFile: currentFileIdx,
				Section:    int(shndx) - 1,
			})
		}
	}

	sort.Slice(e.symbols, func(i, j int) bool { return e.symbols[i].Offset < e.symbols[j].Offset })
	e.fixupZeroSizes()

	return nil
}

// fixupZeroSizes extends any symbol with a recorded size of zero to the
// start of the next symbol, or to the end of its origin section if it is
// the last symbol within that section (spec §3 "Symbol record").
func (e *elfReader) fixupZeroSizes() {
	for i := range e.symbols {
		if e.symbols[i].Size != 0 {
			continue
		}
		if i+1 < len(e.symbols) && e.symbols[i+1].Offset > e.symbols[i].Offset {
			e.symbols[i].Size = e.symbols[i+1].Offset - e.symbols[i].Offset
			continue
		}
		// Section is st_shndx-1; sectionByIndex is positional over the raw
		// section header table, so st_shndx (Section+1) always indexes it
		// correctly, even for sections whose name collides with another's.
		shndx := e.symbols[i].Section + 1
		if shndx >= 0 && shndx < len(e.sectionByIndex) {
			sec := e.sectionByIndex[shndx]
			if sec != nil && sec.Offset+sec.Size > e.symbols[i].Offset {
				e.symbols[i].Size = sec.Offset + sec.Size - e.symbols[i].Offset
			}
		}
	}
}
