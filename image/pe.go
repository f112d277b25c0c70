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

const (
	peSignatureOffsetPtr = 0x3C

	imageFileExecutable = 0x0002
	imageFileSystem     = 0x1000

	imageFileMachineI386  = 0x014c
	imageFileMachineAmd64 = 0x8664

	pe32Magic  = 0x10b
	pe32pMagic = 0x20b
)

const (
	imageSymClassExternal = 2
	imageSymClassStatic   = 3
	imageSymClassFile     = 103

	imageSymTypeFunction = 0x20
)

type peReader struct {
	stream       bufreader.Stream
	file         *os.File
	imageBase    uint64
	sections     map[string]*Section
	sectionIdx   []string
	sectionVAddr []uint64 // VirtualAddress per section, parallel to sectionIdx
	// sectionByIndex and vaddrByIndex are positional: entry i holds the
	// section built from raw COFF section-table entry i, so a symbol's
	// zero-based SectionNumber-1 always indexes correctly even when two
	// sections share a (possibly truncated 8-byte) name and sections/
	// sectionIdx collapse them to one entry.
	sectionByIndex []*Section
	vaddrByIndex   []uint64
	symbols        []Symbol
	sourceFile     []string
}

func (p *peReader) RelocationBase() uint64 { return p.imageBase }

func (p *peReader) Close() error {
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}

func (p *peReader) SourceFiles() []string { return p.sourceFile }

func (p *peReader) Section(name string) (*Section, error) {
	s, ok := p.sections[name]
	if !ok {
		return nil, dbgerr.Errorf(dbgerr.NotFound, "section %q not present", name)
	}
	return s, nil
}

func (p *peReader) SectionData(name string) ([]byte, error) {
	s, err := p.Section(name)
	if err != nil {
		return nil, err
	}
	return s.Data(p.stream)
}

func (p *peReader) ForEachSection(prefix string, visitor func(*Section) error) error {
	for _, name := range p.sectionIdx {
		if len(prefix) > 0 && (len(name) < len(prefix) || name[:len(prefix)] != prefix) {
			continue
		}
		if err := visitor(p.sections[name]); err != nil {
			return err
		}
	}
	return nil
}

func (p *peReader) SearchSymbol(addr uint64) (Symbol, error) {
	idx := sort.Search(len(p.symbols), func(i int) bool {
		return p.symbols[i].Offset > addr
	})
	if idx == 0 {
		return Symbol{}, dbgerr.Errorf(dbgerr.NotFound, "no symbol covers address 0x%x", addr)
	}
	sym := p.symbols[idx-1]
	if addr < sym.Offset || addr >= sym.Offset+sym.Size {
		return Symbol{}, dbgerr.Errorf(dbgerr.NotFound, "no symbol covers address 0x%x", addr)
	}
	return sym, nil
}

// openPE parses a PE or PE32+ image: the DOS stub is skipped via the offset
// stored at 0x3C, the COFF file header is validated, the optional header's
// magic picks PE32 vs PE32+ (only to locate ImageBase; data directories are
// not consulted), section headers build the section directory, and the COFF
// symbol table (not the newer PDB-based debug info) supplies function and
// source-file records exactly as the ELF path does (spec §4.1).
func openPE(stream bufreader.Stream, f *os.File, _ uint64) (Reader, error) {
	ptrBuf, err := readAll(stream, peSignatureOffsetPtr, 4)
	if err != nil {
		return nil, dbgerr.Errorf(dbgerr.DataCorrupt, "reading PE signature pointer: %v", err)
	}
	peOff := uint64(binary.LittleEndian.Uint32(ptrBuf))

	sig, err := readAll(stream, peOff, 4)
	if err != nil {
		return nil, dbgerr.Errorf(dbgerr.DataCorrupt, "reading PE signature: %v", err)
	}
	if sig[0] != 'P' || sig[1] != 'E' || sig[2] != 0 || sig[3] != 0 {
		return nil, dbgerr.Errorf(dbgerr.InvalidArgument, "missing PE\\0\\0 signature")
	}

	coffOff := peOff + 4
	coff, err := readAll(stream, coffOff, 20)
	if err != nil {
		return nil, dbgerr.Errorf(dbgerr.DataCorrupt, "reading COFF file header: %v", err)
	}
	machine := binary.LittleEndian.Uint16(coff[0:2])
	numSections := binary.LittleEndian.Uint16(coff[2:4])
	symTabPtr := binary.LittleEndian.Uint32(coff[8:12])
	numSymbols := binary.LittleEndian.Uint32(coff[12:16])
	optHeaderSize := binary.LittleEndian.Uint16(coff[16:18])
	characteristics := binary.LittleEndian.Uint16(coff[18:20])

	if machine != imageFileMachineI386 && machine != imageFileMachineAmd64 {
		return nil, dbgerr.Errorf(dbgerr.NotImplemented, "unsupported PE machine 0x%x", machine)
	}
	if characteristics&imageFileExecutable == 0 {
		return nil, dbgerr.Errorf(dbgerr.InvalidArgument, "PE image is not executable")
	}
	if characteristics&imageFileSystem != 0 {
		return nil, dbgerr.Errorf(dbgerr.NotImplemented, "system PE images are not supported")
	}
	if symTabPtr == 0 || numSymbols == 0 {
		return nil, dbgerr.Errorf(dbgerr.NotFound, "PE image carries no COFF symbol table")
	}
	if optHeaderSize == 0 {
		return nil, dbgerr.Errorf(dbgerr.InvalidArgument, "PE image has no optional header")
	}

	optOff := coffOff + 20
	magicBuf, err := readAll(stream, optOff, 2)
	if err != nil {
		return nil, dbgerr.Errorf(dbgerr.DataCorrupt, "reading optional header magic: %v", err)
	}
	magic := binary.LittleEndian.Uint16(magicBuf)

	var imageBase uint64
	switch magic {
	case pe32Magic:
		buf, err := readAll(stream, optOff+28, 4)
		if err != nil {
			return nil, dbgerr.Errorf(dbgerr.DataCorrupt, "reading ImageBase: %v", err)
		}
		imageBase = uint64(binary.LittleEndian.Uint32(buf))
	case pe32pMagic:
		buf, err := readAll(stream, optOff+24, 8)
		if err != nil {
			return nil, dbgerr.Errorf(dbgerr.DataCorrupt, "reading ImageBase: %v", err)
		}
		imageBase = binary.LittleEndian.Uint64(buf)
	default:
		return nil, dbgerr.Errorf(dbgerr.NotImplemented, "unsupported optional header magic 0x%x", magic)
	}

	r := &peReader{stream: stream, file: f, imageBase: imageBase, sections: map[string]*Section{}}

	sectionHeaderOff := optOff + uint64(optHeaderSize)
	if err := r.readSections(sectionHeaderOff, numSections); err != nil {
		return nil, err
	}

	strTabOff := uint64(symTabPtr) + uint64(numSymbols)*18
	strTabSizeBuf, err := readAll(stream, strTabOff, 4)
	if err != nil {
		return nil, dbgerr.Errorf(dbgerr.DataCorrupt, "reading COFF string table size: %v", err)
	}
	strTabSize := binary.LittleEndian.Uint32(strTabSizeBuf)

	var strTab []byte
	if strTabSize > 4 {
		strTab, err = readAll(stream, strTabOff, uint64(strTabSize))
		if err != nil {
			return nil, dbgerr.Errorf(dbgerr.DataCorrupt, "reading COFF string table: %v", err)
		}
	}

	if err := r.readSymbols(uint64(symTabPtr), uint64(numSymbols), strTab); err != nil {
		return nil, err
	}

	return r, nil
}

func (p *peReader) readSections(off uint64, count uint16) error {
	const entSize = 40
	buf, err := readAll(p.stream, off, entSize*uint64(count))
	if err != nil {
		return dbgerr.Errorf(dbgerr.DataCorrupt, "reading section headers: %v", err)
	}

	for i := 0; i < int(count); i++ {
		b := buf[i*entSize:]
		name := peShortName(b[0:8])
		virtualSize := binary.LittleEndian.Uint32(b[8:12])
		virtualAddr := binary.LittleEndian.Uint32(b[12:16])
		rawSize := binary.LittleEndian.Uint32(b[16:20])
		rawPtr := binary.LittleEndian.Uint32(b[20:24])

		size := uint64(rawSize)
		if size == 0 {
			size = uint64(virtualSize)
		}

		sec := &Section{Name: name, Offset: uint64(rawPtr), Size: size}
		p.sectionByIndex = append(p.sectionByIndex, sec)
		p.vaddrByIndex = append(p.vaddrByIndex, uint64(virtualAddr))

		if _, exists := p.sections[name]; exists {
			continue
		}
		p.sectionIdx = append(p.sectionIdx, name)
		p.sectionVAddr = append(p.sectionVAddr, uint64(virtualAddr))
		p.sections[name] = sec
	}
	return nil
}

func peShortName(b []byte) string {
	end := 0
	for end < len(b) && b[end] != 0 {
		end++
	}
	return string(b[:end])
}

// readSymbols walks the COFF symbol table. Each primary entry is followed by
// NumberOfAuxSymbols 18-byte aux records; a IMAGE_SYM_CLASS_FILE entry's aux
// record holds the source file name, a function-typed entry becomes a
// Symbol, keyed to the section it was defined in.
func (p *peReader) readSymbols(off, count uint64, strTab []byte) error {
	const entSize = 18
	buf, err := readAll(p.stream, off, entSize*count)
	if err != nil {
		return dbgerr.Errorf(dbgerr.DataCorrupt, "reading COFF symbol table: %v", err)
	}

	currentFileIdx := -1

	for i := uint64(0); i < count; {
		b := buf[i*entSize:]

		nameShort := b[0:8]
		value := binary.LittleEndian.Uint32(b[8:12])
		sectionNumber := int16(binary.LittleEndian.Uint16(b[12:14]))
		symType := binary.LittleEndian.Uint16(b[14:16])
		storageClass := b[16]
		numAux := b[17]

		name := p.symbolName(nameShort, strTab)

		switch storageClass {
		case imageSymClassFile:
			if numAux > 0 && i+1 < count {
				aux := buf[(i+1)*entSize:]
				fname := cString(aux, 0)
				if fname == "" {
					fname = string(aux[:minInt(len(aux), entSize)])
					fname = trimNulls(fname)
				}
				p.sourceFile = append(p.sourceFile, fname)
				currentFileIdx = len(p.sourceFile) - 1
			}
		case imageSymClassExternal, imageSymClassStatic:
			secIdx := int(sectionNumber) - 1
			if symType&0xf0 == imageSymTypeFunction && sectionNumber > 0 && secIdx < len(p.vaddrByIndex) {
				p.symbols = append(p.symbols, Symbol{
					// COFF symbol values are offsets within their section,
					// not absolute RVAs; add the section's VirtualAddress
					// to land in the same address space ELF st_value uses.
					Offset:     p.vaddrByIndex[secIdx] + uint64(value),
					Name:       name,
					SourceFile: currentFileIdx,
					Section:    secIdx,
				})
			}
		}

		i += uint64(1 + numAux)
	}

	sort.Slice(p.symbols, func(i, j int) bool { return p.symbols[i].Offset < p.symbols[j].Offset })
	p.fixupZeroSizes()

	return nil
}

func (p *peReader) symbolName(shortName []byte, strTab []byte) string {
	if shortName[0] == 0 && shortName[1] == 0 && shortName[2] == 0 && shortName[3] == 0 {
		off := binary.LittleEndian.Uint32(shortName[4:8])
		return cString(strTab, off)
	}
	return trimNulls(string(shortName))
}

func trimNulls(s string) string {
	for i, c := range s {
		if c == 0 {
			return s[:i]
		}
	}
	return s
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// fixupZeroSizes extends every PE function symbol (the COFF symbol table
// carries no size field at all, unlike ELF) to the start of the next symbol
// or to the end of its origin section (spec §3 "Symbol record").
func (p *peReader) fixupZeroSizes() {
	for i := range p.symbols {
		if p.symbols[i].Size != 0 {
			continue
		}
		if i+1 < len(p.symbols) && p.symbols[i+1].Offset > p.symbols[i].Offset {
			p.symbols[i].Size = p.symbols[i+1].Offset - p.symbols[i].Offset
			continue
		}
		if sec := p.symbols[i].Section; sec >= 0 && sec < len(p.sectionByIndex) {
			secEnd := p.vaddrByIndex[sec] + p.sectionByIndex[sec].Size
			if secEnd > p.symbols[i].Offset {
				p.symbols[i].Size = secEnd - p.symbols[i].Offset
			}
		}
	}
}
