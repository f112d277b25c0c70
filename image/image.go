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

// Package image parses ELF (32/64) and PE/PE32+ object files, the hardest
// engineering this module does entirely by hand rather than by delegating
// to debug/elf or debug/pe (spec §4.1): it builds a section directory and a
// sorted, non-overlapping function symbol table annotated with per-symbol source
// file attribution.
package image

import (
	"io"
	"os"

	"github.com/oa-333/dbgutil-sub000/bufreader"
	"github.com/oa-333/dbgutil-sub000/dbgerr"
)

// Symbol is a function symbol record. Offset is the symbol's address as the
// image records it: for ELF the raw st_value (absolute in a fixed-address
// executable, load-relative in a position-independent object), for PE the
// section's VirtualAddress plus the COFF value. Symbols of a Reader are
// sorted by Offset and, after zero-size fix-up, never overlap.
type Symbol struct {
	Offset     uint64
	Size       uint64
	Name       string
	SourceFile int // index into Reader.SourceFiles(), or -1 if unknown
	Section    int // index of the section the symbol was found in, or -1
}

// Section describes one section of the image: its name, its file offset
// and size, and a lazily-materialized byte buffer.
type Section struct {
	Name   string
	Offset uint64
	Size   uint64

	data []byte
}

// Reader is the contract every concrete image format (ELF, PE) satisfies.
type Reader interface {
	// SearchSymbol returns the function symbol that contains addr (in the
	// same address space as Symbol.Offset), or a dbgerr.NotFound error if
	// addr falls in a gap between symbols.
	SearchSymbol(addr uint64) (Symbol, error)

	// Section returns the named section, or a dbgerr.NotFound error.
	Section(name string) (*Section, error)

	// SectionData returns the named section's materialized bytes, or a
	// dbgerr.NotFound error if the section isn't present.
	SectionData(name string) ([]byte, error)

	// ForEachSection visits every section whose name has the given
	// prefix ("" matches all sections).
	ForEachSection(prefix string, visitor func(*Section) error) error

	// SourceFiles returns the ordered list of source file names collected
	// while scanning the symbol table.
	SourceFiles() []string

	// RelocationBase is the load address DWARF addresses in this image
	// were prepared against (ImageBase for PE, 0 for ELF).
	RelocationBase() uint64

	// Close releases resources backing section byte buffers. Section
	// handles obtained before Close remain valid as long as their buffer
	// was already materialized.
	Close() error
}

// Data materializes (if necessary) and returns the section's bytes, reading
// them from stream at Offset..Offset+Size. Materialization is idempotent.
func (s *Section) Data(stream bufreader.Stream) ([]byte, error) {
	if s.data != nil {
		return s.data, nil
	}
	if s.Size == 0 {
		s.data = []byte{}
		return s.data, nil
	}
	buf := make([]byte, s.Size)
	if _, err := stream.ReadAt(buf, int64(s.Offset)); err != nil {
		return nil, dbgerr.Errorf(dbgerr.DataCorrupt, "reading section %q: %v", s.Name, err)
	}
	s.data = buf
	return s.data, nil
}

const (
	elfMagic0 = 0x7f
	elfMagic1 = 'E'
	elfMagic2 = 'L'
	elfMagic3 = 'F'
)

// Open sniffs path's leading bytes to decide whether it is an ELF or a
// PE/PE32+ object file and parses it accordingly. moduleLoadAddress is the
// address the image was (or will be) loaded at; the ELF reader does not
// apply it to symbol offsets, and PE uses its own ImageBase as the
// relocation base instead.
func Open(path string, moduleLoadAddress uint64) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, dbgerr.Errorf(dbgerr.NotFound, "opening %q: %v", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, dbgerr.Errorf(dbgerr.SystemFailure, "stat %q: %v", path, err)
	}

	magic := make([]byte, 4)
	if _, err := f.ReadAt(magic, 0); err != nil && err != io.EOF {
		f.Close()
		return nil, dbgerr.Errorf(dbgerr.DataCorrupt, "reading magic of %q: %v", path, err)
	}

	stream := bufreader.NewFile(f, info.Size())

	switch {
	case magic[0] == elfMagic0 && magic[1] == elfMagic1 && magic[2] == elfMagic2 && magic[3] == elfMagic3:
		return openELF(stream, f, moduleLoadAddress)
	case magic[0] == 'M' && magic[1] == 'Z':
		return openPE(stream, f, moduleLoadAddress)
	default:
		f.Close()
		return nil, dbgerr.Errorf(dbgerr.NotImplemented, "%q is neither an ELF nor a PE image", path)
	}
}
