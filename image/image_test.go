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

package image_test

import (
	"encoding/binary"
	"os"
	"testing"

	"github.com/oa-333/dbgutil-sub000/dbgerr"
	"github.com/oa-333/dbgutil-sub000/image"
)

// buildELF64 assembles a minimal, well-formed ELF64 executable with a
// .shstrtab, one code section ".text", a .strtab and a .symtab holding a
// single STT_FUNC symbol "foo" at st_value=0x401020, st_size=0x30 — the
// scenario literally named by the specification's worked example.
func buildELF64(t *testing.T) []byte {
	t.Helper()

	const (
		ehSize  = 64
		shSize  = 64
		symSize = 24
	)

	shstrtab := []byte{0}
	nameOff := func(tab *[]byte, name string) uint32 {
		off := uint32(len(*tab))
		*tab = append(*tab, append([]byte(name), 0)...)
		return off
	}

	textOff := nameOff(&shstrtab, ".text")
	strtabOff := nameOff(&shstrtab, ".strtab")
	symtabOff := nameOff(&shstrtab, ".symtab")
	shstrtabOff := nameOff(&shstrtab, ".shstrtab")

	strtab := []byte{0}
	fooNameOff := nameOff(&strtab, "foo")

	// one STT_FUNC symbol named foo.
	sym := make([]byte, symSize)
	binary.LittleEndian.PutUint32(sym[0:4], fooNameOff)
	sym[4] = (0 << 4) | 2 // STB_LOCAL, STT_FUNC
	binary.LittleEndian.PutUint16(sym[6:8], 1)
	binary.LittleEndian.PutUint64(sym[8:16], 0x401020)
	binary.LittleEndian.PutUint64(sym[16:24], 0x30)
	symtab := sym

	// layout: ehdr | .text(pad) | .strtab | .symtab | .shstrtab | shdrs
	textBody := make([]byte, 16)
	textFileOff := uint64(ehSize)
	strtabFileOff := textFileOff + uint64(len(textBody))
	symtabFileOff := strtabFileOff + uint64(len(strtab))
	shstrtabFileOff := symtabFileOff + uint64(len(symtab))
	shoff := shstrtabFileOff + uint64(len(shstrtab))

	buf := make([]byte, shoff+5*shSize)

	// e_ident
	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT
	binary.LittleEndian.PutUint16(buf[16:18], 2)  // e_type = ET_EXEC
	binary.LittleEndian.PutUint16(buf[18:20], 62) // e_machine = EM_X86_64
	binary.LittleEndian.PutUint64(buf[40:48], shoff)
	binary.LittleEndian.PutUint16(buf[58:60], shSize)
	binary.LittleEndian.PutUint16(buf[60:62], 5)
	binary.LittleEndian.PutUint16(buf[62:64], 4) // e_shstrndx = section 4 (.shstrtab)

	copy(buf[textFileOff:], textBody)
	copy(buf[strtabFileOff:], strtab)
	copy(buf[symtabFileOff:], symtab)
	copy(buf[shstrtabFileOff:], shstrtab)

	writeShdr := func(idx int, nameOff uint32, off, size uint64, link uint32) {
		b := buf[shoff+uint64(idx)*shSize:]
		binary.LittleEndian.PutUint32(b[0:4], nameOff)
		binary.LittleEndian.PutUint32(b[4:8], 1) // SHT_PROGBITS, nonzero so it's not skipped
		binary.LittleEndian.PutUint64(b[24:32], off)
		binary.LittleEndian.PutUint64(b[32:40], size)
		binary.LittleEndian.PutUint32(b[40:44], link)
	}

	// section 0 is reserved SHT_NULL; left zeroed.
	writeShdr(1, textOff, textFileOff, uint64(len(textBody)), 0)
	writeShdr(2, strtabOff, strtabFileOff, uint64(len(strtab)), 0)
	writeShdr(3, symtabOff, symtabFileOff, uint64(len(symtab)), 2)
	writeShdr(4, shstrtabOff, shstrtabFileOff, uint64(len(shstrtab)), 0)

	return buf
}

func TestELF64SymbolLookup(t *testing.T) {
	data := buildELF64(t)

	f, err := os.CreateTemp(t.TempDir(), "elf64-*.bin")
	if err != nil {
		t.Fatalf("creating temp file: %v", err)
	}
	if _, err := f.Write(data); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	path := f.Name()
	f.Close()

	r, err := image.Open(path, 0x400000)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	sym, err := r.SearchSymbol(0x401030)
	if err != nil {
		t.Fatalf("SearchSymbol: %v", err)
	}
	if sym.Name != "foo" || sym.Offset != 0x401020 || sym.Size != 0x30 {
		t.Fatalf("unexpected symbol: %+v", sym)
	}

	if _, err := r.SearchSymbol(0x500000); !dbgerr.Is(err, dbgerr.NotFound) {
		t.Fatalf("expected NotFound for address outside any symbol, got %v", err)
	}
}

// buildPE32Plus assembles a minimal PE32+ image with one ".text" section
// and a COFF symbol table holding a single function symbol "bar" at
// value=0x10 within that section (0x1010 once the section's VirtualAddress
// is added), plus a trailing string table.
func buildPE32Plus(t *testing.T) []byte {
	t.Helper()

	const (
		coffHdrSize = 20
		optHdrSize  = 112 // PE32+ optional header, no data directories needed
		sectHdrSize = 40
		symSize     = 18
	)

	dos := make([]byte, 0x40)
	dos[0], dos[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(dos[0x3C:0x40], uint32(len(dos)))

	peOff := uint64(len(dos))
	numSections := uint16(1)
	numSymbols := uint32(1)

	coffOff := peOff + 4
	optOff := coffOff + coffHdrSize
	sectOff := optOff + optHdrSize
	textFileOff := sectOff + uint64(numSections)*sectHdrSize
	textBody := make([]byte, 32)
	symTabOff := textFileOff + uint64(len(textBody))
	strTabOff := symTabOff + uint64(numSymbols)*symSize

	strTab := []byte{0, 0, 0, 0}
	barNameOff := uint32(len(strTab))
	strTab = append(strTab, append([]byte("bar"), 0)...)
	binary.LittleEndian.PutUint32(strTab[0:4], uint32(len(strTab)))

	total := strTabOff + uint64(len(strTab))
	buf := make([]byte, total)
	copy(buf, dos)
	copy(buf[peOff:], []byte{'P', 'E', 0, 0})

	coff := buf[coffOff:]
	binary.LittleEndian.PutUint16(coff[0:2], 0x8664) // IMAGE_FILE_MACHINE_AMD64
	binary.LittleEndian.PutUint16(coff[2:4], numSections)
	binary.LittleEndian.PutUint32(coff[8:12], uint32(symTabOff))
	binary.LittleEndian.PutUint32(coff[12:16], numSymbols)
	binary.LittleEndian.PutUint16(coff[16:18], optHdrSize)
	binary.LittleEndian.PutUint16(coff[18:20], 0x0002) // IMAGE_FILE_EXECUTABLE_IMAGE

	opt := buf[optOff:]
	binary.LittleEndian.PutUint16(opt[0:2], 0x20b) // PE32+
	binary.LittleEndian.PutUint64(opt[24:32], 0x140000000)

	const textVirtualAddr = 0x1000
	const textVirtualSize = 0x1000

	sect := buf[sectOff:]
	copy(sect[0:8], []byte(".text"))
	binary.LittleEndian.PutUint32(sect[8:12], textVirtualSize)
	binary.LittleEndian.PutUint32(sect[12:16], textVirtualAddr)
	binary.LittleEndian.PutUint32(sect[16:20], uint32(len(textBody)))
	binary.LittleEndian.PutUint32(sect[20:24], uint32(textFileOff))

	copy(buf[textFileOff:], textBody)

	sym := buf[symTabOff:]
	binary.LittleEndian.PutUint32(sym[0:4], 0) // zero prefix -> name in string table
	binary.LittleEndian.PutUint32(sym[4:8], barNameOff)
	binary.LittleEndian.PutUint32(sym[8:12], 0x10) // value, relative to .text's VirtualAddress
	binary.LittleEndian.PutUint16(sym[12:14], 1)   // section number 1 (.text)
	binary.LittleEndian.PutUint16(sym[14:16], 0x20) // type: function
	sym[16] = 2                                     // IMAGE_SYM_CLASS_EXTERNAL
	sym[17] = 0                                      // no aux records

	copy(buf[strTabOff:], strTab)

	return buf
}

func TestPE32PlusSymbolLookup(t *testing.T) {
	data := buildPE32Plus(t)

	f, err := os.CreateTemp(t.TempDir(), "pe64-*.bin")
	if err != nil {
		t.Fatalf("creating temp file: %v", err)
	}
	if _, err := f.Write(data); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	path := f.Name()
	f.Close()

	r, err := image.Open(path, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if got, want := r.RelocationBase(), uint64(0x140000000); got != want {
		t.Fatalf("RelocationBase = 0x%x, want 0x%x", got, want)
	}

	sym, err := r.SearchSymbol(0x1015)
	if err != nil {
		t.Fatalf("SearchSymbol: %v", err)
	}
	if sym.Name != "bar" || sym.Offset != 0x1010 {
		t.Fatalf("unexpected symbol: %+v", sym)
	}
}

func TestOpenRejectsUnknownMagic(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "junk-*.bin")
	if err != nil {
		t.Fatalf("creating temp file: %v", err)
	}
	f.Write([]byte{0, 0, 0, 0, 0, 0, 0, 0})
	path := f.Name()
	f.Close()

	if _, err := image.Open(path, 0); !dbgerr.Is(err, dbgerr.NotImplemented) {
		t.Fatalf("expected NotImplemented for unrecognized image, got %v", err)
	}
}
