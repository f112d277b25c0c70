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

// Package dwarf resolves a runtime address to a (file, line, column,
// function) tuple by walking DWARF v5 debug sections from scratch: no
// debug/dwarf delegation. It builds an address-range multimap over
// .debug_aranges to find the owning compilation unit, reads that unit's
// DIE through .debug_abbrev to obtain its line-program offset and address
// ranges (including .debug_rnglists), and executes the line-number program
// as a state machine to produce a sorted address→line matrix.
package dwarf

import "github.com/oa-333/dbgutil-sub000/dbgerr"

// Sections names the eight byte ranges the resolver reads. The first seven
// are required before Open succeeds; debug_addr is optional and only
// consulted for CUs that carry an addr_base attribute.
type Sections struct {
	Info      []byte
	Aranges   []byte
	Line      []byte
	Str       []byte
	LineStr   []byte
	Abbrev    []byte
	Rnglists  []byte
	Addr      []byte // optional
}

func (s Sections) validate() error {
	if s.Info == nil {
		return dbgerr.Errorf(dbgerr.NotFound, "missing .debug_info")
	}
	if s.Aranges == nil {
		return dbgerr.Errorf(dbgerr.NotFound, "missing .debug_aranges")
	}
	if s.Line == nil {
		return dbgerr.Errorf(dbgerr.NotFound, "missing .debug_line")
	}
	if s.Str == nil {
		return dbgerr.Errorf(dbgerr.NotFound, "missing .debug_str")
	}
	if s.LineStr == nil {
		return dbgerr.Errorf(dbgerr.NotFound, "missing .debug_line_str")
	}
	if s.Abbrev == nil {
		return dbgerr.Errorf(dbgerr.NotFound, "missing .debug_abbrev")
	}
	if s.Rnglists == nil {
		return dbgerr.Errorf(dbgerr.NotFound, "missing .debug_rnglists")
	}
	return nil
}
