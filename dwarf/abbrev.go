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

const tagCompileUnit = 0x11

// attrSpec is one (attribute, form) pair from an abbreviation declaration.
type attrSpec struct {
	attr          uint64
	form          form
	implicitConst int64
}

// abbrevDecl is one decoded abbreviation table entry.
type abbrevDecl struct {
	tag         uint64
	hasChildren bool
	attrs       []attrSpec
}

// readAbbrevTable walks .debug_abbrev starting at off until the code
// terminator (0), returning every declaration keyed by its code. The CU
// summary reader only ever needs the single declaration matching the DIE's
// abbreviation code, but abbreviation tables are small and declarations
// routinely get reused across multiple DIEs, so the whole table is decoded
// once per CU rather than re-walked per attribute.
func readAbbrevTable(abbrev []byte, off uint64) (map[uint64]abbrevDecl, error) {
	if off > uint64(len(abbrev)) {
		return nil, dbgerr.Errorf(dbgerr.DataCorrupt, "abbrev offset %d out of range", off)
	}

	c := newCursor(abbrev, int(off))
	table := map[uint64]abbrevDecl{}

	for {
		code, err := c.uleb()
		if err != nil {
			return nil, err
		}
		if code == 0 {
			break
		}

		tag, err := c.uleb()
		if err != nil {
			return nil, err
		}
		hasChildrenByte, err := c.u8()
		if err != nil {
			return nil, err
		}

		var attrs []attrSpec
		for {
			a, err := c.uleb()
			if err != nil {
				return nil, err
			}
			f, err := c.uleb()
			if err != nil {
				return nil, err
			}
			if a == 0 && f == 0 {
				break
			}

			var implicitConst int64
			if form(f) == formImplicitConst {
				implicitConst, err = c.sleb()
				if err != nil {
					return nil, err
				}
			}

			attrs = append(attrs, attrSpec{attr: a, form: form(f), implicitConst: implicitConst})
		}

		table[code] = abbrevDecl{tag: tag, hasChildren: hasChildrenByte != 0, attrs: attrs}
	}

	return table, nil
}
