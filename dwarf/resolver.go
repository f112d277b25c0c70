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
	"sync"

	"github.com/oa-333/dbgutil-sub000/dbgerr"
)

// Location is the result of resolving a runtime address.
type Location struct {
	File   string
	Line   uint32
	Column uint32
}

// Resolver answers address→source-location queries for one module's DWARF
// sections. It is safe for concurrent use; CU summaries and line programs
// are parsed once and cached.
type Resolver struct {
	sec     Sections
	aranges *arangeMap

	mu        sync.Mutex
	cuCache   map[uint64]cuSummary
	lineCache map[uint64]*lineProgram
}

// Open validates that the seven required sections are present, builds the
// .debug_aranges interval multimap, and returns a ready-to-query Resolver.
func Open(sec Sections) (*Resolver, error) {
	if err := sec.validate(); err != nil {
		return nil, err
	}

	aranges, err := buildArangeMap(sec.Aranges)
	if err != nil {
		return nil, err
	}

	return &Resolver{
		sec:       sec,
		aranges:   aranges,
		cuCache:   map[uint64]cuSummary{},
		lineCache: map[uint64]*lineProgram{},
	}, nil
}

// Resolve maps addr (already relocated into the module's DWARF address
// space) to a source location. It looks up the owning compilation unit via
// the address-range multimap; if several CUs claim overlapping aranges
// buckets, each is tried in turn and the first successful line-matrix
// lookup wins.
func (r *Resolver) Resolve(addr uint64) (Location, error) {
	hits := r.aranges.lookup(addr)
	if len(hits) == 0 {
		return Location{}, dbgerr.Errorf(dbgerr.NotFound, "address 0x%x is not covered by any compilation unit", addr)
	}

	var lastErr error
	for _, cuOffset := range hits {
		loc, err := r.resolveInCU(cuOffset, addr)
		if err == nil {
			return loc, nil
		}
		lastErr = err
	}
	return Location{}, lastErr
}

func (r *Resolver) resolveInCU(cuOffset, addr uint64) (Location, error) {
	cu, err := r.cuSummary(cuOffset)
	if err != nil {
		return Location{}, err
	}
	if !cu.HasStmt {
		return Location{}, dbgerr.Errorf(dbgerr.NotFound, "CU at offset %d carries no line program", cuOffset)
	}

	prog, err := r.lineProgram(cu.StmtList)
	if err != nil {
		return Location{}, err
	}

	row, err := prog.lookup(addr, 1)
	if err != nil {
		return Location{}, err
	}

	var name string
	idx := int(row.File)
	if idx >= 0 && idx < len(prog.Files) {
		name = prog.Files[idx].Name
	}

	return Location{File: name, Line: row.Line, Column: row.Column}, nil
}

func (r *Resolver) cuSummary(cuOffset uint64) (cuSummary, error) {
	r.mu.Lock()
	if cu, ok := r.cuCache[cuOffset]; ok {
		r.mu.Unlock()
		return cu, nil
	}
	r.mu.Unlock()

	cu, err := readCUSummary(r.sec, cuOffset)
	if err != nil {
		return cuSummary{}, err
	}

	r.mu.Lock()
	r.cuCache[cuOffset] = cu
	r.mu.Unlock()
	return cu, nil
}

func (r *Resolver) lineProgram(stmtListOffset uint64) (*lineProgram, error) {
	r.mu.Lock()
	if p, ok := r.lineCache[stmtListOffset]; ok {
		r.mu.Unlock()
		return p, nil
	}
	r.mu.Unlock()

	p, err := executeLineProgram(r.sec, stmtListOffset)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.lineCache[stmtListOffset] = p
	r.mu.Unlock()
	return p, nil
}
