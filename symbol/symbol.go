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

// Package symbol resolves a runtime address to everything a stack trace line
// needs: the owning module, the nearest function symbol, and — when debug
// information is present — the source file, line and column (spec §4.4).
// Preparing a module's image and DWARF resolver is expensive, so it happens
// once per module, lazily, the first time that module is queried; concurrent
// callers racing the same unprepared module block on a condition variable
// rather than duplicating the work.
package symbol

import (
	"fmt"
	"path"
	"sync"

	"github.com/ianlancetaylor/demangle"

	"github.com/oa-333/dbgutil-sub000/dbgerr"
	"github.com/oa-333/dbgutil-sub000/dwarf"
	"github.com/oa-333/dbgutil-sub000/image"
	"github.com/oa-333/dbgutil-sub000/modules"
)

// Info is the fully assembled answer to a symbol query. Any field may be the
// zero value if that piece of information could not be recovered; only a
// module lookup miss is fatal.
type Info struct {
	ModuleBase uint64
	ModuleName string
	StartAddr  uint64
	ByteOffset uint64
	File       string
	Line       uint32
	Column     uint32
	SymbolName string
}

// moduleState is the per-module cache entry. It starts in the NOT READY
// state the instant it is inserted so concurrent lookups of the same module
// see it immediately and wait, rather than each attempting to prepare the
// module themselves.
type moduleState struct {
	mu    sync.Mutex
	cond  *sync.Cond
	ready bool

	img      image.Reader
	resolver *dwarf.Resolver
}

// Engine is the symbol resolution facade. The zero value is not usable;
// construct with NewEngine.
type Engine struct {
	modules *modules.Manager

	mu     sync.RWMutex
	states map[uint64]*moduleState // keyed by Module.LoadAddress
}

// NewEngine returns an Engine that resolves module ownership through mgr.
func NewEngine(mgr *modules.Manager) *Engine {
	return &Engine{
		modules: mgr,
		states:  map[uint64]*moduleState{},
	}
}

// GetSymbolInfo resolves addr. It never fails because debug information is
// missing or a symbol can't be found — those pieces are simply left at their
// zero value — but it does fail if addr isn't owned by any known module.
func (e *Engine) GetSymbolInfo(addr uint64) (Info, error) {
	mod, err := e.modules.GetModuleByAddress(addr)
	if err != nil {
		return Info{}, err
	}

	st := e.stateFor(mod)

	st.mu.Lock()
	for !st.ready {
		st.cond.Wait()
	}
	img, resolver := st.img, st.resolver
	st.mu.Unlock()

	info := Info{
		ModuleBase: mod.LoadAddress,
		ModuleName: mod.Name,
	}

	moduleOffset := addr - mod.LoadAddress

	if img != nil {
		if sym, err := img.SearchSymbol(moduleOffset); err == nil {
			info.StartAddr = mod.LoadAddress + sym.Offset
			info.ByteOffset = addr - info.StartAddr
			info.SymbolName = sym.Name
		}
	}

	if resolver != nil {
		dwarfAddr := moduleOffset + img.RelocationBase()
		if loc, err := resolver.Resolve(dwarfAddr); err == nil {
			info.File = loc.File
			info.Line = loc.Line
			info.Column = loc.Column
		}
	}

	if info.SymbolName != "" {
		info.SymbolName = demangle.Filter(info.SymbolName)
	}

	return info, nil
}

// FormatFrame renders one resolved frame the way a printed call stack line
// looks throughout this module (spec §6): frame index, address, demangled
// symbol with its byte offset, and source location when known. Any piece
// info doesn't have is simply omitted rather than padded with placeholders.
func FormatFrame(index int, addr uint64, info Info) string {
	s := fmt.Sprintf("%d#  %#016x", index, addr)

	if info.SymbolName != "" {
		s += fmt.Sprintf("  %s()", info.SymbolName)
		if info.ByteOffset != 0 {
			s += fmt.Sprintf(" [+%#x]", info.ByteOffset)
		}
	}
	if info.File != "" {
		s += fmt.Sprintf("  at %s:%d", path.Base(info.File), info.Line)
	}
	if info.ModuleName != "" {
		s += fmt.Sprintf(" (%s)", path.Base(info.ModuleName))
	}
	return s
}

// stateFor returns the (possibly freshly inserted and not-yet-prepared)
// cache entry for mod.LoadAddress, preparing it outside any lock the first
// time it is seen.
func (e *Engine) stateFor(mod modules.Module) *moduleState {
	e.mu.RLock()
	st, ok := e.states[mod.LoadAddress]
	e.mu.RUnlock()
	if ok {
		return st
	}

	e.mu.Lock()
	st, ok = e.states[mod.LoadAddress]
	if ok {
		e.mu.Unlock()
		return st
	}
	st = &moduleState{}
	st.cond = sync.NewCond(&st.mu)
	e.states[mod.LoadAddress] = st
	e.mu.Unlock()

	prepare(st, mod)
	return st
}

// prepare opens the module's image reader, assembles a DWARF section set
// from it, opens a resolver if all required sections are present, and
// signals READY. Any failure here just leaves the corresponding field nil;
// per §4.4 missing pieces are non-fatal.
func prepare(st *moduleState, mod modules.Module) {
	defer func() {
		st.mu.Lock()
		st.ready = true
		st.mu.Unlock()
		st.cond.Broadcast()
	}()

	img, err := image.Open(mod.Path, mod.LoadAddress)
	if err != nil {
		return
	}

	sec, err := collectDebugSections(img)
	if err != nil {
		return
	}

	resolver, err := dwarf.Open(sec)
	if err != nil {
		return
	}

	st.mu.Lock()
	st.img = img
	st.resolver = resolver
	st.mu.Unlock()
}

var debugSectionNames = []string{
	".debug_info", ".debug_aranges", ".debug_line", ".debug_str",
	".debug_line_str", ".debug_abbrev", ".debug_rnglists", ".debug_addr",
}

// collectDebugSections reads every named DWARF section present in img into
// a dwarf.Sections value. Sections the image doesn't carry are left nil;
// dwarf.Open reports which of the seven required ones are missing.
func collectDebugSections(img image.Reader) (dwarf.Sections, error) {
	var sec dwarf.Sections
	for _, name := range debugSectionNames {
		data, err := img.SectionData(name)
		if err != nil {
			if dbgerr.Is(err, dbgerr.NotFound) {
				continue
			}
			return dwarf.Sections{}, err
		}
		switch name {
		case ".debug_info":
			sec.Info = data
		case ".debug_aranges":
			sec.Aranges = data
		case ".debug_line":
			sec.Line = data
		case ".debug_str":
			sec.Str = data
		case ".debug_line_str":
			sec.LineStr = data
		case ".debug_abbrev":
			sec.Abbrev = data
		case ".debug_rnglists":
			sec.Rnglists = data
		case ".debug_addr":
			sec.Addr = data
		}
	}
	return sec, nil
}
