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

// Package modules tracks the set of images (executable and shared libraries)
// currently mapped into this process (spec §4.5). The set is ordered by load
// address and refreshed either wholesale (RefreshModuleList) or lazily, one
// address at a time, the first time that address is queried.
package modules

import (
	"sort"
	"strings"
	"sync"

	"github.com/oa-333/dbgutil-sub000/dbgerr"
)

// Module describes one image mapped into the process address space.
type Module struct {
	Name        string // base name, e.g. "libc.so.6"
	Path        string // full path as reported by the OS
	LoadAddress uint64
	Size        uint64
}

// contains reports whether addr falls within [LoadAddress, LoadAddress+Size).
func (m Module) contains(addr uint64) bool {
	return addr >= m.LoadAddress && addr < m.LoadAddress+m.Size
}

// Manager is the process-wide module set. The zero value is not usable;
// construct with NewManager. Manager is safe for concurrent use.
type Manager struct {
	mu   sync.RWMutex
	list []Module // sorted by LoadAddress, non-overlapping
	main *Module
}

// NewManager returns an empty Manager; the first GetModuleByAddress or
// RefreshModuleList call populates it.
func NewManager() *Manager {
	return &Manager{}
}

// GetModuleByAddress performs an interval search over the cached module set.
// On a miss it asks the OS for the single module that owns addr and inserts
// it under a write-lock; if another goroutine raced in the same module first,
// the loser silently adopts the winner's copy rather than inserting a
// duplicate.
func (m *Manager) GetModuleByAddress(addr uint64) (Module, error) {
	if mod, ok := m.findLocked(addr); ok {
		return mod, nil
	}

	mod, err := lookupModuleAt(addr)
	if err != nil {
		return Module{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.findUnlocked(addr); ok {
		return existing, nil
	}
	m.insertUnlocked(mod)
	return mod, nil
}

// GetModuleByName returns the first module whose Name or Path contains
// substring. If refresh is set the module set is re-enumerated from the OS
// before scanning.
func (m *Manager) GetModuleByName(substring string, refresh bool) (Module, error) {
	if refresh {
		if err := m.RefreshModuleList(); err != nil {
			return Module{}, err
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mod := range m.list {
		if strings.Contains(mod.Name, substring) || strings.Contains(mod.Path, substring) {
			return mod, nil
		}
	}
	return Module{}, dbgerr.Errorf(dbgerr.NotFound, "no loaded module matches %q", substring)
}

// GetMainModule returns the process's own executable image. The first call
// (and any call after a cache miss) triggers a full enumeration.
func (m *Manager) GetMainModule() (Module, error) {
	m.mu.RLock()
	main := m.main
	m.mu.RUnlock()
	if main != nil {
		return *main, nil
	}

	if err := m.RefreshModuleList(); err != nil {
		return Module{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.main == nil {
		return Module{}, dbgerr.Errorf(dbgerr.NotFound, "could not identify the main module")
	}
	return *m.main, nil
}

// ForEachModule visits every cached module under a read-lock, in load-address
// order, stopping early if visitor returns an error.
func (m *Manager) ForEachModule(visitor func(Module) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mod := range m.list {
		if err := visitor(mod); err != nil {
			return err
		}
	}
	return nil
}

// RefreshModuleList re-enumerates the process's module set from the OS and
// atomically replaces the cached set.
func (m *Manager) RefreshModuleList() error {
	mods, main, err := enumerateModules()
	if err != nil {
		return err
	}
	sort.Slice(mods, func(i, j int) bool { return mods[i].LoadAddress < mods[j].LoadAddress })

	m.mu.Lock()
	defer m.mu.Unlock()
	m.list = mods
	if main != nil {
		for i := range m.list {
			if m.list[i].Path == main.Path {
				m.main = &m.list[i]
				break
			}
		}
	}
	return nil
}

// findLocked takes a read-lock and performs the interval search.
func (m *Manager) findLocked(addr uint64) (Module, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findUnlocked(addr)
}

// findUnlocked performs the interval search; the caller must hold m.mu in
// either mode.
func (m *Manager) findUnlocked(addr uint64) (Module, bool) {
	i := sort.Search(len(m.list), func(i int) bool { return m.list[i].LoadAddress > addr })
	if i == 0 {
		return Module{}, false
	}
	if mod := m.list[i-1]; mod.contains(addr) {
		return mod, true
	}
	return Module{}, false
}

// insertUnlocked keeps m.list sorted by LoadAddress; the caller must hold
// m.mu for writing.
func (m *Manager) insertUnlocked(mod Module) {
	i := sort.Search(len(m.list), func(i int) bool { return m.list[i].LoadAddress >= mod.LoadAddress })
	m.list = append(m.list, Module{})
	copy(m.list[i+1:], m.list[i:])
	m.list[i] = mod
}
