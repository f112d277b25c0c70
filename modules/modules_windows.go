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

//go:build windows

package modules

import (
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/oa-333/dbgutil-sub000/dbgerr"
)

// enumerateModules walks a Toolhelp32 module snapshot of the current
// process. The first entry a fresh snapshot yields is always the process's
// own executable module, per the documented enumeration order.
func enumerateModules() ([]Module, *Module, error) {
	pid := windows.GetCurrentProcessId()
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPMODULE|windows.TH32CS_SNAPMODULE32, pid)
	if err != nil {
		return nil, nil, dbgerr.Errorf(dbgerr.SystemFailure, "CreateToolhelp32Snapshot: %v", err)
	}
	defer windows.CloseHandle(snap)

	var entry windows.ModuleEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))

	var mods []Module
	for err = windows.Module32First(snap, &entry); err == nil; err = windows.Module32Next(snap, &entry) {
		path := windows.UTF16ToString(entry.ExePath[:])
		mods = append(mods, Module{
			Name:        filepath.Base(path),
			Path:        path,
			LoadAddress: uint64(entry.ModBaseAddr),
			Size:        uint64(entry.ModBaseSize),
		})
	}
	if len(mods) == 0 {
		return nil, nil, dbgerr.Errorf(dbgerr.SystemFailure, "module snapshot of process %d returned no entries", pid)
	}

	main := &mods[0]
	return mods, main, nil
}

// lookupModuleAt resolves addr to its owning allocation via VirtualQuery,
// then asks for that allocation's backing module file name directly rather
// than paying for a full snapshot.
func lookupModuleAt(addr uint64) (Module, error) {
	var mbi windows.MemoryBasicInformation
	if err := windows.VirtualQuery(uintptr(addr), &mbi, unsafe.Sizeof(mbi)); err != nil {
		return Module{}, dbgerr.Errorf(dbgerr.SystemFailure, "VirtualQuery(0x%x): %v", addr, err)
	}

	var buf [windows.MAX_PATH]uint16
	n, err := windows.GetModuleFileName(windows.Handle(mbi.AllocationBase), &buf[0], uint32(len(buf)))
	if err != nil || n == 0 {
		return Module{}, dbgerr.Errorf(dbgerr.NotFound, "no module maps address 0x%x", addr)
	}

	path := windows.UTF16ToString(buf[:n])
	return Module{
		Name:        filepath.Base(path),
		Path:        path,
		LoadAddress: uint64(mbi.AllocationBase),
		Size:        uint64(mbi.RegionSize),
	}, nil
}
