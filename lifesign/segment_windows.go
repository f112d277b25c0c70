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

package lifesign

import (
	"os"
	"regexp"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/oa-333/dbgutil-sub000/dbgerr"
)

var segmentNamePattern = regexp.MustCompile(`^` + shmPrefix + `\..*\.` + shmSuffix + `$`)

// win32Backend backs a segment with a disk-backed file mapping under the
// process's temp directory: unlike the Linux tmpfs path, the backing file on
// disk means the segment's last-written contents survive the owning
// process's death, which is exactly the guarantee a guardian process reading
// a crashed process's life-sign area after the fact depends on.
type win32Backend struct {
	backingFile windows.Handle
	mapFile     windows.Handle
}

func newBackend() backend {
	return &win32Backend{backingFile: windows.InvalidHandle, mapFile: 0}
}

func shmDir() string {
	return os.TempDir() + string(os.PathSeparator)
}

func (b *win32Backend) create(name string, size uint32, shareWrite bool) ([]byte, error) {
	path := shmDir() + name

	shareMode := uint32(windows.FILE_SHARE_READ)
	if shareWrite {
		shareMode |= windows.FILE_SHARE_WRITE
	}

	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, dbgerr.Errorf(dbgerr.InvalidArgument, "invalid backing file path %s: %v", path, err)
	}
	backingFile, err := windows.CreateFile(pathPtr, windows.GENERIC_READ|windows.GENERIC_WRITE,
		shareMode, nil, windows.CREATE_NEW, windows.FILE_ATTRIBUTE_NORMAL, 0)
	if err != nil {
		return nil, dbgerr.Errorf(dbgerr.SystemFailure, "creating backing file %s for shared memory segment %s: %v", path, name, err)
	}
	b.backingFile = backingFile

	namePtr, err := windows.UTF16PtrFromString("Local\\" + name)
	if err != nil {
		b.close(nil)
		return nil, dbgerr.Errorf(dbgerr.InvalidArgument, "invalid shared memory segment name %s: %v", name, err)
	}
	mapFile, err := windows.CreateFileMapping(backingFile, nil, windows.PAGE_READWRITE, 0, size, namePtr)
	if err != nil {
		b.close(nil)
		return nil, dbgerr.Errorf(dbgerr.SystemFailure, "creating shared memory segment %s of size %d: %v", name, size, err)
	}
	b.mapFile = mapFile

	addr, err := windows.MapViewOfFile(mapFile, windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, 0, 0, uintptr(size))
	if err != nil {
		b.close(nil)
		return nil, dbgerr.Errorf(dbgerr.SystemFailure, "mapping shared memory segment %s into process address space: %v", name, err)
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

func (b *win32Backend) open(name string, size uint32, allowWrite, allowMapBackingFile bool) ([]byte, bool, error) {
	path := shmDir() + name

	if allowWrite || allowMapBackingFile {
		pathPtr, err := windows.UTF16PtrFromString(path)
		if err != nil {
			return nil, false, dbgerr.Errorf(dbgerr.InvalidArgument, "invalid backing file path %s: %v", path, err)
		}
		backingFile, err := windows.CreateFile(pathPtr, windows.GENERIC_READ|windows.GENERIC_WRITE,
			windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE, nil, windows.OPEN_EXISTING, windows.FILE_ATTRIBUTE_NORMAL, 0)
		if err != nil {
			return nil, false, dbgerr.Errorf(dbgerr.SystemFailure, "opening backing file %s of shared memory segment %s: %v", path, name, err)
		}
		b.backingFile = backingFile
	}

	mapOpts := uint32(windows.FILE_MAP_READ)
	if allowWrite {
		mapOpts |= windows.FILE_MAP_WRITE
	}

	namePtr, err := windows.UTF16PtrFromString("Local\\" + name)
	if err != nil {
		b.close(nil)
		return nil, false, dbgerr.Errorf(dbgerr.InvalidArgument, "invalid shared memory segment name %s: %v", name, err)
	}

	fromBackingFile := false
	mapFile, err := windows.OpenFileMapping(mapOpts, false, namePtr)
	if err != nil {
		if !allowMapBackingFile {
			b.close(nil)
			return nil, false, dbgerr.Errorf(dbgerr.NotFound, "opening shared memory segment %s: %v", name, err)
		}
		// no live segment under this name; fall back to mapping the backing
		// file directly, read-only, the same recovery path the guardian
		// process takes when it outlives the process that created the segment
		mapOpts = windows.FILE_MAP_READ
		mapFile, err = windows.CreateFileMapping(b.backingFile, nil, windows.PAGE_READONLY, 0, 0, namePtr)
		if err != nil {
			b.close(nil)
			return nil, false, dbgerr.Errorf(dbgerr.SystemFailure, "mapping backing file of shared memory segment %s: %v", name, err)
		}
		fromBackingFile = true
	}
	b.mapFile = mapFile

	addr, err := windows.MapViewOfFile(mapFile, mapOpts, 0, 0, uintptr(size))
	if err != nil {
		b.close(nil)
		return nil, false, dbgerr.Errorf(dbgerr.SystemFailure, "mapping %d bytes of shared memory segment %s into process address space: %v", size, name, err)
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), fromBackingFile, nil
}

func (b *win32Backend) sync(data []byte) error {
	if data == nil {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&data[0]))
	if err := windows.FlushViewOfFile(addr, uintptr(len(data))); err != nil {
		return dbgerr.Errorf(dbgerr.SystemFailure, "flushing shared memory segment view to disk: %v", err)
	}
	if b.backingFile != windows.InvalidHandle && b.backingFile != 0 {
		if err := windows.FlushFileBuffers(b.backingFile); err != nil {
			return dbgerr.Errorf(dbgerr.SystemFailure, "flushing backing file buffers: %v", err)
		}
	}
	return nil
}

func (b *win32Backend) close(data []byte) error {
	if data != nil {
		addr := uintptr(unsafe.Pointer(&data[0]))
		if err := windows.UnmapViewOfFile(addr); err != nil {
			return dbgerr.Errorf(dbgerr.SystemFailure, "unmapping shared memory segment view: %v", err)
		}
	}
	if b.mapFile != 0 {
		windows.CloseHandle(b.mapFile)
		b.mapFile = 0
	}
	if b.backingFile != windows.InvalidHandle && b.backingFile != 0 {
		windows.CloseHandle(b.backingFile)
		b.backingFile = windows.InvalidHandle
	}
	return nil
}

func (b *win32Backend) delete(name string) error {
	path := shmDir() + name
	if err := os.Remove(path); err != nil {
		return dbgerr.Errorf(dbgerr.SystemFailure, "deleting shared memory file at %s: %v", path, err)
	}
	return nil
}

func (b *win32Backend) list() ([]SegmentInfo, error) {
	dir := shmDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, dbgerr.Errorf(dbgerr.SystemFailure, "scanning %s: %v", dir, err)
	}
	var out []SegmentInfo
	for _, e := range entries {
		if e.IsDir() || !segmentNamePattern.MatchString(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, SegmentInfo{Name: e.Name(), Size: uint32(info.Size())})
	}
	return out, nil
}

func currentThreadID() int {
	return int(windows.GetCurrentThreadId())
}
