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

//go:build linux

package lifesign

import (
	"os"
	"regexp"

	"github.com/edsrzf/mmap-go"
	"golang.org/x/sys/unix"

	"github.com/oa-333/dbgutil-sub000/dbgerr"
)

const shmDir = "/dev/shm/"

var segmentNamePattern = regexp.MustCompile(`^` + shmPrefix + `\..*\.` + shmSuffix + `$`)

// posixBackend backs a segment with a POSIX shared-memory object under
// /dev/shm, the same mechanism linux_shm.cpp uses via shm_open/mmap: since
// it lives in tmpfs it does not, by itself, survive process death the way
// the disk-backed Windows path does, but it is visible to any other process
// on the host for as long as the segment is not unlinked.
type posixBackend struct {
	mapping mmap.MMap
}

func newBackend() backend {
	return &posixBackend{}
}

func (b *posixBackend) create(name string, size uint32, shareWrite bool) ([]byte, error) {
	perm := os.FileMode(0o400)
	if shareWrite {
		perm |= 0o200
	}
	path := shmDir + name
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_EXCL, perm)
	if err != nil {
		return nil, dbgerr.Errorf(dbgerr.SystemFailure, "creating shared memory segment %s: %v", name, err)
	}
	defer f.Close()

	if err := f.Truncate(int64(size)); err != nil {
		os.Remove(path)
		return nil, dbgerr.Errorf(dbgerr.SystemFailure, "sizing shared memory segment %s to %d bytes: %v", name, size, err)
	}

	m, err := mmap.MapRegion(f, int(size), mmap.RDWR, 0, 0)
	if err != nil {
		os.Remove(path)
		return nil, dbgerr.Errorf(dbgerr.SystemFailure, "mapping shared memory segment %s: %v", name, err)
	}
	b.mapping = m
	return []byte(m), nil
}

func (b *posixBackend) open(name string, size uint32, allowWrite, allowMapBackingFile bool) ([]byte, bool, error) {
	flag := os.O_RDONLY
	mmapFlag := mmap.RDONLY
	if allowWrite {
		flag = os.O_RDWR
		mmapFlag = mmap.RDWR
	}

	path := shmDir + name
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, false, dbgerr.Errorf(dbgerr.NotFound, "opening shared memory segment %s: %v", name, err)
	}
	defer f.Close()

	m, err := mmap.MapRegion(f, int(size), mmapFlag, 0, 0)
	if err != nil {
		return nil, false, dbgerr.Errorf(dbgerr.SystemFailure, "mapping shared memory segment %s: %v", name, err)
	}
	b.mapping = m
	return []byte(m), false, nil
}

func (b *posixBackend) sync(data []byte) error {
	if b.mapping == nil {
		return nil
	}
	if err := b.mapping.Flush(); err != nil {
		return dbgerr.Errorf(dbgerr.SystemFailure, "flushing shared memory segment: %v", err)
	}
	return nil
}

func (b *posixBackend) close(data []byte) error {
	if b.mapping == nil {
		return nil
	}
	if err := b.mapping.Unmap(); err != nil {
		return dbgerr.Errorf(dbgerr.SystemFailure, "unmapping shared memory segment: %v", err)
	}
	b.mapping = nil
	return nil
}

func (b *posixBackend) delete(name string) error {
	if err := os.Remove(shmDir + name); err != nil {
		return dbgerr.Errorf(dbgerr.SystemFailure, "unlinking shared memory segment %s: %v", name, err)
	}
	return nil
}

func (b *posixBackend) list() ([]SegmentInfo, error) {
	entries, err := os.ReadDir(shmDir)
	if err != nil {
		return nil, dbgerr.Errorf(dbgerr.SystemFailure, "scanning %s: %v", shmDir, err)
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
	return unix.Gettid()
}
