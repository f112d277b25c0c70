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

// Package lifesign implements the post-mortem "life-sign" trace (spec
// §4.9): a single shared-memory segment per process holding a static
// header, an append-only context area for session-wide metadata, and a
// life-sign area partitioned into one fixed-size ring buffer per
// participating thread. A Manager created by the running process writes
// into its own segment; a Manager opened by an inspecting process (possibly
// after the writer has crashed) only ever reads.
//
// Go has no portable hook for "this OS thread is about to exit" the way the
// source's TLS-destructor idiom relies on, so slot release here is explicit:
// a goroutine that calls WriteLifeSignRecord should `defer m.ReleaseThreadSlot()`
// once it is done reporting, mirroring the TLS-destructor's effect without
// depending on a runtime feature Go does not expose. See DESIGN.md.
package lifesign

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/oa-333/dbgutil-sub000/dbgerr"
)

const (
	// PathLen is the fixed, nul-terminated width of the image-path field in
	// the persisted header.
	PathLen = 256

	// MaxThreadsUpperBound bounds the thread-area partition count.
	MaxThreadsUpperBound = 8192
	// MaxContextAreaSize bounds the context area.
	MaxContextAreaSize = 4 * 1024 * 1024
	// MaxLifeSignAreaSize bounds the life-sign area.
	MaxLifeSignAreaSize = 64 * 1024 * 1024
	// MaxContextRecordSize bounds a single context record's payload.
	MaxContextRecordSize = 4 * 1024
	// MaxLifeSignRecordSize bounds a single life-sign record's payload.
	MaxLifeSignRecordSize = 4 * 1024

	shmPrefix = "dbgutil.life-sign"
	shmSuffix = "shm"

	alignBytes = 4

	noThreadSlot      int32 = -1
	invalidThreadSlot int32 = -2
)

func align(size, to uint32) uint32 {
	return (size + to - 1) / to * to
}

// ProcessAlive is the tri-state the Windows guardian area uses to describe
// whether the segment's creating process is still running.
type ProcessAlive uint32

const (
	ProcessAliveUnknown ProcessAlive = iota
	ProcessAliveYes
	ProcessAliveDead
)

// Header is the persisted, fixed-layout segment header (spec §3 "Life-sign
// header (persisted)"). It is encoded little-endian, tightly packed, with
// explicit padding so every platform's reader agrees on the byte layout.
// The guardian fields are always present (rather than conditionally
// compiled, as the source does under DBGUTIL_WINDOWS) so that a segment
// written on one platform has one unambiguous shape for any inspector; on
// the POSIX backend they simply stay at their zero value. This deviation
// is recorded in DESIGN.md.
type Header struct {
	ImagePath             [PathLen]byte
	StartTimeEpochMs      int64
	Pid                   uint32
	ContextAreaSize       uint32
	ContextAreaStartOff   uint32
	MaxThreads            uint32
	LifeSignAreaSize      uint32
	LifeSignAreaStartOff  uint32
	ThreadAreaSize        uint32
	_                     uint32 // padding, matches m_padding
	LastProcessSeenMs     int64
	LastSyncMs            int64
	ProcessAlive          ProcessAlive
	FullySynced           uint32
}

const headerSize = PathLen + 8 + 4*8 + 8 + 8 + 4 + 4

// contextAreaHeaderSize is the width of the structure immediately following
// Header in the segment: a single atomic int32 write cursor that context
// records are reserved from, plus 4 bytes of padding. It lives directly in
// the mapped bytes (see Manager.ctxWritePos) rather than a decoded copy, so
// that atomic operations on it are visible to every other mapper of the
// same segment, not just this process.
const contextAreaHeaderSize = 8

// threadAreaHeader is the fixed header at the start of each per-thread
// ring partition.
type threadAreaHeader struct {
	threadID     uint64
	startMs      int64
	endMs        int64
	head         uint32
	tail         uint32
	recordCount  uint32
	state        uint32
}

const threadAreaHeaderSize = 8 + 8 + 8 + 4 + 4 + 4 + 4

// ThreadDetails is the decoded answer to ReadThreadLifeSignDetails.
type ThreadDetails struct {
	ThreadID  uint64
	StartMs   int64
	EndMs     int64
	IsRunning bool
	UseCount  uint32
}

// SegmentInfo describes one discovered life-sign segment (spec "Discovery").
type SegmentInfo struct {
	Name string
	Size uint32
}

// backend abstracts the OS-specific half of segment geometry: how bytes are
// obtained, mapped and (on the disk-backed platform) synced. segment_linux.go
// and segment_windows.go each provide one.
type backend interface {
	create(name string, size uint32, shareWrite bool) ([]byte, error)
	open(name string, size uint32, allowWrite, allowMapBackingFile bool) (data []byte, fromBackingFile bool, err error)
	sync(data []byte) error
	close(data []byte) error
	delete(name string) error
	list() ([]SegmentInfo, error)
}

// Manager is one process's view of a life-sign segment: either the creator
// (read-write, writes its own context/life-sign records) or an inspector
// (read-only unless opened for the guardian flow). The zero value is not
// usable; construct with NewManager.
type Manager struct {
	be backend

	name string
	data []byte

	hdr         *Header
	ctxWritePos *int32 // points directly into m.data at the context-area cursor
	ctxArea     []byte
	lsArea      []byte

	mu          sync.Mutex
	vacant      []int32
	slotForTID  map[int64]int32
}

// NewManager returns an unopened Manager bound to this platform's backend.
func NewManager() *Manager {
	return &Manager{be: newBackend(), slotForTID: map[int64]int32{}}
}

// Create allocates a fresh life-sign segment for the current process (spec
// "Create"). maxThreads must not exceed MaxThreadsUpperBound; contextAreaSize
// and lifeSignAreaSize must not exceed their respective maxima.
func (m *Manager) Create(contextAreaSize, lifeSignAreaSize, maxThreads uint32, shareWrite bool) error {
	if contextAreaSize > MaxContextAreaSize {
		return dbgerr.Errorf(dbgerr.InvalidArgument, "context area size %d exceeds maximum %d", contextAreaSize, MaxContextAreaSize)
	}
	if lifeSignAreaSize > MaxLifeSignAreaSize {
		return dbgerr.Errorf(dbgerr.InvalidArgument, "life-sign area size %d exceeds maximum %d", lifeSignAreaSize, MaxLifeSignAreaSize)
	}
	if maxThreads == 0 || maxThreads > MaxThreadsUpperBound {
		return dbgerr.Errorf(dbgerr.InvalidArgument, "maximum thread count %d exceeds allowed maximum %d", maxThreads, MaxThreadsUpperBound)
	}
	if m.data != nil {
		return dbgerr.Errorf(dbgerr.InvalidState, "life-sign segment already created")
	}

	name, err := composeSegmentName()
	if err != nil {
		return err
	}

	totalSize := uint32(headerSize) + contextAreaHeaderSize + contextAreaSize + lifeSignAreaSize
	data, err := m.be.create(name, totalSize, shareWrite)
	if err != nil {
		return err
	}

	threadAreaSize := align(lifeSignAreaSize/maxThreads, alignBytes)

	// The ring size (threadAreaSize minus its header) must exceed the
	// largest record the writer is allowed to store (spec §4.9 "the ring
	// size ... must exceed the maximum record size"); otherwise capacity
	// computed later as threadAreaSize-threadAreaHeaderSize underflows as an
	// unsigned value and every write/read on that thread's ring corrupts
	// memory instead of failing cleanly.
	maxEntryLen := align(MaxLifeSignRecordSize+1, alignBytes) + 4
	if threadAreaSize <= uint32(threadAreaHeaderSize)+maxEntryLen {
		return dbgerr.Errorf(dbgerr.InvalidArgument,
			"life-sign area size %d with %d threads yields a %d-byte thread area, too small for its header (%d bytes) plus the largest record (%d bytes)",
			lifeSignAreaSize, maxThreads, threadAreaSize, threadAreaHeaderSize, maxEntryLen)
	}

	path, pid := currentImagePath(), currentProcessID()

	h := Header{}
	n := copy(h.ImagePath[:], path)
	if n < len(h.ImagePath) {
		h.ImagePath[n] = 0
	}
	h.ImagePath[PathLen-1] = 0
	h.StartTimeEpochMs = time.Now().UnixMilli()
	h.Pid = pid
	h.ContextAreaSize = contextAreaSize
	h.ContextAreaStartOff = uint32(headerSize)
	h.MaxThreads = maxThreads
	h.LifeSignAreaSize = lifeSignAreaSize
	h.LifeSignAreaStartOff = uint32(headerSize) + contextAreaHeaderSize + contextAreaSize
	h.ThreadAreaSize = threadAreaSize
	h.ProcessAlive = ProcessAliveYes

	encodeHeader(data, &h)

	m.name = name
	m.data = data
	m.bindViews()

	// Initialize each thread-area header (zero value already, but write
	// explicitly so the layout is obvious and independent of the backend's
	// zero-fill guarantee) and populate the vacant-slot FIFO.
	m.vacant = m.vacant[:0]
	for i := uint32(0); i < maxThreads; i++ {
		off := i * threadAreaSize
		encodeThreadAreaHeader(m.lsArea[off:], &threadAreaHeader{})
		m.vacant = append(m.vacant, int32(i))
	}

	return m.be.sync(m.data)
}

// Open maps an existing segment for inspection (spec "Open for
// inspection"). allowMapBackingFile only has effect on the disk-backed
// platform: if the live shared-memory object can't be opened (the creator
// died), the backend falls back to mapping the backing file directly.
func (m *Manager) Open(segmentName string, totalSize uint32, allowWrite, allowMapBackingFile bool) error {
	if m.data != nil {
		return dbgerr.Errorf(dbgerr.InvalidState, "life-sign segment already open")
	}
	data, _, err := m.be.open(segmentName, totalSize, allowWrite, allowMapBackingFile)
	if err != nil {
		return err
	}
	m.name = segmentName
	m.data = data
	m.bindViews()
	return nil
}

// Sync flushes the mapped segment to its backing store where the platform
// supports it (spec "Synchronization"); on a pure shared-memory backend
// this is a no-op that still succeeds.
func (m *Manager) Sync() error {
	if m.data == nil {
		return dbgerr.Errorf(dbgerr.InvalidState, "cannot sync, segment not open")
	}
	if err := m.be.sync(m.data); err != nil {
		return err
	}
	m.hdr.LastSyncMs = time.Now().UnixMilli()
	encodeHeader(m.data, m.hdr)
	return nil
}

// Close unmaps the segment. If deleteShm is set, the backing object is also
// removed (creators only; an inspector should leave the segment for others).
func (m *Manager) Close(deleteShm bool) error {
	if m.data == nil {
		return dbgerr.Errorf(dbgerr.InvalidState, "cannot close, segment not open")
	}
	name := m.name
	if err := m.be.close(m.data); err != nil {
		return err
	}
	m.data = nil
	m.hdr = nil
	m.ctxWritePos = nil
	m.ctxArea = nil
	m.lsArea = nil

	if deleteShm {
		return m.be.delete(name)
	}
	return nil
}

// ListSegments enumerates all life-sign segments discoverable on this host
// (spec "Discovery").
func ListSegments() ([]SegmentInfo, error) {
	return newBackend().list()
}

// bindViews recomputes the header/context/thread-area slices over m.data
// after create/open.
func (m *Manager) bindViews() {
	m.hdr = decodeHeader(m.data)
	ctxHdrOff := m.hdr.ContextAreaStartOff
	m.ctxWritePos = (*int32)(unsafe.Pointer(&m.data[ctxHdrOff]))
	m.ctxArea = m.data[ctxHdrOff+contextAreaHeaderSize:]
	m.lsArea = m.data[m.hdr.LifeSignAreaStartOff:]
}

func encodeHeader(data []byte, h *Header) {
	copy(data[0:PathLen], h.ImagePath[:])
	off := PathLen
	binary.LittleEndian.PutUint64(data[off:], uint64(h.StartTimeEpochMs))
	off += 8
	binary.LittleEndian.PutUint32(data[off:], h.Pid)
	off += 4
	binary.LittleEndian.PutUint32(data[off:], h.ContextAreaSize)
	off += 4
	binary.LittleEndian.PutUint32(data[off:], h.ContextAreaStartOff)
	off += 4
	binary.LittleEndian.PutUint32(data[off:], h.MaxThreads)
	off += 4
	binary.LittleEndian.PutUint32(data[off:], h.LifeSignAreaSize)
	off += 4
	binary.LittleEndian.PutUint32(data[off:], h.LifeSignAreaStartOff)
	off += 4
	binary.LittleEndian.PutUint32(data[off:], h.ThreadAreaSize)
	off += 4
	binary.LittleEndian.PutUint32(data[off:], 0) // padding
	off += 4
	binary.LittleEndian.PutUint64(data[off:], uint64(h.LastProcessSeenMs))
	off += 8
	binary.LittleEndian.PutUint64(data[off:], uint64(h.LastSyncMs))
	off += 8
	binary.LittleEndian.PutUint32(data[off:], uint32(h.ProcessAlive))
	off += 4
	binary.LittleEndian.PutUint32(data[off:], h.FullySynced)
}

func decodeHeader(data []byte) *Header {
	h := &Header{}
	copy(h.ImagePath[:], data[0:PathLen])
	off := PathLen
	h.StartTimeEpochMs = int64(binary.LittleEndian.Uint64(data[off:]))
	off += 8
	h.Pid = binary.LittleEndian.Uint32(data[off:])
	off += 4
	h.ContextAreaSize = binary.LittleEndian.Uint32(data[off:])
	off += 4
	h.ContextAreaStartOff = binary.LittleEndian.Uint32(data[off:])
	off += 4
	h.MaxThreads = binary.LittleEndian.Uint32(data[off:])
	off += 4
	h.LifeSignAreaSize = binary.LittleEndian.Uint32(data[off:])
	off += 4
	h.LifeSignAreaStartOff = binary.LittleEndian.Uint32(data[off:])
	off += 4
	h.ThreadAreaSize = binary.LittleEndian.Uint32(data[off:])
	off += 4
	off += 4 // padding
	h.LastProcessSeenMs = int64(binary.LittleEndian.Uint64(data[off:]))
	off += 8
	h.LastSyncMs = int64(binary.LittleEndian.Uint64(data[off:]))
	off += 8
	h.ProcessAlive = ProcessAlive(binary.LittleEndian.Uint32(data[off:]))
	off += 4
	h.FullySynced = binary.LittleEndian.Uint32(data[off:])
	return h
}

func encodeThreadAreaHeader(b []byte, h *threadAreaHeader) {
	binary.LittleEndian.PutUint64(b[0:], h.threadID)
	binary.LittleEndian.PutUint64(b[8:], uint64(h.startMs))
	binary.LittleEndian.PutUint64(b[16:], uint64(h.endMs))
	binary.LittleEndian.PutUint32(b[24:], h.head)
	binary.LittleEndian.PutUint32(b[28:], h.tail)
	binary.LittleEndian.PutUint32(b[32:], h.recordCount)
	binary.LittleEndian.PutUint32(b[36:], h.state)
}

func decodeThreadAreaHeader(b []byte) *threadAreaHeader {
	return &threadAreaHeader{
		threadID:    binary.LittleEndian.Uint64(b[0:]),
		startMs:     int64(binary.LittleEndian.Uint64(b[8:])),
		endMs:       int64(binary.LittleEndian.Uint64(b[16:])),
		head:        binary.LittleEndian.Uint32(b[24:]),
		tail:        binary.LittleEndian.Uint32(b[28:]),
		recordCount: binary.LittleEndian.Uint32(b[32:]),
		state:       binary.LittleEndian.Uint32(b[36:]),
	}
}

func composeSegmentName() (string, error) {
	name, err := currentProcessName()
	if err != nil {
		return "", err
	}
	ts := time.Now().Format("2006-01-02_15-04-05")
	return fmt.Sprintf("%s.%s.%s.%d.%s", shmPrefix, name, ts, currentProcessID(), shmSuffix), nil
}
