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

package lifesign

import (
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/oa-333/dbgutil-sub000/dbgerr"
)

// ReadHeader returns the segment's static header (spec "readLifeSignHeader").
func (m *Manager) ReadHeader() (*Header, error) {
	if m.hdr == nil {
		return nil, dbgerr.Errorf(dbgerr.InvalidState, "cannot read header, segment not open")
	}
	return m.hdr, nil
}

// WriteContextRecord appends rec to the context area (spec "Context record
// write"). Writers never block each other: the reservation is a single
// atomic fetch-add on the write cursor, rolled back if it would overrun the
// area.
func (m *Manager) WriteContextRecord(rec []byte) error {
	if m.ctxArea == nil {
		return dbgerr.Errorf(dbgerr.InvalidState, "cannot write context record, segment not open")
	}
	if len(rec) > MaxContextRecordSize {
		return dbgerr.Errorf(dbgerr.NOMEM, "context record of %d bytes exceeds maximum %d", len(rec), MaxContextRecordSize)
	}

	recLen := uint32(len(rec))
	realLen := recLen + 4

	offset := uint32(atomic.AddInt32(m.ctxWritePos, int32(realLen))) - realLen
	if offset+realLen <= m.hdr.ContextAreaSize {
		binary.LittleEndian.PutUint32(m.ctxArea[offset:], recLen)
		copy(m.ctxArea[offset+4:], rec)
		return nil
	}

	// either the area is full or we lost the race; back off either way
	atomic.AddInt32(m.ctxWritePos, -int32(realLen))
	return dbgerr.Errorf(dbgerr.ResourceLimit, "context area exhausted, cannot write %d-byte record", recLen)
}

// ReadContextRecord reads one record starting at *offset and advances it
// past the record (spec "Context record read"). Callers should start with
// offset 0 and stop at dbgerr.EndOfStream.
func (m *Manager) ReadContextRecord(offset *uint32) ([]byte, error) {
	if m.hdr == nil {
		return nil, dbgerr.Errorf(dbgerr.InvalidState, "cannot read context record, segment not open")
	}

	writePosSigned := atomic.LoadInt32(m.ctxWritePos)
	if writePosSigned < 0 {
		return nil, dbgerr.Errorf(dbgerr.DataCorrupt, "context area write position is negative: %d", writePosSigned)
	}
	writePos := uint32(writePosSigned)
	if writePos > m.hdr.ContextAreaSize {
		return nil, dbgerr.Errorf(dbgerr.DataCorrupt, "context area write position %d exceeds area size %d", writePos, m.hdr.ContextAreaSize)
	}

	if *offset == writePos {
		return nil, dbgerr.Errorf(dbgerr.EndOfStream, "no more context records")
	}
	if *offset > writePos {
		return nil, dbgerr.Errorf(dbgerr.InvalidArgument, "context offset %d exceeds write position %d", *offset, writePos)
	}

	recLen := binary.LittleEndian.Uint32(m.ctxArea[*offset:])
	next := *offset + 4
	if next+recLen > writePos {
		return nil, dbgerr.Errorf(dbgerr.DataCorrupt, "context record at offset %d with length %d exceeds valid area %d", next, recLen, writePos)
	}

	rec := m.ctxArea[next : next+recLen]
	*offset = next + recLen
	return rec, nil
}

// threadArea returns the byte slice for the given slot's area. Callers
// decode its header afresh on every use, since the owning thread mutates it
// outside any lock the reader can take.
func (m *Manager) threadArea(slot uint32) []byte {
	lo := uint64(slot) * uint64(m.hdr.ThreadAreaSize)
	return m.lsArea[lo : lo+uint64(m.hdr.ThreadAreaSize)]
}

// occupiedBytes returns how many of capacity's bytes currently hold live
// records. head==tail is ambiguous on its own — it means either an empty
// ring or one that is exactly full, and the ring never holds more than
// capacity live bytes — so recordCount breaks the tie: zero records means
// empty, any records means the ring is packed completely full.
func occupiedBytes(hdr *threadAreaHeader, capacity uint32) uint32 {
	if hdr.head == hdr.tail {
		if hdr.recordCount > 0 {
			return capacity
		}
		return 0
	}
	return (hdr.tail + capacity - hdr.head) % capacity
}

// ReadThreadLifeSignDetails decodes one slot's header (spec
// "readThreadLifeSignDetails").
func (m *Manager) ReadThreadLifeSignDetails(slotID uint32) (ThreadDetails, error) {
	if m.hdr == nil {
		return ThreadDetails{}, dbgerr.Errorf(dbgerr.InvalidState, "cannot read thread details, segment not open")
	}
	hdr := decodeThreadAreaHeader(m.threadArea(slotID))
	return ThreadDetails{
		ThreadID:  hdr.threadID,
		StartMs:   hdr.startMs,
		EndMs:     hdr.endMs,
		IsRunning: hdr.state%2 != 0,
		UseCount:  (hdr.state + 1) / 2,
	}, nil
}

// WriteLifeSignRecord appends rec to the calling thread's ring (spec
// "Life-sign record write"). The first call from a given OS thread claims a
// slot; see ReleaseThreadSlot.
func (m *Manager) WriteLifeSignRecord(rec []byte) error {
	if m.lsArea == nil {
		return dbgerr.Errorf(dbgerr.InvalidState, "cannot write life-sign record, segment not open")
	}

	if len(rec) > MaxLifeSignRecordSize {
		return dbgerr.Errorf(dbgerr.NOMEM, "life-sign record of %d bytes exceeds maximum %d", len(rec), MaxLifeSignRecordSize)
	}

	slot, err := m.slotForCurrentThread()
	if err != nil {
		return err
	}

	threadAreaSize := m.hdr.ThreadAreaSize
	area := m.threadArea(slot)
	hdrBytes := area[:threadAreaHeaderSize]
	ring := area[threadAreaHeaderSize:]
	capacity := threadAreaSize - threadAreaHeaderSize

	recLenAligned := align(uint32(len(rec))+1, alignBytes)
	entryLen := recLenAligned + 4
	if entryLen > capacity {
		return dbgerr.Errorf(dbgerr.NOMEM, "life-sign record of %d bytes exceeds ring capacity %d", len(rec), capacity)
	}

	hdr := decodeThreadAreaHeader(hdrBytes)

	// head and tail are cyclic offsets, always kept within [0, capacity).
	// Eviction steps head forward by the *aligned* length of the record it
	// is dropping, exactly matching the stride tail advanced it by when that
	// record was written — the source instead steps head by the raw,
	// unaligned stored length, which drifts head off true record boundaries
	// after the first eviction and would corrupt every read after it; this
	// keeps head always landing exactly on the next record's length prefix.
	//
	// occupiedBytes (not a raw head/tail subtraction) drives the loop: once
	// the ring is packed exactly full, head and tail coincide the same way
	// they do when it's empty, and a plain (tail+capacity-head)%capacity
	// would read that state as "empty" and skip eviction entirely, letting
	// this write clobber the oldest record in place without advancing head
	// or decrementing recordCount.
	for occupiedBytes(hdr, capacity)+entryLen > capacity {
		headRecLen := binary.LittleEndian.Uint32(ring[hdr.head:])
		hdr.head = (hdr.head + align(headRecLen, alignBytes) + 4) % capacity
		hdr.recordCount--
	}

	binary.LittleEndian.PutUint32(ring[hdr.tail:], uint32(len(rec))+1)
	hdr.tail = (hdr.tail + 4) % capacity

	// full is the payload plus its terminating null byte; any remaining
	// bytes up to recLenAligned are alignment padding and are never read
	// back (the reader trusts the stored length, not the alignment).
	full := make([]byte, uint32(len(rec))+1)
	copy(full, rec)
	tillEnd := capacity - hdr.tail
	if tillEnd >= uint32(len(full)) {
		copy(ring[hdr.tail:], full)
	} else {
		copy(ring[hdr.tail:], full[:tillEnd])
		copy(ring[0:], full[tillEnd:])
	}

	hdr.tail = (hdr.tail + recLenAligned) % capacity
	hdr.recordCount++
	encodeThreadAreaHeader(hdrBytes, hdr)
	return nil
}

// ReadLifeSignRecord reads the record at *offset (relative to the ring's
// logical head) from slotID's ring and advances *offset past it (spec
// "Life-sign record read"). Returned data may be a view into the segment or,
// if the record wraps, a freshly allocated copy — Go's garbage collector
// reclaims either, so there is no ReleaseLifeSignRecord call to make.
func (m *Manager) ReadLifeSignRecord(slotID uint32, offset *uint32) ([]byte, error) {
	if m.hdr == nil {
		return nil, dbgerr.Errorf(dbgerr.InvalidState, "cannot read life-sign record, segment not open")
	}

	threadAreaSize := m.hdr.ThreadAreaSize
	area := m.threadArea(slotID)
	hdr := decodeThreadAreaHeader(area[:threadAreaHeaderSize])
	ring := area[threadAreaHeaderSize:]
	capacity := threadAreaSize - threadAreaHeaderSize

	if hdr.head >= capacity || hdr.tail >= capacity {
		return nil, dbgerr.Errorf(dbgerr.DataCorrupt, "life-sign ring header out of range: head=%d tail=%d capacity=%d", hdr.head, hdr.tail, capacity)
	}

	// *offset always advances by exactly the aligned stride (4 + aligned
	// payload length) a record occupies, the same stride eviction steps
	// head by — so a caller that starts at 0 and keeps calling will have
	// consumed exactly occupiedBytes(hdr, capacity) bytes once it has
	// caught up to the live data, never overshooting it.
	//
	// A plain cyclic==tail comparison (the spec's literal wording) is
	// exactly right, except at the very first read of a ring that is
	// packed completely full: there, head==tail too, so the naive check
	// would report end-of-stream before a single record is returned.
	// Comparing *offset against occupiedBytes instead of comparing
	// positions sidesteps that ambiguity.
	occupied := occupiedBytes(hdr, capacity)
	if *offset >= occupied {
		return nil, dbgerr.Errorf(dbgerr.EndOfStream, "no more life-sign records at offset %d", *offset)
	}
	cyclic := (hdr.head + *offset) % capacity

	// recLen as stored includes the one-byte terminator the writer appended;
	// the payload returned to the caller does not.
	recLen := binary.LittleEndian.Uint32(ring[cyclic:])
	if recLen > capacity {
		return nil, dbgerr.Errorf(dbgerr.DataCorrupt, "life-sign record length %d exceeds ring capacity %d", recLen, capacity)
	}
	recLenAligned := align(recLen, alignBytes)
	*offset += 4
	cyclic = (cyclic + 4) % capacity

	tillEnd := capacity - cyclic
	var rec []byte
	if tillEnd >= recLen {
		rec = append([]byte(nil), ring[cyclic:cyclic+recLen]...)
	} else {
		fromStart := recLen - tillEnd
		rec = make([]byte, recLen)
		copy(rec, ring[cyclic:cyclic+tillEnd])
		copy(rec[tillEnd:], ring[:fromStart])
	}

	*offset += recLenAligned
	if len(rec) > 0 {
		rec = rec[:len(rec)-1] // drop the terminator byte
	}
	return rec, nil
}

// slotForCurrentThread returns the slot claimed by the calling OS thread,
// claiming one on first use.
func (m *Manager) slotForCurrentThread() (uint32, error) {
	tid := int64(currentThreadID())

	m.mu.Lock()
	if slot, ok := m.slotForTID[tid]; ok {
		m.mu.Unlock()
		return uint32(slot), nil
	}
	if len(m.vacant) == 0 {
		m.mu.Unlock()
		return 0, dbgerr.Errorf(dbgerr.ResourceLimit, "cannot obtain life-sign slot for thread %d, all %d slots are in use", tid, m.hdr.MaxThreads)
	}
	slot := m.vacant[0]
	m.vacant = m.vacant[1:]
	m.slotForTID[tid] = slot
	m.mu.Unlock()

	area := m.threadArea(uint32(slot))
	hdr := decodeThreadAreaHeader(area[:threadAreaHeaderSize])
	hdr.threadID = uint64(tid)
	hdr.head = 0
	hdr.tail = 0
	hdr.recordCount = 0
	hdr.state++ // odd means running
	hdr.startMs = time.Now().UnixMilli()
	encodeThreadAreaHeader(area[:threadAreaHeaderSize], hdr)

	return uint32(slot), nil
}

// ReleaseThreadSlot releases the calling OS thread's claimed slot, if any,
// back to the vacant-slot FIFO, biasing reuse toward the longest-idle slot.
// A goroutine that calls WriteLifeSignRecord and is about to stop doing so
// permanently (typically just before the OS thread it is pinned to via
// runtime.LockOSThread exits) should call this; see the package doc comment
// for why Go cannot do this automatically the way a TLS destructor would.
func (m *Manager) ReleaseThreadSlot() {
	tid := int64(currentThreadID())

	m.mu.Lock()
	slot, ok := m.slotForTID[tid]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.slotForTID, tid)
	m.vacant = append(m.vacant, slot)
	m.mu.Unlock()

	area := m.threadArea(uint32(slot))
	hdr := decodeThreadAreaHeader(area[:threadAreaHeaderSize])
	hdr.endMs = time.Now().UnixMilli()
	hdr.state++ // even means stopped
	encodeThreadAreaHeader(area[:threadAreaHeaderSize], hdr)
}
