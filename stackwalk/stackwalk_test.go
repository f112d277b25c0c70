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

package stackwalk

import (
	"encoding/binary"
	"testing"
)

// fakeMemory is a synthetic address space: a map from address to the 16-byte
// [savedFP|retAddr] frame record stored there, letting Unwind be tested
// without touching this process's real stack.
type fakeMemory map[uint64][16]byte

func (m fakeMemory) ReadMemory(addr uint64, buf []byte) error {
	frame, ok := m[addr]
	if !ok {
		return errNoSuchAddress
	}
	copy(buf, frame[:])
	return nil
}

var errNoSuchAddress = &unwindTestErr{"no frame recorded at that address"}

type unwindTestErr struct{ msg string }

func (e *unwindTestErr) Error() string { return e.msg }

func frameAt(savedFP, retAddr uint64) [16]byte {
	var f [16]byte
	binary.LittleEndian.PutUint64(f[0:8], savedFP)
	binary.LittleEndian.PutUint64(f[8:16], retAddr)
	return f
}

func TestUnwindWalksFramePointerChain(t *testing.T) {
	// three frames, FPs increasing outward: 0x1000 -> 0x2000 -> 0x3000 -> end.
	mem := fakeMemory{
		0x1000: frameAt(0x2000, 0xaaaa),
		0x2000: frameAt(0x3000, 0xbbbb),
		0x3000: frameAt(0, 0), // terminates the chain
	}
	ctx := Context{PC: 0x1111, SP: 0, FP: 0x1000}

	trace, err := Unwind(mem, ctx, nil)
	if err != nil {
		t.Fatalf("Unwind: %v", err)
	}

	want := RawStackTrace{0x1111, 0xaaaa, 0xbbbb}
	if len(trace) != len(want) {
		t.Fatalf("trace = %#x, want %#x", trace, want)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("trace[%d] = %#x, want %#x", i, trace[i], want[i])
		}
	}
}

func TestUnwindStopsOnNonOutwardFramePointer(t *testing.T) {
	// a corrupt chain where the "saved" FP doesn't move outward must not loop.
	mem := fakeMemory{
		0x1000: frameAt(0x1000, 0xaaaa), // savedFP == fp: not strictly outward
	}
	ctx := Context{PC: 0x1111, FP: 0x1000}

	trace, err := Unwind(mem, ctx, nil)
	if err != nil {
		t.Fatalf("Unwind: %v", err)
	}
	if len(trace) != 1 || trace[0] != 0x1111 {
		t.Fatalf("trace = %#x, want a single frame [0x1111]", trace)
	}
}

func TestUnwindHonorsListenerEarlyStop(t *testing.T) {
	mem := fakeMemory{
		0x1000: frameAt(0x2000, 0xaaaa),
		0x2000: frameAt(0x3000, 0xbbbb),
	}
	ctx := Context{PC: 0x1111, FP: 0x1000}

	seen := 0
	listener := ListenerFunc(func(index int, pc uint64) bool {
		seen++
		return index == 0 // stop right after the first frame
	})

	trace, err := Unwind(mem, ctx, listener)
	if err != nil {
		t.Fatalf("Unwind: %v", err)
	}
	if seen != 2 {
		t.Fatalf("listener invoked %d times, want 2", seen)
	}
	if len(trace) != 2 {
		t.Fatalf("trace = %#x, want 2 frames", trace)
	}
}

func TestUnwindPropagatesReadError(t *testing.T) {
	ctx := Context{PC: 0x1111, FP: 0x9999} // no frame recorded at 0x9999
	_, err := Unwind(fakeMemory{}, ctx, nil)
	if err == nil {
		t.Fatal("expected a read error for an unmapped frame pointer")
	}
}

func TestWalkStackCurrentThreadFindsOwnFrame(t *testing.T) {
	p := NewProvider(nil)
	trace, err := p.WalkStack(nil, nil)
	if err != nil {
		t.Fatalf("WalkStack: %v", err)
	}
	if len(trace) == 0 {
		t.Fatal("expected at least one captured frame for the current thread")
	}
}

func TestWalkStackListenerEarlyStopLimitsTrace(t *testing.T) {
	p := NewProvider(nil)
	calls := 0
	trace, err := p.WalkStack(ListenerFunc(func(index int, pc uint64) bool {
		calls++
		return false // stop immediately
	}), nil)
	if err != nil {
		t.Fatalf("WalkStack: %v", err)
	}
	if calls != 1 {
		t.Fatalf("listener invoked %d times, want 1", calls)
	}
	if len(trace) != 1 {
		t.Fatalf("trace has %d frames, want 1 after early stop", len(trace))
	}
}

func TestGetThreadStackTraceSelfShortCircuits(t *testing.T) {
	p := NewProvider(nil)
	trace, err := p.GetThreadStackTrace(currentThreadID())
	if err != nil {
		t.Fatalf("GetThreadStackTrace(self): %v", err)
	}
	if len(trace) == 0 {
		t.Fatal("expected at least one frame for the calling thread")
	}
}
