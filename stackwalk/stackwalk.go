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

// Package stackwalk captures raw stack traces: the current thread, a
// caller-supplied register context (typically from a fault handler), or
// another OS thread (spec §4.6). Frame addresses are all this package
// produces; turning them into symbolic frames is the symbol package's job.
package stackwalk

import (
	"encoding/binary"
	"runtime"
	"unsafe"

	"github.com/oa-333/dbgutil-sub000/dbgerr"
	"github.com/oa-333/dbgutil-sub000/xthread"
)

// RawStackTrace is a sequence of frame program-counter addresses, innermost
// frame first — exactly the type spec §4.6 names.
type RawStackTrace []uint64

// Context is a thread's captured register snapshot, reduced to what
// frame-pointer unwinding needs. It is what a fault handler or a suspended
// thread's GetThreadContext-equivalent hands to WalkStack.
type Context struct {
	PC, SP, FP uint64
}

// Listener is invoked once per unwound frame; returning false stops the walk
// early, matching walk_stack's listener contract.
type Listener interface {
	OnFrame(index int, pc uint64) bool
}

// ListenerFunc adapts a plain function to Listener.
type ListenerFunc func(index int, pc uint64) bool

// OnFrame calls f.
func (f ListenerFunc) OnFrame(index int, pc uint64) bool { return f(index, pc) }

// maxFrames bounds every walk so a corrupted frame-pointer chain can't loop
// forever.
const maxFrames = 256

// MemoryReader reads len(buf) bytes starting at addr from the address space
// a Context belongs to. Provider's own paths always read local memory
// (spec's process is tracing itself); the seam exists so tests can supply a
// synthetic stack.
type MemoryReader interface {
	ReadMemory(addr uint64, buf []byte) error
}

// localMemory reads directly out of this process's own address space. This
// is deliberately unsafe: an invalid Context (corrupt frame pointer) reading
// through it can fault, exactly as walking a corrupted native call stack
// would in the system this was modeled on.
type localMemory struct{}

func (localMemory) ReadMemory(addr uint64, buf []byte) error {
	if addr == 0 {
		return dbgerr.Errorf(dbgerr.InvalidArgument, "read from a nil address")
	}
	src := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), len(buf))
	copy(buf, src)
	return nil
}

// Unwind walks a saved-frame-pointer chain starting at ctx, reading each
// frame's (saved FP, return address) pair through mem and feeding the
// return address to listener. This is the no-CFI-engine "platform unwinder"
// of §4.6: it assumes the target was built preserving frame pointers, the
// same assumption most sampling profilers make when they can't afford a
// full call-frame-information walk.
func Unwind(mem MemoryReader, ctx Context, listener Listener) (RawStackTrace, error) {
	var trace RawStackTrace
	pc, fp := ctx.PC, ctx.FP

	for i := 0; i < maxFrames; i++ {
		trace = append(trace, pc)
		if listener != nil && !listener.OnFrame(i, pc) {
			break
		}
		if fp == 0 {
			break
		}

		var frame [16]byte // little-endian [saved FP | return address]
		if err := mem.ReadMemory(fp, frame[:]); err != nil {
			return trace, err
		}
		savedFP := binary.LittleEndian.Uint64(frame[0:8])
		retAddr := binary.LittleEndian.Uint64(frame[8:16])
		if retAddr == 0 || savedFP <= fp {
			// the chain must move strictly toward higher addresses (outward);
			// anything else means we've hit the bottom or corrupt data.
			break
		}
		pc, fp = retAddr, savedFP
	}
	return trace, nil
}

// captureCurrentPCs captures the calling goroutine's own program counters
// through the Go runtime rather than a raw frame-pointer walk: for the
// current thread we have the real call stack available portably, so there
// is no reason to approximate it.
func captureCurrentPCs(skip int) RawStackTrace {
	pcs := make([]uintptr, maxFrames)
	n := runtime.Callers(skip+1, pcs)
	trace := make(RawStackTrace, n)
	for i := 0; i < n; i++ {
		trace[i] = uint64(pcs[i])
	}
	return trace
}

// Provider implements the §4.6 stack trace contract for this process: the
// current thread, a supplied context, or another OS thread (dispatched to
// whichever coordination strategy this platform builds — see
// stackwalk_linux.go / stackwalk_windows.go).
type Provider struct {
	coord *xthread.Coordinator
}

// NewProvider returns a Provider that uses coord for the signal-based
// cross-thread path where the platform requires it (Linux/"OS family B").
// coord may be nil on platforms that never need it.
func NewProvider(coord *xthread.Coordinator) *Provider {
	return &Provider{coord: coord}
}

// WalkStack unwinds ctx if supplied; otherwise it captures the calling
// thread's own current stack.
func (p *Provider) WalkStack(listener Listener, ctx *Context) (RawStackTrace, error) {
	if ctx != nil {
		return Unwind(localMemory{}, *ctx, listener)
	}

	trace := captureCurrentPCs(2) // skip captureCurrentPCs and WalkStack
	if listener != nil {
		for i, pc := range trace {
			if !listener.OnFrame(i, pc) {
				return trace[:i+1], nil
			}
		}
	}
	return trace, nil
}

// GetThreadStackTrace captures threadID's stack. A request for the calling
// thread short-circuits to the local path — per §4.6, "a thread must not
// suspend itself" — everything else is dispatched to the platform's other-
// thread implementation.
func (p *Provider) GetThreadStackTrace(threadID int) (RawStackTrace, error) {
	if threadID == currentThreadID() {
		return captureCurrentPCs(2), nil
	}
	return p.otherThreadStackTrace(threadID)
}
