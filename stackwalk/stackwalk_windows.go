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

package stackwalk

import (
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/oa-333/dbgutil-sub000/dbgerr"
)

// amd64Context mirrors the fields of the Win32 CONTEXT structure this
// package actually reads (Rip/Rsp/Rbp) at their documented byte offsets,
// padded out to the structure's real size so GetThreadContext never writes
// past the end of it. The XMM/vector/trap state Win32 also fills in is of
// no use to frame-pointer unwinding and is left unread.
type amd64Context struct {
	p1Home, p2Home, p3Home, p4Home, p5Home, p6Home uint64
	ContextFlags, mxCsr                             uint32
	segCs, segDs, segEs, segFs, segGs, segSs         uint16
	eFlags                                           uint32
	dr0, dr1, dr2, dr3, dr6, dr7                     uint64
	Rax, Rcx, Rdx, Rbx, Rsp, Rbp, Rsi, Rdi           uint64
	r8, r9, r10, r11, r12, r13, r14, r15             uint64
	Rip                                              uint64
	_                                                [976]byte
}

const (
	contextAmd64    = 0x100000
	contextControl  = contextAmd64 | 0x1
	contextInteger  = contextAmd64 | 0x2
	contextSegments = contextAmd64 | 0x4
	contextFull     = contextControl | contextInteger | contextSegments

	threadSuspendResume = 0x0002
	threadGetContext    = 0x0008
)

var (
	modkernel32          = windows.NewLazySystemDLL("kernel32.dll")
	procOpenThread       = modkernel32.NewProc("OpenThread")
	procSuspendThread    = modkernel32.NewProc("SuspendThread")
	procResumeThread     = modkernel32.NewProc("ResumeThread")
	procGetThreadContext = modkernel32.NewProc("GetThreadContext")
)

func currentThreadID() int {
	return int(windows.GetCurrentThreadId())
}

// otherThreadStackTrace implements §4.6's "OS family A": suspend the target,
// fetch its register context, unwind from it, resume, close the handle.
func (p *Provider) otherThreadStackTrace(threadID int) (RawStackTrace, error) {
	h, _, callErr := procOpenThread.Call(uintptr(threadSuspendResume|threadGetContext), 0, uintptr(threadID))
	if h == 0 {
		return nil, dbgerr.Errorf(dbgerr.SystemFailure, "OpenThread(%d): %v", threadID, callErr)
	}
	handle := windows.Handle(h)
	defer windows.CloseHandle(handle)

	if ret, _, callErr := procSuspendThread.Call(uintptr(handle)); int32(ret) == -1 {
		return nil, dbgerr.Errorf(dbgerr.SystemFailure, "SuspendThread(%d): %v", threadID, callErr)
	}
	defer procResumeThread.Call(uintptr(handle))

	var ctx amd64Context
	ctx.ContextFlags = contextFull
	if ret, _, callErr := procGetThreadContext.Call(uintptr(handle), uintptr(unsafe.Pointer(&ctx))); ret == 0 {
		return nil, dbgerr.Errorf(dbgerr.SystemFailure, "GetThreadContext(%d): %v", threadID, callErr)
	}

	return Unwind(localMemory{}, Context{PC: ctx.Rip, SP: ctx.Rsp, FP: ctx.Rbp}, nil)
}
