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

package fault

import (
	"sync"

	"golang.org/x/sys/windows"
)

// exceptionPointers mirrors the fields of Win32's EXCEPTION_POINTERS this
// package reads: a pointer to the EXCEPTION_RECORD, whose first three
// fields (code, flags, next-record pointer) precede the address and
// parameter list this handler actually uses.
type exceptionRecord struct {
	ExceptionCode        uint32
	ExceptionFlags       uint32
	ExceptionRecord      uintptr
	ExceptionAddress     uintptr
	NumberParameters     uint32
	ExceptionInformation [15]uintptr
}

type exceptionPointers struct {
	ExceptionRecord *exceptionRecord
	ContextRecord   uintptr
}

const (
	exceptionContinueSearch    = 0
	exceptionExecuteHandler    = 1
	exceptionAccessViolation   = 0xC0000005
	exceptionIllegalInstr      = 0xC000001D
	exceptionIntDivideByZero   = 0xC0000094
	exceptionFltDivideByZero   = 0xC000008E
	exceptionFltOverflow       = 0xC0000091
	exceptionFltUnderflow      = 0xC0000093
	exceptionFltInexactResult  = 0xC000008F
	exceptionFltInvalidOp      = 0xC0000090
	exceptionArrayBoundsExceed = 0xC000008C
	exceptionDatatypeMisalign  = 0x80000002
	exceptionBreakpoint        = 0x80000003
)

var (
	modkernel32                     = windows.NewLazySystemDLL("kernel32.dll")
	procSetUnhandledExceptionFilter = modkernel32.NewProc("SetUnhandledExceptionFilter")
	installMu                       sync.Mutex
	installedHandler                *Handler
)

func kindForExceptionCode(code uint32) Kind {
	switch code {
	case exceptionAccessViolation:
		return AccessViolation
	case exceptionIllegalInstr:
		return IllegalInstruction
	case exceptionIntDivideByZero:
		return DivideByZero
	case exceptionFltOverflow:
		return FPOverflow
	case exceptionFltUnderflow:
		return FPUnderflow
	case exceptionFltDivideByZero:
		return FPDivideByZero
	case exceptionFltInexactResult:
		return FPInexact
	case exceptionFltInvalidOp:
		return FPInvalid
	case exceptionArrayBoundsExceed:
		return FPSubscript
	case exceptionDatatypeMisalign:
		return BusAlignment
	case exceptionBreakpoint:
		return Trap
	default:
		return Unknown
	}
}

// vectoredHandler is registered with SetUnhandledExceptionFilter and runs on
// the faulting thread itself — the Win32 equivalent of the POSIX signal
// handler this package's Linux branch installs via os/signal, except here
// the call happens synchronously inline with the fault rather than through
// a dispatch goroutine, since by the time an unhandled-exception filter
// runs the process is already committed to terminating.
func vectoredHandler(info *exceptionPointers) uintptr {
	installMu.Lock()
	h := installedHandler
	installMu.Unlock()

	if h == nil || info == nil || info.ExceptionRecord == nil {
		return exceptionContinueSearch
	}

	rec := info.ExceptionRecord
	kind := kindForExceptionCode(rec.ExceptionCode)
	h.dispatch(ExceptionInfo{
		Kind:         kind,
		Code:         int(rec.ExceptionCode),
		Subcode:      int(rec.ExceptionFlags),
		FaultAddress: uint64(rec.ExceptionAddress),
		Name:         kind.String(),
	})
	return exceptionExecuteHandler
}

// installSignalHandlers installs a process-wide unhandled-exception filter.
// Only one Handler may be installed at a time on this platform: Win32 has a
// single top-level filter slot, not a per-signal table the way sigaction
// does, so a second Install replaces the first's registration entirely.
func installSignalHandlers(h *Handler) (func(), error) {
	installMu.Lock()
	installedHandler = h
	installMu.Unlock()

	callback := windows.NewCallback(vectoredHandler)
	procSetUnhandledExceptionFilter.Call(callback)

	return func() {
		installMu.Lock()
		installedHandler = nil
		installMu.Unlock()
		procSetUnhandledExceptionFilter.Call(0)
	}, nil
}

// abortForCoreDump terminates the process immediately, the Win32 analogue
// of raising SIGABRT: there is no minidump-on-abort convention to rely on
// without the separate crash-reporting API this library leaves out of
// scope, so this simply ends the process the way abort() would.
func abortForCoreDump() {
	windows.ExitProcess(3)
}
