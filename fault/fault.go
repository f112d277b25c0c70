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

// Package fault installs fatal-signal and abnormal-termination handlers and
// translates them into the library's own taxonomy before handing them to a
// caller-supplied Listener (spec §4.8).
//
// Two fidelity notes, both unavoidable consequences of staying in pure Go
// rather than reaching for cgo:
//
//   - os/signal only tells a Go program which signal arrived, never the
//     siginfo_t the OS delivered alongside it. Subcode and FaultAddress are
//     therefore always left at their zero value on the signal path; a
//     caller that needs them has nowhere further to go without cgo. This is
//     the same kind of reduced-fidelity branch the handler this package is
//     modeled on took under MinGW, where no extended signal information was
//     available either.
//   - the Go runtime itself intercepts synchronous faults that originate in
//     ordinary Go code (a nil dereference, an out-of-bounds slice access)
//     and turns them into a runtime panic before os/signal ever sees them;
//     this package's signal path mainly observes faults raised from outside
//     the Go runtime's own fault-classification (an external kill, a signal
//     forwarded from cgo-called C code). The in-process case is exactly
//     what Recover exists to cover instead.
package fault

import (
	"fmt"

	"github.com/oa-333/dbgutil-sub000/logger"
	"github.com/oa-333/dbgutil-sub000/stackwalk"
	"github.com/oa-333/dbgutil-sub000/symbol"
)

// Kind is the library's own fault taxonomy (spec §4.8), independent of
// whatever signal/exception numbering the host OS uses for it.
type Kind int

const (
	Unknown Kind = iota
	AccessViolation
	IllegalInstruction
	DivideByZero
	FPOverflow
	FPUnderflow
	FPInexact
	FPInvalid
	FPSubscript
	FPDivideByZero
	BusAlignment
	BusNonexistentAddress
	BusObjectError
	BusMachineCheck
	Trap
	AbnormalTermination
)

func (k Kind) String() string {
	switch k {
	case AccessViolation:
		return "access violation"
	case IllegalInstruction:
		return "illegal instruction"
	case DivideByZero:
		return "divide by zero"
	case FPOverflow:
		return "floating-point overflow"
	case FPUnderflow:
		return "floating-point underflow"
	case FPInexact:
		return "floating-point inexact result"
	case FPInvalid:
		return "floating-point invalid operation"
	case FPSubscript:
		return "subscript out of range"
	case FPDivideByZero:
		return "floating-point divide by zero"
	case BusAlignment:
		return "invalid address alignment"
	case BusNonexistentAddress:
		return "nonexistent physical address"
	case BusObjectError:
		return "object-specific hardware error"
	case BusMachineCheck:
		return "hardware memory error"
	case Trap:
		return "trap"
	case AbnormalTermination:
		return "abnormal program termination"
	default:
		return "unknown"
	}
}

// ExceptionInfo is exactly the record spec §4.8 asks for, synthesized fresh
// for every fault before it reaches a Listener.
type ExceptionInfo struct {
	Kind          Kind
	Code          int
	Subcode       int
	FaultAddress  uint64
	Name          string
	PrettyText    string
	CallStackText string
}

// Listener receives a fault (OnException) or an unrecovered panic
// (OnTerminate) after this package has finished assembling the report.
type Listener interface {
	OnException(info ExceptionInfo)
	OnTerminate(stackText string)
}

// Options mirrors the init-time flags of spec §6 that this package reads.
type Options struct {
	CatchExceptions      bool
	SetTerminateHandler  bool
	LogExceptions        bool
	ExceptionDumpCore    bool
}

// Handler owns the installed signal/panic interception for one process.
// Nothing at this layer, nor in the root dbgutil.Context, prevents more than
// one Handler from being installed at a time.
type Handler struct {
	opts     Options
	listener Listener
	stack    *stackwalk.Provider
	symbols  *symbol.Engine // optional; nil means addresses are reported unresolved
	selfName string         // substring used to filter this library's own frames out of a report

	prevTerminate func(recovered interface{})

	uninstall func() // platform-specific signal teardown, set by Install
}

// NewHandler constructs a Handler. symbols may be nil, in which case
// captured stacks are reported as bare addresses; selfName is matched as a
// substring against resolved symbol names to filter this library's own
// frames out of a report, mirroring the original's module-address filter
// (which Go's single-binary linking model has no direct equivalent for).
func NewHandler(opts Options, listener Listener, stack *stackwalk.Provider, symbols *symbol.Engine, selfName string) *Handler {
	return &Handler{
		opts:     opts,
		listener: listener,
		stack:    stack,
		symbols:  symbols,
		selfName: selfName,
	}
}

// SetPrevTerminateHandler installs fn as the handler to delegate to after
// Recover's own work, mirroring std::set_terminate's "previous handler"
// chaining. A nil fn (the default) means Recover re-panics instead, which is
// this package's equivalent of calling abort() when no predecessor exists.
func (h *Handler) SetPrevTerminateHandler(fn func(recovered interface{})) {
	h.prevTerminate = fn
}

// Install registers the fatal-signal handlers this platform supports (see
// fault_linux.go / fault_windows.go) if opts.CatchExceptions is set. It is a
// no-op otherwise. Calling Install twice without an intervening Uninstall
// replaces the previous registration.
func (h *Handler) Install() error {
	if !h.opts.CatchExceptions {
		return nil
	}
	h.Uninstall()
	uninstall, err := installSignalHandlers(h)
	if err != nil {
		return err
	}
	h.uninstall = uninstall
	return nil
}

// Uninstall restores whatever signal disposition Install displaced.
func (h *Handler) Uninstall() {
	if h.uninstall != nil {
		h.uninstall()
		h.uninstall = nil
	}
}

// captureCallStackText walks the calling goroutine's current stack (the
// closest a pure-Go program gets to "the state at the moment of the fault")
// and renders it with the shared one-line frame format, dropping this
// library's own frames the same way the original's CallStackFilter drops
// frames belonging to its own shared object.
func (h *Handler) captureCallStackText() string {
	trace, err := h.stack.WalkStack(nil, nil)
	if err != nil {
		return fmt.Sprintf("<call stack unavailable: %v>", err)
	}

	var lines []string
	index := 0
	for _, pc := range trace {
		var info symbol.Info
		if h.symbols != nil {
			if resolved, err := h.symbols.GetSymbolInfo(pc); err == nil {
				info = resolved
			}
		}
		if h.selfName != "" && contains(info.SymbolName, h.selfName) {
			continue
		}
		lines = append(lines, symbol.FormatFrame(index, pc, info))
		index++
	}

	text := ""
	for _, l := range lines {
		text += l + "\n"
	}
	return text
}

func contains(haystack, needle string) bool {
	return len(needle) > 0 && len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

// dispatch finishes building an ExceptionInfo (call stack + pretty text),
// optionally logs it, hands it to the listener, and optionally aborts —
// exactly the finalizeSignalHandling sequence this package is modeled on.
func (h *Handler) dispatch(info ExceptionInfo) {
	info.CallStackText = h.captureCallStackText()
	if info.PrettyText == "" {
		info.PrettyText = fmt.Sprintf("Received fault %s (code %d)", info.Kind, info.Code)
	}

	if h.opts.LogExceptions {
		logger.Logf(logger.Allow, "fault", "%s\n%s", info.PrettyText, info.CallStackText)
	}

	if h.listener != nil {
		h.listener.OnException(info)
	}

	if h.opts.ExceptionDumpCore {
		logger.Log(logger.Allow, "fault", "aborting after fatal exception, see details above")
		abortForCoreDump()
	}
}

// Recover is meant to be deferred by any goroutine the host wants covered by
// the terminate path (spec's "abnormal program termination"): if the
// deferred call observes a panic, it captures the stack, logs it if
// requested, reports it through Listener.OnTerminate, and then either delegates to a
// previously-installed handler or re-panics — re-panicking here plays the
// role abort() plays in the source this is modeled on, since an unhandled
// panic crashes the program with a stack dump exactly as abort() would.
func (h *Handler) Recover() {
	r := recover()
	if r == nil {
		return
	}

	stackText := h.captureCallStackText()

	if h.opts.LogExceptions {
		logger.Logf(logger.Allow, "fault", "abnormal termination (recovered panic: %v), call stack:\n%s", r, stackText)
	}
	if h.listener != nil {
		h.listener.OnTerminate(stackText)
	}

	if h.prevTerminate != nil {
		h.prevTerminate(r)
		return
	}
	panic(r)
}
