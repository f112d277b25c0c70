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

// Package dbgutil is the library's entry point: it wires the module
// manager, symbol engine, stack trace provider, cross-thread coordinator
// and exception handler into one "library context" (spec §9's redesign of
// what the original kept as a set of global singletons), so a host process
// — and, just as importantly, a test — can own an independent instance
// rather than reach through process-wide state.
//
// A Context is not a singleton: NewContext constructs one, Init wires and
// optionally installs fault handling, and Close tears it back down. Nothing
// in this package prevents a caller from building more than one; it is up
// to the host to decide whether fault handlers from two Contexts should
// coexist.
package dbgutil

import (
	"fmt"
	"sync"

	"github.com/oa-333/dbgutil-sub000/dbgerr"
	"github.com/oa-333/dbgutil-sub000/fault"
	"github.com/oa-333/dbgutil-sub000/lifesign"
	"github.com/oa-333/dbgutil-sub000/logger"
	"github.com/oa-333/dbgutil-sub000/modules"
	"github.com/oa-333/dbgutil-sub000/stackwalk"
	"github.com/oa-333/dbgutil-sub000/symbol"
	"github.com/oa-333/dbgutil-sub000/xthread"
)

// Listener is the application-facing fault/termination callback (spec §6):
// on_exception for a caught fault, on_terminate for a recovered panic that
// reached the top of a goroutine dbgutil was asked to watch. It is exactly
// fault.Listener, re-exported under this package so a caller never needs to
// import the fault package directly.
type Listener = fault.Listener

// ExceptionInfo is re-exported from fault for the same reason as Listener.
type ExceptionInfo = fault.ExceptionInfo

// LogSeverity mirrors the configurable log-severity threshold spec §6
// enumerates, re-exported from logger so InitOptions needs no import of its
// own.
type LogSeverity = logger.Severity

const (
	SeverityFatal  = logger.Fatal
	SeverityError  = logger.Error
	SeverityWarn   = logger.Warn
	SeverityNotice = logger.Notice
	SeverityInfo   = logger.Info
	SeverityTrace  = logger.Trace
	SeverityDebug  = logger.Debug
	SeverityDiag   = logger.Diag
)

// InitOptions is the exhaustive set of init-time flags spec §6 enumerates.
// The zero value installs nothing: every capability here is opt-in.
type InitOptions struct {
	// CatchExceptions installs this process's fatal-signal handlers.
	CatchExceptions bool
	// SetTerminateHandler arranges for Recover to be usable as this
	// Context's abnormal-termination path; unlike the original's global
	// std::set_terminate, Go has no way to intercept an uncaught panic
	// process-wide, so this only governs whether Recover's dispatch runs —
	// the host still must defer Context.Recover itself on every goroutine
	// it wants covered.
	SetTerminateHandler bool
	// LogExceptions emits fault/termination text to the log sink before
	// dispatching to Listener.
	LogExceptions bool
	// ExceptionDumpCore raises SIGABRT (abortForCoreDump) after dispatch so
	// the OS can write a core file, mirroring the original's abort()-for-
	// core-dump step. Never set alongside SetTerminateHandler's panic-
	// recovery path on the same goroutine — Recover will re-panic before
	// this has a chance to run.
	ExceptionDumpCore bool
	// LogSeverity is the log-severity threshold (spec §6); NewContext
	// passes it to the package-level logger through logger.SetSeverity,
	// which records it. Logger entries carry no severity, so no entry is
	// filtered by it.
	LogSeverity LogSeverity
	// SelfName filters frames whose resolved symbol name contains this
	// substring out of captured call stacks, the Go analogue of the
	// original's own-module address filter.
	SelfName string
}

// Context is the library's process-wide state, made explicit and ownable
// (spec §9's "model as an explicit library context" redesign flag) rather
// than a set of package-level singletons: it holds one instance each of the
// module manager, symbol engine, stack trace provider, cross-thread
// coordinator and exception handler, and optionally a life-sign manager.
type Context struct {
	mu sync.Mutex

	opts InitOptions

	modules *modules.Manager
	symbols *symbol.Engine
	coord   *xthread.Coordinator
	stack   *stackwalk.Provider
	handler *fault.Handler

	lifeSign *lifesign.Manager

	closed bool
}

// NewContext constructs the module manager, symbol engine, cross-thread
// coordinator, stack trace provider and exception handler (always, even
// with a nil listener), then installs signal handlers per
// opts.CatchExceptions. This is the package's `init`
// (spec §9): everything it allocates is torn down by Close (`term`).
func NewContext(opts InitOptions, listener Listener) (*Context, error) {
	modMgr := modules.NewManager()
	if err := modMgr.RefreshModuleList(); err != nil {
		return nil, err
	}
	symEngine := symbol.NewEngine(modMgr)
	coord := xthread.NewCoordinator()
	stackProvider := stackwalk.NewProvider(coord)

	handler := fault.NewHandler(fault.Options{
		CatchExceptions:     opts.CatchExceptions,
		SetTerminateHandler: opts.SetTerminateHandler,
		LogExceptions:       opts.LogExceptions,
		ExceptionDumpCore:   opts.ExceptionDumpCore,
	}, listener, stackProvider, symEngine, opts.SelfName)

	if err := handler.Install(); err != nil {
		return nil, err
	}

	logger.SetSeverity(opts.LogSeverity)

	return &Context{
		opts:    opts,
		modules: modMgr,
		symbols: symEngine,
		coord:   coord,
		stack:   stackProvider,
		handler: handler,
	}, nil
}

// Modules returns the Context's module manager.
func (c *Context) Modules() *modules.Manager { return c.modules }

// Symbols returns the Context's symbol engine.
func (c *Context) Symbols() *symbol.Engine { return c.symbols }

// StackWalker returns the Context's stack trace provider.
func (c *Context) StackWalker() *stackwalk.Provider { return c.stack }

// SetTerminateDelegate installs fn as the handler Recover defers to after
// its own dispatch, the Go analogue of std::set_terminate's "previous
// handler" chain.
func (c *Context) SetTerminateDelegate(fn func(recovered interface{})) {
	c.handler.SetPrevTerminateHandler(fn)
}

// Recover is meant to be deferred by any goroutine the host wants covered
// by the abnormal-termination path; see fault.Handler.Recover. It is a
// no-op (beyond the normal recover()) if opts.SetTerminateHandler was
// false.
func (c *Context) Recover() {
	r := recover()
	if r == nil || !c.opts.SetTerminateHandler {
		return
	}
	// recover() only stops a panic when called directly by the deferred
	// function, so the value is re-raised under a deferred handler.Recover.
	func() {
		defer c.handler.Recover()
		panic(r)
	}()
}

// OpenLifeSign creates (createNew true) or opens (createNew false) this
// Context's life-sign segment. At most one segment may be bound to a
// Context at a time; calling this again without Close first returns
// InvalidState.
func (c *Context) OpenLifeSign(createNew bool, contextAreaSize, lifeSignAreaSize, maxThreads uint32, segmentName string, totalSize uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lifeSign != nil {
		return dbgerr.Errorf(dbgerr.InvalidState, "life-sign segment already bound to this context")
	}

	mgr := lifesign.NewManager()
	var err error
	if createNew {
		err = mgr.Create(contextAreaSize, lifeSignAreaSize, maxThreads, true)
	} else {
		err = mgr.Open(segmentName, totalSize, true, true)
	}
	if err != nil {
		return err
	}
	c.lifeSign = mgr
	return nil
}

// LifeSign returns the Context's bound life-sign manager, or nil if
// OpenLifeSign has not been called.
func (c *Context) LifeSign() *lifesign.Manager {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lifeSign
}

// Close uninstalls fault handling and releases the life-sign segment (spec
// §9's `term`). It is safe to call more than once.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.handler.Uninstall()

	var err error
	if c.lifeSign != nil {
		err = c.lifeSign.Close(false)
		c.lifeSign = nil
	}
	return err
}

// PrintStack renders a raw stack trace captured by StackWalker through the
// Context's symbol engine, one FormatFrame line per entry, matching the
// default one-line format spec §6 names. Any frame the symbol engine can't
// resolve is still printed, with whatever Info fields did resolve.
func (c *Context) PrintStack(trace stackwalk.RawStackTrace) string {
	var out string
	for i, pc := range trace {
		var info symbol.Info
		if c.symbols != nil {
			if resolved, err := c.symbols.GetSymbolInfo(pc); err == nil {
				info = resolved
			}
		}
		out += symbol.FormatFrame(i, pc, info) + "\n"
	}
	return out
}

// String implements fmt.Stringer for InitOptions, mainly for diagnostics.
func (o InitOptions) String() string {
	return fmt.Sprintf("catch_exceptions=%v set_terminate_handler=%v log_exceptions=%v exception_dump_core=%v severity=%v",
		o.CatchExceptions, o.SetTerminateHandler, o.LogExceptions, o.ExceptionDumpCore, o.LogSeverity)
}
