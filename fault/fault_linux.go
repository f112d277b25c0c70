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

package fault

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// caughtSignals is the set this package installs handlers for, chosen to
// match the POSIX branch of the handler it is modeled on: SIGSEGV, SIGILL,
// SIGFPE, SIGBUS and SIGTRAP. SIGABRT is deliberately excluded — it is what
// abortForCoreDump itself raises, and catching our own abort would recurse.
var caughtSignals = []os.Signal{
	unix.SIGSEGV,
	unix.SIGILL,
	unix.SIGFPE,
	unix.SIGBUS,
	unix.SIGTRAP,
}

func kindForSignal(sig os.Signal) Kind {
	switch sig {
	case unix.SIGSEGV:
		return AccessViolation
	case unix.SIGILL:
		return IllegalInstruction
	case unix.SIGFPE:
		return DivideByZero
	case unix.SIGBUS:
		return BusNonexistentAddress
	case unix.SIGTRAP:
		return Trap
	default:
		return Unknown
	}
}

// installSignalHandlers starts the dispatch goroutine and returns a function
// that stops it and resets the process to Go's default signal disposition
// for these signals — "restoring the predecessor" in the sense available to
// a pure-Go program, since os/signal has no notion of a prior sigaction to
// hand back to (unlike sigaction's own out-parameter on the POSIX path this
// mirrors).
func installSignalHandlers(h *Handler) (func(), error) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, caughtSignals...)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig, ok := <-ch:
				if !ok {
					return
				}
				h.dispatch(ExceptionInfo{
					Kind: kindForSignal(sig),
					Code: int(sig.(interface{ Signal() }).(unix.Signal)),
					Name: sig.String(),
				})
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}, nil
}

// abortForCoreDump raises SIGABRT against this process, the same terminal
// action the handler this package is modeled on takes via abort() — on a
// system with core dumps enabled (ulimit -c), this produces one.
func abortForCoreDump() {
	unix.Kill(unix.Getpid(), unix.SIGABRT)
}
