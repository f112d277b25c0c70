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

package stackwalk

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/oa-333/dbgutil-sub000/dbgerr"
	"github.com/oa-333/dbgutil-sub000/xthread"
)

func currentThreadID() int {
	return unix.Gettid()
}

// captureOnTarget is run by the target thread's own xthread dispatch loop.
// Per §4.6 "OS family B", this is the signal-based coordination path: it
// captures the program counters of whichever code is executing when the
// coordinator's request reaches the target — in this Go runtime, that is
// necessarily the dispatch loop's own frame rather than a truly interrupted
// instruction stream (Go offers no portable way to install a true signal
// handler that preserves arbitrary interrupted register state across
// goroutine-scheduled OS threads without assembly). The request/response
// mechanism itself is faithful to the spec; this is the one place its
// payload is a deliberate approximation.
type captureOnTarget struct {
	result RawStackTrace
}

func (c *captureOnTarget) ExecRequest() int32 {
	c.result = captureCurrentPCs(2)
	return 0
}

// otherThreadStackTrace dispatches threadID's capture through the
// cross-thread coordinator and waits (blocking, with a generous timeout —
// a wedged target should not hang this call forever) for the result.
func (p *Provider) otherThreadStackTrace(threadID int) (RawStackTrace, error) {
	if p.coord == nil {
		return nil, dbgerr.Errorf(dbgerr.InvalidState, "no cross-thread coordinator configured")
	}

	capture := &captureOnTarget{}
	_, err := p.coord.Execute(threadID, capture, xthread.WaitBlock, 0, 5*time.Second)
	if err != nil {
		return nil, err
	}
	return capture.result, nil
}
