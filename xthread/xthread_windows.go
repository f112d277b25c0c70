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

package xthread

import (
	"context"

	"github.com/oa-333/dbgutil-sub000/dbgerr"
)

// signalThread has no equivalent on this platform: the stack trace provider
// uses the suspend/GetThreadContext/resume path directly ("OS family A" in
// spec §4.6) and never needs the cross-thread coordinator here.
func signalThread(tid int) error {
	return dbgerr.Errorf(dbgerr.NotImplemented, "cross-thread signal coordination is not used on this platform")
}

// RunAsTarget is unreachable on this platform for the same reason.
func RunAsTarget(ctx context.Context, c *Coordinator) (tid int, unregister func(), err error) {
	return 0, nil, dbgerr.Errorf(dbgerr.NotImplemented, "cross-thread signal coordination is not used on this platform")
}
