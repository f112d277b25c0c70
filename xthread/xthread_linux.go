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

package xthread

import (
	"context"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/oa-333/dbgutil-sub000/dbgerr"
)

// rtSignal is the real-time signal used to carry cross-thread requests. The
// Linux kernel ABI reserves 34-64 for real-time signals regardless of libc;
// glibc's NPTL uses 34 and 35 (SIGRTMIN, SIGRTMIN+1) internally for thread
// setup/cancellation, so this picks the next one up.
const rtSignal = 36

var sigsetSize = unsafe.Sizeof(unix.Sigset_t{})

// signalThread delivers the coordinator's wake-up signal to tid, a
// thread-directed (not process-directed) real-time signal.
func signalThread(tid int) error {
	if err := unix.Tgkill(unix.Getpid(), tid, unix.Signal(rtSignal)); err != nil {
		return dbgerr.Errorf(dbgerr.SystemFailure, "tgkill(tid=%d, sig=%d): %v", tid, int(rtSignal), err)
	}
	return nil
}

// RunAsTarget locks the calling goroutine to its current OS thread, blocks
// rtSignal everywhere except deliveries aimed squarely at this thread (via
// a dedicated signalfd — rt_sigprocmask and signalfd are both per-thread on
// Linux, which is what makes tgkill-targeted delivery observable here and
// nowhere else), and runs c's dispatch loop until ctx is done.
//
// The returned tid is this OS thread's id, the value callers should pass to
// Execute to target it. unregister must be called from the same goroutine
// that called RunAsTarget, after the loop has returned, to restore the
// thread's signal mask and release the OS-thread lock.
func RunAsTarget(ctx context.Context, c *Coordinator) (tid int, unregister func(), err error) {
	runtime.LockOSThread()

	var set unix.Sigset_t
	sigaddset(&set, rtSignal)

	var oldSet unix.Sigset_t
	if err := unix.RtSigprocmask(unix.SIG_BLOCK, &set, &oldSet, sigsetSize); err != nil {
		runtime.UnlockOSThread()
		return 0, nil, dbgerr.Errorf(dbgerr.SystemFailure, "rt_sigprocmask: %v", err)
	}

	fd, err := unix.Signalfd(-1, &set, unix.SFD_CLOEXEC)
	if err != nil {
		unix.RtSigprocmask(unix.SIG_SETMASK, &oldSet, nil, sigsetSize)
		runtime.UnlockOSThread()
		return 0, nil, dbgerr.Errorf(dbgerr.SystemFailure, "signalfd: %v", err)
	}

	tid = unix.Gettid()

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		unix.Close(fd)
		close(done)
	}()

	unregister = func() {
		<-done
		unix.RtSigprocmask(unix.SIG_SETMASK, &oldSet, nil, sigsetSize)
		runtime.UnlockOSThread()
	}

	var buf [unix.SizeofSignalfdSiginfo]byte
	for {
		n, rerr := unix.Read(fd, buf[:])
		if rerr != nil || n != len(buf) {
			return tid, unregister, nil
		}
		c.dispatch(tid)
	}
}

// sigaddset sets sig's bit in set. Sigset_t.Val is an array of 64-bit words
// on every Linux architecture x/sys/unix supports.
func sigaddset(set *unix.Sigset_t, sig uint64) {
	word := (sig - 1) / 64
	bit := (sig - 1) % 64
	set.Val[word] |= 1 << bit
}
