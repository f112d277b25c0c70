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

package fault

import (
	"strings"
	"testing"

	"github.com/oa-333/dbgutil-sub000/stackwalk"
)

type recordingListener struct {
	exceptions []ExceptionInfo
	terminated []string
}

func (l *recordingListener) OnException(info ExceptionInfo) {
	l.exceptions = append(l.exceptions, info)
}

func (l *recordingListener) OnTerminate(stackText string) {
	l.terminated = append(l.terminated, stackText)
}

func TestKindStringCoversEveryConstant(t *testing.T) {
	kinds := []Kind{
		Unknown, AccessViolation, IllegalInstruction, DivideByZero, FPOverflow,
		FPUnderflow, FPInexact, FPInvalid, FPSubscript, FPDivideByZero,
		BusAlignment, BusNonexistentAddress, BusObjectError, BusMachineCheck,
		Trap, AbnormalTermination,
	}
	seen := map[string]bool{}
	for _, k := range kinds {
		s := k.String()
		if s == "" {
			t.Errorf("Kind(%d).String() is empty", k)
		}
		seen[s] = true
	}
	if len(seen) != len(kinds) {
		t.Errorf("expected %d distinct Kind strings, got %d", len(kinds), len(seen))
	}
	if Kind(999).String() != "unknown" {
		t.Errorf("out-of-range Kind.String() = %q, want %q", Kind(999).String(), "unknown")
	}
}

func TestDispatchInvokesListenerAndFillsDefaults(t *testing.T) {
	listener := &recordingListener{}
	stack := stackwalk.NewProvider(nil)
	h := NewHandler(Options{LogExceptions: false}, listener, stack, nil, "")

	h.dispatch(ExceptionInfo{Kind: DivideByZero, Code: 42})

	if len(listener.exceptions) != 1 {
		t.Fatalf("expected one OnException dispatch, got %d", len(listener.exceptions))
	}
	got := listener.exceptions[0]
	if got.PrettyText == "" {
		t.Error("dispatch left PrettyText empty")
	}
	if !strings.Contains(got.PrettyText, "divide by zero") {
		t.Errorf("PrettyText = %q, want it to mention the fault kind", got.PrettyText)
	}
	if got.CallStackText == "" {
		t.Error("dispatch left CallStackText empty")
	}
}

func TestRecoverDelegatesToPreviousHandlerInsteadOfRepanicking(t *testing.T) {
	listener := &recordingListener{}
	stack := stackwalk.NewProvider(nil)
	h := NewHandler(Options{}, listener, stack, nil, "")

	var delegated interface{}
	h.SetPrevTerminateHandler(func(r interface{}) { delegated = r })

	func() {
		defer h.Recover()
		panic("boom")
	}()

	if delegated != "boom" {
		t.Fatalf("delegate received %v, want %q", delegated, "boom")
	}
	if len(listener.terminated) != 1 {
		t.Fatalf("expected one OnTerminate dispatch, got %d", len(listener.terminated))
	}
}

func TestRecoverWithoutPanicIsANoOp(t *testing.T) {
	listener := &recordingListener{}
	stack := stackwalk.NewProvider(nil)
	h := NewHandler(Options{}, listener, stack, nil, "")

	h.Recover()

	if len(listener.terminated) != 0 {
		t.Fatalf("expected no OnTerminate dispatch without a panic, got %d", len(listener.terminated))
	}
}

func TestInstallIsNoOpWithoutCatchExceptions(t *testing.T) {
	h := NewHandler(Options{CatchExceptions: false}, nil, stackwalk.NewProvider(nil), nil, "")
	if err := h.Install(); err != nil {
		t.Fatalf("Install: %v", err)
	}
	// Uninstall must tolerate never having installed anything.
	h.Uninstall()
}
