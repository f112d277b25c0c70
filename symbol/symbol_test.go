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

package symbol

import (
	"sync"
	"testing"

	"github.com/oa-333/dbgutil-sub000/modules"
)

// TestStateForReturnsSameEntryOnRace exercises the sentinel/condition-variable
// protocol from §4.4: many goroutines racing the same not-yet-prepared module
// must all observe the exact same moduleState, and none may proceed past the
// wait loop until prepare() has run.
func TestStateForReturnsSameEntryOnRace(t *testing.T) {
	e := NewEngine(modules.NewManager())
	mod := modules.Module{Name: "missing", Path: "/does/not/exist", LoadAddress: 0x1000, Size: 0x100}

	const n = 16
	states := make([]*moduleState, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			states[i] = e.stateFor(mod)
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if states[i] != states[0] {
			t.Fatalf("goroutine %d got a different moduleState than goroutine 0", i)
		}
	}
	if !states[0].ready {
		t.Fatalf("moduleState was not marked ready after stateFor returned")
	}
}

// TestPrepareMissingImageIsNonFatal covers a module whose image can't be
// opened (e.g. the backing file is gone): per §4.4 this must not block
// forever or panic, it should mark the state ready with a nil image and
// resolver so GetSymbolInfo just leaves the symbol/file/line fields empty.
func TestPrepareMissingImageIsNonFatal(t *testing.T) {
	mod := modules.Module{Name: "gone", Path: "/does/not/exist/gone.bin", LoadAddress: 0x400000, Size: 0x10000}

	e := NewEngine(modules.NewManager())
	st := e.stateFor(mod)

	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.ready {
		t.Fatalf("prepare() should have completed synchronously, leaving img/resolver nil")
	}
	if st.img != nil {
		t.Fatalf("expected a nil image for a module whose backing file doesn't exist")
	}
	if st.resolver != nil {
		t.Fatalf("expected a nil resolver when no image could be opened")
	}
}
