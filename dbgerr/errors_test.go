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

package dbgerr_test

import (
	"fmt"
	"testing"

	"github.com/oa-333/dbgutil-sub000/dbgerr"
)

func TestDuplicateErrors(t *testing.T) {
	e := dbgerr.Errorf(dbgerr.NotFound, "symbol %s", "foo")
	if got, want := e.Error(), "NOT_FOUND: symbol foo"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	// re-wrapping under the same errno repeats the prefix, which is collapsed
	wrapped := dbgerr.Errorf(dbgerr.NotFound, "%v", e)
	if got, want := wrapped.Error(), "NOT_FOUND: symbol foo"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestIsAndHas(t *testing.T) {
	e := dbgerr.Errorf(dbgerr.NotFound, "symbol %s", "foo")
	if !dbgerr.Is(e, dbgerr.NotFound) {
		t.Fatal("expected Is(e, NotFound) to be true")
	}
	if dbgerr.Is(e, dbgerr.DataCorrupt) {
		t.Fatal("expected Is(e, DataCorrupt) to be false")
	}

	f := dbgerr.Errorf(dbgerr.InternalError, "resolving address: %w", e)
	if dbgerr.Is(f, dbgerr.NotFound) {
		t.Fatal("f is tagged InternalError, not NotFound")
	}
	if !dbgerr.Has(f, dbgerr.NotFound) {
		t.Fatal("expected Has(f, NotFound) to find the wrapped error")
	}
	if !dbgerr.IsAny(e) || !dbgerr.IsAny(f) {
		t.Fatal("expected both e and f to be curated errors")
	}
}

func TestPlainErrors(t *testing.T) {
	e := fmt.Errorf("plain error")
	if dbgerr.IsAny(e) {
		t.Fatal("plain errors must not be reported as curated")
	}
	if dbgerr.Code(e) != dbgerr.InternalError {
		t.Fatalf("Code() of a plain error should default to InternalError, got %s", dbgerr.Code(e))
	}
}

func TestCode(t *testing.T) {
	e := dbgerr.Errorf(dbgerr.ResourceLimit, "context area full")
	if dbgerr.Code(e) != dbgerr.ResourceLimit {
		t.Fatalf("got %s, want %s", dbgerr.Code(e), dbgerr.ResourceLimit)
	}
}
