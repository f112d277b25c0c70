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

package logger_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/oa-333/dbgutil-sub000/logger"
)

func TestLoggerBasic(t *testing.T) {
	log := logger.NewLogger(100)
	w := &strings.Builder{}

	log.Write(w)
	if w.String() != "" {
		t.Fatalf("expected empty log, got %q", w.String())
	}

	log.Log(logger.Allow, "test", "this is a test")
	log.Write(w)
	if got, want := w.String(), "test: this is a test\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	w.Reset()
	log.Log(logger.Allow, "test2", "this is another test")
	log.Write(w)
	if got, want := w.String(), "test: this is a test\ntest2: this is another test\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestLoggerTail(t *testing.T) {
	log := logger.NewLogger(100)
	log.Log(logger.Allow, "a", "1")
	log.Log(logger.Allow, "b", "2")

	w := &strings.Builder{}
	log.Tail(w, 100)
	if got, want := w.String(), "a: 1\nb: 2\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	w.Reset()
	log.Tail(w, 1)
	if got, want := w.String(), "b: 2\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	w.Reset()
	log.Tail(w, 0)
	if w.String() != "" {
		t.Fatalf("expected empty tail, got %q", w.String())
	}
}

type prohibitLogging struct{ allow bool }

func (p prohibitLogging) AllowLogging() bool { return p.allow }

func TestLoggerPermission(t *testing.T) {
	log := logger.NewLogger(100)
	w := &strings.Builder{}

	log.Log(prohibitLogging{allow: false}, "tag", "detail")
	log.Write(w)
	if w.String() != "" {
		t.Fatalf("expected no entry when permission denied, got %q", w.String())
	}

	log.Log(prohibitLogging{allow: true}, "tag", "detail")
	log.Write(w)
	if got, want := w.String(), "tag: detail\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestLoggerErrorAndStringer(t *testing.T) {
	log := logger.NewLogger(100)
	w := &strings.Builder{}

	log.Log(logger.Allow, "tag", errors.New("test error"))
	log.Write(w)
	if got, want := w.String(), "tag: test error\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	log.Clear()
	w.Reset()
	log.Logf(logger.Allow, "tag", "wrapped: %v", errors.New("test error"))
	log.Write(w)
	if got, want := w.String(), "tag: wrapped: test error\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestLoggerCapacity(t *testing.T) {
	log := logger.NewLogger(2)
	log.Log(logger.Allow, "a", "1")
	log.Log(logger.Allow, "b", "2")
	log.Log(logger.Allow, "c", "3")

	w := &strings.Builder{}
	log.Write(w)
	if got, want := w.String(), "b: 2\nc: 3\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
