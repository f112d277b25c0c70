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

package bufreader_test

import (
	"bytes"
	"testing"

	"github.com/oa-333/dbgutil-sub000/bufreader"
	"github.com/oa-333/dbgutil-sub000/dbgerr"
)

func TestFixedReadAt(t *testing.T) {
	s := bufreader.NewFixed([]byte("hello world"))

	buf := make([]byte, 5)
	n, err := s.ReadAt(buf, 6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 5 || string(buf) != "world" {
		t.Fatalf("got %q (%d bytes)", buf, n)
	}
}

func TestFixedShortRead(t *testing.T) {
	s := bufreader.NewFixed([]byte("hi"))
	buf := make([]byte, 5)
	n, err := s.ReadAt(buf, 0)
	if n != 2 {
		t.Fatalf("expected 2 bytes read, got %d", n)
	}
	if !dbgerr.Is(err, dbgerr.EOF) {
		t.Fatalf("expected EOF errno, got %v", err)
	}
}

func TestFileWindowedRead(t *testing.T) {
	data := make([]byte, 200*1024)
	for i := range data {
		data[i] = byte(i)
	}

	f := bufreader.NewFile(bytes.NewReader(data), int64(len(data)))

	buf := make([]byte, 4096)
	n, err := f.ReadAt(buf, 100000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len(buf) || !bytes.Equal(buf, data[100000:100000+4096]) {
		t.Fatalf("window contents mismatch")
	}

	// seeking back before the current window refills it from the new offset
	n, err = f.ReadAt(buf, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(buf[:n], data[:n]) {
		t.Fatalf("re-seeked read mismatch")
	}
}
