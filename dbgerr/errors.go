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

package dbgerr

import (
	"fmt"
	"strings"
)

// curated is an implementation of the go language error interface that
// remembers the Errno it was created with.
type curated struct {
	errno   Errno
	pattern string
	values  []interface{}
}

// Errorf creates a new curated error tagged with errno. Unlike fmt.Errorf
// the pattern isn't formatted until Error() is called; this lets Is() and
// Has() inspect errno without any string comparison.
func Errorf(errno Errno, pattern string, values ...interface{}) error {
	return curated{
		errno:   errno,
		pattern: pattern,
		values:  values,
	}
}

// Error returns the normalised error message: when the first two parts of
// the ": "-separated chain are identical (an error re-wrapped under its own
// errno prefix), the leading duplicate is dropped, mirroring the
// de-duplication the teacher's curated error packages perform. Repeated
// parts further along the chain are left as they are.
func (e curated) Error() string {
	s := fmt.Sprintf("%s: %s", e.errno, fmt.Sprintf(e.pattern, e.values...))

	p := strings.SplitN(s, ": ", 3)
	if len(p) > 1 && p[0] == p[1] {
		return strings.Join(p[1:], ": ")
	}
	return strings.Join(p, ": ")
}

// Unwrap exposes the first error (curated or not) among the Errorf values,
// if any, to the standard
// errors.Is/errors.As machinery.
func (e curated) Unwrap() error {
	for _, v := range e.values {
		if err, ok := v.(error); ok {
			return err
		}
	}
	return nil
}

// Code returns the Errno an error was created with, or InternalError for
// any error not produced by Errorf (including nil, for which it still
// returns InternalError — callers are expected to check err != nil first).
func Code(err error) Errno {
	if er, ok := err.(curated); ok {
		return er.errno
	}
	return InternalError
}

// IsAny reports whether err was produced by this package's Errorf.
func IsAny(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(curated)
	return ok
}

// Is reports whether err is a curated error created with the given errno.
func Is(err error, errno Errno) bool {
	if err == nil {
		return false
	}
	if er, ok := err.(curated); ok {
		return er.errno == errno
	}
	return false
}

// Has reports whether errno occurs anywhere in err's wrapped value chain,
// recursing into any curated errors passed as Errorf arguments.
func Has(err error, errno Errno) bool {
	if err == nil {
		return false
	}
	er, ok := err.(curated)
	if !ok {
		return false
	}
	if er.errno == errno {
		return true
	}
	for _, v := range er.values {
		if e, ok := v.(error); ok {
			if Has(e, errno) {
				return true
			}
		}
	}
	return false
}
