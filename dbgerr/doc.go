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

// Package dbgerr is a helper package for the plain Go language error type.
//
// Curated errors are created with the Errorf() function. It takes an Errno
// (one of the exhaustive, stable codes listed in this package), a formatting
// pattern and placeholder values, and returns an error.
//
// Code() recovers the Errno of a curated error, returning INTERNAL_ERROR for
// any error not created by this package. Is() checks whether an error was
// created with a specific Errno. Has() is similar but also searches inside
// wrapped values for a curated error with the given code, in the style of
// the checks a debugger-style codebase does repeatedly while unwinding error
// chains from parser routines up to a caller.
package dbgerr
