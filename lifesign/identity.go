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

package lifesign

import (
	"os"
	"path/filepath"
)

// currentImagePath returns the running process's own executable path, or
// the empty string if it could not be determined (never fatal — it is only
// ever stored for human inspection in the segment header).
func currentImagePath() string {
	p, err := os.Executable()
	if err != nil {
		return ""
	}
	return p
}

// currentProcessName returns the base name of the running executable,
// used to compose the segment name (spec "Life-sign shared-memory name
// format").
func currentProcessName() (string, error) {
	p := currentImagePath()
	if p == "" {
		return "process", nil
	}
	return filepath.Base(p), nil
}

func currentProcessID() uint32 {
	return uint32(os.Getpid())
}
