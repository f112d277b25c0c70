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

package modules

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/oa-333/dbgutil-sub000/dbgerr"
)

// enumerateModules parses /proc/self/maps, aggregating the (possibly
// several, non-contiguous) mappings of each backing file into one Module
// spanning the lowest start and highest end address seen for that path.
// Mappings without an absolute backing-file path ([heap], [stack],
// anonymous mappings) are skipped; a mapping of a deleted file still counts
// under its old path.
func enumerateModules() ([]Module, *Module, error) {
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return nil, nil, dbgerr.Errorf(dbgerr.SystemFailure, "opening /proc/self/maps: %v", err)
	}
	defer f.Close()

	type span struct{ lo, hi uint64 }
	spans := map[string]span{}
	var order []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 6 {
			continue
		}
		path := fields[5]
		if !strings.HasPrefix(path, "/") {
			continue
		}

		rng := strings.SplitN(fields[0], "-", 2)
		if len(rng) != 2 {
			continue
		}
		lo, err1 := strconv.ParseUint(rng[0], 16, 64)
		hi, err2 := strconv.ParseUint(rng[1], 16, 64)
		if err1 != nil || err2 != nil {
			continue
		}

		sp, ok := spans[path]
		if !ok {
			order = append(order, path)
			sp = span{lo: lo, hi: hi}
		} else {
			if lo < sp.lo {
				sp.lo = lo
			}
			if hi > sp.hi {
				sp.hi = hi
			}
		}
		spans[path] = sp
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, dbgerr.Errorf(dbgerr.SystemFailure, "reading /proc/self/maps: %v", err)
	}

	mods := make([]Module, 0, len(order))
	for _, path := range order {
		sp := spans[path]
		mods = append(mods, Module{
			Name:        filepath.Base(path),
			Path:        path,
			LoadAddress: sp.lo,
			Size:        sp.hi - sp.lo,
		})
	}

	var main *Module
	if exePath, err := os.Readlink("/proc/self/exe"); err == nil {
		for i := range mods {
			if mods[i].Path == exePath {
				main = &mods[i]
				break
			}
		}
	}
	return mods, main, nil
}

// lookupModuleAt re-enumerates and filters to the module containing addr;
// /proc/self/maps carries no per-address query, so a single lookup costs the
// same as a full refresh.
func lookupModuleAt(addr uint64) (Module, error) {
	mods, _, err := enumerateModules()
	if err != nil {
		return Module{}, err
	}
	for _, mod := range mods {
		if mod.contains(addr) {
			return mod, nil
		}
	}
	return Module{}, dbgerr.Errorf(dbgerr.NotFound, "no module maps address 0x%x", addr)
}
