/*
Copyright © 2024 the CAMSMap authors.
This file is part of CAMSMap.

CAMSMap is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

CAMSMap is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with CAMSMap.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package hash computes stable keys for cached downloads.
package hash

import (
	"encoding/gob"
	"fmt"
	"hash/fnv"
	"io"

	"github.com/davecgh/go-spew/spew"
)

// Hash returns a hex key identifying the given values. Values that gob
// cannot encode, such as NaNs or unexported fields, are printed with
// spew instead, which still gives a key that depends only on content.
func Hash(values ...interface{}) string {
	h := fnv.New128a()
	for _, v := range values {
		write(h, v)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

func write(w io.Writer, v interface{}) {
	if s, ok := v.(fmt.Stringer); ok {
		io.WriteString(w, s.String())
		return
	}
	if err := gob.NewEncoder(w).Encode(v); err == nil {
		return
	}
	printer := spew.ConfigState{
		Indent:                  " ",
		SortKeys:                true,
		DisableMethods:          true,
		SpewKeys:                true,
		DisablePointerAddresses: true,
		DisableCapacities:       true,
	}
	printer.Fprintf(w, "%#v", v)
}
