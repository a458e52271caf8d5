/*
Copyright © 2024 the Atomap authors.
This file is part of Atomap.

Atomap is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Atomap is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Atomap.  If not, see <http://www.gnu.org/licenses/>.
*/

// Command atomap is a command-line interface for locating atomic columns
// in atomic-resolution STEM images.
package main

import (
	"fmt"
	"os"

	"github.com/atomap-dev/atomap/atomaputil"
)

func main() {
	if err := atomaputil.Root.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
}
