// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package bdb registers the bbolt-backed kvdb driver under the type name
// "bdb".  Importing it for side effects makes kvdb.Create("bdb", path) and
// kvdb.Open("bdb", path) available.
package bdb

import (
	"fmt"

	"github.com/hashvault/custody/kvdb"
)

const dbType = "bdb"

func init() {
	driver := kvdb.Driver{
		DbType: dbType,
		Create: func(path string) (kvdb.DB, error) {
			return openDB(path, true)
		},
		Open: func(path string) (kvdb.DB, error) {
			return openDB(path, false)
		},
	}
	if err := kvdb.RegisterDriver(driver); err != nil {
		panic(fmt.Sprintf("failed to register database driver '%s': %v",
			dbType, err))
	}
}
