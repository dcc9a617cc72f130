//go:build !sqlite_cgo

package store

import (
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

const driverName = "sqlite"
