//go:build cgo

package store

// The go-libsql driver is cgo-only; registering it from a build-tagged file
// keeps CGO_ENABLED=0 builds compiling while cgo builds retain libsql DSN
// support.
import _ "github.com/tursodatabase/go-libsql"
