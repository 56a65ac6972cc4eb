// Package store defines interfaces for persistence dependencies (monitor run
// history). Implementations live in internal/storage; this package must not
// import database drivers or concrete clients.
package store
