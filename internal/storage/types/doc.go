// Package types defines the shared data model of the storage engine:
// records, record kinds, source types, sensor keys and operating modes.
//
// It has no dependencies on other storage packages so that every layer
// (sector pool, sensor state, disk I/O, recovery, archive) can share the
// same vocabulary without import cycles.
package types
