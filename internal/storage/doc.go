// Package storage implements the embedded sensor record engine: a
// RAM-first, per-sensor ring-buffer store for telematics devices with
// disk spill under memory pressure and crash recovery at boot.
//
// Architecture:
//
//	Engine (service.go)     — orchestration, backpressure, feature wiring
//	sector/                 — fixed-size RAM sectors and the shared pool
//	sensor/                 — per-sensor state machine and record operations
//	modemgr/                — RAM/disk tiering policy, flush sweeps, quota
//	disk/                   — atomic checksummed sector files and cursors
//	recovery/               — boot-time state reconstruction
//	legacy/                 — pre-redesign call surface adapter
//	archive/                — Parquet export of flushed records
//	query/                  — DuckDB SQL over the archive
//	stats/                  — DDSketch value and latency statistics
//
// Records flow RAM-first: producers append to pooled sectors under a
// per-sensor lock, the mode manager spills sealed sectors to disk only
// when pool occupancy crosses the high-water mark, and each sensor
// returns to RAM-only operation as soon as its flush commits. A single
// consumer drains oldest-first across both tiers through ReadNext and
// Erase.
package storage
