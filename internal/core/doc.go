// Package core provides the business logic for asynchronous record validation.
//
// This package contains all domain logic independent of any transport layer.
// It is used by the HTTP handlers, the CLI, and tests without modification.
//
// # Architecture
//
// The package is organized around a few key concepts:
//
//   - Service: The entry point. [Service.Submit] creates a job and returns
//     immediately; [Service.Status] returns the job's latest snapshot.
//   - Pipeline: Validates each record of a job exactly once through the
//     shared [Limiter] and writes a fresh snapshot after every record.
//   - Store: Keyed snapshot storage, in memory ([MemoryStore]) or in Redis
//     ([RedisStore]).
//   - Decoders: Turn an uploaded CSV or XLSX file into records.
//
// # Job Lifecycle
//
// A job starts as processing and ends exactly once as completed or failed:
//
//  1. Client calls [Service.Submit] with a non-empty batch of records
//  2. The initial snapshot (0 processed, "0%") is stored before Submit returns
//  3. Each record waits for a limiter slot, is validated, and is settled
//  4. After the last record settles the terminal snapshot is stored
//
// While processing, ProcessedRecords counts settled records, failures
// included. In the completed snapshot it counts successes only, so
// ProcessedRecords + len(FailedRecords) == TotalRecords.
//
// A record that fails validation, or whose validator call errors, is a
// per-record failure and never aborts the job. Only orchestration faults,
// such as a failed store write, drive a job to failed.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - FILE001-FILE005: File errors (size, format, type, empty)
//   - JOB001-JOB003: Job errors (not found, cancelled, timeout)
//   - RATE001: Too many requests
//
// # Retention
//
// Finished jobs can be evicted after a configurable age by
// [Service.StartRetentionSweeper]. Jobs that are still processing are never
// evicted.
package core
