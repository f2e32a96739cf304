// Package task orchestrates asynchronous generation tasks.
//
// The Registry owns every task record and enforces the task state machine
// and the per-dataset lock. The Executor drives one task's pipeline in
// bounded batches, tolerating per-record failures up to the configured
// error rate and honoring cooperative cancellation at batch boundaries.
// The Runner queues submitted tasks onto a worker pool and hosts the
// watchdog that fails tasks whose progress has stalled.
package task
