// Package testutil contains helpers shared by tests: a fluent builder for
// message batches and an isolated in-memory SQLite store. Not intended for
// production usage.
package testutil
