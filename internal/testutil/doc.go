// Package testutil contains helpers shared by tests: a fragment builder, a
// recording agent service with failure injection, and fake tool APIs with
// matching OpenAPI documents. Not intended for production usage.
package testutil
