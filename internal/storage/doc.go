// Package storage persists sender accounts, outbound invitation messages,
// and guest RSVP state.
//
// It currently supports:
//   - SQLite (default), WAL mode, single writer
//   - An in-memory backend for tests and local development
package storage
