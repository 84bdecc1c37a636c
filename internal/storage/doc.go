// Package storage keeps the audit trail of bot actions (inventory changes,
// redemptions, ledger submissions).
//
// Two drivers exist: "file" appends JSON Lines, "sqlite" writes to a SQLite
// database through the pure-Go modernc driver. An empty driver or "none"
// disables auditing.
package storage
