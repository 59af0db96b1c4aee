// Package storage persists hatbot's records.
//
// Records:
//   - mutes (the mute ledger, soft-deleted via Expired)
//   - the current playtest session (singleton, upserted by ID 1)
//   - the announcement message (singleton)
//   - the test-server registry
//   - the moderation audit log (append-only)
//
// Backends are selected by Config.Driver: "memory", "file" or "sqlite".
package storage
