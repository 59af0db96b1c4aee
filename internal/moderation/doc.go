// Package moderation applies, extends and lifts mutes.
//
// A mute is a ledger record plus a chat restriction plus a pending
// "unmute:<user id>" action on the scheduler. Persistence and scheduling are
// not transactional; Recover re-derives the pending actions at boot.
package moderation
