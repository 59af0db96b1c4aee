// Package scheduler is the process-wide registry of named delayed actions.
//
// One robfig/cron loop computes trigger times for every action:
//   - one-shot actions (At) fire once and leave the registry before they run
//   - recurring actions (Every) fire until cancelled or Stop
//
// Each firing runs on its own supervised goroutine with panic recovery, so a
// slow or failing action never holds up the loop or other actions.
// Registrations are in-memory only; owners re-register on boot.
package scheduler
