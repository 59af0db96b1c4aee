// Package chatops connects the core to the chat platform: the mute role, the
// upcoming-event announcement, post-game notices and reservation notices.
package chatops
