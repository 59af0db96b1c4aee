// Package playtest runs the lifecycle of a community playtest: staging a
// session from the calendar event, driving the game server through each
// step, and keeping the upcoming-event announcement fresh.
//
//	idle -> staged (prestart) -> live (start) -> paused <-> live
//	     -> postgame (post) -> idle (end)
package playtest
