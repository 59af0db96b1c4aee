// Package tgui builds chat messages that are safe for Telegram's HTML parse
// mode: escaping helpers plus a small line-oriented builder.
package tgui
