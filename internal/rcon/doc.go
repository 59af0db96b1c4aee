// Package rcon talks Source RCON to registered test servers and decides
// which server an operator's ad-hoc command goes to.
package rcon
