package rcon

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"hatbot/internal/fault"
)

var (
	ErrNoPlayers      = errors.New("no players on server")
	ErrPlayerNotFound = errors.New("no matching player")
)

// Player is one row of a `status` reply.
type Player struct {
	UserID   int
	Name     string
	UniqueID string
}

func (p Player) IsBot() bool { return p.UniqueID == "BOT" }

// PlayerPrompter picks the player to kick. ok=false cancels the kick.
type PlayerPrompter interface {
	ChoosePlayer(ctx context.Context, players []Player) (p Player, ok bool, err error)
}

// Sender is the part of Channel the kicker needs.
type Sender interface {
	Send(ctx context.Context, serverID, command string) (string, error)
}

// #  2 1 "name" STEAM_1:0:1 05:42 52 0 active 786432 1.2.3.4:27005
// #  3 "BOT Bob" BOT active 64
var statusLine = regexp.MustCompile(`^#\s*(\d+)\s+(?:\d+\s+)?"(.*)"\s+(\S+)`)

// ParseStatus extracts players from a `status` reply.
func ParseStatus(reply string) []Player {
	var out []Player
	for _, line := range strings.Split(reply, "\n") {
		m := statusLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		out = append(out, Player{UserID: id, Name: m[2], UniqueID: m[3]})
	}
	return out
}

// Kicker removes one player from a server.
type Kicker struct {
	rcon Sender
}

func NewKicker(s Sender) *Kicker { return &Kicker{rcon: s} }

// Kick lists the players, lets prompt choose one and kicks it by user id.
func (k *Kicker) Kick(ctx context.Context, serverID string, prompt PlayerPrompter) (Player, error) {
	reply, err := k.rcon.Send(ctx, serverID, "status")
	if err != nil {
		return Player{}, err
	}
	players := ParseStatus(reply)
	if len(players) == 0 {
		return Player{}, fault.Wrap(fault.Precondition, ErrNoPlayers)
	}
	p, ok, err := prompt.ChoosePlayer(ctx, players)
	if err != nil {
		return Player{}, err
	}
	if !ok {
		return Player{}, fault.Wrap(fault.Precondition, ErrPlayerNotFound)
	}
	if _, err := k.rcon.Send(ctx, serverID, fmt.Sprintf("kickid %d", p.UserID)); err != nil {
		return Player{}, err
	}
	return p, nil
}

// MatchPrompter chooses the player whose user id equals Query or whose name
// contains it (case-insensitive). More than one name match is an error that
// lists the candidates.
type MatchPrompter struct {
	Query string
}

func (m MatchPrompter) ChoosePlayer(_ context.Context, players []Player) (Player, bool, error) {
	q := strings.TrimSpace(m.Query)
	if q == "" {
		return Player{}, false, fault.New(fault.Validation, "choose a player: %s", listPlayers(players))
	}
	if id, err := strconv.Atoi(strings.TrimPrefix(q, "#")); err == nil {
		for _, p := range players {
			if p.UserID == id {
				return p, true, nil
			}
		}
	}
	lq := strings.ToLower(q)
	var hits []Player
	for _, p := range players {
		if strings.EqualFold(p.Name, q) {
			return p, true, nil
		}
		if strings.Contains(strings.ToLower(p.Name), lq) {
			hits = append(hits, p)
		}
	}
	switch len(hits) {
	case 0:
		return Player{}, false, nil
	case 1:
		return hits[0], true, nil
	default:
		return Player{}, false, fault.New(fault.Validation, "%q matches several players: %s", q, listPlayers(hits))
	}
}

func listPlayers(ps []Player) string {
	parts := make([]string, 0, len(ps))
	for _, p := range ps {
		parts = append(parts, fmt.Sprintf("#%d %s", p.UserID, p.Name))
	}
	return strings.Join(parts, ", ")
}
