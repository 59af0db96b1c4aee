package router

import (
	"sort"
	"strings"
)

// cmdNode is one token of a command route. Leaves carry the command; inner
// nodes may carry one too (/playtest alone prints the session state).
type cmdNode struct {
	name     string
	cmd      *Command
	children map[string]*cmdNode
}

func newRoot() *cmdNode {
	return &cmdNode{children: map[string]*cmdNode{}}
}

func splitRoute(route string) []string {
	return strings.Fields(strings.ToLower(route))
}

func (n *cmdNode) add(route []string, c Command) {
	cur := n
	for _, tok := range route {
		next, ok := cur.children[tok]
		if !ok {
			next = &cmdNode{name: tok, children: map[string]*cmdNode{}}
			cur.children[tok] = next
		}
		cur = next
	}
	cur.cmd = &c
}

func (n *cmdNode) find(path []string) *cmdNode {
	cur := n
	for _, tok := range path {
		next, ok := cur.children[tok]
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

func (n *cmdNode) child(name string) (*cmdNode, bool) {
	c, ok := n.children[strings.ToLower(name)]
	return c, ok
}

func (n *cmdNode) childNames() []string {
	out := make([]string, 0, len(n.children))
	for k := range n.children {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// visibleChildNames skips hidden leaves such as short subcommand aliases.
func (n *cmdNode) visibleChildNames() []string {
	out := make([]string, 0, len(n.children))
	for _, name := range n.childNames() {
		c := n.children[name]
		if c.cmd != nil && c.cmd.Hidden && len(c.children) == 0 {
			continue
		}
		out = append(out, name)
	}
	return out
}

// minAccess is the least privileged access level any command under n needs.
func (n *cmdNode) minAccess() Access {
	if n == nil {
		return AccessEveryone
	}
	best := AccessOwnerOnly
	if n.cmd != nil {
		best = n.cmd.Access
	}
	for _, c := range n.children {
		if a := c.minAccess(); a < best {
			best = a
		}
	}
	return best
}
