package core

import (
	"slices"
	"sync"
)

// UserDirectory answers whether a user identifier is known.
type UserDirectory interface {
	Exists(user UserID) bool
}

// ContactGraph stores the symmetric contact relation as two mirrored
// directed entries per edge. It performs no I/O.
type ContactGraph struct {
	mu    sync.RWMutex
	edges map[UserID]map[UserID]struct{}
	users UserDirectory
}

func NewContactGraph(users UserDirectory) *ContactGraph {
	return &ContactGraph{
		edges: make(map[UserID]map[UserID]struct{}),
		users: users,
	}
}

// Add creates the edge {a, b}. Adding an existing edge succeeds without change.
// It fails with ErrSelfContact when a == b and ErrUnknownUser when either
// endpoint is not a known user.
func (g *ContactGraph) Add(a, b UserID) error {
	if a == b {
		return ErrSelfContact
	}
	// Users are never deleted, so the check cannot go stale.
	if !g.users.Exists(a) || !g.users.Exists(b) {
		return ErrUnknownUser
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.link(a, b)
	g.link(b, a)
	return nil
}

func (g *ContactGraph) link(from, to UserID) {
	out, ok := g.edges[from]
	if !ok {
		out = make(map[UserID]struct{})
		g.edges[from] = out
	}
	out[to] = struct{}{}
}

func (g *ContactGraph) unlink(from, to UserID) {
	out, ok := g.edges[from]
	if !ok {
		return
	}
	delete(out, to)
	if len(out) == 0 {
		delete(g.edges, from)
	}
}

// Remove deletes the edge {a, b}. Removing a missing edge is not an error.
func (g *ContactGraph) Remove(a, b UserID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unlink(a, b)
	g.unlink(b, a)
}

func (g *ContactGraph) AreContacts(a, b UserID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.edges[a][b]
	return ok
}

// ContactsOf returns the contacts of u in ascending order.
func (g *ContactGraph) ContactsOf(u UserID) []UserID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]UserID, 0, len(g.edges[u]))
	for c := range g.edges[u] {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// Mutuals returns the contacts shared by a and b, in ascending order.
// It is always computed from the current edges.
func (g *ContactGraph) Mutuals(a, b UserID) []UserID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	small, large := g.edges[a], g.edges[b]
	if len(small) > len(large) {
		small, large = large, small
	}
	out := make([]UserID, 0)
	for c := range small {
		if _, ok := large[c]; ok {
			out = append(out, c)
		}
	}
	slices.Sort(out)
	return out
}

func (g *ContactGraph) Count(u UserID) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges[u])
}
