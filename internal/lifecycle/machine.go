// Package lifecycle implements a role-gated state machine shared by bookings and tickets.
package lifecycle

import "errors"

var (
	ErrTerminal  = errors.New("state is terminal")
	ErrNoEdge    = errors.New("no such transition")
	ErrWrongRole = errors.New("transition not allowed for this role")
)

type Edge[S ~string, R ~string] struct {
	From S
	To   S
	Role R
}

type Machine[S ~string, R ~string] struct {
	edges    map[S]map[S]map[R]struct{}
	terminal map[S]struct{}
}

func New[S ~string, R ~string](edges []Edge[S, R], terminal ...S) *Machine[S, R] {
	m := &Machine[S, R]{
		edges:    make(map[S]map[S]map[R]struct{}),
		terminal: make(map[S]struct{}, len(terminal)),
	}
	for _, e := range edges {
		if m.edges[e.From] == nil {
			m.edges[e.From] = make(map[S]map[R]struct{})
		}
		if m.edges[e.From][e.To] == nil {
			m.edges[e.From][e.To] = make(map[R]struct{})
		}
		m.edges[e.From][e.To][e.Role] = struct{}{}
	}
	for _, s := range terminal {
		m.terminal[s] = struct{}{}
	}
	return m
}

// Check validates from -> to for role. Terminal states are checked first.
func (m *Machine[S, R]) Check(from, to S, role R) error {
	if m.IsTerminal(from) {
		return ErrTerminal
	}
	roles, ok := m.edges[from][to]
	if !ok {
		return ErrNoEdge
	}
	if _, ok := roles[role]; !ok {
		return ErrWrongRole
	}
	return nil
}

func (m *Machine[S, R]) IsTerminal(s S) bool {
	_, ok := m.terminal[s]
	return ok
}

// Allowed lists the states role may move to from s.
func (m *Machine[S, R]) Allowed(from S, role R) []S {
	if m.IsTerminal(from) {
		return nil
	}
	var out []S
	for to, roles := range m.edges[from] {
		if _, ok := roles[role]; ok {
			out = append(out, to)
		}
	}
	return out
}
