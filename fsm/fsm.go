// Package fsm holds the document, job and execution state machines. Each
// machine is a static transition table plus entry actions that stamp
// timestamps once.
package fsm

import (
	"sort"
	"time"

	pipeline "github.com/goliatone/go-pipeline"
)

// Transition is one allowed source/target pair.
type Transition[S ~string] struct {
	From S
	To   S
}

// Table is a finite set of allowed transitions with an initial state.
type Table[S ~string] struct {
	name    string
	initial S
	states  []S
	allowed map[Transition[S]]struct{}
}

// NewTable builds a table. States are collected from the transitions.
func NewTable[S ~string](name string, initial S, transitions ...Transition[S]) *Table[S] {
	t := &Table[S]{
		name:    name,
		initial: initial,
		allowed: make(map[Transition[S]]struct{}, len(transitions)),
	}
	seen := map[S]struct{}{initial: {}}
	t.states = append(t.states, initial)
	for _, tr := range transitions {
		t.allowed[tr] = struct{}{}
		for _, s := range []S{tr.From, tr.To} {
			if _, ok := seen[s]; !ok {
				seen[s] = struct{}{}
				t.states = append(t.states, s)
			}
		}
	}
	return t
}

func (t *Table[S]) Name() string { return t.name }

func (t *Table[S]) Initial() S { return t.initial }

// States returns every state named by the table, initial first.
func (t *Table[S]) States() []S {
	return append([]S(nil), t.states...)
}

// Transitions returns the allowed pairs in a stable order.
func (t *Table[S]) Transitions() []Transition[S] {
	out := make([]Transition[S], 0, len(t.allowed))
	for tr := range t.allowed {
		out = append(out, tr)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

// Allowed reports whether from -> to is in the table. An empty source is
// read as the initial state.
func (t *Table[S]) Allowed(from, to S) bool {
	if from == "" {
		from = t.initial
	}
	_, ok := t.allowed[Transition[S]{From: from, To: to}]
	return ok
}

// Check returns a TransitionError when from -> to is not allowed.
func (t *Table[S]) Check(from, to S) error {
	if t.Allowed(from, to) {
		return nil
	}
	if from == "" {
		from = t.initial
	}
	return pipeline.NewTransitionError(t.name, string(from), string(to))
}

// Terminal reports whether no transition leaves s.
func (t *Table[S]) Terminal(s S) bool {
	for tr := range t.allowed {
		if tr.From == s {
			return false
		}
	}
	return true
}

func stamp(dst **time.Time, now time.Time) {
	if *dst != nil {
		return
	}
	ts := now
	*dst = &ts
}
