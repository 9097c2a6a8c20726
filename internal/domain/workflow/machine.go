package workflow

import (
	"fmt"
	"sort"
)

// Definition is an immutable workflow type: ordered statuses plus deterministic edges.
// A (type, fromStatus) pair resolves to at most one transition.
type Definition struct {
	ID    int64
	Code  string
	Name  string
	Scope Scope

	statuses []Status
	byID     map[int64]Status
	byCode   map[string]Status
	next     map[int64]int64
	initial  Status
}

// Statuses returns the statuses ordered by position
func (d *Definition) Statuses() []Status {
	return append([]Status(nil), d.statuses...)
}

// Transitions returns all edges ordered by source position
func (d *Definition) Transitions() []Transition {
	transitions := make([]Transition, 0, len(d.next))
	for from, to := range d.next {
		transitions = append(transitions, Transition{FromStatusID: from, ToStatusID: to})
	}
	sort.Slice(transitions, func(i, j int) bool {
		return d.byID[transitions[i].FromStatusID].Position < d.byID[transitions[j].FromStatusID].Position
	})
	return transitions
}

// InitialStatus returns the single initial status
func (d *Definition) InitialStatus() Status {
	return d.initial
}

// StatusByID looks up a status of this workflow type
func (d *Definition) StatusByID(id int64) (Status, error) {
	s, ok := d.byID[id]
	if !ok {
		return Status{}, fmt.Errorf("%w: status id %d not in workflow %s", ErrInvalidStatus, id, d.Code)
	}
	return s, nil
}

// StatusByCode looks up a status of this workflow type
func (d *Definition) StatusByCode(code string) (Status, error) {
	s, ok := d.byCode[code]
	if !ok {
		return Status{}, fmt.Errorf("%w: status %q not in workflow %s", ErrInvalidStatus, code, d.Code)
	}
	return s, nil
}

// Owns reports whether the status id belongs to this workflow type
func (d *Definition) Owns(statusID int64) bool {
	_, ok := d.byID[statusID]
	return ok
}

// Next resolves the single transition leaving fromStatusID
func (d *Definition) Next(fromStatusID int64) (Status, error) {
	from, err := d.StatusByID(fromStatusID)
	if err != nil {
		return Status{}, err
	}

	to, ok := d.next[fromStatusID]
	if !ok {
		return Status{}, fmt.Errorf("%w: no edge from %s in workflow %s", ErrInvalidTransition, from.Code, d.Code)
	}
	return d.byID[to], nil
}

// CanAdvance returns true if an edge leaves the status
func (d *Definition) CanAdvance(fromStatusID int64) bool {
	_, ok := d.next[fromStatusID]
	return ok
}
