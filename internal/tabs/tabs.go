// Package tabs tracks which review tabs a browser session has open. The
// state is an explicit value threaded through handlers; the session layer
// stores the encoded form and last write wins.
package tabs

import (
	"strconv"
	"strings"
)

// MaxOpen caps the open-tab list. Adding a sixth tab evicts the oldest.
const MaxOpen = 5

const prPrefix = "pr_"

type Kind int

const (
	// KindPR references an open review by id.
	KindPR Kind = iota
	// KindNamed references a fixed UI tab such as the home dashboard.
	KindNamed
)

// Entry is one open-tab reference. Exactly one of ID or Name is meaningful
// depending on Kind.
type Entry struct {
	Kind Kind
	ID   int64
	Name string
}

// Home is the sentinel the active tab falls back to when nothing is open.
var Home = Entry{Kind: KindNamed, Name: "home"}

func PR(id int64) Entry { return Entry{Kind: KindPR, ID: id} }

// Encode renders the canonical session representation: "pr_<id>" for review
// tabs, the bare name otherwise.
func (e Entry) Encode() string {
	if e.Kind == KindPR {
		return prPrefix + strconv.FormatInt(e.ID, 10)
	}
	return e.Name
}

// Parse decodes a raw session entry. ok is false for a blank value, a bare
// "pr_" prefix with no identifier, or a non-numeric identifier; callers drop
// such entries instead of propagating them.
func Parse(raw string) (e Entry, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Entry{}, false
	}
	if rest, found := strings.CutPrefix(raw, prPrefix); found {
		id, err := strconv.ParseInt(rest, 10, 64)
		if err != nil || id <= 0 {
			return Entry{}, false
		}
		return PR(id), true
	}
	return Entry{Kind: KindNamed, Name: raw}, true
}

// State is a session's open-tab list plus the active-tab pointer. Methods
// return a new value; the zero value is usable and means "nothing open".
type State struct {
	Open   []Entry
	Active Entry
}

func NewState() State { return State{Active: Home} }

// Decode rebuilds a State from the raw session values. Blank or malformed
// entries are dropped; a nil list is treated as empty.
func Decode(open []string, active string) State {
	s := State{Active: Home}
	for _, raw := range open {
		if e, ok := Parse(raw); ok {
			s.Open = append(s.Open, e)
		}
	}
	if e, ok := Parse(active); ok {
		s.Active = e
	}
	return s
}

// EncodeOpen returns the canonical session form of the open-tab list.
func (s State) EncodeOpen() []string {
	out := make([]string, 0, len(s.Open))
	for _, e := range s.Open {
		out = append(out, e.Encode())
	}
	return out
}

func (s State) Contains(e Entry) bool {
	for _, o := range s.Open {
		if o == e {
			return true
		}
	}
	return false
}

// Add moves e to the tail of the open list, deduplicating any prior
// occurrence, and evicts the oldest entries beyond MaxOpen. Adding an entry
// already at the tail leaves the list unchanged.
func (s State) Add(e Entry) State {
	open := make([]Entry, 0, len(s.Open)+1)
	for _, o := range s.Open {
		if o != e {
			open = append(open, o)
		}
	}
	open = append(open, e)
	if len(open) > MaxOpen {
		open = open[len(open)-MaxOpen:]
	}
	return State{Open: open, Active: s.Active}
}

// Remove deletes every occurrence of e. When the removed tab was active, the
// active pointer falls back to the new last entry, or Home if the list is
// now empty.
func (s State) Remove(e Entry) State {
	open := make([]Entry, 0, len(s.Open))
	for _, o := range s.Open {
		if o != e {
			open = append(open, o)
		}
	}
	active := s.Active
	if active == e {
		if len(open) > 0 {
			active = open[len(open)-1]
		} else {
			active = Home
		}
	}
	return State{Open: open, Active: active}
}

// Select moves the active pointer without reordering the open list.
func (s State) Select(e Entry) State {
	return State{Open: s.Open, Active: e}
}

// Cleanup drops open entries that no longer reference a live review owned by
// the current user. Non-review entries never belong in the open list and are
// dropped too. When the active tab is dropped it falls back like Remove.
func (s State) Cleanup(exists func(id int64) bool) State {
	open := make([]Entry, 0, len(s.Open))
	for _, o := range s.Open {
		if o.Kind != KindPR {
			continue
		}
		if exists(o.ID) {
			open = append(open, o)
		}
	}
	out := State{Open: open, Active: s.Active}
	if s.Active.Kind == KindPR && !out.Contains(s.Active) {
		if len(open) > 0 {
			out.Active = open[len(open)-1]
		} else {
			out.Active = Home
		}
	}
	return out
}
