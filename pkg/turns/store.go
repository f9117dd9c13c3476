package turns

import (
	"strings"

	"github.com/pkg/errors"
)

// Store is the append-only history of a single agent session.
//
// A Store is owned by exactly one loop at a time and is not safe for concurrent use.
// Parallel sessions need their own Store.
type Store struct {
	turns []Turn
	next  int
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{next: 1}
}

// Append adds a new turn and returns it with its sequence index filled in.
func (s *Store) Append(kind Kind, text string) (Turn, error) {
	if !kind.Valid() {
		return Turn{}, errors.Wrapf(ErrInvalidKind, "kind %q", string(kind))
	}
	if s.next == 0 {
		s.next = 1
	}
	t := Turn{
		Sequence: s.next,
		Kind:     kind,
		Text:     text,
	}
	s.next++
	s.turns = append(s.turns, t)
	return t, nil
}

// MustAppend is Append for kinds known at compile time.
func (s *Store) MustAppend(kind Kind, text string) Turn {
	t, err := s.Append(kind, text)
	if err != nil {
		panic(err)
	}
	return t
}

// Render returns the transcript of all turns in sequence order, one turn per block.
func (s *Store) Render() string {
	return s.RenderWith(Turn.String)
}

// RenderWith renders the transcript using a custom projection of each turn.
// Turns for which fn returns the empty string are skipped.
func (s *Store) RenderWith(fn func(Turn) string) string {
	parts := make([]string, 0, len(s.turns))
	for _, t := range s.turns {
		if r := fn(t); r != "" {
			parts = append(parts, r)
		}
	}
	return strings.Join(parts, "\n")
}

// Last returns the most recent turn of the given kind.
func (s *Store) Last(kind Kind) (Turn, bool) {
	for i := len(s.turns) - 1; i >= 0; i-- {
		if s.turns[i].Kind == kind {
			return s.turns[i], true
		}
	}
	return Turn{}, false
}

// Turns returns a copy of all turns.
func (s *Store) Turns() []Turn {
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

func (s *Store) Len() int {
	return len(s.turns)
}

// Reset clears the store. Only the owner of a top-level task calls this, before the loop starts.
func (s *Store) Reset() {
	s.turns = nil
	s.next = 1
}
