// Package globals implements the append-only global store that an export
// run writes into: a mapping from (global name, subscript tuple) to a text
// value, write-once per key, iterable in a deterministic collation order.
package globals

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrDuplicateKey is returned when a (global, subscripts) key is written twice.
var ErrDuplicateKey = errors.New("duplicate key")

// Entry is one node of the store.
type Entry struct {
	Global string
	Subs   []Subscript
	Value  string
}

// Ref renders the node reference, e.g. ^DPT(1,0).
func (e Entry) Ref() string {
	return Ref(e.Global, e.Subs...)
}

// Ref renders a node reference from its parts.
func Ref(global string, subs ...Subscript) string {
	if len(subs) == 0 {
		return global
	}
	parts := make([]string, len(subs))
	for i, s := range subs {
		parts[i] = s.String()
	}
	return global + "(" + strings.Join(parts, ",") + ")"
}

// KeyError identifies the node that collided.
type KeyError struct {
	Ref string
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("globals: %s already written: %v", e.Ref, ErrDuplicateKey)
}

func (e *KeyError) Unwrap() error { return ErrDuplicateKey }

// Store holds the nodes written during one run. It is not safe for
// concurrent use; an export session is its only writer.
type Store struct {
	keys    map[string]int
	entries []Entry
	sorted  bool
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{keys: make(map[string]int), sorted: true}
}

// key is the identity used for write-once enforcement. The type tag keeps
// the numeric subscript 1 distinct from the string subscript "1".
func key(global string, subs []Subscript) string {
	var b strings.Builder
	b.WriteString(global)
	for _, s := range subs {
		b.WriteByte(0)
		if s.numeric {
			b.WriteByte('n')
		} else {
			b.WriteByte('s')
		}
		b.WriteString(s.text)
	}
	return b.String()
}

// Put writes a single node.
func (s *Store) Put(global string, subs []Subscript, value string) error {
	return s.PutAll([]Entry{{Global: global, Subs: subs, Value: value}})
}

// PutAll writes a batch of nodes atomically: either every node is written
// or, if any key already exists or repeats inside the batch, none are.
func (s *Store) PutAll(entries []Entry) error {
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.Global == "" {
			return fmt.Errorf("globals: empty global name")
		}
		k := key(e.Global, e.Subs)
		if _, ok := s.keys[k]; ok {
			return &KeyError{Ref: e.Ref()}
		}
		if _, ok := seen[k]; ok {
			return &KeyError{Ref: e.Ref()}
		}
		seen[k] = struct{}{}
	}
	for _, e := range entries {
		subs := make([]Subscript, len(e.Subs))
		copy(subs, e.Subs)
		s.keys[key(e.Global, subs)] = len(s.entries)
		s.entries = append(s.entries, Entry{Global: e.Global, Subs: subs, Value: e.Value})
		s.sorted = false
	}
	return nil
}

// Get returns the value stored at the node.
func (s *Store) Get(global string, subs ...Subscript) (string, bool) {
	i, ok := s.keys[key(global, subs)]
	if !ok {
		return "", false
	}
	return s.entries[i].Value, true
}

// Has reports whether the node was written.
func (s *Store) Has(global string, subs ...Subscript) bool {
	_, ok := s.keys[key(global, subs)]
	return ok
}

// Len returns the number of nodes.
func (s *Store) Len() int { return len(s.entries) }

// Entries returns every node in collation order.
func (s *Store) Entries() []Entry {
	s.sort()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Scan returns, in collation order, the nodes of global whose subscripts
// start with prefix. The node equal to the prefix itself is included.
func (s *Store) Scan(global string, prefix ...Subscript) []Entry {
	s.sort()
	lo := sort.Search(len(s.entries), func(i int) bool {
		return compareKey(s.entries[i].Global, s.entries[i].Subs, global, prefix) >= 0
	})
	var out []Entry
	for i := lo; i < len(s.entries); i++ {
		e := s.entries[i]
		if e.Global != global || !hasPrefix(e.Subs, prefix) {
			break
		}
		out = append(out, e)
	}
	return out
}

func (s *Store) sort() {
	if s.sorted {
		return
	}
	sort.SliceStable(s.entries, func(i, j int) bool {
		a, b := s.entries[i], s.entries[j]
		return compareKey(a.Global, a.Subs, b.Global, b.Subs) < 0
	})
	for i, e := range s.entries {
		s.keys[key(e.Global, e.Subs)] = i
	}
	s.sorted = true
}

func compareKey(ga string, a []Subscript, gb string, b []Subscript) int {
	if c := strings.Compare(ga, gb); c != 0 {
		return c
	}
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if c := a[i].Compare(b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

func hasPrefix(subs, prefix []Subscript) bool {
	if len(subs) < len(prefix) {
		return false
	}
	for i := range prefix {
		if subs[i].Compare(prefix[i]) != 0 {
			return false
		}
	}
	return true
}
