package model

import (
	"sort"

	"github.com/google/uuid"
)

// UUID is the key of every entity in an exercise. IDs are unique across all
// entity maps of a state.
type UUID = string

// NewUUID returns a random id. Only callers outside the reducers may use it;
// reducers must stay deterministic and use DeriveUUID instead.
func NewUUID() UUID { return uuid.NewString() }

// DeriveUUID returns a name-based (v5) id in the namespace of parent.
func DeriveUUID(parent UUID, name string) UUID {
	ns, err := uuid.Parse(parent)
	if err != nil {
		ns = uuid.NewSHA1(uuid.NameSpaceOID, []byte(parent))
	}
	return uuid.NewSHA1(ns, []byte(name)).String()
}

// UUIDSet is encoded as {"<id>": true} on the wire.
type UUIDSet map[UUID]bool

func NewUUIDSet(ids ...UUID) UUIDSet {
	s := make(UUIDSet, len(ids))
	for _, id := range ids {
		s[id] = true
	}
	return s
}

func (s UUIDSet) Has(id UUID) bool { return s[id] }

func (s UUIDSet) Add(id UUID) { s[id] = true }

func (s UUIDSet) Remove(id UUID) { delete(s, id) }

// Sorted returns the members in ascending order.
func (s UUIDSet) Sorted() []UUID {
	out := make([]UUID, 0, len(s))
	for id, ok := range s {
		if ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (s UUIDSet) Clone() UUIDSet {
	if s == nil {
		return UUIDSet{}
	}
	out := make(UUIDSet, len(s))
	for id, ok := range s {
		if ok {
			out[id] = true
		}
	}
	return out
}

// Equal reports whether both sets contain the same members.
func (s UUIDSet) Equal(o UUIDSet) bool {
	if len(s.Sorted()) != len(o.Sorted()) {
		return false
	}
	for id, ok := range s {
		if ok && !o[id] {
			return false
		}
	}
	return true
}

// SortedKeys returns the keys of an id-keyed map in ascending order. All
// iteration that can influence state goes through it.
func SortedKeys[M ~map[UUID]V, V any](m M) []UUID {
	out := make([]UUID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
