package models

import "fmt"

// SetKind names one of the membership sets a guild owns.
type SetKind string

const (
	SetKindRole    SetKind = "role"
	SetKindChannel SetKind = "channel"
	SetKindWord    SetKind = "word"
)

// ParseSetKind accepts the singular and plural spellings used by routes.
func ParseSetKind(s string) (SetKind, error) {
	switch s {
	case "role", "roles":
		return SetKindRole, nil
	case "channel", "channels":
		return SetKindChannel, nil
	case "word", "words":
		return SetKindWord, nil
	}
	return "", fmt.Errorf("unknown set kind %q", s)
}

// MembershipSet is an insertion-ordered set of opaque identifiers.
type MembershipSet struct {
	order []string
	index map[string]struct{}
}

// NewMembershipSet builds a set, dropping duplicates and keeping first
// occurrence order.
func NewMembershipSet(ids ...string) *MembershipSet {
	s := &MembershipSet{index: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Contains reports membership.
func (s *MembershipSet) Contains(id string) bool {
	_, ok := s.index[id]
	return ok
}

// Add inserts id; it reports false when id was already present.
func (s *MembershipSet) Add(id string) bool {
	if s.index == nil {
		s.index = make(map[string]struct{})
	}
	if _, ok := s.index[id]; ok {
		return false
	}
	s.index[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}

// Remove deletes id; it reports false when id was absent.
func (s *MembershipSet) Remove(id string) bool {
	if _, ok := s.index[id]; !ok {
		return false
	}
	delete(s.index, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of members.
func (s *MembershipSet) Len() int {
	return len(s.order)
}

// Items returns a copy of the members in insertion order.
func (s *MembershipSet) Items() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Clone returns an independent copy.
func (s *MembershipSet) Clone() *MembershipSet {
	return NewMembershipSet(s.order...)
}
