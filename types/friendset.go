package types

import (
	"errors"
	"sort"
)

var (
	// ErrSetNotSorted the member list is not strictly ascending
	ErrSetNotSorted = errors.New("members are not sorted or contain duplicates")

	// ErrSetTooLarge the member list exceeds the capacity given at construction
	ErrSetTooLarge = errors.New("too many members for the set capacity")
)

// FriendSet is a bounded, strictly ascending, duplicate-free set of account
// identities. Membership and insertion use binary search, so the zero-indexed
// order of members is the canonical order everywhere a set is persisted or
// compared.
type FriendSet struct {
	members []AccountID
	cap     uint32
}

// NewFriendSet validates members as a strictly ascending, duplicate-free list
// within capacity and wraps them in a set.
func NewFriendSet(members []AccountID, capacity uint32) (*FriendSet, error) {
	if uint32(len(members)) > capacity {
		return nil, ErrSetTooLarge
	}
	for i := 1; i < len(members); i++ {
		if members[i-1].Cmp(members[i]) >= 0 {
			return nil, ErrSetNotSorted
		}
	}

	return &FriendSet{members: members, cap: capacity}, nil
}

// NewEmptyFriendSet returns an empty set with the given capacity.
func NewEmptyFriendSet(capacity uint32) *FriendSet {
	return &FriendSet{cap: capacity}
}

func (s *FriendSet) Len() int {
	return len(s.members)
}

func (s *FriendSet) Cap() uint32 {
	return s.cap
}

// Members returns the members in ascending order. The returned slice is the
// set's backing storage and must not be mutated.
func (s *FriendSet) Members() []AccountID {
	return s.members
}

func (s *FriendSet) search(id AccountID) (int, bool) {
	i := sort.Search(len(s.members), func(j int) bool {
		return s.members[j].Cmp(id) >= 0
	})

	return i, i < len(s.members) && s.members[i].Equal(id)
}

func (s *FriendSet) Contains(id AccountID) bool {
	_, found := s.search(id)

	return found
}

// Insert places id at its sorted position. It returns false if the id is
// already a member and ErrSetTooLarge if the set is at capacity.
func (s *FriendSet) Insert(id AccountID) (bool, error) {
	i, found := s.search(id)
	if found {
		return false, nil
	}
	if uint32(len(s.members)) >= s.cap {
		return false, ErrSetTooLarge
	}

	s.members = append(s.members, AccountID{})
	copy(s.members[i+1:], s.members[i:])
	s.members[i] = id

	return true, nil
}
