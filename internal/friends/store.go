// Package friends records friendships created by a successful
// stay-connected vote.
//
// A friendship is stored once per unordered pair of user ids, so both
// sides of a call may ask for it and exactly one record results.
package friends

import (
	"context"
	"errors"
	"sort"

	"github.com/mossy-p/roulette-signaling/internal/models"
)

var (
	// ErrAlreadyFriends is returned with the existing record when the
	// pair is already linked. Callers treat it as success.
	ErrAlreadyFriends = errors.New("already friends")

	// ErrFriendLimit is returned when the requesting user has no room
	// for another friend.
	ErrFriendLimit = errors.New("friend limit reached")

	// ErrInvalidPartner is returned for an empty partner or a user
	// befriending themselves.
	ErrInvalidPartner = errors.New("invalid partner")
)

// Store creates and lists friendships.
type Store interface {
	// AddFriend links userID and partnerUserID. A repeated call returns
	// the existing record and ErrAlreadyFriends.
	AddFriend(ctx context.Context, userID, partnerUserID string) (models.Friendship, error)

	// Friends lists the user ids userID is friends with, sorted.
	Friends(ctx context.Context, userID string) ([]string, error)
}

// Limiter is implemented by stores that can enforce a per-user cap.
type Limiter interface {
	// WithLimit returns a view of the store that rejects AddFriend when
	// either user already has n friends, so both sides of a pair get the
	// same answer. n <= 0 means no cap.
	WithLimit(n int) Store
}

// Limits holds the friend caps for free and premium users
type Limits struct {
	Free    int
	Premium int
}

// For returns the cap that applies to a user.
func (l Limits) For(premium bool) int {
	if premium {
		return l.Premium
	}
	return l.Free
}

// Limited returns store capped at n when it supports limits, and store
// unchanged otherwise.
func Limited(store Store, n int) Store {
	if l, ok := store.(Limiter); ok {
		return l.WithLimit(n)
	}
	return store
}

// orderPair returns the two ids with the smaller one first.
func orderPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

func validatePair(userID, partnerUserID string) error {
	if userID == "" || partnerUserID == "" || userID == partnerUserID {
		return ErrInvalidPartner
	}
	return nil
}

func sorted(ids []string) []string {
	sort.Strings(ids)
	return ids
}
