package matchmaking

import (
	"time"

	"github.com/mossy-p/roulette-signaling/internal/models"
)

// Gender is what a user reports about themselves
type Gender string

const (
	GenderUnknown Gender = ""
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
)

// GenderFilter narrows who a searcher may be paired with
type GenderFilter string

const (
	FilterAny    GenderFilter = "any"
	FilterMale   GenderFilter = "male"
	FilterFemale GenderFilter = "female"
)

// ParseGenderFilter maps wire values to a filter, defaulting to any.
func ParseGenderFilter(s string) GenderFilter {
	switch GenderFilter(s) {
	case FilterMale:
		return FilterMale
	case FilterFemale:
		return FilterFemale
	default:
		return FilterAny
	}
}

// Accepts reports whether someone of gender g passes the filter.
func (f GenderFilter) Accepts(g Gender) bool {
	switch f {
	case FilterMale:
		return g == GenderMale
	case FilterFemale:
		return g == GenderFemale
	default:
		return true
	}
}

// Connection is one live client socket as the registry sees it
type Connection struct {
	ID             string
	UserID         string
	DisplayName    string
	Premium        bool
	Gender         Gender
	GenderFilter   GenderFilter
	JoinedAt       time.Time
	LastActivityAt time.Time
}

// compatible reports whether a and b may be paired. Both filters must
// accept the other side.
func compatible(a, b *Connection) bool {
	return a.GenderFilter.Accepts(b.Gender) && b.GenderFilter.Accepts(a.Gender)
}

// Sink delivers messages to one connection. Send must not block; it
// reports false when the message could not be queued.
type Sink interface {
	Send(msg models.SignalMessage) bool
	Close()
}
