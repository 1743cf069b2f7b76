package friends

import (
	"context"
	"sync"
	"time"

	"github.com/mossy-p/roulette-signaling/internal/models"
)

// MemoryStore keeps friendships in process. The server falls back to it
// when Redis is not configured, and tests use it directly.
type MemoryStore struct {
	data  *memoryData
	limit int
	now   func() time.Time
}

type memoryData struct {
	mu      sync.Mutex
	records map[[2]string]models.Friendship
	byUser  map[string]map[string]struct{}
}

// NewMemoryStore returns an empty store with no friend cap.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: &memoryData{
			records: make(map[[2]string]models.Friendship),
			byUser:  make(map[string]map[string]struct{}),
		},
		now: time.Now,
	}
}

// WithLimit returns a view sharing the same data, capped at n.
func (s *MemoryStore) WithLimit(n int) Store {
	view := *s
	view.limit = n
	return &view
}

func (s *MemoryStore) AddFriend(_ context.Context, userID, partnerUserID string) (models.Friendship, error) {
	if err := validatePair(userID, partnerUserID); err != nil {
		return models.Friendship{}, err
	}
	a, b := orderPair(userID, partnerUserID)
	key := [2]string{a, b}

	d := s.data
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.records[key]; ok {
		return existing, ErrAlreadyFriends
	}
	if s.limit > 0 && (len(d.byUser[a]) >= s.limit || len(d.byUser[b]) >= s.limit) {
		return models.Friendship{}, ErrFriendLimit
	}

	f := models.Friendship{A: a, B: b, CreatedAt: s.now().UTC()}
	d.records[key] = f
	d.link(a, b)
	d.link(b, a)
	return f, nil
}

func (s *MemoryStore) Friends(_ context.Context, userID string) ([]string, error) {
	d := s.data
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := make([]string, 0, len(d.byUser[userID]))
	for id := range d.byUser[userID] {
		ids = append(ids, id)
	}
	return sorted(ids), nil
}

// Count returns the number of distinct friendships stored.
func (s *MemoryStore) Count() int {
	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	return len(s.data.records)
}

func (d *memoryData) link(from, to string) {
	set, ok := d.byUser[from]
	if !ok {
		set = make(map[string]struct{})
		d.byUser[from] = set
	}
	set[to] = struct{}{}
}
