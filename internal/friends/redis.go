package friends

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/mossy-p/roulette-signaling/internal/models"
)

const (
	friendshipKeyPrefix = "friendship:"
	friendsKeyPrefix    = "friends:"

	maxTxAttempts = 5
)

// RedisStore keeps friendships in Redis. Each pair has one key holding a
// msgpack record, plus a set of friend ids per user. Creation runs in a
// WATCH transaction so the pair is written once and both caps are
// checked against the same snapshot.
type RedisStore struct {
	client *redis.Client
	limit  int
	now    func() time.Time
}

// NewRedisStore wraps an already connected client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

// WithLimit returns a view using the same client, capped at n.
func (s *RedisStore) WithLimit(n int) Store {
	view := *s
	view.limit = n
	return &view
}

func friendshipKey(a, b string) string {
	return friendshipKeyPrefix + a + ":" + b
}

func friendsKey(userID string) string {
	return friendsKeyPrefix + userID
}

func (s *RedisStore) AddFriend(ctx context.Context, userID, partnerUserID string) (models.Friendship, error) {
	if err := validatePair(userID, partnerUserID); err != nil {
		return models.Friendship{}, err
	}
	a, b := orderPair(userID, partnerUserID)
	key := friendshipKey(a, b)

	f := models.Friendship{A: a, B: b, CreatedAt: s.now().UTC()}
	data, err := msgpack.Marshal(f)
	if err != nil {
		return models.Friendship{}, fmt.Errorf("encode friendship: %w", err)
	}

	var existing models.Friendship
	txf := func(tx *redis.Tx) error {
		found, err := s.get(ctx, tx, key)
		if err == nil {
			existing = found
			return ErrAlreadyFriends
		}
		if !errors.Is(err, redis.Nil) {
			return err
		}

		if s.limit > 0 {
			for _, id := range []string{a, b} {
				count, err := tx.SCard(ctx, friendsKey(id)).Result()
				if err != nil {
					return fmt.Errorf("count friends: %w", err)
				}
				if count >= int64(s.limit) {
					return ErrFriendLimit
				}
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, friendsKey(a), b)
			pipe.SAdd(ctx, friendsKey(b), a)
			return nil
		})
		return err
	}

	// The pair key and both friend sets are watched; a concurrent writer,
	// usually the other side of the same call, aborts the transaction and
	// the loop re-reads.
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = s.client.Watch(ctx, txf, key, friendsKey(a), friendsKey(b))
		switch {
		case err == nil:
			return f, nil
		case errors.Is(err, ErrAlreadyFriends):
			return existing, ErrAlreadyFriends
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrFriendLimit):
			return models.Friendship{}, err
		default:
			return models.Friendship{}, fmt.Errorf("store friendship: %w", err)
		}
	}
	return models.Friendship{}, fmt.Errorf("store friendship: %w", err)
}

func (s *RedisStore) Friends(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, friendsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	return sorted(ids), nil
}

// getter is satisfied by *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) get(ctx context.Context, c getter, key string) (models.Friendship, error) {
	data, err := c.Get(ctx, key).Bytes()
	if err != nil {
		return models.Friendship{}, err
	}
	var f models.Friendship
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return models.Friendship{}, fmt.Errorf("decode friendship: %w", err)
	}
	return f, nil
}
