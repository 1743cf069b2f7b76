package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/mossy-p/roulette-signaling/config"
	"github.com/redis/go-redis/v9"
)

// Connect creates a Redis client and checks it with a ping
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// Pinger reports Redis reachability for the status endpoint
type Pinger struct {
	Client *redis.Client
}

// Ping returns "ok", or the error text when Redis does not answer.
func (p Pinger) Ping(ctx context.Context) string {
	if p.Client == nil {
		return "disabled"
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := p.Client.Ping(ctx).Err(); err != nil {
		return err.Error()
	}
	return "ok"
}
