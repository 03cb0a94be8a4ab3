package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Config holds the connection settings for Redis.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Client wraps redis.Client.
type Client struct {
	*redis.Client
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config) (*Client, error) {
	cli := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{Client: cli}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}
