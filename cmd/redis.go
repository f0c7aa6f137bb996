package cmd

import (
	"context"
	"time"

	"avtranscribe/internal/config"

	"github.com/redis/go-redis/v9"
)

// pingRedis opens a short-lived client with the same settings the queue uses.
func pingRedis(ctx context.Context, cfg *config.Config) error {
	opt, err := cfg.RedisOpt()
	if err != nil {
		return err
	}
	client := redis.NewClient(&redis.Options{
		Network:  opt.Network,
		Addr:     opt.Addr,
		Username: opt.Username,
		Password: opt.Password,
		DB:       opt.DB,
	})
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return client.Ping(ctx).Err()
}
