package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RolesChannel carries role catalog invalidations between processes.
const RolesChannel = "caseflow:roles:changed"

// New creates a new Redis client.
func New(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("platform/cache: ping: %w", err)
	}

	return client, nil
}

// Invalidator broadcasts and consumes cache invalidation messages over Redis pub/sub.
type Invalidator struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewInvalidator binds an Invalidator to one channel.
func NewInvalidator(client *redis.Client, channel string, logger *slog.Logger) *Invalidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invalidator{client: client, channel: channel, logger: logger}
}

// Publish notifies every listener.
func (i *Invalidator) Publish(ctx context.Context, reason string) error {
	if err := i.client.Publish(ctx, i.channel, reason).Err(); err != nil {
		return fmt.Errorf("platform/cache: publish %s: %w", i.channel, err)
	}
	return nil
}

// Listen calls fn for every message until ctx is cancelled. Errors from fn are logged.
func (i *Invalidator) Listen(ctx context.Context, fn func(context.Context) error) error {
	sub := i.client.Subscribe(ctx, i.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("platform/cache: subscribe %s: %w", i.channel, err)
	}
	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			if err := fn(ctx); err != nil {
				i.logger.Warn("cache invalidation handler failed", slog.String("channel", msg.Channel), slog.Any("error", err))
			}
		}
	}
}
