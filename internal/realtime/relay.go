package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/opentreehole/treehole/pkg/logger"
)

// RedisConfig holds connection settings for the cross-instance relay.
type RedisConfig struct {
	Address       string
	Username      string
	Password      string
	DB            int
	ChannelPrefix string
}

// NewRedisClient creates a Redis client and verifies connectivity.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		PoolTimeout:  4 * time.Second,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// RedisRelay publishes events through Redis pub/sub so that every instance
// delivers them to its local hub. Local delivery also goes through the
// subscription, which keeps a single publisher's order intact.
type RedisRelay struct {
	client redis.UniversalClient
	hub    *Hub
	prefix string
	log    *zap.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	wg     sync.WaitGroup
}

// NewRedisRelay constructs a relay feeding hub. An empty prefix defaults to "treehole:".
func NewRedisRelay(client redis.UniversalClient, hub *Hub, prefix string) (*RedisRelay, error) {
	if client == nil {
		return nil, errors.New("realtime: redis client is required")
	}
	if hub == nil {
		return nil, errors.New("realtime: hub is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "treehole:"
	}
	return &RedisRelay{
		client: client,
		hub:    hub,
		prefix: prefix,
		log:    logger.WithModule("realtime.relay"),
	}, nil
}

// Start subscribes to every group under the relay prefix and pumps incoming
// events into the hub until Close is called.
func (r *RedisRelay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pubsub != nil {
		return nil
	}

	pubsub := r.client.PSubscribe(ctx, r.prefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("realtime: subscribe relay: %w", err)
	}
	r.pubsub = pubsub

	messages := pubsub.Channel()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for msg := range messages {
			r.deliver(msg)
		}
	}()

	r.log.Info("relay subscribed", zap.String("pattern", r.prefix+"*"))
	return nil
}

// Publish implements Publisher. When Redis is unreachable the event is still
// delivered to local subscribers and the error is returned.
func (r *RedisRelay) Publish(ctx context.Context, channel Channel, payload any) error {
	event, err := NewEvent(payload)
	if err != nil {
		return err
	}

	group := channel.Group()
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("realtime: encode relay envelope: %w", err)
	}

	if err := r.client.Publish(ctx, r.prefix+group, body).Err(); err != nil {
		r.hub.Deliver(group, event)
		return fmt.Errorf("realtime: relay publish to %s: %w", group, err)
	}
	return nil
}

// Close stops the subscription and waits for the delivery loop to exit.
func (r *RedisRelay) Close() error {
	r.mu.Lock()
	pubsub := r.pubsub
	r.pubsub = nil
	r.mu.Unlock()

	if pubsub == nil {
		return nil
	}
	err := pubsub.Close()
	r.wg.Wait()
	return err
}

func (r *RedisRelay) deliver(msg *redis.Message) {
	group := strings.TrimPrefix(msg.Channel, r.prefix)
	if group == msg.Channel || group == "" {
		return
	}

	var event Event
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		r.log.Warn("discarding malformed relay payload", zap.String("channel", msg.Channel), zap.Error(err))
		return
	}
	r.hub.Deliver(group, event)
}
