package app

import (
	"strings"

	"github.com/opentreehole/treehole/internal/realtime"
)

// RedisClientConfig converts the relay configuration into the realtime package representation.
func (c RealtimeConfig) RedisClientConfig() realtime.RedisConfig {
	return realtime.RedisConfig{
		Address:       strings.TrimSpace(c.Redis.Address),
		Username:      strings.TrimSpace(c.Redis.Username),
		Password:      c.Redis.Password,
		DB:            c.Redis.DB,
		ChannelPrefix: strings.TrimSpace(c.Redis.ChannelPrefix),
	}
}
