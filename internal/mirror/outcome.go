package mirror

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Outcome describes one finished backend attempt after it has been scored.
type Outcome struct {
	RaceID  string        `json:"raceId"`
	Backend string        `json:"backend"`
	Role    Role          `json:"role"`
	Success bool          `json:"success"`
	Elapsed time.Duration `json:"elapsedNs"`
	Score   int64         `json:"score"`
}

// Observer receives every scored attempt. Implementations must be safe for
// concurrent use; they run on pool workers.
type Observer interface {
	Observe(o Outcome)
}

// RedisPublisher fans outcomes out on a pub/sub channel so other instances
// and dashboards can follow backend health live. Nothing is stored.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
	timeout time.Duration
}

func NewRedisPublisher(rdb *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = "mirror.outcomes"
	}
	return &RedisPublisher{
		rdb:     rdb,
		channel: channel,
		timeout: time.Second,
	}
}

func (p *RedisPublisher) Observe(o Outcome) {
	if p == nil || p.rdb == nil {
		return
	}
	data, err := json.Marshal(map[string]any{
		"type":    "mirror.outcome",
		"payload": o,
	})
	if err != nil {
		log.WithError(err).Warn("mirror: marshal outcome")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.rdb.Publish(ctx, p.channel, string(data)).Err(); err != nil {
		log.WithFields(log.Fields{"channel": p.channel, "error": err}).Debug("mirror: publish outcome")
	}
}
