package cryostat

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Publisher sends samples somewhere other than the CSV log
type Publisher interface {
	Publish(context.Context, Sample) error
}

// message is the wire form of a Sample.  Kelvin is omitted when the diode is
// off the curve, since JSON has no NaN
type message struct {
	Time   time.Time `json:"time"`
	V0     float64   `json:"v0"`
	V1     float64   `json:"v1"`
	Error  float64   `json:"error"`
	Kelvin *float64  `json:"kelvin,omitempty"`
}

func newMessage(s Sample) message {
	m := message{Time: s.Time, V0: s.V0, V1: s.V1, Error: s.Error()}
	if !math.IsNaN(s.Kelvin) {
		k := s.Kelvin
		m.Kelvin = &k
	}
	return m
}

// RedisPublisher publishes samples as JSON on a redis channel and keeps the
// most recent Keep of them in a list, for clients that were not subscribed
type RedisPublisher struct {
	client  *redis.Client
	Channel string
	List    string
	Keep    int64
}

// NewRedisPublisher connects to the redis server at addr
func NewRedisPublisher(ctx context.Context, addr, channel string) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, PoolSize: 2})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "connecting to redis at %s", addr)
	}
	return &RedisPublisher{client: client, Channel: channel, List: channel + ":recent", Keep: 1000}, nil
}

// Publish sends s to subscribers of the channel and pushes it on the list
func (p *RedisPublisher) Publish(ctx context.Context, s Sample) error {
	b, err := json.Marshal(newMessage(s))
	if err != nil {
		return err
	}
	pipe := p.client.Pipeline()
	pipe.Publish(ctx, p.Channel, b)
	pipe.LPush(ctx, p.List, b)
	pipe.LTrim(ctx, p.List, 0, p.Keep-1)
	_, err = pipe.Exec(ctx)
	return err
}

// Close closes the connection to the server
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
