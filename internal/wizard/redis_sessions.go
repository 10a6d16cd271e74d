package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Jeazzzy/UWantIt/internal/domain"
)

// RedisSessions keeps sessions in Redis as JSON values expiring after TTL,
// so an entry in progress survives a restart.
type RedisSessions struct {
	Client redis.Cmdable
	TTL    time.Duration
	Prefix string
	Now    func() time.Time
}

// NewRedisSessions connects with opts and verifies the connection.
func NewRedisSessions(ctx context.Context, opts *redis.Options, ttl time.Duration) (*RedisSessions, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return &RedisSessions{Client: client, TTL: ttl, Prefix: "impulsebot:session:", Now: time.Now}, nil
}

func (s *RedisSessions) key(owner domain.UserID) string {
	return fmt.Sprintf("%s%d", s.Prefix, owner)
}

func (s *RedisSessions) Get(ctx context.Context, owner domain.UserID) (Session, error) {
	raw, err := s.Client.Get(ctx, s.key(owner)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, fmt.Errorf("redis get session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	return sess, nil
}

func (s *RedisSessions) Put(ctx context.Context, owner domain.UserID, sess Session) error {
	if s.Now != nil {
		sess.UpdatedAt = s.Now()
	} else {
		sess.UpdatedAt = time.Now()
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.Client.Set(ctx, s.key(owner), raw, s.TTL).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

func (s *RedisSessions) Delete(ctx context.Context, owner domain.UserID) error {
	if err := s.Client.Del(ctx, s.key(owner)).Err(); err != nil {
		return fmt.Errorf("redis del session: %w", err)
	}
	return nil
}

// Close releases the underlying client when it owns one.
func (s *RedisSessions) Close() error {
	if c, ok := s.Client.(*redis.Client); ok {
		return c.Close()
	}
	return nil
}
