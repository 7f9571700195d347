package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kasuganosora/questforge/server/cache/local"
	cacheredis "github.com/kasuganosora/questforge/server/cache/redis"
)

// Cache is the key/value surface the quest server uses: state blobs, event
// dedupe markers and the per-player notice feed.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)

	// PushCapped prepends value to the list at key, keeps only the newest limit
	// entries and refreshes the TTL. limit <= 0 keeps everything.
	PushCapped(ctx context.Context, key, value string, limit int64, ttl time.Duration) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
}

// IsNotFound reports whether err is a cache miss from either backend.
func IsNotFound(err error) bool {
	return errors.Is(err, local.ErrNotFound) || errors.Is(err, cacheredis.ErrNotFound)
}

// Message is a received pub/sub message.
type Message struct {
	Channel string
	Payload string
}

// PubSub defines channel publish/subscribe operations.
type PubSub interface {
	Publish(ctx context.Context, channel, message string) error
	Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error)
}

// CacheConfig selects and tunes the backend. An empty RedisAddr selects the
// in-process implementation.
type CacheConfig struct {
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisPoolSize   int
	LocalGCInterval time.Duration
	LocalPubSubBuf  int
}

func (cfg CacheConfig) redis() cacheredis.Config {
	return cacheredis.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: cfg.RedisPoolSize,
	}
}

// NewCache returns a Redis-backed Cache when RedisAddr is set and a
// LocalCache otherwise.
func NewCache(cfg CacheConfig) (Cache, error) {
	if cfg.RedisAddr != "" {
		client, err := cacheredis.Dial(cfg.redis())
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	return local.NewCache(local.Config{GCInterval: cfg.LocalGCInterval})
}

// NewPubSub returns the PubSub matching NewCache's backend choice.
func NewPubSub(cfg CacheConfig) (PubSub, error) {
	if cfg.RedisAddr != "" {
		client, err := cacheredis.Dial(cfg.redis())
		if err != nil {
			return nil, err
		}
		return &redisPubSubAdapter{ps: client}, nil
	}
	bufSize := cfg.LocalPubSubBuf
	if bufSize <= 0 {
		bufSize = 256
	}
	return &localPubSubAdapter{ps: local.NewPubSub(bufSize)}, nil
}

// ---- adapters to bridge sub-package message types to cache.Message ----

// forward copies messages until src closes or the subscriber cancels, so a
// reader that walks away never leaves the goroutine blocked on out.
func forward[T any](src <-chan T, convert func(T) *Message, stop func()) (<-chan *Message, func()) {
	out := make(chan *Message, 256)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case m, ok := <-src:
				if !ok {
					return
				}
				select {
				case out <- convert(m):
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return out, func() {
		once.Do(func() {
			close(done)
			stop()
		})
	}
}

type localPubSubAdapter struct {
	ps *local.LocalPubSub
}

func (a *localPubSubAdapter) Publish(ctx context.Context, channel, message string) error {
	return a.ps.Publish(ctx, channel, message)
}

func (a *localPubSubAdapter) Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error) {
	localCh, cancel, err := a.ps.Subscribe(ctx, channels...)
	if err != nil {
		return nil, nil, err
	}
	out, stop := forward(localCh, func(m *local.LocalMessage) *Message {
		return &Message{Channel: m.Channel, Payload: m.Payload}
	}, cancel)
	return out, stop, nil
}

type redisPubSubAdapter struct {
	ps *cacheredis.Client
}

func (a *redisPubSubAdapter) Publish(ctx context.Context, channel, message string) error {
	return a.ps.Publish(ctx, channel, message)
}

func (a *redisPubSubAdapter) Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error) {
	redisCh, cancel, err := a.ps.Subscribe(ctx, channels...)
	if err != nil {
		return nil, nil, err
	}
	out, stop := forward(redisCh, func(m *cacheredis.Message) *Message {
		return &Message{Channel: m.Channel, Payload: m.Payload}
	}, cancel)
	return out, stop, nil
}
