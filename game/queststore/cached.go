package queststore

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/kasuganosora/questforge/server/cache"
	"github.com/kasuganosora/questforge/server/game/quest"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

// CacheStore is a write-through cache in front of another Store. Cached
// blobs are zstd-compressed and base64-encoded so they fit string values.
type CacheStore struct {
	next   quest.Store
	cache  cache.Cache
	ttl    time.Duration
	enc    *zstd.Encoder
	dec    *zstd.Decoder
	logger *zap.Logger
}

// NewCacheStore wraps next with c. Entries expire after ttl.
func NewCacheStore(next quest.Store, c cache.Cache, ttl time.Duration, logger *zap.Logger) (*CacheStore, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &CacheStore{next: next, cache: c, ttl: ttl, enc: enc, dec: dec, logger: logger}, nil
}

func stateKey(playerID string) string {
	return "quest:state:" + playerID
}

func (s *CacheStore) Load(ctx context.Context, playerID string) (*quest.PlayerState, error) {
	raw, err := s.cache.Get(ctx, stateKey(playerID))
	switch {
	case err == nil:
		st, derr := s.decode(raw)
		if derr == nil {
			return st, nil
		}
		s.logger.Warn("discarding undecodable cached state",
			zap.String("player_id", playerID), zap.Error(derr))
	case !cache.IsNotFound(err):
		s.logger.Warn("state cache read failed", zap.String("player_id", playerID), zap.Error(err))
	}

	st, err := s.next.Load(ctx, playerID)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, st)
	return st, nil
}

func (s *CacheStore) Save(ctx context.Context, st *quest.PlayerState) error {
	if err := s.next.Save(ctx, st); err != nil {
		// the cached copy may now be stale relative to whoever won
		if derr := s.cache.Del(ctx, stateKey(st.PlayerID)); derr != nil {
			s.logger.Warn("state cache invalidate failed", zap.String("player_id", st.PlayerID), zap.Error(derr))
		}
		return err
	}
	s.fill(ctx, st)
	return nil
}

func (s *CacheStore) fill(ctx context.Context, st *quest.PlayerState) {
	raw, err := s.encode(st)
	if err == nil {
		err = s.cache.Set(ctx, stateKey(st.PlayerID), raw, s.ttl)
	}
	if err != nil {
		s.logger.Warn("state cache write failed", zap.String("player_id", st.PlayerID), zap.Error(err))
		_ = s.cache.Del(ctx, stateKey(st.PlayerID))
	}
}

func (s *CacheStore) encode(st *quest.PlayerState) (string, error) {
	data, err := quest.MarshalState(st)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(s.enc.EncodeAll(data, nil)), nil
}

func (s *CacheStore) decode(raw string) (*quest.PlayerState, error) {
	compressed, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("base64: %w", err)
	}
	data, err := s.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	return quest.UnmarshalState(data)
}
