package quest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrVersionConflict is returned by stores that detect a concurrent write.
var ErrVersionConflict = errors.New("quest: state version conflict")

// Store persists one blob per player. Load returns an empty state for players
// that have never been saved.
type Store interface {
	Load(ctx context.Context, playerID string) (*PlayerState, error)
	Save(ctx context.Context, st *PlayerState) error
}

// MarshalState encodes st for storage.
func MarshalState(st *PlayerState) ([]byte, error) {
	return json.Marshal(st)
}

// UnmarshalState decodes a stored blob. Missing maps are initialised so the
// result is always usable.
func UnmarshalState(data []byte) (*PlayerState, error) {
	var st PlayerState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode player state: %w", err)
	}
	if st.Quests == nil {
		st.Quests = make(map[QuestID]*Progress)
	}
	if st.History == nil {
		st.History = make(map[QuestID]*CompletionRecord)
	}
	for _, p := range st.Quests {
		if p.Objectives == nil {
			p.Objectives = make(map[string]*ObjectiveProgress)
		}
	}
	return &st, nil
}

// MemoryStore keeps encoded states in process memory. It is used by tests and
// by the "memory" database mode.
type MemoryStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (m *MemoryStore) Load(_ context.Context, playerID string) (*PlayerState, error) {
	m.mu.Lock()
	data, ok := m.blobs[playerID]
	m.mu.Unlock()
	if !ok {
		return NewPlayerState(playerID), nil
	}
	return UnmarshalState(data)
}

func (m *MemoryStore) Save(_ context.Context, st *PlayerState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if data, ok := m.blobs[st.PlayerID]; ok {
		var cur struct {
			Version int64 `json:"version"`
		}
		if err := json.Unmarshal(data, &cur); err == nil && cur.Version != st.Version {
			return fmt.Errorf("%w: player %s has version %d, saving %d",
				ErrVersionConflict, st.PlayerID, cur.Version, st.Version)
		}
	}
	st.Version++
	data, err := MarshalState(st)
	if err != nil {
		st.Version--
		return err
	}
	m.blobs[st.PlayerID] = data
	return nil
}
