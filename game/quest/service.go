package quest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// NoticeDispatcher delivers engine notices to collaborators after the
// per-player section has been released. Dispatch skips the handlers named in
// skip and returns the names of the handlers that accepted n, so a redelivery
// only reaches the ones that failed.
type NoticeDispatcher interface {
	Dispatch(ctx context.Context, n Notice, skip []string) (delivered []string, err error)
}

// RewardIssuer pays out a completed instance. Implementations must be
// idempotent on instanceID and may report a repeat with an error.
type RewardIssuer interface {
	Issue(ctx context.Context, playerID string, questID QuestID, instanceID string, r Reward) error
}

// Describer renders player-facing objective text.
type Describer interface {
	Describe(questID QuestID, o Objective, locale string) string
}

// Locker serialises work per key.
type Locker interface {
	Lock(key string) (unlock func())
}

// EventDeduper remembers event ids across at-least-once deliveries for
// longer than the state itself does.
type EventDeduper interface {
	Exists(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Service is the engine facade: every command runs inside the player's
// exclusive section (lock, load, prune, refresh, mutate, save, unlock) and
// notices are dispatched once the lock is released.
type Service struct {
	catalog    *Catalog
	tracker    *Tracker
	store      Store
	locks      Locker
	dispatcher NoticeDispatcher
	deduper    EventDeduper
	dedupeTTL  time.Duration
	inflight   sync.Map // player|notice key -> struct{}
	now        func() time.Time
	logger     *zap.Logger
}

// NewService creates a Service over a validated catalog.
func NewService(catalog *Catalog, store Store, locks Locker, logger *zap.Logger) *Service {
	return &Service{
		catalog: catalog,
		tracker: NewTracker(catalog, logger),
		store:   store,
		locks:   locks,
		now:     time.Now,
		logger:  logger,
	}
}

// SetDispatcher wires the notice fan-out.
func (s *Service) SetDispatcher(d NoticeDispatcher) { s.dispatcher = d }

// SetDeduper enables event-id replay protection for ttl.
func (s *Service) SetDeduper(d EventDeduper, ttl time.Duration) {
	s.deduper = d
	s.dedupeTTL = ttl
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Catalog returns the catalog the service runs on.
func (s *Service) Catalog() *Catalog { return s.catalog }

// AcceptQuest starts a fresh instance of id for p.
func (s *Service) AcceptQuest(ctx context.Context, p Player, id QuestID) (*Progress, error) {
	var (
		out    *Progress
		notice Notice
	)
	err := s.withState(ctx, p.ID, func(st *PlayerState, now time.Time) error {
		if err := s.catalog.CheckEligibility(p, st, id, now); err != nil {
			return err
		}
		t, err := s.catalog.Resolve(id)
		if err != nil {
			return err
		}
		pr := NewProgress(t, p.ID, now)
		st.Quests[id] = pr
		st.markDirty()
		out = pr.Clone()
		notice = Notice{Kind: NoticeQuestAccepted, PlayerID: p.ID, QuestID: id, InstanceID: pr.InstanceID, At: now}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("quest accepted",
		zap.String("player_id", p.ID),
		zap.String("quest_id", string(id)),
		zap.String("instance_id", out.InstanceID))
	s.deliver(ctx, p.ID, []Notice{notice})
	return out, nil
}

// AbandonQuest drops the active instance of id. Progress is lost.
func (s *Service) AbandonQuest(ctx context.Context, playerID string, id QuestID) error {
	var notice Notice
	err := s.withState(ctx, playerID, func(st *PlayerState, now time.Time) error {
		pr, ok := st.Quests[id]
		if !ok || !pr.Active() {
			return fmt.Errorf("%w: %s", ErrNotActive, id)
		}
		delete(st.Quests, id)
		st.markDirty()
		notice = Notice{Kind: NoticeQuestAbandoned, PlayerID: playerID, QuestID: id, InstanceID: pr.InstanceID, At: now}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("quest abandoned",
		zap.String("player_id", playerID),
		zap.String("quest_id", string(id)))
	s.deliver(ctx, playerID, []Notice{notice})
	return nil
}

// Apply routes a game event into the player's active quests and returns the
// notices it produced.
//
// An event id is checked and recorded inside the player's section: the state
// keeps the most recent ids and is saved together with the progress they
// caused, and the deduper is written only after that save succeeds.
func (s *Service) Apply(ctx context.Context, playerID string, ev Event) ([]Notice, error) {
	if _, err := ParseEventType(string(ev.Type)); err != nil {
		return nil, err
	}

	var notices []Notice
	err := s.withState(ctx, playerID, func(st *PlayerState, now time.Time) error {
		if ev.ID != "" {
			if st.seenEvent(ev.ID) || s.seenRecently(ctx, playerID, ev.ID) {
				return fmt.Errorf("%w: %s", ErrDuplicateEvent, ev.ID)
			}
		}
		notices = s.tracker.Apply(st, ev, now)
		if ev.ID != "" && st.Dirty() {
			st.rememberEvent(ev.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if ev.ID != "" && s.deduper != nil {
		if err := s.deduper.Set(ctx, dedupeKey(playerID, ev.ID), "1", s.dedupeTTL); err != nil {
			s.logger.Warn("record event id", zap.String("player_id", playerID), zap.String("event_id", ev.ID), zap.Error(err))
		}
	}
	s.deliver(ctx, playerID, notices)
	return notices, nil
}

func dedupeKey(playerID, eventID string) string {
	return fmt.Sprintf("quest:evt:%s:%s", playerID, eventID)
}

// seenRecently asks the deduper; an unavailable deduper counts as unseen.
func (s *Service) seenRecently(ctx context.Context, playerID, eventID string) bool {
	if s.deduper == nil {
		return false
	}
	ok, err := s.deduper.Exists(ctx, dedupeKey(playerID, eventID))
	if err != nil {
		s.logger.Warn("event dedupe unavailable", zap.String("player_id", playerID), zap.Error(err))
		return false
	}
	return ok
}

// RedeliverOutbox re-dispatches completion notices that were persisted but
// never acknowledged. Each notice only reaches the handlers that have not
// accepted it yet. It returns how many were fully delivered.
func (s *Service) RedeliverOutbox(ctx context.Context, playerID string) (int, error) {
	unlock := s.locks.Lock(playerID)
	st, err := s.store.Load(ctx, playerID)
	unlock()
	if err != nil {
		return 0, fmt.Errorf("load quest state %s: %w", playerID, err)
	}
	pending := append([]Notice(nil), st.Outbox...)
	return s.deliver(ctx, playerID, pending), nil
}

// withState runs fn inside the player's exclusive section and saves the state
// if anything changed. fn errors abort without saving.
func (s *Service) withState(ctx context.Context, playerID string, fn func(st *PlayerState, now time.Time) error) error {
	unlock := s.locks.Lock(playerID)
	defer unlock()

	now := s.now()
	st, err := s.store.Load(ctx, playerID)
	if err != nil {
		return fmt.Errorf("load quest state %s: %w", playerID, err)
	}
	s.tracker.Prune(st)
	s.catalog.Refresh(st, now)

	if err := fn(st, now); err != nil {
		return err
	}
	if !st.Dirty() {
		return nil
	}
	if err := s.store.Save(ctx, st); err != nil {
		return fmt.Errorf("save quest state %s: %w", playerID, err)
	}
	return nil
}

// deliver dispatches notices. A completion notice is claimed for the
// duration of its delivery, re-checked against the stored outbox, and sent
// only to the handlers that have not accepted it; it is acknowledged once
// every handler has, and partial progress is saved otherwise.
func (s *Service) deliver(ctx context.Context, playerID string, notices []Notice) int {
	if s.dispatcher == nil || len(notices) == 0 {
		return 0
	}
	var (
		acked    []string
		partial  = make(map[string][]string)
		releases []func()
	)
	// claims are held until the acknowledgement below is saved
	defer func() {
		for _, release := range releases {
			release()
		}
	}()
	delivered := 0
	for _, n := range notices {
		var skip []string
		if n.Kind == NoticeQuestCompleted {
			release, ok := s.claim(playerID, n.Key())
			if !ok {
				continue
			}
			releases = append(releases, release)
			pending, done, err := s.outboxEntry(ctx, playerID, n.Key())
			if err != nil {
				s.logger.Error("check outbox", zap.String("player_id", playerID), zap.Error(err))
				continue
			}
			if !pending {
				continue
			}
			skip = done
		}
		names, err := s.dispatcher.Dispatch(ctx, n, skip)
		if err != nil {
			s.logger.Error("notice dispatch failed",
				zap.String("player_id", playerID),
				zap.String("kind", string(n.Kind)),
				zap.String("instance_id", n.InstanceID),
				zap.Strings("delivered", names),
				zap.Error(err))
			if n.Kind == NoticeQuestCompleted && len(names) > 0 {
				partial[n.Key()] = names
			}
			continue
		}
		delivered++
		if n.Kind == NoticeQuestCompleted {
			acked = append(acked, n.Key())
		}
	}
	if len(acked) == 0 && len(partial) == 0 {
		return delivered
	}
	err := s.withState(ctx, playerID, func(st *PlayerState, _ time.Time) error {
		st.ackNotices(acked)
		for key, names := range partial {
			st.markDelivered(key, names)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("ack notices", zap.String("player_id", playerID), zap.Error(err))
	}
	return delivered
}

// claim marks a notice as being delivered by this process. Concurrent
// deliveries of the same notice (an event's own dispatch and a scheduler
// sweep) back off.
func (s *Service) claim(playerID, key string) (release func(), ok bool) {
	k := playerID + "|" + key
	if _, busy := s.inflight.LoadOrStore(k, struct{}{}); busy {
		return nil, false
	}
	return func() { s.inflight.Delete(k) }, true
}

// outboxEntry reports whether key is still in the stored outbox and which
// handlers already accepted it.
func (s *Service) outboxEntry(ctx context.Context, playerID, key string) (bool, []string, error) {
	unlock := s.locks.Lock(playerID)
	defer unlock()
	st, err := s.store.Load(ctx, playerID)
	if err != nil {
		return false, nil, fmt.Errorf("load quest state %s: %w", playerID, err)
	}
	if !st.inOutbox(key) {
		return false, nil, nil
	}
	return true, append([]string(nil), st.Delivered[key]...), nil
}

// load returns a refreshed copy of the player's state without saving it.
func (s *Service) load(ctx context.Context, playerID string) (*PlayerState, error) {
	st, err := s.store.Load(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("load quest state %s: %w", playerID, err)
	}
	s.tracker.Prune(st)
	s.catalog.Refresh(st, s.now())
	return st, nil
}

// ---- read API; none of these save ----

// ActiveQuests returns the player's active instances ordered by quest id.
func (s *Service) ActiveQuests(ctx context.Context, playerID string) ([]*Progress, error) {
	st, err := s.load(ctx, playerID)
	if err != nil {
		return nil, err
	}
	return st.ActiveQuests(), nil
}

// CompletedQuests returns the player's completion history.
func (s *Service) CompletedQuests(ctx context.Context, playerID string) ([]CompletionRecord, error) {
	st, err := s.load(ctx, playerID)
	if err != nil {
		return nil, err
	}
	return st.CompletedQuests(), nil
}

// QuestProgress returns the player's current instance of id.
func (s *Service) QuestProgress(ctx context.Context, playerID string, id QuestID) (*Progress, error) {
	if _, err := s.catalog.Resolve(id); err != nil {
		return nil, err
	}
	st, err := s.load(ctx, playerID)
	if err != nil {
		return nil, err
	}
	pr, ok := st.Quests[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoProgress, id)
	}
	return pr, nil
}

// Eligibility reports whether p may accept id right now.
func (s *Service) Eligibility(ctx context.Context, p Player, id QuestID) error {
	st, err := s.load(ctx, p.ID)
	if err != nil {
		return err
	}
	return s.catalog.CheckEligibility(p, st, id, s.now())
}

// NextAvailable returns when a cooling-down quest can be accepted again.
func (s *Service) NextAvailable(ctx context.Context, playerID string, id QuestID) (time.Time, bool, error) {
	st, err := s.load(ctx, playerID)
	if err != nil {
		return time.Time{}, false, err
	}
	at, ok := s.catalog.NextAvailable(st, id)
	return at, ok, nil
}

// AvailableQuests lists every quest p could accept right now.
func (s *Service) AvailableQuests(ctx context.Context, p Player) ([]*Template, error) {
	st, err := s.load(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return s.catalog.Available(p, st, s.now()), nil
}

// PendingOutbox returns the undelivered completion notices of a player.
func (s *Service) PendingOutbox(ctx context.Context, playerID string) ([]Notice, error) {
	st, err := s.load(ctx, playerID)
	if err != nil {
		return nil, err
	}
	return append([]Notice(nil), st.Outbox...), nil
}
