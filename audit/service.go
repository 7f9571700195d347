// Package audit persists the quest lifecycle trail. Writes are buffered and
// flushed in batches so the notice path never waits on the database.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kasuganosora/questforge/server/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Audit actions written by the quest engine.
const (
	ActionQuestAccepted  = "quest_accepted"
	ActionQuestAbandoned = "quest_abandoned"
	ActionQuestCompleted = "quest_completed"
	ActionRewardIssued   = "reward_issued"
	ActionRewardFailed   = "reward_failed"
)

// AuditEntry is one trail row before encoding. Detail is stored as JSON.
type AuditEntry struct {
	TraceID    string
	PlayerID   string
	QuestID    string
	InstanceID string
	Action     string
	Detail     interface{}
	Error      string
}

// Options tunes the writer. Zero fields take the defaults.
type Options struct {
	Buffer     int           // queued rows before Log starts dropping
	BatchSize  int           // rows per INSERT
	FlushEvery time.Duration // upper bound on how long a row waits
}

func (o Options) withDefaults() Options {
	if o.Buffer <= 0 {
		o.Buffer = 1024
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.FlushEvery <= 0 {
		o.FlushEvery = 2 * time.Second
	}
	return o
}

// Stats counts rows by outcome since start.
type Stats struct {
	Written int64 `json:"written"`
	Dropped int64 `json:"dropped"`
	Failed  int64 `json:"failed"`
}

// Service is the buffered audit writer.
type Service struct {
	db     *gorm.DB
	opts   Options
	queue  chan *model.AuditLog
	quit   chan struct{}
	done   chan struct{}
	stop   sync.Once
	logger *zap.Logger

	written, dropped, failed atomic.Int64
}

// New starts a writer with default options.
func New(db *gorm.DB, logger *zap.Logger) *Service {
	return NewWithOptions(db, Options{}, logger)
}

func NewWithOptions(db *gorm.DB, opts Options, logger *zap.Logger) *Service {
	opts = opts.withDefaults()
	s := &Service{
		db:     db,
		opts:   opts,
		queue:  make(chan *model.AuditLog, opts.Buffer),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
	go s.run()
	return s
}

// Log queues entry. It never blocks; a full queue drops the row.
func (s *Service) Log(entry AuditEntry) {
	row := s.toRow(entry)
	select {
	case s.queue <- row:
	default:
		s.dropped.Add(1)
		s.logger.Warn("audit queue full, row dropped",
			zap.String("action", entry.Action),
			zap.String("player_id", entry.PlayerID))
	}
}

func (s *Service) toRow(e AuditEntry) *model.AuditLog {
	row := &model.AuditLog{
		TraceID:    e.TraceID,
		PlayerID:   e.PlayerID,
		QuestID:    e.QuestID,
		InstanceID: e.InstanceID,
		Action:     e.Action,
		Error:      e.Error,
		CreatedAt:  time.Now(),
	}
	if e.Detail == nil {
		return row
	}
	raw, err := json.Marshal(e.Detail)
	if err != nil {
		s.logger.Warn("audit detail not encodable", zap.String("action", e.Action), zap.Error(err))
		return row
	}
	row.Detail = datatypes.JSON(raw)
	return row
}

// ForPlayer returns up to limit rows of a player, newest first.
func (s *Service) ForPlayer(ctx context.Context, playerID string, limit int) ([]model.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []model.AuditLog
	err := s.db.WithContext(ctx).
		Where("player_id = ?", playerID).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Stats reports writer counters.
func (s *Service) Stats() Stats {
	return Stats{
		Written: s.written.Load(),
		Dropped: s.dropped.Load(),
		Failed:  s.failed.Load(),
	}
}

// Stop drains the queue and waits for the final write, or for ctx.
// Calling it again is a no-op.
func (s *Service) Stop(ctx context.Context) {
	s.stop.Do(func() { close(s.quit) })
	select {
	case <-s.done:
	case <-ctx.Done():
		s.logger.Warn("audit stop timed out", zap.Int("queued", len(s.queue)))
	}
}

func (s *Service) run() {
	defer close(s.done)
	tick := time.NewTicker(s.opts.FlushEvery)
	defer tick.Stop()

	pending := make([]*model.AuditLog, 0, s.opts.BatchSize)
	for {
		select {
		case row := <-s.queue:
			pending = append(pending, row)
			if len(pending) >= s.opts.BatchSize {
				pending = s.write(pending)
			}
		case <-tick.C:
			pending = s.write(pending)
		case <-s.quit:
			for {
				select {
				case row := <-s.queue:
					pending = append(pending, row)
					if len(pending) >= s.opts.BatchSize {
						pending = s.write(pending)
					}
				default:
					s.write(pending)
					return
				}
			}
		}
	}
}

// write inserts rows and returns the emptied slice for reuse.
func (s *Service) write(rows []*model.AuditLog) []*model.AuditLog {
	if len(rows) == 0 {
		return rows
	}
	if err := s.db.CreateInBatches(rows, s.opts.BatchSize).Error; err != nil {
		s.failed.Add(int64(len(rows)))
		s.logger.Error("audit write", zap.Int("rows", len(rows)), zap.Error(err))
	} else {
		s.written.Add(int64(len(rows)))
	}
	return rows[:0]
}
