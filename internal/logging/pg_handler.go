package logging

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const pgBatchSize = 50

// PGHandler is an slog.Handler that batches ERROR+ logs into system_logs.
// Well-known attributes (order_number, payment_ref, user_id ...) get their
// own indexed columns; everything else lands in extra.
type PGHandler struct {
	*pgSink
	attrs []slog.Attr
}

type pgSink struct {
	db     *gorm.DB
	mu     sync.Mutex
	buffer []models.SystemLog
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func NewPGHandler(db *gorm.DB, flushEvery time.Duration) *PGHandler {
	if flushEvery <= 0 {
		flushEvery = 5 * time.Second
	}
	s := &pgSink{
		db:     db,
		buffer: make([]models.SystemLog, 0, pgBatchSize),
		ticker: time.NewTicker(flushEvery),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.flushLoop()
	return &PGHandler{pgSink: s}
}

func (s *pgSink) flushLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ticker.C:
			s.flush()
		case <-s.done:
			s.flush()
			return
		}
	}
}

func (s *pgSink) flush() {
	s.mu.Lock()
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.buffer
	s.buffer = make([]models.SystemLog, 0, pgBatchSize)
	s.mu.Unlock()

	// Logging the failure through slog would feed it straight back here.
	if err := s.db.CreateInBatches(batch, pgBatchSize).Error; err != nil {
		slog.Warn("failed to flush system logs to DB", "error", err.Error(), "count", len(batch))
	}
}

// Stop flushes what is buffered and ends the flush loop.
func (s *pgSink) Stop() {
	s.once.Do(func() {
		s.ticker.Stop()
		close(s.done)
	})
	s.wg.Wait()
}

// Enabled only handles ERROR and above.
func (h *PGHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelError
}

func (h *PGHandler) Handle(_ context.Context, record slog.Record) error {
	entry := models.SystemLog{
		ID:        uuid.New(),
		Timestamp: record.Time.UTC(),
		Level:     record.Level.String(),
		Message:   record.Message,
	}

	extra := make(map[string]interface{})
	apply := func(a slog.Attr) bool {
		switch a.Key {
		case "trace_id":
			entry.TraceID = a.Value.String()
		case "user_id":
			s := a.Value.String()
			entry.UserID = &s
		case "order_number":
			entry.OrderNumber = a.Value.String()
		case "payment_ref":
			entry.PaymentRef = a.Value.String()
		case "action":
			entry.Action = a.Value.String()
		case "error":
			entry.Error = a.Value.String()
		default:
			extra[a.Key] = a.Value.Resolve().Any()
		}
		return true
	}
	for _, a := range h.attrs {
		apply(a)
	}
	record.Attrs(apply)

	if len(extra) > 0 {
		if b, err := json.Marshal(extra); err == nil {
			entry.Extra = datatypes.JSON(b)
		}
	}

	h.mu.Lock()
	h.buffer = append(h.buffer, entry)
	needFlush := len(h.buffer) >= pgBatchSize
	h.mu.Unlock()

	if needFlush {
		go h.flush()
	}
	return nil
}

func (h *PGHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &PGHandler{pgSink: h.pgSink, attrs: merged}
}

func (h *PGHandler) WithGroup(string) slog.Handler {
	return h
}
