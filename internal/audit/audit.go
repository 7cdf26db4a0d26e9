// Package audit persists allocation events. Writes are best effort: callers
// log a failed Record and carry on.
package audit

import (
	"context"
	"roomalloc/backend/internal/models"
	"sync"

	"gorm.io/gorm"
)

type Sink interface {
	Record(ctx context.Context, ev models.AuditEvent) error
}

// GormSink writes events to PostgreSQL.
type GormSink struct {
	DB *gorm.DB
}

func NewGormSink(db *gorm.DB) *GormSink {
	return &GormSink{DB: db}
}

// Migrate створює таблицю audit_events
func (s *GormSink) Migrate() error {
	return s.DB.AutoMigrate(&models.AuditEvent{})
}

func (s *GormSink) Record(ctx context.Context, ev models.AuditEvent) error {
	return s.DB.WithContext(ctx).Create(&ev).Error
}

// Recent returns the newest events, optionally narrowed to one room.
func (s *GormSink) Recent(ctx context.Context, roomID string, limit int) ([]models.AuditEvent, error) {
	q := s.DB.WithContext(ctx).Order("id desc").Limit(limit)
	if roomID != "" {
		q = q.Where("room_id = ?", roomID)
	}
	var events []models.AuditEvent
	if err := q.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

type Nop struct{}

func (Nop) Record(context.Context, models.AuditEvent) error { return nil }

// Memory keeps events in process; used when no database is configured and in tests.
type Memory struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func (m *Memory) Record(_ context.Context, ev models.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *Memory) Events() []models.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AuditEvent, len(m.events))
	copy(out, m.events)
	return out
}

// Actions lists recorded actions in order.
func (m *Memory) Actions() []models.AuditAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AuditAction, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev.Action)
	}
	return out
}
