package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event is one audited request.
type Event struct {
	ID         string            `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	RequestID  string            `gorm:"column:request_id;type:varchar(128);index" json:"requestId,omitempty"`
	Actor      string            `gorm:"column:actor;type:varchar(255);not null;index:idx_audit_actor_time,priority:1" json:"actor"`
	Method     string            `gorm:"column:method;type:varchar(16);not null" json:"method"`
	Path       string            `gorm:"column:path;type:text;not null" json:"path"`
	Project    string            `gorm:"column:project;type:varchar(255);index:idx_audit_project_time,priority:1" json:"project,omitempty"`
	Document   string            `gorm:"column:document;type:varchar(255)" json:"document,omitempty"`
	Action     string            `gorm:"column:action;type:varchar(64)" json:"action"`
	StatusCode int               `gorm:"column:status_code" json:"statusCode"`
	Outcome    string            `gorm:"column:outcome;type:varchar(16);not null" json:"outcome"` // success, failure, denied
	Metadata   datatypes.JSONMap `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt  time.Time         `gorm:"column:created_at;index:idx_audit_actor_time,priority:2;index:idx_audit_project_time,priority:2" json:"createdAt"`
}

func (Event) TableName() string { return "audit_events" }

// ListFilter narrows List. Empty fields match everything.
type ListFilter struct {
	Actor    string
	Project  string
	Document string
	Outcome  string
}

// Store provides append-only operations for audit events.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the audit_events table.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&Event{}); err != nil {
		return fmt.Errorf("auto-migrate audit events: %w", err)
	}
	return nil
}

// Append records an event.
func (s *Store) Append(ctx context.Context, event *Event) error {
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// List returns events newest first, ties broken by descending id. The page
// token names the last event of the previous page.
func (s *Store) List(ctx context.Context, filter ListFilter, pageSize int, pageToken string) ([]Event, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	scope := func(db *gorm.DB) *gorm.DB {
		if filter.Actor != "" {
			db = db.Where("actor = ?", filter.Actor)
		}
		if filter.Project != "" {
			db = db.Where("project = ?", filter.Project)
		}
		if filter.Document != "" {
			db = db.Where("document = ?", filter.Document)
		}
		if filter.Outcome != "" {
			db = db.Where("outcome = ?", filter.Outcome)
		}
		return db
	}

	db := s.db.WithContext(ctx)
	var totalSize int64
	if err := db.Model(&Event{}).Scopes(scope).Count(&totalSize).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count audit events: %w", err)
	}

	query := db.Scopes(scope).Order("created_at DESC").Order("id DESC").Limit(pageSize + 1)
	if pageToken != "" {
		at, id, err := parsePageToken(pageToken)
		if err != nil {
			return nil, "", 0, err
		}
		query = query.Where("created_at < ? OR (created_at = ? AND id < ?)", at, at, id)
	}

	var events []Event
	if err := query.Find(&events).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list audit events: %w", err)
	}

	var nextToken string
	if len(events) > pageSize {
		nextToken = encodePageToken(events[pageSize-1])
		events = events[:pageSize]
	}
	if events == nil {
		events = []Event{}
	}
	return events, nextToken, int(totalSize), nil
}

// encodePageToken encodes the (created_at, id) position of ev.
func encodePageToken(ev Event) string {
	return ev.CreatedAt.UTC().Format(time.RFC3339Nano) + "_" + ev.ID
}

func parsePageToken(token string) (time.Time, string, error) {
	ts, id, ok := strings.Cut(token, "_")
	if !ok || id == "" {
		return time.Time{}, "", fmt.Errorf("invalid page token %q", token)
	}
	at, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid page token: %w", err)
	}
	return at, id, nil
}

// DeleteOlderThan deletes up to limit events created before cutoff and
// returns how many were removed. A limit of zero removes all of them.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	db := s.db.WithContext(ctx)
	query := db.Where("created_at < ?", cutoff)
	if limit > 0 {
		ids := db.Model(&Event{}).Select("id").Where("created_at < ?", cutoff).Order("created_at").Limit(limit)
		// MySQL rejects LIMIT inside IN subqueries; the derived table wraps it.
		query = db.Where("id IN (?)", db.Table("(?) AS expired", ids).Select("id"))
	}
	result := query.Delete(&Event{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old audit events: %w", result.Error)
	}
	return result.RowsAffected, nil
}
