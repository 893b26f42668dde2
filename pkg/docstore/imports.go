package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Snapshot is the parsed content of an external project file.
type Snapshot struct {
	Tasks     json.RawMessage `json:"tasks"`
	Resources json.RawMessage `json:"resources"`
	Info      json.RawMessage `json:"info"`
}

// UnmarshalJSON accepts "proj_info" as an alias of "info".
func (s *Snapshot) UnmarshalJSON(b []byte) error {
	var wire struct {
		Tasks     json.RawMessage `json:"tasks"`
		Resources json.RawMessage `json:"resources"`
		Info      json.RawMessage `json:"info"`
		ProjInfo  json.RawMessage `json:"proj_info"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	s.Tasks, s.Resources, s.Info = wire.Tasks, wire.Resources, wire.Info
	if len(s.Info) == 0 {
		s.Info = wire.ProjInfo
	}
	return nil
}

// ImportStore keeps the latest snapshot of each imported project file and
// refreshes the computed fields that read it.
type ImportStore struct {
	db     *gorm.DB
	engine *Engine
	logger *slog.Logger
	now    func() time.Time
}

// NewImportStore creates an ImportStore sharing the document store engine.
func NewImportStore(db *gorm.DB, engine *Engine, logger *slog.Logger) *ImportStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImportStore{db: db, engine: engine, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Ingest creates or replaces the snapshot (project, name) and recomputes
// its dependent fields. The returned bool reports whether it was created.
// A re-ingest keeps the original author and records author as the updater.
func (s *ImportStore) Ingest(ctx context.Context, project, name string, snap Snapshot, author string) (*ImportSnapshot, bool, error) {
	if name == "" {
		return nil, false, BadRequestf("import name is required")
	}
	tasks, err := sectionJSON(SectionTasks, snap.Tasks)
	if err != nil {
		return nil, false, err
	}
	resources, err := sectionJSON(SectionResources, snap.Resources)
	if err != nil {
		return nil, false, err
	}
	info, err := sectionJSON(SectionInfo, snap.Info)
	if err != nil {
		return nil, false, err
	}

	var (
		out     ImportSnapshot
		created bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireProject(tx, project); err != nil {
			return err
		}
		now := s.now()
		err := tx.Where("project_name = ? AND name = ?", project, name).First(&out).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			created = true
			out = ImportSnapshot{
				ProjectName: project,
				Name:        name,
				AuthorName:  author,
				Tasks:       tasks,
				Resources:   resources,
				Info:        info,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := tx.Create(&out).Error; err != nil {
				return fmt.Errorf("create import snapshot: %w", err)
			}
		case err != nil:
			return fmt.Errorf("load import snapshot: %w", err)
		default:
			out.UpdateAuthorName = author
			out.Tasks, out.Resources, out.Info = tasks, resources, info
			out.UpdatedAt = now
			err := tx.Model(&ImportSnapshot{}).
				Where("project_name = ? AND name = ?", project, name).
				Updates(map[string]any{
					"update_author_name": author,
					"tasks":              tasks,
					"resources":          resources,
					"info":               info,
					"updated_at":         now,
				}).Error
			if err != nil {
				return fmt.Errorf("update import snapshot: %w", err)
			}
		}
		return s.engine.recomputeImportDependents(tx, project, name)
	})
	if err != nil {
		return nil, false, err
	}
	s.logger.Info("import snapshot ingested", "project", project, "import", name, "author", author, "created", created)
	return &out, created, nil
}

// Get returns one snapshot.
func (s *ImportStore) Get(ctx context.Context, project, name string) (*ImportSnapshot, error) {
	var snap ImportSnapshot
	err := s.db.WithContext(ctx).Where("project_name = ? AND name = ?", project, name).First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFoundf("import %s/%s not found", project, name)
	}
	if err != nil {
		return nil, fmt.Errorf("load import snapshot: %w", err)
	}
	return &snap, nil
}

// List returns the snapshots of a project ordered by name.
func (s *ImportStore) List(ctx context.Context, project string) ([]ImportSnapshot, error) {
	db := s.db.WithContext(ctx)
	if err := requireProject(db, project); err != nil {
		return nil, err
	}
	var snaps []ImportSnapshot
	if err := db.Where("project_name = ?", project).Order("name ASC").Find(&snaps).Error; err != nil {
		return nil, fmt.Errorf("list import snapshots: %w", err)
	}
	if snaps == nil {
		snaps = []ImportSnapshot{}
	}
	return snaps, nil
}

// Delete removes a snapshot. Fields reading it are cleared.
func (s *ImportStore) Delete(ctx context.Context, project, name string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireImport(tx, project, name); err != nil {
			return err
		}
		if err := tx.Where("project_name = ? AND name = ?", project, name).Delete(&ImportSnapshot{}).Error; err != nil {
			return fmt.Errorf("delete import snapshot: %w", err)
		}
		return s.engine.failClosedImport(tx, project, name)
	})
	if err != nil {
		return err
	}
	s.logger.Info("import snapshot deleted", "project", project, "import", name)
	return nil
}

// sectionJSON validates one section and stores JSON null for a missing one.
func sectionJSON(section ImportSection, raw json.RawMessage) (datatypes.JSON, error) {
	if len(raw) == 0 {
		return datatypes.JSON("null"), nil
	}
	if !json.Valid(raw) {
		return nil, BadRequestf("import section %s is not valid JSON", section)
	}
	return datatypes.JSON(raw), nil
}
