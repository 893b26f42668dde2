package authz

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SystemGrant is a system-wide permission held by a user.
type SystemGrant struct {
	UserName   string           `gorm:"primaryKey;column:user_name;type:varchar(255)"`
	Permission SystemPermission `gorm:"primaryKey;column:permission;type:varchar(64)"`
	GrantedAt  time.Time        `gorm:"column:granted_at"`
}

func (SystemGrant) TableName() string { return "system_grants" }

// ProjectGrant is a permission held by a user on one project.
type ProjectGrant struct {
	UserName    string            `gorm:"primaryKey;column:user_name;type:varchar(255)"`
	ProjectName string            `gorm:"primaryKey;column:project_name;type:varchar(255);index"`
	Permission  ProjectPermission `gorm:"primaryKey;column:permission;type:varchar(64)"`
	GrantedAt   time.Time         `gorm:"column:granted_at"`
}

func (ProjectGrant) TableName() string { return "project_grants" }

// DocumentGrant is a permission held by a user on one document.
type DocumentGrant struct {
	UserName     string             `gorm:"primaryKey;column:user_name;type:varchar(255)"`
	ProjectName  string             `gorm:"primaryKey;column:project_name;type:varchar(255);index:idx_document_grants_doc,priority:1"`
	DocumentName string             `gorm:"primaryKey;column:document_name;type:varchar(255);index:idx_document_grants_doc,priority:2"`
	Permission   DocumentPermission `gorm:"primaryKey;column:permission;type:varchar(64)"`
	GrantedAt    time.Time          `gorm:"column:granted_at"`
}

func (DocumentGrant) TableName() string { return "document_grants" }

// PermissionStore holds the three grant relations. Presence of a row means
// the grant is held.
type PermissionStore struct {
	db *gorm.DB
}

// NewPermissionStore creates a new PermissionStore.
func NewPermissionStore(db *gorm.DB) *PermissionStore {
	return &PermissionStore{db: db}
}

// WithTx returns a store bound to the given transaction.
func (s *PermissionStore) WithTx(tx *gorm.DB) *PermissionStore {
	return &PermissionStore{db: tx}
}

// AutoMigrate creates or updates the grant tables.
func (s *PermissionStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&SystemGrant{}, &ProjectGrant{}, &DocumentGrant{}); err != nil {
		return fmt.Errorf("auto-migrate grants: %w", err)
	}
	return nil
}

// HasSystem reports whether user holds perm system-wide.
func (s *PermissionStore) HasSystem(ctx context.Context, user string, perm SystemPermission) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&SystemGrant{}).
		Where("user_name = ? AND permission = ?", user, perm).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check system grant: %w", err)
	}
	return count > 0, nil
}

// HasProject reports whether user holds perm on project.
func (s *PermissionStore) HasProject(ctx context.Context, user, project string, perm ProjectPermission) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&ProjectGrant{}).
		Where("user_name = ? AND project_name = ? AND permission = ?", user, project, perm).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check project grant: %w", err)
	}
	return count > 0, nil
}

// HasDocument reports whether user holds perm on (project, document).
func (s *PermissionStore) HasDocument(ctx context.Context, user, project, document string, perm DocumentPermission) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&DocumentGrant{}).
		Where("user_name = ? AND project_name = ? AND document_name = ? AND permission = ?", user, project, document, perm).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check document grant: %w", err)
	}
	return count > 0, nil
}

// GrantSystem adds system grants. Already-held grants are left as they are.
func (s *PermissionStore) GrantSystem(ctx context.Context, user string, perms ...SystemPermission) error {
	if len(perms) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]SystemGrant, len(perms))
	for i, p := range perms {
		rows[i] = SystemGrant{UserName: user, Permission: p, GrantedAt: now}
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
		return fmt.Errorf("grant system permissions: %w", err)
	}
	return nil
}

// GrantProject adds project grants.
func (s *PermissionStore) GrantProject(ctx context.Context, user, project string, perms ...ProjectPermission) error {
	if len(perms) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]ProjectGrant, len(perms))
	for i, p := range perms {
		rows[i] = ProjectGrant{UserName: user, ProjectName: project, Permission: p, GrantedAt: now}
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
		return fmt.Errorf("grant project permissions: %w", err)
	}
	return nil
}

// GrantDocument adds document grants.
func (s *PermissionStore) GrantDocument(ctx context.Context, user, project, document string, perms ...DocumentPermission) error {
	if len(perms) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]DocumentGrant, len(perms))
	for i, p := range perms {
		rows[i] = DocumentGrant{UserName: user, ProjectName: project, DocumentName: document, Permission: p, GrantedAt: now}
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
		return fmt.Errorf("grant document permissions: %w", err)
	}
	return nil
}

// RevokeSystem removes system grants. Missing grants are ignored.
func (s *PermissionStore) RevokeSystem(ctx context.Context, user string, perms ...SystemPermission) error {
	if len(perms) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Where("user_name = ? AND permission IN ?", user, perms).
		Delete(&SystemGrant{}).Error
	if err != nil {
		return fmt.Errorf("revoke system permissions: %w", err)
	}
	return nil
}

// RevokeProject removes project grants.
func (s *PermissionStore) RevokeProject(ctx context.Context, user, project string, perms ...ProjectPermission) error {
	if len(perms) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Where("user_name = ? AND project_name = ? AND permission IN ?", user, project, perms).
		Delete(&ProjectGrant{}).Error
	if err != nil {
		return fmt.Errorf("revoke project permissions: %w", err)
	}
	return nil
}

// RevokeDocument removes document grants.
func (s *PermissionStore) RevokeDocument(ctx context.Context, user, project, document string, perms ...DocumentPermission) error {
	if len(perms) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Where("user_name = ? AND project_name = ? AND document_name = ? AND permission IN ?", user, project, document, perms).
		Delete(&DocumentGrant{}).Error
	if err != nil {
		return fmt.Errorf("revoke document permissions: %w", err)
	}
	return nil
}

// ListSystem returns the system permissions held by user, sorted by name.
func (s *PermissionStore) ListSystem(ctx context.Context, user string) ([]string, error) {
	var perms []string
	err := s.db.WithContext(ctx).Model(&SystemGrant{}).
		Where("user_name = ?", user).
		Order("permission ASC").
		Pluck("permission", &perms).Error
	if err != nil {
		return nil, fmt.Errorf("list system grants: %w", err)
	}
	return nonNil(perms), nil
}

// ListProject returns the permissions user holds on project, sorted by name.
func (s *PermissionStore) ListProject(ctx context.Context, user, project string) ([]string, error) {
	var perms []string
	err := s.db.WithContext(ctx).Model(&ProjectGrant{}).
		Where("user_name = ? AND project_name = ?", user, project).
		Order("permission ASC").
		Pluck("permission", &perms).Error
	if err != nil {
		return nil, fmt.Errorf("list project grants: %w", err)
	}
	return nonNil(perms), nil
}

// ListDocument returns the permissions user holds on a document, sorted by name.
func (s *PermissionStore) ListDocument(ctx context.Context, user, project, document string) ([]string, error) {
	var perms []string
	err := s.db.WithContext(ctx).Model(&DocumentGrant{}).
		Where("user_name = ? AND project_name = ? AND document_name = ?", user, project, document).
		Order("permission ASC").
		Pluck("permission", &perms).Error
	if err != nil {
		return nil, fmt.Errorf("list document grants: %w", err)
	}
	return nonNil(perms), nil
}

// DeleteDocumentGrants removes every grant on a document.
func (s *PermissionStore) DeleteDocumentGrants(ctx context.Context, project, document string) error {
	err := s.db.WithContext(ctx).
		Where("project_name = ? AND document_name = ?", project, document).
		Delete(&DocumentGrant{}).Error
	if err != nil {
		return fmt.Errorf("delete document grants: %w", err)
	}
	return nil
}

// DeleteProjectGrants removes every project and document grant under project.
func (s *PermissionStore) DeleteProjectGrants(ctx context.Context, project string) error {
	if err := s.db.WithContext(ctx).Where("project_name = ?", project).Delete(&DocumentGrant{}).Error; err != nil {
		return fmt.Errorf("delete document grants of project: %w", err)
	}
	if err := s.db.WithContext(ctx).Where("project_name = ?", project).Delete(&ProjectGrant{}).Error; err != nil {
		return fmt.Errorf("delete project grants: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
