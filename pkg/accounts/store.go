// Package accounts stores user credentials and issues the bearer tokens the
// identity middleware verifies.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/projectdocs/docstore/pkg/authz"
)

var (
	// ErrUserExists is returned when registering a taken user name.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidCredentials is returned for an unknown user, a wrong
	// password or a disabled account.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound is returned by Get for an unknown user.
	ErrUserNotFound = errors.New("user not found")
)

// User is a registered account.
type User struct {
	Name         string    `gorm:"primaryKey;column:name;type:varchar(255)" json:"user_name"`
	PasswordHash string    `gorm:"column:password_hash;type:varchar(255);not null" json:"-"`
	Disabled     bool      `gorm:"column:disabled;not null;default:false" json:"disabled"`
	CreatedAt    time.Time `gorm:"column:created_at" json:"created"`
}

func (User) TableName() string { return "users" }

// UserStore persists users.
type UserStore struct {
	db     *gorm.DB
	grants *authz.PermissionStore
	cost   int
	logger *slog.Logger
}

// NewUserStore creates a UserStore hashing with the given bcrypt cost. A
// cost of 0 uses bcrypt.DefaultCost.
func NewUserStore(db *gorm.DB, grants *authz.PermissionStore, cost int, logger *slog.Logger) *UserStore {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UserStore{db: db, grants: grants, cost: cost, logger: logger}
}

// AutoMigrate creates or updates the users table.
func (s *UserStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&User{}); err != nil {
		return fmt.Errorf("auto-migrate users: %w", err)
	}
	return nil
}

// Register creates a user. The first user ever registered receives every
// system permission.
func (s *UserStore) Register(ctx context.Context, name, password string) (*User, error) {
	if name == "" || password == "" {
		return nil, fmt.Errorf("%w: user name and password are required", ErrInvalidCredentials)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &User{Name: name, PasswordHash: string(hash)}
	first := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&User{}).Count(&count).Error; err != nil {
			return fmt.Errorf("count users: %w", err)
		}
		var existing int64
		if err := tx.Model(&User{}).Where("name = ?", name).Count(&existing).Error; err != nil {
			return fmt.Errorf("check user: %w", err)
		}
		if existing > 0 {
			return ErrUserExists
		}
		if err := tx.Create(user).Error; err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		if count == 0 && s.grants != nil {
			first = true
			return s.grants.WithTx(tx).GrantSystem(ctx, name, authz.AllSystemPermissions()...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("user registered", "user", name, "administrator", first)
	return user, nil
}

// Authenticate returns the user when password matches.
func (s *UserStore) Authenticate(ctx context.Context, name, password string) (*User, error) {
	user, err := s.Get(ctx, name)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if user.Disabled {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// Get returns one user.
func (s *UserStore) Get(ctx context.Context, name string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &user, nil
}

// UserExists reports whether an account named name exists.
func (s *UserStore) UserExists(ctx context.Context, name string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&User{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return false, fmt.Errorf("check user: %w", err)
	}
	return count > 0, nil
}

// SetDisabled enables or disables an account.
func (s *UserStore) SetDisabled(ctx context.Context, name string, disabled bool) error {
	res := s.db.WithContext(ctx).Model(&User{}).Where("name = ?", name).Update("disabled", disabled)
	if res.Error != nil {
		return fmt.Errorf("update user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}
