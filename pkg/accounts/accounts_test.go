package accounts

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/projectdocs/docstore/pkg/authz"
)

func newTestStores(t *testing.T) (*UserStore, *authz.PermissionStore) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	grants := authz.NewPermissionStore(db)
	require.NoError(t, grants.AutoMigrate())
	users := NewUserStore(db, grants, bcrypt.MinCost, nil)
	require.NoError(t, users.AutoMigrate())
	return users, grants
}

func TestUserStore_RegisterFirstUserIsAdministrator(t *testing.T) {
	ctx := context.Background()
	users, grants := newTestStores(t)

	_, err := users.Register(ctx, "alice", "s3cret")
	require.NoError(t, err)
	_, err = users.Register(ctx, "bob", "hunter2")
	require.NoError(t, err)

	alice, err := grants.ListSystem(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, alice, len(authz.AllSystemPermissions()))

	bob, err := grants.ListSystem(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, bob)

	_, err = users.Register(ctx, "bob", "again")
	assert.ErrorIs(t, err, ErrUserExists)
	_, err = users.Register(ctx, "", "x")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestUserStore_Authenticate(t *testing.T) {
	ctx := context.Background()
	users, _ := newTestStores(t)
	_, err := users.Register(ctx, "alice", "s3cret")
	require.NoError(t, err)

	user, err := users.Authenticate(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Name)
	assert.NotEqual(t, "s3cret", user.PasswordHash)

	_, err = users.Authenticate(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = users.Authenticate(ctx, "nobody", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, users.SetDisabled(ctx, "alice", true))
	_, err = users.Authenticate(ctx, "alice", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.ErrorIs(t, users.SetDisabled(ctx, "nobody", true), ErrUserNotFound)

	ok, err := users.UserExists(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = users.UserExists(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer, err := NewTokenIssuer("secret", "docstore", time.Hour)
	require.NoError(t, err)

	token, exp, err := issuer.Issue("alice")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)

	user, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", user)
}

func TestTokenIssuer_Rejects(t *testing.T) {
	issuer, err := NewTokenIssuer("secret", "docstore", time.Minute)
	require.NoError(t, err)
	token, _, err := issuer.Issue("alice")
	require.NoError(t, err)

	other, err := NewTokenIssuer("other-secret", "docstore", time.Minute)
	require.NoError(t, err)
	_, err = other.Verify(token)
	assert.Error(t, err, "wrong secret")

	wrongIssuer, err := NewTokenIssuer("secret", "elsewhere", time.Minute)
	require.NoError(t, err)
	_, err = wrongIssuer.Verify(token)
	assert.Error(t, err, "wrong issuer")

	later := time.Now().Add(2 * time.Minute)
	issuer.now = func() time.Time { return later }
	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "alice"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = issuer.Verify(unsigned)
	assert.Error(t, err, "alg none")

	_, err = NewTokenIssuer("", "", 0)
	assert.Error(t, err)
}
