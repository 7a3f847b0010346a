package auth

import (
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/firmdesk/firmdesk/internal/models"
	"github.com/firmdesk/firmdesk/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRole(t *testing.T) {
	assert.Equal(t, RolePartner, NormalizeRole("PARTNER"))
	assert.Equal(t, RoleManager, NormalizeRole(" manager "))
	assert.Equal(t, RoleAssociate, NormalizeRole("WORKER"))
	assert.Equal(t, RoleAssociate, NormalizeRole("worker"))
	assert.Equal(t, RoleAssociate, NormalizeRole(""))
	assert.Equal(t, RoleAssociate, NormalizeRole("INTERN"))
}

func TestPrivileged(t *testing.T) {
	assert.True(t, Identity{Role: RolePartner}.Privileged())
	assert.True(t, Identity{Role: RoleManager}.Privileged())
	assert.False(t, Identity{Role: RoleAssociate}.Privileged())
}

func TestStoreVerifier(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.CreateUser(&models.User{Email: "asha@firm.example", Role: "WORKER", APIToken: "tok-1", Active: true}))
	require.NoError(t, s.CreateUser(&models.User{Email: "gone@firm.example", Role: "MANAGER", APIToken: "tok-2", Active: false}))

	v := NewStoreVerifier(s)

	id, err := v.Verify("tok-1")
	require.NoError(t, err)
	assert.Equal(t, "asha@firm.example", id.Email)
	assert.Equal(t, RoleAssociate, id.Role)

	_, err = v.Verify("tok-2")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = v.Verify("")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = v.Verify("unknown")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/tasks", nil)
	r.Header.Set("Authorization", "Bearer tok-1")
	assert.Equal(t, "tok-1", BearerToken(r))

	r = httptest.NewRequest("GET", "/tasks", nil)
	r.Header.Set("X-Api-Token", "tok-2")
	assert.Equal(t, "tok-2", BearerToken(r))

	r = httptest.NewRequest("GET", "/tasks", nil)
	assert.Equal(t, "", BearerToken(r))
}

func TestCheckCronSecret(t *testing.T) {
	assert.True(t, CheckCronSecret("s3cret", "s3cret"))
	assert.False(t, CheckCronSecret("wrong", "s3cret"))
	assert.False(t, CheckCronSecret("", ""))
}
