// Package authtest builds signed-in test routers for module tests.
package authtest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"municonsole_back/authorization"
	"municonsole_back/config"
	"municonsole_back/database"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// Harness is a gin engine with route protection installed over a fresh
// in-memory database.
type Harness struct {
	Router *gin.Engine
	DB     *gorm.DB
	Auth   *authorization.Module
}

// Config is the auth configuration every harness uses.
func Config() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:  "test-secret",
		Timeout:    time.Hour,
		MaxRefresh: 24 * time.Hour,
		InviteTTL:  72 * time.Hour,
	}
}

// New opens a database named after the test and registers the auth routes.
func New(t *testing.T) *Harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenTest(fmt.Sprintf("%s_%d", t.Name(), time.Now().UnixNano()))
	require.NoError(t, err)

	router := gin.New()
	module, err := authorization.RegisterRoutes(router, db, Config())
	require.NoError(t, err)

	return &Harness{Router: router, DB: db, Auth: module}
}

// CreateUser inserts a user with the given management role and memberships
// (municipality id → org role) and returns it.
func (h *Harness) CreateUser(t *testing.T, email, managementRole string, orgRoles map[uint64]string) *authorization.User {
	t.Helper()
	ctx := context.Background()
	user := &authorization.User{Email: email, ManagementRole: managementRole}
	require.NoError(t, h.Auth.Users().Create(ctx, user, "password123"))
	for municipalityID, role := range orgRoles {
		_, err := h.Auth.Users().UpsertMembership(ctx, user.ID, municipalityID, role)
		require.NoError(t, err)
	}
	return user
}

// Token signs a bearer token for user with its current memberships.
func (h *Harness) Token(t *testing.T, user *authorization.User) string {
	t.Helper()
	identity, err := h.Auth.LoadIdentity(context.Background(), user.ID)
	require.NoError(t, err)
	token, _, err := h.Auth.IssueToken(identity)
	require.NoError(t, err)
	return "Bearer " + token
}
