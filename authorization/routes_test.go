package authorization_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"municonsole_back/authorization"
	"municonsole_back/authorization/authtest"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withPages(h *authtest.Harness) {
	ok := func(c *gin.Context) { c.String(http.StatusOK, "page") }
	h.Router.GET("/", ok)
	h.Router.GET("/users", ok)
	h.Router.GET("/assistants", ok)
	h.Router.GET("/sign-in", ok)
	h.Router.GET("/api/ping", func(c *gin.Context) {
		identity := authorization.CurrentIdentity(c)
		c.JSON(http.StatusOK, gin.H{"user_id": identity.UserID})
	})
}

func serve(h *authtest.Harness, method, path, token string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	rec := httptest.NewRecorder()
	h.Router.ServeHTTP(rec, req)
	return rec
}

func TestPublicRoutePasses(t *testing.T) {
	h := authtest.New(t)
	withPages(h)

	rec := serve(h, http.MethodGet, "/sign-in", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIWithoutTokenIsUnauthorized(t *testing.T) {
	h := authtest.New(t)
	withPages(h)

	rec := serve(h, http.MethodGet, "/api/ping", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(h, http.MethodGet, "/api/ping", "Bearer not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPageWithoutTokenRedirectsToSignIn(t *testing.T) {
	h := authtest.New(t)
	withPages(h)

	rec := serve(h, http.MethodGet, "/assistants?page=2", "", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/sign-in?redirect_url=%2Fassistants%3Fpage%3D2", rec.Header().Get("Location"))
}

func TestPageRequiringRoleRedirectsHome(t *testing.T) {
	h := authtest.New(t)
	withPages(h)
	moderator := h.CreateUser(t, "mod@example.com", authorization.RoleModerator, nil)
	admin := h.CreateUser(t, "root@example.com", authorization.RoleSuperAdmin, nil)

	rec := serve(h, http.MethodGet, "/users", h.Token(t, moderator), nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))

	rec = serve(h, http.MethodGet, "/users", h.Token(t, admin), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIWithTokenExposesIdentity(t *testing.T) {
	h := authtest.New(t)
	withPages(h)
	user := h.CreateUser(t, "member@example.com", "", map[uint64]string{4: authorization.OrgRoleMember})

	rec := serve(h, http.MethodGet, "/api/ping", h.Token(t, user), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		UserID uint64 `json:"user_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, user.ID, body.UserID)
}

func TestLoginRefreshAndProfile(t *testing.T) {
	h := authtest.New(t)
	h.CreateUser(t, "Ana@Example.com", authorization.RoleSuperAdmin, map[uint64]string{2: authorization.OrgRoleAdmin})

	rec := serve(h, http.MethodPost, "/auth/login", "", gin.H{"email": "ana@example.com", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(h, http.MethodPost, "/auth/login", "", gin.H{"email": "ana@example.com", "password": "password123"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var login struct {
		Token string         `json:"token"`
		User  map[string]any `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	require.NotEmpty(t, login.Token)
	assert.Equal(t, "super_admin", login.User["management_role"])

	rec = serve(h, http.MethodGet, "/auth/profile", "Bearer "+login.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"municipality_id":2`)

	rec = serve(h, http.MethodPost, "/auth/refresh", "Bearer "+login.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"token"`)
}

func TestNavigationEndpoint(t *testing.T) {
	h := authtest.New(t)
	moderator := h.CreateUser(t, "mod@example.com", authorization.RoleModerator, nil)

	rec := serve(h, http.MethodGet, "/auth/navigation", h.Token(t, moderator), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"/users"`)
	assert.NotContains(t, rec.Body.String(), `"/tools"`)
	assert.Contains(t, rec.Body.String(), `"/municipalities"`)
}

func TestUpdateProfileRequiresCurrentPassword(t *testing.T) {
	h := authtest.New(t)
	user := h.CreateUser(t, "user@example.com", "", nil)
	token := h.Token(t, user)

	rec := serve(h, http.MethodPut, "/auth/profile", token, gin.H{"new_password": "another-secret", "current_password": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(h, http.MethodPut, "/auth/profile", token, gin.H{"display_name": "User One"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"display_name":"User One"`)
}
