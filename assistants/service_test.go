package assistants

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"municonsole_back/apperr"
	"municonsole_back/authorization"
	"municonsole_back/authorization/authtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMunicipalities map[uint64]bool

func (s stubMunicipalities) Exists(_ context.Context, id uint64) (bool, error) {
	return s[id], nil
}

func ptr[T any](v T) *T { return &v }

func newTestService(t *testing.T) (*authtest.Harness, *Service) {
	t.Helper()
	h := authtest.New(t)
	service, err := NewService(h.DB, NewCatalog(""), stubMunicipalities{1: true, 2: true})
	require.NoError(t, err)
	RegisterRoutes(h.Router, service, h.Auth.Guard())
	return h, service
}

var (
	superAdmin = &authorization.Identity{UserID: 1, ManagementRole: authorization.RoleSuperAdmin}
	orgAdmin   = &authorization.Identity{UserID: 2, OrgRoles: map[uint64]string{1: authorization.OrgRoleAdmin}}
	orgMember  = &authorization.Identity{UserID: 3, OrgRoles: map[uint64]string{1: authorization.OrgRoleMember}}
	outsider   = &authorization.Identity{UserID: 4, OrgRoles: map[uint64]string{2: authorization.OrgRoleMember}}
)

func seed(t *testing.T, service *Service) map[string]*Assistant {
	t.Helper()
	ctx := context.Background()
	out := map[string]*Assistant{}
	for _, in := range []struct {
		key  string
		kind string
		mid  uint64
	}{
		{"public", TypePublic, 0},
		{"private", TypePrivate, 1},
		{"custom", TypeCustom, 1},
		{"other", TypeCustom, 2},
	} {
		created, err := service.Create(ctx, superAdmin, Input{
			Name:           ptr(in.key),
			Prompt:         ptr("You help residents."),
			Type:           ptr(in.kind),
			MunicipalityID: ptr(in.mid),
		})
		require.NoError(t, err)
		out[in.key] = created
		time.Sleep(2 * time.Millisecond)
	}
	return out
}

func names(items []Assistant) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.Name)
	}
	return out
}

func TestCreateValidatesFields(t *testing.T) {
	_, service := newTestService(t)

	_, err := service.Create(context.Background(), superAdmin, Input{Model: ptr("gpt-2"), Type: ptr("secret")})
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "Name is required", appErr.Fields["name"])
	assert.Equal(t, "Prompt is required", appErr.Fields["prompt"])
	assert.Contains(t, appErr.Fields, "model")
	assert.Contains(t, appErr.Fields, "type")

	_, err = service.Create(context.Background(), superAdmin, Input{Name: ptr("x"), Prompt: ptr("p"), Type: ptr(TypePrivate)})
	require.ErrorAs(t, err, &appErr)
	assert.Contains(t, appErr.Fields, "municipality_id")

	_, err = service.Create(context.Background(), superAdmin, Input{Name: ptr("x"), Prompt: ptr("p"), Type: ptr(TypeCustom), MunicipalityID: ptr(uint64(9))})
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestCreateDefaultsModelAndVectorStore(t *testing.T) {
	_, service := newTestService(t)

	created, err := service.Create(context.Background(), orgAdmin, Input{
		Name:           ptr("Waste desk"),
		Prompt:         ptr("Answer waste questions."),
		Type:           ptr(TypeCustom),
		MunicipalityID: ptr(uint64(1)),
		ModelParams:    []byte(`{"temperature":0.2}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", created.Model)
	assert.Equal(t, "municipality_1", created.VectorStoreID)
	require.NotNil(t, Parameters(created).Temperature)
	assert.InDelta(t, 0.2, *Parameters(created).Temperature, 1e-9)
}

func TestCreatePermissions(t *testing.T) {
	_, service := newTestService(t)
	ctx := context.Background()

	_, err := service.Create(ctx, orgAdmin, Input{Name: ptr("x"), Prompt: ptr("p")})
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))

	_, err = service.Create(ctx, orgMember, Input{Name: ptr("x"), Prompt: ptr("p"), Type: ptr(TypeCustom), MunicipalityID: ptr(uint64(1))})
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))

	_, err = service.Create(ctx, orgAdmin, Input{Name: ptr("x"), Prompt: ptr("p"), Type: ptr(TypeCustom), MunicipalityID: ptr(uint64(2))})
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))
}

func TestListBranchesOnRole(t *testing.T) {
	_, service := newTestService(t)
	seed(t, service)
	ctx := context.Background()

	cases := []struct {
		name     string
		caller   *authorization.Identity
		filter   ListFilter
		expected []string
	}{
		{"manager", superAdmin, ListFilter{}, []string{"other", "custom", "private", "public"}},
		{"org admin scoped", orgAdmin, ListFilter{MunicipalityID: 1}, []string{"custom", "private", "public"}},
		{"org member scoped", orgMember, ListFilter{MunicipalityID: 1}, []string{"custom", "public"}},
		{"no role scoped", outsider, ListFilter{MunicipalityID: 1}, []string{"public"}},
		{"org member unscoped", orgMember, ListFilter{}, []string{"custom", "public"}},
		{"outsider unscoped", outsider, ListFilter{}, []string{"other", "public"}},
		{"type filter", superAdmin, ListFilter{Type: TypeCustom}, []string{"other", "custom"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			page, err := service.List(ctx, tc.caller, tc.filter, nil, 20)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, names(page.Items))
		})
	}
}

func TestVisibilityAndManagement(t *testing.T) {
	_, service := newTestService(t)
	seeded := seed(t, service)
	ctx := context.Background()

	_, err := service.GetVisible(ctx, orgMember, seeded["private"].ID)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))

	_, err = service.Update(ctx, orgMember, seeded["custom"].ID, Input{Name: ptr("renamed")})
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))

	updated, err := service.Update(ctx, orgAdmin, seeded["custom"].ID, Input{Name: ptr("renamed")})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)

	_, err = service.Update(ctx, orgAdmin, seeded["custom"].ID, Input{Type: ptr(TypePublic)})
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))

	require.NoError(t, service.Delete(ctx, orgAdmin, seeded["private"].ID))
	require.NoError(t, service.DeleteByMunicipality(ctx, 2))
	page, err := service.List(ctx, superAdmin, ListFilter{}, nil, 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"renamed", "public"}, names(page.Items))
}

func TestListPagination(t *testing.T) {
	_, service := newTestService(t)
	seed(t, service)

	first, err := service.List(context.Background(), superAdmin, ListFilter{}, nil, 3)
	require.NoError(t, err)
	assert.Len(t, first.Items, 3)
	assert.True(t, first.HasMore)
	assert.NotEmpty(t, first.NextCursor)
}

func TestModelsEndpoint(t *testing.T) {
	h, _ := newTestService(t)
	user := h.CreateUser(t, "member@example.org", "", map[uint64]string{1: authorization.OrgRoleMember})

	req := httptest.NewRequest(http.MethodGet, "/api/assistants/models", nil)
	req.Header.Set("Authorization", h.Token(t, user))
	w := httptest.NewRecorder()
	h.Router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Models  []ModelOption `json:"models"`
		Default string        `json:"default"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "gpt-4o-mini", body.Default)
	assert.NotEmpty(t, body.Models)

	req = httptest.NewRequest(http.MethodGet, "/api/assistants/models", nil)
	w = httptest.NewRecorder()
	h.Router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateEndpointReturnsFieldErrors(t *testing.T) {
	h, _ := newTestService(t)
	user := h.CreateUser(t, "root@example.org", authorization.RoleSuperAdmin, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/assistants", strings.NewReader(`{"type":"public"}`))
	req.Header.Set("Authorization", h.Token(t, user))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.Router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Name is required")
}

func TestCatalogFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"models":[{"provider":"local","name":"llama3"},{"name":"llama3"},{"name":" "}]}`), 0o600))

	catalog := NewCatalog(path)
	require.Len(t, catalog.Models(), 1)
	assert.True(t, catalog.Has("LLAMA3"))
	assert.False(t, catalog.Has("gpt-4o"))
	assert.Equal(t, "llama3", catalog.Default())

	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o600))
	catalog = NewCatalog(path)
	assert.True(t, catalog.Has("gpt-4o"))
}

func TestCatalogWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"name":"first"}]`), 0o600))

	catalog := NewCatalog(path)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, catalog.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte(`[{"name":"second"}]`), 0o600))
	assert.Eventually(t, func() bool { return catalog.Has("second") }, 2*time.Second, 20*time.Millisecond)
}
