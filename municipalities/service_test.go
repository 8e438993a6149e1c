package municipalities

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"municonsole_back/apperr"
	"municonsole_back/authorization"
	"municonsole_back/authorization/authtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func newTestService(t *testing.T) (*authtest.Harness, *Service) {
	t.Helper()
	h := authtest.New(t)
	service, err := NewService(h.DB, nil)
	require.NoError(t, err)
	RegisterRoutes(h.Router, service, h.Auth.Guard())
	return h, service
}

func TestCreateValidatesFields(t *testing.T) {
	_, service := newTestService(t)

	_, err := service.Create(context.Background(), Input{Name: ptr("  "), CountryCode: ptr("NLD"), Website: ptr("ftp://x")})
	require.Error(t, err)

	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, msgNameRequired, appErr.Fields["name"])
	assert.Equal(t, msgCountryInvalid, appErr.Fields["country_code"])
	assert.Equal(t, msgWebsiteInvalid, appErr.Fields["website"])

	created, err := service.Create(context.Background(), Input{Name: ptr(" Utrecht "), CountryCode: ptr("nl"), Website: ptr("https://utrecht.nl")})
	require.NoError(t, err)
	assert.Equal(t, "Utrecht", created.Name)
	assert.Equal(t, "NL", created.CountryCode)
	assert.True(t, created.Active)

	_, err = service.Create(context.Background(), Input{Name: ptr("Utrecht"), CountryCode: ptr("NL")})
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))
}

func TestDeleteRequiresExactName(t *testing.T) {
	_, service := newTestService(t)
	ctx := context.Background()
	created, err := service.Create(ctx, Input{Name: ptr("Den Haag"), CountryCode: ptr("NL")})
	require.NoError(t, err)

	var cleaned []uint64
	service.OnDelete(func(_ context.Context, id uint64) error {
		cleaned = append(cleaned, id)
		return nil
	})

	for _, attempt := range []string{"", "den haag", "Den Haag ", "Den"} {
		err := service.Delete(ctx, created.ID, attempt)
		require.Error(t, err, attempt)
		assert.Equal(t, MsgConfirmationMismatch, err.(*apperr.Error).Message)
		exists, err := service.Exists(ctx, created.ID)
		require.NoError(t, err)
		assert.True(t, exists)
	}
	assert.Empty(t, cleaned)

	require.NoError(t, service.Delete(ctx, created.ID, "Den Haag"))
	exists, err := service.Exists(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, []uint64{created.ID}, cleaned)
}

func TestListFiltersAndPaginates(t *testing.T) {
	_, service := newTestService(t)
	ctx := context.Background()
	for _, in := range []Input{
		{Name: ptr("Gent"), CountryCode: ptr("BE")},
		{Name: ptr("Leuven"), CountryCode: ptr("BE"), Active: ptr(false)},
		{Name: ptr("Delft"), CountryCode: ptr("NL")},
	} {
		_, err := service.Create(ctx, in)
		require.NoError(t, err)
	}

	page, err := service.List(ctx, Filter{CountryCode: "be"}, nil, 10)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)

	page, err = service.List(ctx, Filter{CountryCode: "BE", Active: ptr(true)}, nil, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Gent", page.Items[0].Name)

	page, err = service.List(ctx, Filter{}, nil, 2)
	require.NoError(t, err)
	assert.True(t, page.HasMore)
	assert.Equal(t, "Delft", page.Items[0].Name)

	page, err = service.List(ctx, Filter{OnlyIDs: []uint64{}}, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestDeleteEndpointRejectsMismatch(t *testing.T) {
	h, service := newTestService(t)
	created, err := service.Create(context.Background(), Input{Name: ptr("Arnhem"), CountryCode: ptr("NL")})
	require.NoError(t, err)
	admin := h.CreateUser(t, "root@example.com", authorization.RoleSuperAdmin, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/municipalities/"+itoa(created.ID), strings.NewReader(`{"confirmation":"arnhem"}`))
	req.Header.Set("Authorization", h.Token(t, admin))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.Router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, MsgConfirmationMismatch, body["error"])

	req = httptest.NewRequest(http.MethodDelete, "/api/municipalities/"+itoa(created.ID), strings.NewReader(`{"confirmation":"Arnhem"}`))
	req.Header.Set("Authorization", h.Token(t, admin))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	h.Router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMembersOnlySeeTheirMunicipalities(t *testing.T) {
	h, service := newTestService(t)
	ctx := context.Background()
	mine, err := service.Create(ctx, Input{Name: ptr("Zwolle"), CountryCode: ptr("NL")})
	require.NoError(t, err)
	_, err = service.Create(ctx, Input{Name: ptr("Assen"), CountryCode: ptr("NL")})
	require.NoError(t, err)
	member := h.CreateUser(t, "m@example.com", "", map[uint64]string{mine.ID: authorization.OrgRoleMember})

	req := httptest.NewRequest(http.MethodGet, "/api/municipalities", nil)
	req.Header.Set("Authorization", h.Token(t, member))
	rec := httptest.NewRecorder()
	h.Router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Zwolle")
	assert.NotContains(t, rec.Body.String(), "Assen")

	req = httptest.NewRequest(http.MethodPost, "/api/municipalities", strings.NewReader(`{"name":"X","country_code":"NL"}`))
	req.Header.Set("Authorization", h.Token(t, member))
	rec = httptest.NewRecorder()
	h.Router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func itoa(id uint64) string {
	return strconv.FormatUint(id, 10)
}
