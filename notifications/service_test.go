package notifications

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"municonsole_back/apperr"
	"municonsole_back/authorization"
	"municonsole_back/authorization/authtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMunicipalities struct {
	active []uint64
	err    error
}

func (s stubMunicipalities) ActiveIDs(context.Context) ([]uint64, error) { return s.active, s.err }

func (s stubMunicipalities) Exists(_ context.Context, id uint64) (bool, error) {
	for _, active := range s.active {
		if active == id {
			return true, nil
		}
	}
	return id == 99, nil
}

func ptr[T any](v T) *T { return &v }

func newTestService(t *testing.T, municipalities MunicipalitySource) (*authtest.Harness, *Service) {
	t.Helper()
	h := authtest.New(t)
	service, err := NewService(h.DB, municipalities)
	require.NoError(t, err)
	RegisterRoutes(h.Router, service, h.Auth.Guard())
	return h, service
}

var (
	moderator = &authorization.Identity{UserID: 1, ManagementRole: authorization.RoleModerator}
	orgAdmin  = &authorization.Identity{UserID: 2, OrgRoles: map[uint64]string{1: authorization.OrgRoleAdmin}}
	orgMember = &authorization.Identity{UserID: 3, OrgRoles: map[uint64]string{1: authorization.OrgRoleMember}}
	outsider  = &authorization.Identity{UserID: 4, OrgRoles: map[uint64]string{2: authorization.OrgRoleAdmin}}
)

func titles(rows []OrganizationNotification) []string {
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Notification.Title)
	}
	return out
}

func TestSendFansOutToActiveMunicipalities(t *testing.T) {
	_, service := newTestService(t, stubMunicipalities{active: []uint64{1, 2, 3}})

	result, err := service.Send(context.Background(), moderator, SendInput{Title: "Maintenance", Body: "Saturday 22:00"})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Delivered)
	assert.Equal(t, LevelInfo, result.Notification.Level)

	result, err = service.Send(context.Background(), moderator, SendInput{Title: "Targeted", Body: "b", MunicipalityIDs: []uint64{2, 2, 404, 99}})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Delivered)
}

func TestSendValidation(t *testing.T) {
	_, service := newTestService(t, stubMunicipalities{active: []uint64{1}})

	_, err := service.Send(context.Background(), moderator, SendInput{Level: "panic", Role: ptr("owner")})
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Contains(t, appErr.Fields, "title")
	assert.Contains(t, appErr.Fields, "body")
	assert.Contains(t, appErr.Fields, "level")
	assert.Contains(t, appErr.Fields, "role")

	_, err = service.Send(context.Background(), moderator, SendInput{Title: "t", Body: "b", MunicipalityIDs: []uint64{404}})
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))

	_, failing := newTestService(t, stubMunicipalities{err: errors.New("db down")})
	_, err = failing.Send(context.Background(), moderator, SendInput{Title: "t", Body: "b"})
	assert.Error(t, err)
}

func TestListBranchesOnOrgRole(t *testing.T) {
	_, service := newTestService(t, stubMunicipalities{active: []uint64{1}})
	ctx := context.Background()

	for _, in := range []SendInput{
		{Title: "everyone", Body: "b"},
		{Title: "admins", Body: "b", Role: ptr(authorization.OrgRoleAdmin)},
		{Title: "members", Body: "b", Role: ptr(authorization.OrgRoleMember)},
	} {
		_, err := service.Send(ctx, moderator, in)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	page, err := service.List(ctx, orgAdmin, ListFilter{MunicipalityID: 1}, nil, 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"members", "admins", "everyone"}, titles(page.Items))

	page, err = service.List(ctx, orgMember, ListFilter{MunicipalityID: 1}, nil, 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"members", "everyone"}, titles(page.Items))

	page, err = service.List(ctx, moderator, ListFilter{MunicipalityID: 1}, nil, 20)
	require.NoError(t, err)
	assert.Len(t, page.Items, 3)

	_, err = service.List(ctx, outsider, ListFilter{MunicipalityID: 1}, nil, 20)
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))
}

func TestMarkReadAndDelete(t *testing.T) {
	_, service := newTestService(t, stubMunicipalities{active: []uint64{1}})
	ctx := context.Background()

	_, err := service.Send(ctx, moderator, SendInput{Title: "admins only", Body: "b", Role: ptr(authorization.OrgRoleAdmin)})
	require.NoError(t, err)
	page, err := service.List(ctx, orgAdmin, ListFilter{MunicipalityID: 1}, nil, 20)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	id := page.Items[0].ID

	_, err = service.MarkRead(ctx, orgMember, id)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))

	count, err := service.UnreadCount(ctx, orgAdmin, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	row, err := service.MarkRead(ctx, orgAdmin, id)
	require.NoError(t, err)
	assert.True(t, row.Read)
	require.NotNil(t, row.ReadAt)

	count, err = service.UnreadCount(ctx, orgAdmin, 1)
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, service.Delete(ctx, orgAdmin, id))
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(service.Delete(ctx, orgAdmin, id)))
}

func TestMemberCannotDelete(t *testing.T) {
	_, service := newTestService(t, stubMunicipalities{active: []uint64{1}})
	ctx := context.Background()
	_, err := service.Send(ctx, moderator, SendInput{Title: "all", Body: "b"})
	require.NoError(t, err)
	page, err := service.List(ctx, orgMember, ListFilter{MunicipalityID: 1}, nil, 20)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(service.Delete(ctx, orgMember, page.Items[0].ID)))
}

func TestSendEndpointRequiresManagementRole(t *testing.T) {
	h, _ := newTestService(t, stubMunicipalities{active: []uint64{1}})
	member := h.CreateUser(t, "member@example.org", "", map[uint64]string{1: authorization.OrgRoleAdmin})
	mod := h.CreateUser(t, "mod@example.org", authorization.RoleModerator, nil)

	send := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/notifications", strings.NewReader(`{"title":"t","body":"b"}`))
		req.Header.Set("Authorization", token)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		h.Router.ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusForbidden, send(h.Token(t, member)))
	assert.Equal(t, http.StatusCreated, send(h.Token(t, mod)))
}
