package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"municonsole_back/apperr"
	"municonsole_back/assistants"
	"municonsole_back/authorization"
	"municonsole_back/authorization/authtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type allMunicipalities struct{}

func (allMunicipalities) Exists(context.Context, uint64) (bool, error) { return true, nil }

func ptr[T any](v T) *T { return &v }

type fixture struct {
	h          *authtest.Harness
	assistants *assistants.Service
	tools      *Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	h := authtest.New(t)
	assistantService, err := assistants.NewService(h.DB, assistants.NewCatalog(""), allMunicipalities{})
	require.NoError(t, err)
	service, err := NewService(h.DB, assistantService)
	require.NoError(t, err)
	assistants.RegisterRoutes(h.Router, assistantService, h.Auth.Guard())
	RegisterRoutes(h.Router, service, h.Auth.Guard())
	return fixture{h: h, assistants: assistantService, tools: service}
}

var superAdmin = &authorization.Identity{UserID: 1, ManagementRole: authorization.RoleSuperAdmin}

func TestValidateToolReportsAllFields(t *testing.T) {
	err := ValidateTool(&Tool{})
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, map[string]string{
		"name":        msgNameRequired,
		"description": msgDescriptionRequired,
		"type":        msgTypeRequired,
	}, appErr.Fields)

	err = ValidateTool(&Tool{Name: "Search", Description: "Finds pages", Type: "ftp"})
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, msgTypeInvalid, appErr.Fields["type"])

	assert.NoError(t, ValidateTool(&Tool{Name: "Search", Description: "Finds pages", Type: TypeWebSearch}))
}

func TestCreateEndpointRejectsEmptyFields(t *testing.T) {
	f := newFixture(t)
	admin := f.h.CreateUser(t, "root@example.org", authorization.RoleSuperAdmin, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/tools", strings.NewReader(`{"name":"","description":"","type":""}`))
	req.Header.Set("Authorization", f.h.Token(t, admin))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.h.Router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var body struct {
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Name is required", body.Fields["name"])
	assert.Equal(t, "Description is required", body.Fields["description"])
	assert.Equal(t, "Type is required", body.Fields["type"])

	rows, err := f.tools.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCreateRequiresSuperAdmin(t *testing.T) {
	f := newFixture(t)
	moderator := f.h.CreateUser(t, "mod@example.org", authorization.RoleModerator, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/tools", strings.NewReader(`{"name":"a","description":"b","type":"http"}`))
	req.Header.Set("Authorization", f.h.Token(t, moderator))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.h.Router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.tools.Create(ctx, 1, ToolInput{Name: ptr("Lookup"), Description: ptr("x"), Type: ptr(TypeHTTP)})
	require.NoError(t, err)
	_, err = f.tools.Create(ctx, 1, ToolInput{Name: ptr("lookup"), Description: ptr("y"), Type: ptr(TypeHTTP)})
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
}

func TestAttachAndDetach(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assistant, err := f.assistants.Create(ctx, superAdmin, assistants.Input{
		Name:           ptr("Permits"),
		Prompt:         ptr("Help with permits."),
		Type:           ptr(assistants.TypeCustom),
		MunicipalityID: ptr(uint64(5)),
	})
	require.NoError(t, err)
	tool, err := f.tools.Create(ctx, 1, ToolInput{Name: ptr("Knowledge"), Description: ptr("Searches documents"), Type: ptr(TypeRetrieval)})
	require.NoError(t, err)

	_, err = f.tools.Attach(ctx, superAdmin, assistant.ID, BindingInput{ToolID: tool.ID, URLs: &[]string{"mailto:x@example.org"}})
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))

	member := &authorization.Identity{UserID: 9, OrgRoles: map[uint64]string{5: authorization.OrgRoleMember}}
	_, err = f.tools.Attach(ctx, member, assistant.ID, BindingInput{ToolID: tool.ID})
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))

	admin := &authorization.Identity{UserID: 8, OrgRoles: map[uint64]string{5: authorization.OrgRoleAdmin}}
	binding, err := f.tools.Attach(ctx, admin, assistant.ID, BindingInput{ToolID: tool.ID, URLs: &[]string{" https://example.org/permits ", ""}})
	require.NoError(t, err)
	assert.Equal(t, "municipality_5", binding.CollectionName)
	assert.Equal(t, []string{"https://example.org/permits"}, []string(binding.URLs))
	assert.True(t, binding.Enabled)

	updated, err := f.tools.UpdateBinding(ctx, admin, assistant.ID, tool.ID, BindingInput{Enabled: ptr(false)})
	require.NoError(t, err)
	assert.False(t, updated.Enabled)

	enabled, err := f.tools.EnabledBindings(ctx, assistant.ID, true)
	require.NoError(t, err)
	assert.Empty(t, enabled)

	listed, err := f.tools.Bindings(ctx, member, assistant.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.NotNil(t, listed[0].Tool)
	assert.Equal(t, "Knowledge", listed[0].Tool.Name)

	require.NoError(t, f.tools.Detach(ctx, admin, assistant.ID, tool.ID))
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(f.tools.Detach(ctx, admin, assistant.ID, tool.ID)))
}

func TestDeletingAssistantRemovesBindings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assistant, err := f.assistants.Create(ctx, superAdmin, assistants.Input{Name: ptr("Public"), Prompt: ptr("p")})
	require.NoError(t, err)
	tool, err := f.tools.Create(ctx, 1, ToolInput{Name: ptr("Web"), Description: ptr("d"), Type: ptr(TypeWebSearch)})
	require.NoError(t, err)
	_, err = f.tools.Attach(ctx, superAdmin, assistant.ID, BindingInput{ToolID: tool.ID})
	require.NoError(t, err)

	require.NoError(t, f.assistants.Delete(ctx, superAdmin, assistant.ID))
	rows, err := f.tools.EnabledBindings(ctx, assistant.ID, false)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
