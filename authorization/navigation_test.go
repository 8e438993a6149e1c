package authorization

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func navPaths(items []NavItem) []string {
	paths := make([]string, 0, len(items))
	for _, item := range items {
		paths = append(paths, item.Path)
	}
	return paths
}

func TestNavigationModeratorHidesUsersAndTools(t *testing.T) {
	paths := navPaths(NavigationFor(RoleModerator))

	assert.NotContains(t, paths, "/users")
	assert.NotContains(t, paths, "/tools")
	assert.Contains(t, paths, "/municipalities")
}

func TestNavigationSuperAdminSeesEverything(t *testing.T) {
	assert.Equal(t, navPaths(navigation), navPaths(NavigationFor(RoleSuperAdmin)))
}

func TestNavigationWithoutManagementRole(t *testing.T) {
	assert.Equal(t,
		[]string{"/", "/assistants", "/knowledgebase", "/notifications", "/feedback"},
		navPaths(NavigationFor("")),
	)
}

func TestPageRoles(t *testing.T) {
	assert.Equal(t, []string{RoleSuperAdmin}, pageRoles("/users/42"))
	assert.Nil(t, pageRoles("/assistants"))
	assert.Nil(t, pageRoles("/"))
	assert.Nil(t, pageRoles("/toolsmith"))
}
