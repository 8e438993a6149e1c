package authorization

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// NavItem is one sidebar entry. Empty Roles means every signed-in user.
type NavItem struct {
	Path  string   `json:"path"`
	Label string   `json:"label"`
	Icon  string   `json:"icon"`
	Roles []string `json:"-"`
}

var navigation = []NavItem{
	{Path: "/", Label: "Dashboard", Icon: "layout-dashboard"},
	{Path: "/municipalities", Label: "Municipalities", Icon: "building", Roles: []string{RoleSuperAdmin, RoleModerator}},
	{Path: "/assistants", Label: "Assistants", Icon: "bot"},
	{Path: "/knowledgebase", Label: "Knowledge Base", Icon: "book-open"},
	{Path: "/tools", Label: "Tools", Icon: "wrench", Roles: []string{RoleSuperAdmin}},
	{Path: "/notifications", Label: "Notifications", Icon: "bell"},
	{Path: "/users", Label: "Users", Icon: "users", Roles: []string{RoleSuperAdmin}},
	{Path: "/feedback", Label: "Feedback", Icon: "message-square"},
}

// NavigationFor filters the sidebar by management role.
func NavigationFor(managementRole string) []NavItem {
	items := make([]NavItem, 0, len(navigation))
	for _, item := range navigation {
		if item.allows(managementRole) {
			items = append(items, item)
		}
	}
	return items
}

// pageRoles returns the management roles required to open a console page,
// taken from the longest matching sidebar entry.
func pageRoles(path string) []string {
	var match *NavItem
	for idx := range navigation {
		item := &navigation[idx]
		if item.Path == "/" {
			continue
		}
		if path == item.Path || strings.HasPrefix(path, item.Path+"/") {
			if match == nil || len(item.Path) > len(match.Path) {
				match = item
			}
		}
	}
	if match == nil {
		return nil
	}
	return match.Roles
}

func (item NavItem) allows(role string) bool {
	if len(item.Roles) == 0 {
		return true
	}
	for _, candidate := range item.Roles {
		if candidate == role {
			return true
		}
	}
	return false
}

func (m *Module) handleNavigation(c *gin.Context) {
	identity := CurrentIdentity(c)
	if identity == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": NavigationFor(identity.ManagementRole)})
}
