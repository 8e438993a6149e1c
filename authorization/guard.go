package authorization

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	jwt "github.com/appleboy/gin-jwt/v2"
	"github.com/gin-gonic/gin"
)

// Guard 封装 JWT 中间件以提供授权辅助方法。
type Guard struct {
	jwt *jwt.GinJWTMiddleware
}

// NewGuard 根据给定的 JWT 中间件构建守卫辅助。
func NewGuard(jwtMiddleware *jwt.GinJWTMiddleware) *Guard {
	if jwtMiddleware == nil {
		return nil
	}
	return &Guard{jwt: jwtMiddleware}
}

// Guard 返回模块内部复用的守卫实例。
func (m *Module) Guard() *Guard {
	if m == nil {
		return nil
	}
	return NewGuard(m.jwtMiddleware)
}

// RequireAuthenticated 确保请求携带有效的 JWT。
func (g *Guard) RequireAuthenticated() gin.HandlerFunc {
	if g == nil || g.jwt == nil {
		return func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		}
	}
	return g.jwt.MiddlewareFunc()
}

// RequireManagementRole 要求调用者具备给定管理角色之一。
func (g *Guard) RequireManagementRole(roles ...string) gin.HandlerFunc {
	allowed := normalizeRoles(roles)
	message := roleMessage(allowed)

	return func(c *gin.Context) {
		identity := CurrentIdentity(c)
		if identity == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if len(allowed) == 0 || containsRole(allowed, identity.ManagementRole) {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": message})
	}
}

// RequireOrgRole 要求调用者在路径参数（或查询参数）指定的市政单位中具备给定组织角色；
// 管理角色直接放行。
func (g *Guard) RequireOrgRole(param string, roles ...string) gin.HandlerFunc {
	allowed := normalizeRoles(roles)
	message := roleMessage(allowed)

	return func(c *gin.Context) {
		identity := CurrentIdentity(c)
		if identity == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if identity.IsManager() {
			c.Next()
			return
		}

		raw := c.Param(param)
		if raw == "" {
			raw = c.Query(param)
		}
		municipalityID, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err != nil || municipalityID == 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid %s", param)})
			return
		}

		role := identity.OrgRole(municipalityID)
		if role == "" || (len(allowed) > 0 && !containsRole(allowed, role)) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": message})
			return
		}
		c.Next()
	}
}

func normalizeRoles(roles []string) []string {
	normalized := make([]string, 0, len(roles))
	for _, role := range roles {
		if trimmed := strings.TrimSpace(role); trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}

func roleMessage(roles []string) string {
	switch len(roles) {
	case 0:
		return "insufficient privileges"
	case 1:
		return fmt.Sprintf("%s role required", roles[0])
	default:
		return fmt.Sprintf("one of [%s] roles required", strings.Join(roles, ", "))
	}
}
