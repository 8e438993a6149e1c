package authorization

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

const signInPath = "/sign-in"

// RouteMatcher reports whether a request path matches any of its patterns.
// Patterns are anchored regular expressions such as "/sign-in(.*)".
type RouteMatcher func(path string) bool

// NewRouteMatcher compiles patterns into a RouteMatcher. It panics on an
// invalid pattern since patterns are fixed at startup.
func NewRouteMatcher(patterns ...string) RouteMatcher {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		compiled = append(compiled, regexp.MustCompile("^"+pattern+"$"))
	}
	return func(path string) bool {
		for _, re := range compiled {
			if re.MatchString(path) {
				return true
			}
		}
		return false
	}
}

var (
	isPublicRoute = NewRouteMatcher(
		"/sign-in(.*)",
		"/sign-up(.*)",
		"/accept-invitation(.*)",
		"/healthz",
		"/auth/login",
		"/auth/refresh",
		"/auth/captcha",
		"/api/directory/invitations/accept",
		"/api/contact/(.*)",
		"/api/widget/(.*)",
		"/favicon.ico",
		"/assets/(.*)",
	)
	isAPIRoute = NewRouteMatcher("/api(/.*)?", "/auth(/.*)?")
)

// ProtectRoutes enforces sign-in for everything except public paths. API
// callers without a valid token get 401; page requests are redirected to the
// sign-in page, or to "/" when their management role does not open the page.
// Token validation itself is gin-jwt's.
func (m *Module) ProtectRoutes() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if c.Request.Method == http.MethodOptions || isPublicRoute(path) {
			c.Next()
			return
		}

		api := isAPIRoute(path)
		identity := m.authenticate(c)
		if identity == nil {
			if api {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
				return
			}
			target := signInPath + "?redirect_url=" + url.QueryEscape(c.Request.URL.RequestURI())
			c.Redirect(http.StatusFound, target)
			c.Abort()
			return
		}

		if !api {
			if roles := pageRoles(path); len(roles) > 0 && !containsRole(roles, identity.ManagementRole) {
				c.Redirect(http.StatusFound, "/")
				c.Abort()
				return
			}
		}
		c.Next()
	}
}

// authenticate parses the request token and stores the claims the same way
// the gin-jwt middleware does, so jwt.ExtractClaims keeps working downstream.
func (m *Module) authenticate(c *gin.Context) *Identity {
	if m == nil || m.jwtMiddleware == nil {
		return nil
	}
	claims, err := m.jwtMiddleware.GetClaimsFromJWT(c)
	if err != nil {
		return nil
	}
	if exp, ok := claims["exp"].(float64); !ok || int64(exp) < m.jwtMiddleware.TimeFunc().Unix() {
		return nil
	}
	identity := IdentityFromClaims(claims)
	if identity == nil {
		return nil
	}
	c.Set("JWT_PAYLOAD", claims)
	c.Set(m.jwtMiddleware.IdentityKey, identity)
	c.Set(identityContextKey, identity)
	return identity
}

func containsRole(roles []string, role string) bool {
	role = strings.TrimSpace(role)
	if role == "" {
		return false
	}
	for _, candidate := range roles {
		if candidate == role {
			return true
		}
	}
	return false
}
