package authorization

import (
	"encoding/json"
	"sort"
	"strconv"

	jwt "github.com/appleboy/gin-jwt/v2"
	"github.com/gin-gonic/gin"
)

const (
	identityKey        = "user_id"
	identityContextKey = "authorization.identity"
)

// Identity is what the console knows about the caller, read from JWT claims.
type Identity struct {
	UserID         uint64
	Email          string
	ManagementRole string
	CountryCode    string
	OrgRoles       map[uint64]string
}

// IsSuperAdmin reports whether the caller holds the super_admin tier.
func (i *Identity) IsSuperAdmin() bool {
	return i != nil && i.ManagementRole == RoleSuperAdmin
}

// IsManager reports whether the caller holds any management role.
func (i *Identity) IsManager() bool {
	return i != nil && (i.ManagementRole == RoleSuperAdmin || i.ManagementRole == RoleModerator)
}

// OrgRole returns the caller's role in municipalityID, or "".
func (i *Identity) OrgRole(municipalityID uint64) string {
	if i == nil || i.OrgRoles == nil {
		return ""
	}
	return i.OrgRoles[municipalityID]
}

// MunicipalityIDs lists the municipalities the caller belongs to, ascending.
func (i *Identity) MunicipalityIDs() []uint64 {
	if i == nil {
		return nil
	}
	ids := make([]uint64, 0, len(i.OrgRoles))
	for id := range i.OrgRoles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids
}

// CanAccessMunicipality is true for managers and for members of municipalityID.
func (i *Identity) CanAccessMunicipality(municipalityID uint64) bool {
	return i.IsManager() || i.OrgRole(municipalityID) != ""
}

// Claims renders the identity as JWT claims.
func (i *Identity) Claims() jwt.MapClaims {
	if i == nil {
		return jwt.MapClaims{}
	}
	orgRoles := make(map[string]interface{}, len(i.OrgRoles))
	for id, role := range i.OrgRoles {
		orgRoles[strconv.FormatUint(id, 10)] = role
	}
	return jwt.MapClaims{
		identityKey:       i.UserID,
		"email":           i.Email,
		"management_role": i.ManagementRole,
		"country_code":    i.CountryCode,
		"org_roles":       orgRoles,
	}
}

// IdentityFromClaims parses claims produced by Claims. It returns nil when
// the claims carry no user id.
func IdentityFromClaims(claims jwt.MapClaims) *Identity {
	userID := extractUserID(claims)
	if userID == 0 {
		return nil
	}
	identity := &Identity{UserID: userID, OrgRoles: map[uint64]string{}}
	identity.Email, _ = claims["email"].(string)
	identity.ManagementRole, _ = claims["management_role"].(string)
	identity.CountryCode, _ = claims["country_code"].(string)

	if raw, ok := claims["org_roles"].(map[string]interface{}); ok {
		for key, value := range raw {
			id, err := strconv.ParseUint(key, 10, 64)
			if err != nil {
				continue
			}
			if role, ok := value.(string); ok && ValidOrgRole(role) {
				identity.OrgRoles[id] = role
			}
		}
	}
	return identity
}

// CurrentIdentity returns the identity attached to the request by the route
// protection middleware or the JWT middleware, or nil for anonymous callers.
func CurrentIdentity(c *gin.Context) *Identity {
	if value, ok := c.Get(identityContextKey); ok {
		if identity, ok := value.(*Identity); ok {
			return identity
		}
	}
	identity := IdentityFromClaims(jwt.ExtractClaims(c))
	if identity != nil {
		c.Set(identityContextKey, identity)
	}
	return identity
}

func extractUserID(claims jwt.MapClaims) uint64 {
	if claims == nil {
		return 0
	}
	idValue, ok := claims[identityKey]
	if !ok {
		return 0
	}

	switch v := idValue.(type) {
	case float64:
		if v > 0 {
			return uint64(v)
		}
	case int64:
		if v > 0 {
			return uint64(v)
		}
	case int:
		if v > 0 {
			return uint64(v)
		}
	case uint64:
		return v
	case uint:
		return uint64(v)
	case json.Number:
		if parsed, err := v.Int64(); err == nil && parsed > 0 {
			return uint64(parsed)
		}
	}
	return 0
}
