package authorization

import (
	"strings"
	"time"
)

// 管理角色与组织角色取值。
const (
	RoleSuperAdmin = "super_admin"
	RoleModerator  = "moderator"

	OrgRoleAdmin  = "org:admin"
	OrgRoleMember = "org:member"
)

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// User represents a console account.
type User struct {
	ID             uint64 `gorm:"primaryKey"`
	Email          string `gorm:"uniqueIndex;size:255;not null"`
	PasswordHash   string `gorm:"size:255;not null"`
	DisplayName    string `gorm:"size:128;not null;default:''"`
	ManagementRole string `gorm:"size:32;not null;default:'';index"`
	CountryCode    string `gorm:"size:2;not null;default:''"`
	Status         string `gorm:"size:32;default:'active'"`
	LastLoginAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Membership binds a user to a municipality with an organization role.
type Membership struct {
	ID             uint64 `gorm:"primaryKey"`
	UserID         uint64 `gorm:"uniqueIndex:idx_membership_user_org;not null"`
	MunicipalityID uint64 `gorm:"uniqueIndex:idx_membership_user_org;index;not null"`
	Role           string `gorm:"size:32;not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ValidManagementRole reports whether role may be stored on a user. The
// empty string means "no management role".
func ValidManagementRole(role string) bool {
	switch role {
	case "", RoleSuperAdmin, RoleModerator:
		return true
	default:
		return false
	}
}

// ValidOrgRole reports whether role is a known organization role.
func ValidOrgRole(role string) bool {
	return role == OrgRoleAdmin || role == OrgRoleMember
}

// NormalizeEmail lower-cases and trims an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UserPayload is the public JSON shape of a user.
func UserPayload(user *User) map[string]any {
	if user == nil {
		return map[string]any{}
	}
	var role any
	if user.ManagementRole != "" {
		role = user.ManagementRole
	}
	var country any
	if user.CountryCode != "" {
		country = user.CountryCode
	}
	return map[string]any{
		"id":              user.ID,
		"email":           user.Email,
		"display_name":    user.DisplayName,
		"management_role": role,
		"country_code":    country,
		"status":          user.Status,
		"last_login_at":   user.LastLoginAt,
		"created_at":      user.CreatedAt,
		"updated_at":      user.UpdatedAt,
	}
}
