package directory

import "time"

const (
	InvitationPending  = "pending"
	InvitationAccepted = "accepted"
	InvitationRevoked  = "revoked"
	InvitationExpired  = "expired"
)

// Invitation asks an email address to join a municipality with a role.
type Invitation struct {
	ID             uint64     `gorm:"primaryKey" json:"id"`
	Token          string     `gorm:"uniqueIndex;size:64;not null" json:"-"`
	Email          string     `gorm:"size:255;not null;index" json:"email"`
	MunicipalityID uint64     `gorm:"not null;index" json:"municipality_id"`
	Role           string     `gorm:"size:32;not null" json:"role"`
	Status         string     `gorm:"size:16;not null;default:'pending';index" json:"status"`
	InvitedBy      uint64     `gorm:"not null;index" json:"invited_by"`
	AcceptedUserID *uint64    `json:"accepted_user_id,omitempty"`
	ExpiresAt      time.Time  `json:"expires_at"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// InviterCount is one row of the accepted-invitation report.
type InviterCount struct {
	UserID   uint64 `json:"user_id"`
	Email    string `json:"email"`
	Accepted int64  `json:"accepted"`
}
