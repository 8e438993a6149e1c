package notifications

import "time"

const (
	LevelInfo     = "info"
	LevelWarning  = "warning"
	LevelCritical = "critical"
)

// Notification is a message from the platform team.
type Notification struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	Title     string    `gorm:"size:200;not null" json:"title"`
	Body      string    `gorm:"type:text;not null" json:"body"`
	Level     string    `gorm:"size:16;not null" json:"level"`
	CreatedBy uint64    `gorm:"index" json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// OrganizationNotification is the delivery of a notification to one
// municipality. A nil Role targets every member.
type OrganizationNotification struct {
	ID             uint64        `gorm:"primaryKey" json:"id"`
	NotificationID uint64        `gorm:"not null;index" json:"notification_id"`
	MunicipalityID uint64        `gorm:"not null;index" json:"municipality_id"`
	Role           *string       `gorm:"size:32;index" json:"role,omitempty"`
	Read           bool          `gorm:"column:is_read;not null" json:"read"`
	ReadAt         *time.Time    `json:"read_at,omitempty"`
	Notification   *Notification `gorm:"foreignKey:NotificationID" json:"notification,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// SendInput describes a notification to fan out. Empty MunicipalityIDs
// means every active municipality.
type SendInput struct {
	Title           string   `json:"title"`
	Body            string   `json:"body"`
	Level           string   `json:"level"`
	MunicipalityIDs []uint64 `json:"municipality_ids"`
	Role            *string  `json:"role"`
}
