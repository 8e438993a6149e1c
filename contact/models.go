package contact

import (
	"time"

	"gorm.io/datatypes"
)

const (
	TypeBug       = "bug"
	TypeFeature   = "feature"
	TypeQuestion  = "question"
	TypeComplaint = "complaint"
	TypeOther     = "other"

	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"

	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusResolved   = "resolved"
	StatusClosed     = "closed"
)

var (
	feedbackTypes      = []string{TypeBug, TypeFeature, TypeQuestion, TypeComplaint, TypeOther}
	feedbackPriorities = []string{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}
	feedbackStatuses   = []string{StatusOpen, StatusInProgress, StatusResolved, StatusClosed}
)

// Session is an anonymous widget session.
type Session struct {
	ID             string         `gorm:"primaryKey;size:36" json:"id"`
	AssistantID    uint64         `gorm:"not null;index" json:"assistant_id"`
	MunicipalityID *uint64        `gorm:"index" json:"municipality_id,omitempty"`
	VisitorName    string         `gorm:"size:120" json:"visitor_name,omitempty"`
	VisitorEmail   string         `gorm:"size:255" json:"visitor_email,omitempty"`
	Metadata       datatypes.JSON `json:"metadata,omitempty"`
	ExpiresAt      time.Time      `gorm:"not null;index" json:"expires_at"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (Session) TableName() string {
	return "contact_sessions"
}

// Feedback is a ticket filed by a visitor or a staff member.
type Feedback struct {
	ID               uint64    `gorm:"primaryKey" json:"id"`
	MunicipalityID   *uint64   `gorm:"index" json:"municipality_id,omitempty"`
	ContactSessionID *string   `gorm:"size:36;index" json:"contact_session_id,omitempty"`
	UserID           *uint64   `gorm:"index" json:"user_id,omitempty"`
	Email            string    `gorm:"size:255" json:"email,omitempty"`
	Subject          string    `gorm:"size:200;not null" json:"subject"`
	Message          string    `gorm:"type:text;not null" json:"message"`
	Type             string    `gorm:"size:16;not null;index" json:"type"`
	Priority         string    `gorm:"size:16;not null;index" json:"priority"`
	Status           string    `gorm:"size:16;not null;index" json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// SessionInput opens a widget session.
type SessionInput struct {
	AssistantID  uint64         `json:"assistant_id"`
	VisitorName  string         `json:"visitor_name"`
	VisitorEmail string         `json:"visitor_email"`
	Metadata     datatypes.JSON `json:"metadata"`
}

// SessionToken is a session with its signed token.
type SessionToken struct {
	Session   *Session  `json:"session"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// FeedbackInput files a ticket. Anonymous callers without a session token
// answer a captcha.
type FeedbackInput struct {
	MunicipalityID *uint64 `json:"municipality_id"`
	Email          string  `json:"email"`
	Subject        string  `json:"subject"`
	Message        string  `json:"message"`
	Type           string  `json:"type"`
	Priority       string  `json:"priority"`
	CaptchaID      string  `json:"captcha_id"`
	CaptchaAnswer  string  `json:"captcha_answer"`
}

// FeedbackUpdate changes the triage fields of a ticket.
type FeedbackUpdate struct {
	Status   *string `json:"status"`
	Priority *string `json:"priority"`
	Type     *string `json:"type"`
}

// FeedbackFilter narrows the staff listing.
type FeedbackFilter struct {
	MunicipalityID uint64
	Status         string
	Type           string
	Priority       string
}
