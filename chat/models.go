package chat

import (
	"time"

	"gorm.io/datatypes"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	StatusActive = "active"
	StatusClosed = "closed"
)

// Thread is one conversation between a participant and an assistant.
type Thread struct {
	ID               string    `gorm:"primaryKey;size:36" json:"id"`
	AssistantID      uint64    `gorm:"not null;index" json:"assistant_id"`
	MunicipalityID   *uint64   `gorm:"index" json:"municipality_id,omitempty"`
	ContactSessionID *string   `gorm:"size:36;index" json:"contact_session_id,omitempty"`
	UserID           *uint64   `gorm:"index" json:"user_id,omitempty"`
	Title            string    `gorm:"size:200" json:"title"`
	Status           string    `gorm:"size:16;not null;default:'active'" json:"status"`
	LastMessageAt    time.Time `json:"last_message_at"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (Thread) TableName() string {
	return "chat_threads"
}

// Message is an append-only thread entry. Seq strictly increases per thread.
type Message struct {
	ID          uint64         `gorm:"primaryKey" json:"id"`
	ThreadID    string         `gorm:"size:36;not null;uniqueIndex:idx_thread_seq,priority:1" json:"thread_id"`
	Seq         int            `gorm:"not null;uniqueIndex:idx_thread_seq,priority:2" json:"seq"`
	Role        string         `gorm:"size:16;not null" json:"role"`
	Content     string         `gorm:"type:text;not null" json:"content"`
	ContentHTML string         `gorm:"type:text" json:"content_html,omitempty"`
	Attachments datatypes.JSON `json:"attachments,omitempty"`
	LatencyMs   *int           `json:"latency_ms,omitempty"`
	TokenInput  *int           `json:"token_input,omitempty"`
	TokenOutput *int           `json:"token_output,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (Message) TableName() string {
	return "chat_messages"
}

// ThreadInput opens a thread.
type ThreadInput struct {
	AssistantID uint64 `json:"assistant_id"`
	Title       string `json:"title"`
}

// MessageInput is a user turn.
type MessageInput struct {
	Content     string         `json:"content"`
	Attachments datatypes.JSON `json:"attachments"`
}

// SendResult pairs a user message with the generated reply. AssistantError
// is set when the message was stored but no reply could be produced.
type SendResult struct {
	ThreadID         string   `json:"thread_id"`
	UserMessage      Message  `json:"user_message"`
	AssistantMessage *Message `json:"assistant_message,omitempty"`
	AssistantError   string   `json:"assistant_error,omitempty"`
}
