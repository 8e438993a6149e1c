package tools

import (
	"time"

	"gorm.io/datatypes"
)

const (
	TypeRetrieval = "retrieval"
	TypeWebSearch = "web_search"
	TypeHTTP      = "http"
	TypeCustom    = "custom"
)

// Tool is a capability an assistant can call while answering.
type Tool struct {
	ID          uint64         `gorm:"primaryKey" json:"id"`
	Name        string         `gorm:"size:120;not null;uniqueIndex" json:"name"`
	Description string         `gorm:"type:text;not null" json:"description"`
	Type        string         `gorm:"size:32;not null;index" json:"type"`
	Definition  datatypes.JSON `json:"definition,omitempty"`
	CreatedBy   uint64         `gorm:"index" json:"created_by"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// AssistantTool binds a tool to an assistant with per-assistant settings.
type AssistantTool struct {
	ID             uint64                      `gorm:"primaryKey" json:"id"`
	AssistantID    uint64                      `gorm:"not null;uniqueIndex:idx_assistant_tool" json:"assistant_id"`
	ToolID         uint64                      `gorm:"not null;uniqueIndex:idx_assistant_tool" json:"tool_id"`
	CollectionName string                      `gorm:"size:120" json:"collection_name,omitempty"`
	URLs           datatypes.JSONSlice[string] `json:"urls"`
	SearchParams   datatypes.JSON              `json:"search_params,omitempty"`
	Enabled        bool                        `gorm:"not null" json:"enabled"`
	Tool           *Tool                       `gorm:"foreignKey:ToolID" json:"tool,omitempty"`
	CreatedAt      time.Time                   `json:"created_at"`
	UpdatedAt      time.Time                   `json:"updated_at"`
}

// ToolInput carries writable tool fields.
type ToolInput struct {
	Name        *string        `json:"name"`
	Description *string        `json:"description"`
	Type        *string        `json:"type"`
	Definition  datatypes.JSON `json:"definition"`
}

// BindingInput carries writable assistant tool fields.
type BindingInput struct {
	ToolID         uint64         `json:"tool_id"`
	CollectionName *string        `json:"collection_name"`
	URLs           *[]string      `json:"urls"`
	SearchParams   datatypes.JSON `json:"search_params"`
	Enabled        *bool          `json:"enabled"`
}
