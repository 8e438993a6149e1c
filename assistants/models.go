package assistants

import (
	"time"

	"gorm.io/datatypes"
)

const (
	TypePublic  = "public"
	TypePrivate = "private"
	TypeCustom  = "custom"
)

// Assistant is an AI chat persona bound to a model and prompt.
type Assistant struct {
	ID             uint64         `gorm:"primaryKey" json:"id"`
	Name           string         `gorm:"size:120;not null" json:"name"`
	Description    string         `gorm:"type:text" json:"description,omitempty"`
	Prompt         string         `gorm:"type:text;not null" json:"prompt"`
	Model          string         `gorm:"size:120;not null" json:"model"`
	Type           string         `gorm:"size:16;not null;default:'public';index" json:"type"`
	MunicipalityID *uint64        `gorm:"index" json:"municipality_id,omitempty"`
	VectorStoreID  string         `gorm:"size:120" json:"vector_store_id,omitempty"`
	OpeningLine    string         `gorm:"type:text" json:"opening_line,omitempty"`
	ModelParams    datatypes.JSON `json:"model_params,omitempty"`
	CreatedBy      uint64         `gorm:"not null;index" json:"created_by"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Input carries writable assistant fields; nil fields are untouched on update.
type Input struct {
	Name           *string        `json:"name"`
	Description    *string        `json:"description"`
	Prompt         *string        `json:"prompt"`
	Model          *string        `json:"model"`
	Type           *string        `json:"type"`
	MunicipalityID *uint64        `json:"municipality_id"`
	VectorStoreID  *string        `json:"vector_store_id"`
	OpeningLine    *string        `json:"opening_line"`
	ModelParams    datatypes.JSON `json:"model_params"`
}

// ModelParameters are the generation settings read from ModelParams.
type ModelParameters struct {
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
}
