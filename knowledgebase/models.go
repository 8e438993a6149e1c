package knowledgebase

import "time"

const (
	SourceDocument = "document"
	SourceLink     = "link"
	SourceSitemap  = "sitemap"
	SourceText     = "text"

	URLTypeSingle  = "single-url"
	URLTypeSitemap = "sitemap"
	URLTypeDomain  = "domain"

	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusNotFound   = "not-found"
	StatusDeleted    = "deleted"

	RefreshNever   = "never"
	RefreshDaily   = "daily"
	RefreshWeekly  = "weekly"
	RefreshMonthly = "monthly"
)

// Item is one knowledge source of a municipality. Items are never removed
// by the API; deletion moves them to StatusDeleted.
type Item struct {
	ID               uint64     `gorm:"primaryKey" json:"id"`
	MunicipalityID   uint64     `gorm:"not null;index" json:"municipality_id"`
	AssistantID      *uint64    `gorm:"index" json:"assistant_id,omitempty"`
	Title            string     `gorm:"size:255;not null" json:"title"`
	Source           string     `gorm:"size:16;not null" json:"source"`
	URL              string     `gorm:"size:2048" json:"url,omitempty"`
	URLType          string     `gorm:"size:16" json:"url_type,omitempty"`
	StorageID        string     `gorm:"size:255" json:"storage_id,omitempty"`
	Content          string     `gorm:"type:text" json:"content,omitempty"`
	Status           string     `gorm:"size:16;not null;index" json:"status"`
	ContentHash      string     `gorm:"size:64" json:"content_hash,omitempty"`
	ChunkCount       int        `gorm:"not null;default:0" json:"chunk_count"`
	RefreshFrequency string     `gorm:"size:16;not null" json:"refresh_frequency"`
	LastRefreshedAt  *time.Time `json:"last_refreshed_at,omitempty"`
	Error            string     `gorm:"type:text" json:"error,omitempty"`
	CreatedBy        uint64     `gorm:"index" json:"created_by"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (Item) TableName() string {
	return "knowledge_items"
}

// Input carries writable item fields.
type Input struct {
	MunicipalityID   uint64  `json:"municipality_id"`
	AssistantID      *uint64 `json:"assistant_id"`
	Title            *string `json:"title"`
	Source           *string `json:"source"`
	URL              *string `json:"url"`
	URLType          *string `json:"url_type"`
	StorageID        *string `json:"storage_id"`
	Content          *string `json:"content"`
	RefreshFrequency *string `json:"refresh_frequency"`
}

// ListFilter narrows a listing. A zero AssistantID lists every item of the
// municipality.
type ListFilter struct {
	MunicipalityID uint64
	AssistantID    uint64
	Status         string
	Source         string
	IncludeDeleted bool
}

func refreshPeriod(frequency string) time.Duration {
	switch frequency {
	case RefreshDaily:
		return 24 * time.Hour
	case RefreshWeekly:
		return 7 * 24 * time.Hour
	case RefreshMonthly:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}
