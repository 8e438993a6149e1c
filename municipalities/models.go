package municipalities

import "time"

// Municipality is a tenant of the console.
type Municipality struct {
	ID            uint64    `gorm:"primaryKey" json:"id"`
	Name          string    `gorm:"uniqueIndex;size:160;not null" json:"name"`
	CountryCode   string    `gorm:"size:2;not null;index" json:"country_code"`
	Active        bool      `gorm:"not null;default:true;index" json:"active"`
	Website       string    `gorm:"size:512" json:"website,omitempty"`
	Description   string    `gorm:"type:text" json:"description,omitempty"`
	LogoStorageID string    `gorm:"size:255" json:"logo_storage_id,omitempty"`
	LogoURL       string    `gorm:"-" json:"logo_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Input carries the writable fields of a municipality. Nil fields are left
// untouched on update.
type Input struct {
	Name          *string `json:"name"`
	CountryCode   *string `json:"country_code"`
	Active        *bool   `json:"active"`
	Website       *string `json:"website"`
	Description   *string `json:"description"`
	LogoStorageID *string `json:"logo_storage_id"`
}

// Filter narrows a listing.
type Filter struct {
	CountryCode string
	Active      *bool
	Search      string
	// OnlyIDs restricts the listing to these municipalities when non-nil.
	OnlyIDs []uint64
}
