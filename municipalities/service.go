package municipalities

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"municonsole_back/apperr"
	"municonsole_back/pagination"
	"municonsole_back/storage"

	"gorm.io/gorm"
)

const logoURLExpiry = time.Hour

// DeleteHook cleans up data another module keeps for a municipality.
type DeleteHook func(ctx context.Context, municipalityID uint64) error

// Service stores municipalities.
type Service struct {
	db      *gorm.DB
	objects *storage.ObjectStorage

	mu    sync.RWMutex
	hooks []DeleteHook
}

// NewService migrates the municipality table. objects may be nil.
func NewService(db *gorm.DB, objects *storage.ObjectStorage) (*Service, error) {
	if db == nil {
		return nil, errors.New("municipalities: database is required")
	}
	if err := db.AutoMigrate(&Municipality{}); err != nil {
		return nil, fmt.Errorf("municipalities: migrate models: %w", err)
	}
	return &Service{db: db, objects: objects}, nil
}

// OnDelete registers a hook run after a municipality row is removed.
func (s *Service) OnDelete(hook DeleteHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// Exists reports whether id names a municipality.
func (s *Service) Exists(ctx context.Context, id uint64) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Municipality{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Get loads one municipality.
func (s *Service) Get(ctx context.Context, id uint64) (*Municipality, error) {
	var municipality Municipality
	if err := s.db.WithContext(ctx).First(&municipality, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("municipality not found")
		}
		return nil, fmt.Errorf("municipalities: load: %w", err)
	}
	s.decorate(ctx, &municipality)
	return &municipality, nil
}

// ActiveIDs lists the ids of all active municipalities.
func (s *Service) ActiveIDs(ctx context.Context) ([]uint64, error) {
	var ids []uint64
	err := s.db.WithContext(ctx).Model(&Municipality{}).Where("active = ?", true).Order("id ASC").Pluck("id", &ids).Error
	return ids, err
}

// List pages through municipalities, newest first.
func (s *Service) List(ctx context.Context, filter Filter, cursor *pagination.Cursor, limit int) (pagination.Page[Municipality], error) {
	query := s.db.WithContext(ctx).Model(&Municipality{})
	if filter.OnlyIDs != nil {
		if len(filter.OnlyIDs) == 0 {
			return pagination.Page[Municipality]{Items: []Municipality{}}, nil
		}
		query = query.Where("id IN ?", filter.OnlyIDs)
	}
	if code := strings.ToUpper(strings.TrimSpace(filter.CountryCode)); code != "" {
		query = query.Where("country_code = ?", code)
	}
	if filter.Active != nil {
		query = query.Where("active = ?", *filter.Active)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		query = query.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(search)+"%")
	}

	var rows []Municipality
	if err := pagination.Apply(query, "municipalities", cursor, limit).Find(&rows).Error; err != nil {
		return pagination.Page[Municipality]{}, fmt.Errorf("municipalities: list: %w", err)
	}
	page := pagination.Build(rows, limit, func(m Municipality) pagination.Cursor {
		return pagination.Cursor{CreatedAt: m.CreatedAt, ID: m.ID}
	})
	for idx := range page.Items {
		s.decorate(ctx, &page.Items[idx])
	}
	return page, nil
}

// Create validates in and inserts a municipality.
func (s *Service) Create(ctx context.Context, in Input) (*Municipality, error) {
	if err := normalize(&in, true); err != nil {
		return nil, err
	}
	if err := s.checkLogo(ctx, in.LogoStorageID); err != nil {
		return nil, err
	}

	municipality := &Municipality{Name: *in.Name, CountryCode: *in.CountryCode, Active: true}
	if in.Active != nil {
		municipality.Active = *in.Active
	}
	if in.Website != nil {
		municipality.Website = *in.Website
	}
	if in.Description != nil {
		municipality.Description = *in.Description
	}
	if in.LogoStorageID != nil {
		municipality.LogoStorageID = strings.TrimSpace(*in.LogoStorageID)
	}

	if err := s.db.WithContext(ctx).Create(municipality).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperr.Conflict("a municipality with this name already exists")
		}
		return nil, fmt.Errorf("municipalities: create: %w", err)
	}
	s.decorate(ctx, municipality)
	return municipality, nil
}

// Update applies the non-nil fields of in.
func (s *Service) Update(ctx context.Context, id uint64, in Input) (*Municipality, error) {
	if err := normalize(&in, false); err != nil {
		return nil, err
	}
	if err := s.checkLogo(ctx, in.LogoStorageID); err != nil {
		return nil, err
	}

	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if in.Name != nil {
		updates["name"] = *in.Name
	}
	if in.CountryCode != nil {
		updates["country_code"] = *in.CountryCode
	}
	if in.Active != nil {
		updates["active"] = *in.Active
	}
	if in.Website != nil {
		updates["website"] = *in.Website
	}
	if in.Description != nil {
		updates["description"] = *in.Description
	}
	oldLogo := existing.LogoStorageID
	if in.LogoStorageID != nil {
		updates["logo_storage_id"] = strings.TrimSpace(*in.LogoStorageID)
	}
	if len(updates) == 0 {
		return existing, nil
	}

	if err := s.db.WithContext(ctx).Model(&Municipality{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperr.Conflict("a municipality with this name already exists")
		}
		return nil, fmt.Errorf("municipalities: update: %w", err)
	}
	if in.LogoStorageID != nil && oldLogo != "" && oldLogo != strings.TrimSpace(*in.LogoStorageID) {
		if err := s.objects.Remove(ctx, oldLogo); err != nil {
			log.Printf("municipalities: remove old logo %s: %v", oldLogo, err)
		}
	}
	return s.Get(ctx, id)
}

// Delete removes a municipality once confirmation equals its name exactly.
// Nothing is deleted otherwise.
func (s *Service) Delete(ctx context.Context, id uint64, confirmation string) error {
	municipality, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ConfirmDelete(municipality.Name, confirmation) {
		return apperr.Invalid(MsgConfirmationMismatch, map[string]string{"confirmation": MsgConfirmationMismatch})
	}

	if err := s.db.WithContext(ctx).Delete(&Municipality{}, id).Error; err != nil {
		return fmt.Errorf("municipalities: delete: %w", err)
	}

	s.mu.RLock()
	hooks := append([]DeleteHook(nil), s.hooks...)
	s.mu.RUnlock()
	for _, hook := range hooks {
		if err := hook(ctx, id); err != nil {
			log.Printf("municipalities: cleanup after deleting %d: %v", id, err)
		}
	}
	if municipality.LogoStorageID != "" {
		if err := s.objects.Remove(ctx, municipality.LogoStorageID); err != nil {
			log.Printf("municipalities: remove logo %s: %v", municipality.LogoStorageID, err)
		}
	}
	return nil
}

// LogoUploadURL returns a signed URL for uploading a logo of municipality id.
func (s *Service) LogoUploadURL(ctx context.Context, id uint64, filename string) (string, string, error) {
	if s.objects == nil {
		return "", "", apperr.New(apperr.CodeUnavailable, "file storage is not configured")
	}
	if _, err := s.Get(ctx, id); err != nil {
		return "", "", err
	}
	return s.objects.PresignedUploadURL(ctx, filename, "municipalities", fmt.Sprintf("%d", id), "logo")
}

func (s *Service) checkLogo(ctx context.Context, storageID *string) error {
	if storageID == nil || strings.TrimSpace(*storageID) == "" || s.objects == nil {
		return nil
	}
	if _, err := s.objects.Stat(ctx, strings.TrimSpace(*storageID)); err != nil {
		return apperr.Invalid("logo upload not found", map[string]string{"logo_storage_id": "Upload the logo before saving"})
	}
	return nil
}

func (s *Service) decorate(ctx context.Context, municipality *Municipality) {
	if municipality.LogoStorageID == "" {
		return
	}
	if s.objects == nil {
		municipality.LogoURL = municipality.LogoStorageID
		return
	}
	signed, err := s.objects.PresignedURL(ctx, municipality.LogoStorageID, logoURLExpiry)
	if err != nil {
		log.Printf("municipalities: sign logo url: %v", err)
		return
	}
	municipality.LogoURL = signed
}
