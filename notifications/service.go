package notifications

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"municonsole_back/apperr"
	"municonsole_back/authorization"
	"municonsole_back/pagination"

	"gorm.io/gorm"
)

// MunicipalitySource lists the municipalities a broadcast reaches.
type MunicipalitySource interface {
	ActiveIDs(ctx context.Context) ([]uint64, error)
	Exists(ctx context.Context, id uint64) (bool, error)
}

// Service stores notifications and their per-municipality deliveries.
type Service struct {
	db             *gorm.DB
	municipalities MunicipalitySource
}

func NewService(db *gorm.DB, municipalities MunicipalitySource) (*Service, error) {
	if db == nil {
		return nil, errors.New("notifications: database is required")
	}
	if err := db.AutoMigrate(&Notification{}, &OrganizationNotification{}); err != nil {
		return nil, fmt.Errorf("notifications: migrate models: %w", err)
	}
	return &Service{db: db, municipalities: municipalities}, nil
}

// SendResult reports a fan-out.
type SendResult struct {
	Notification *Notification `json:"notification"`
	Delivered    int           `json:"delivered"`
	Failed       []uint64      `json:"failed,omitempty"`
}

// Send stores the notification and delivers it to each target
// municipality. A failed delivery is logged and skipped.
func (s *Service) Send(ctx context.Context, caller *authorization.Identity, in SendInput) (*SendResult, error) {
	notification := &Notification{
		Title:     strings.TrimSpace(in.Title),
		Body:      strings.TrimSpace(in.Body),
		Level:     strings.ToLower(strings.TrimSpace(in.Level)),
		CreatedBy: caller.UserID,
	}
	if notification.Level == "" {
		notification.Level = LevelInfo
	}
	var role *string
	if in.Role != nil && strings.TrimSpace(*in.Role) != "" {
		trimmed := strings.TrimSpace(*in.Role)
		role = &trimmed
	}

	fields := map[string]string{}
	if notification.Title == "" {
		fields["title"] = "Title is required"
	}
	if notification.Body == "" {
		fields["body"] = "Message is required"
	}
	switch notification.Level {
	case LevelInfo, LevelWarning, LevelCritical:
	default:
		fields["level"] = "Level must be info, warning or critical"
	}
	if role != nil && !authorization.ValidOrgRole(*role) {
		fields["role"] = "Role must be org:admin or org:member"
	}
	if len(fields) > 0 {
		return nil, apperr.Invalid("invalid notification", fields)
	}

	targets, err := s.targets(ctx, in.MunicipalityIDs)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, apperr.Invalid("no municipalities to notify", map[string]string{"municipality_ids": "Select at least one municipality"})
	}

	if err := s.db.WithContext(ctx).Create(notification).Error; err != nil {
		return nil, fmt.Errorf("notifications: create: %w", err)
	}

	result := &SendResult{Notification: notification}
	for _, municipalityID := range targets {
		delivery := OrganizationNotification{
			NotificationID: notification.ID,
			MunicipalityID: municipalityID,
			Role:           role,
		}
		if err := s.db.WithContext(ctx).Create(&delivery).Error; err != nil {
			log.Printf("notifications: deliver %d to municipality %d: %v", notification.ID, municipalityID, err)
			result.Failed = append(result.Failed, municipalityID)
			continue
		}
		result.Delivered++
	}
	return result, nil
}

func (s *Service) targets(ctx context.Context, requested []uint64) ([]uint64, error) {
	if len(requested) == 0 {
		if s.municipalities == nil {
			return nil, nil
		}
		ids, err := s.municipalities.ActiveIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("notifications: list municipalities: %w", err)
		}
		return ids, nil
	}
	seen := make(map[uint64]struct{}, len(requested))
	out := make([]uint64, 0, len(requested))
	for _, id := range requested {
		if _, dup := seen[id]; dup || id == 0 {
			continue
		}
		seen[id] = struct{}{}
		if s.municipalities != nil {
			exists, err := s.municipalities.Exists(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("notifications: check municipality %d: %w", id, err)
			}
			if !exists {
				log.Printf("notifications: skipping unknown municipality %d", id)
				continue
			}
		}
		out = append(out, id)
	}
	return out, nil
}

// ListFilter narrows a municipality inbox.
type ListFilter struct {
	MunicipalityID uint64
	UnreadOnly     bool
}

// scope restricts query to the deliveries caller may see in municipalityID.
// Management roles and org admins see everything; members see rows sent to
// everyone or to members.
func scope(query *gorm.DB, caller *authorization.Identity, municipalityID uint64) (*gorm.DB, error) {
	query = query.Where("organization_notifications.municipality_id = ?", municipalityID)
	if caller.IsManager() {
		return query, nil
	}
	switch caller.OrgRole(municipalityID) {
	case authorization.OrgRoleAdmin:
		return query, nil
	case authorization.OrgRoleMember:
		return query.Where("organization_notifications.role IS NULL OR organization_notifications.role = ?", authorization.OrgRoleMember), nil
	default:
		return nil, apperr.Forbidden("access to this municipality is not allowed")
	}
}

// List pages through the deliveries of a municipality, newest first.
func (s *Service) List(ctx context.Context, caller *authorization.Identity, filter ListFilter, cursor *pagination.Cursor, limit int) (pagination.Page[OrganizationNotification], error) {
	query, err := scope(s.db.WithContext(ctx).Model(&OrganizationNotification{}), caller, filter.MunicipalityID)
	if err != nil {
		return pagination.Page[OrganizationNotification]{}, err
	}
	if filter.UnreadOnly {
		query = query.Where("organization_notifications.is_read = ?", false)
	}

	var rows []OrganizationNotification
	if err := pagination.Apply(query, "organization_notifications", cursor, limit).Preload("Notification").Find(&rows).Error; err != nil {
		return pagination.Page[OrganizationNotification]{}, fmt.Errorf("notifications: list: %w", err)
	}
	return pagination.Build(rows, limit, func(row OrganizationNotification) pagination.Cursor {
		return pagination.Cursor{CreatedAt: row.CreatedAt, ID: row.ID}
	}), nil
}

// UnreadCount counts unread deliveries visible to caller.
func (s *Service) UnreadCount(ctx context.Context, caller *authorization.Identity, municipalityID uint64) (int64, error) {
	query, err := scope(s.db.WithContext(ctx).Model(&OrganizationNotification{}), caller, municipalityID)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := query.Where("organization_notifications.is_read = ?", false).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("notifications: count unread: %w", err)
	}
	return count, nil
}

func (s *Service) visible(ctx context.Context, caller *authorization.Identity, id uint64) (*OrganizationNotification, error) {
	var row OrganizationNotification
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("notification not found")
		}
		return nil, fmt.Errorf("notifications: load: %w", err)
	}
	query, err := scope(s.db.WithContext(ctx).Model(&OrganizationNotification{}), caller, row.MunicipalityID)
	if err != nil {
		return nil, apperr.NotFound("notification not found")
	}
	var count int64
	if err := query.Where("organization_notifications.id = ?", id).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("notifications: check access: %w", err)
	}
	if count == 0 {
		return nil, apperr.NotFound("notification not found")
	}
	return &row, nil
}

// MarkRead marks a delivery read.
func (s *Service) MarkRead(ctx context.Context, caller *authorization.Identity, id uint64) (*OrganizationNotification, error) {
	row, err := s.visible(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if row.Read {
		return row, nil
	}
	now := time.Now().UTC()
	if err := s.db.WithContext(ctx).Model(row).Updates(map[string]any{"is_read": true, "read_at": now}).Error; err != nil {
		return nil, fmt.Errorf("notifications: mark read: %w", err)
	}
	row.Read = true
	row.ReadAt = &now
	return row, nil
}

// Delete removes a delivery from a municipality inbox. Only managers and
// org admins may delete.
func (s *Service) Delete(ctx context.Context, caller *authorization.Identity, id uint64) error {
	row, err := s.visible(ctx, caller, id)
	if err != nil {
		return err
	}
	if !caller.IsManager() && caller.OrgRole(row.MunicipalityID) != authorization.OrgRoleAdmin {
		return apperr.Forbidden("only organization admins can delete notifications")
	}
	if err := s.db.WithContext(ctx).Delete(&OrganizationNotification{}, id).Error; err != nil {
		return fmt.Errorf("notifications: delete: %w", err)
	}
	return nil
}

// DeleteByMunicipality removes every delivery to a municipality.
func (s *Service) DeleteByMunicipality(ctx context.Context, municipalityID uint64) error {
	return s.db.WithContext(ctx).Where("municipality_id = ?", municipalityID).Delete(&OrganizationNotification{}).Error
}
