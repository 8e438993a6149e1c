package assistants

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"municonsole_back/apperr"
	"municonsole_back/authorization"
	"municonsole_back/pagination"
	"municonsole_back/vectorstore"

	"gorm.io/gorm"
)

// MunicipalityLookup reports whether a municipality exists.
type MunicipalityLookup interface {
	Exists(ctx context.Context, id uint64) (bool, error)
}

// DeleteHook cleans up data another module keeps for an assistant.
type DeleteHook func(ctx context.Context, assistantID uint64) error

// Service stores assistants.
type Service struct {
	db             *gorm.DB
	catalog        *Catalog
	municipalities MunicipalityLookup

	mu    sync.RWMutex
	hooks []DeleteHook
}

// NewService migrates the assistant table.
func NewService(db *gorm.DB, catalog *Catalog, municipalities MunicipalityLookup) (*Service, error) {
	if db == nil {
		return nil, errors.New("assistants: database is required")
	}
	if catalog == nil {
		catalog = NewCatalog("")
	}
	if err := db.AutoMigrate(&Assistant{}); err != nil {
		return nil, fmt.Errorf("assistants: migrate models: %w", err)
	}
	return &Service{db: db, catalog: catalog, municipalities: municipalities}, nil
}

// OnDelete registers a hook run after an assistant row is removed.
func (s *Service) OnDelete(hook DeleteHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

func (s *Service) runHooks(ctx context.Context, ids ...uint64) {
	s.mu.RLock()
	hooks := append([]DeleteHook(nil), s.hooks...)
	s.mu.RUnlock()
	for _, id := range ids {
		for _, hook := range hooks {
			if err := hook(ctx, id); err != nil {
				log.Printf("assistants: cleanup after deleting %d: %v", id, err)
			}
		}
	}
}

// Catalog exposes the model catalog.
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// Visible reports whether caller may read assistant. Management roles see
// everything; otherwise the decision branches on the caller's org role in
// the assistant's municipality.
func Visible(caller *authorization.Identity, assistant *Assistant) bool {
	if assistant == nil {
		return false
	}
	if caller.IsManager() || assistant.Type == TypePublic {
		return true
	}
	if assistant.MunicipalityID == nil {
		return false
	}
	switch caller.OrgRole(*assistant.MunicipalityID) {
	case authorization.OrgRoleAdmin:
		return true
	case authorization.OrgRoleMember:
		return assistant.Type != TypePrivate
	default:
		return false
	}
}

// CanManage reports whether caller may edit or delete assistant.
func CanManage(caller *authorization.Identity, assistant *Assistant) bool {
	if caller.IsManager() {
		return true
	}
	if assistant == nil || assistant.MunicipalityID == nil {
		return false
	}
	return caller.OrgRole(*assistant.MunicipalityID) == authorization.OrgRoleAdmin
}

// Get loads an assistant without access checks.
func (s *Service) Get(ctx context.Context, id uint64) (*Assistant, error) {
	var assistant Assistant
	if err := s.db.WithContext(ctx).First(&assistant, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("assistant not found")
		}
		return nil, fmt.Errorf("assistants: load: %w", err)
	}
	return &assistant, nil
}

// GetVisible loads an assistant the caller may read.
func (s *Service) GetVisible(ctx context.Context, caller *authorization.Identity, id uint64) (*Assistant, error) {
	assistant, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !Visible(caller, assistant) {
		return nil, apperr.NotFound("assistant not found")
	}
	return assistant, nil
}

// ListFilter narrows a listing.
type ListFilter struct {
	MunicipalityID uint64
	Type           string
}

// List pages through the assistants visible to caller.
func (s *Service) List(ctx context.Context, caller *authorization.Identity, filter ListFilter, cursor *pagination.Cursor, limit int) (pagination.Page[Assistant], error) {
	query := s.db.WithContext(ctx).Model(&Assistant{})
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}

	switch {
	case caller.IsManager():
		if filter.MunicipalityID != 0 {
			query = query.Where("municipality_id = ?", filter.MunicipalityID)
		}
	case filter.MunicipalityID != 0:
		switch caller.OrgRole(filter.MunicipalityID) {
		case authorization.OrgRoleAdmin:
			query = query.Where("type = ? OR municipality_id = ?", TypePublic, filter.MunicipalityID)
		case authorization.OrgRoleMember:
			query = query.Where("type = ? OR (municipality_id = ? AND type <> ?)", TypePublic, filter.MunicipalityID, TypePrivate)
		default:
			query = query.Where("type = ?", TypePublic)
		}
	default:
		var adminOf, memberOf []uint64
		for _, id := range caller.MunicipalityIDs() {
			if caller.OrgRole(id) == authorization.OrgRoleAdmin {
				adminOf = append(adminOf, id)
			} else {
				memberOf = append(memberOf, id)
			}
		}
		scope := s.db.Where("type = ?", TypePublic)
		if len(adminOf) > 0 {
			scope = scope.Or("municipality_id IN ?", adminOf)
		}
		if len(memberOf) > 0 {
			scope = scope.Or("municipality_id IN ? AND type <> ?", memberOf, TypePrivate)
		}
		query = query.Where(scope)
	}

	var rows []Assistant
	if err := pagination.Apply(query, "assistants", cursor, limit).Find(&rows).Error; err != nil {
		return pagination.Page[Assistant]{}, fmt.Errorf("assistants: list: %w", err)
	}
	return pagination.Build(rows, limit, func(a Assistant) pagination.Cursor {
		return pagination.Cursor{CreatedAt: a.CreatedAt, ID: a.ID}
	}), nil
}

// Create validates in and stores a new assistant owned by caller.
func (s *Service) Create(ctx context.Context, caller *authorization.Identity, in Input) (*Assistant, error) {
	assistant := &Assistant{Type: TypePublic, Model: s.catalog.Default(), CreatedBy: caller.UserID}
	apply(assistant, in)
	if err := s.validate(ctx, assistant); err != nil {
		return nil, err
	}
	if !CanManage(caller, assistant) {
		return nil, apperr.Forbidden("only organization admins can create assistants for a municipality")
	}
	if assistant.Type == TypePublic && !caller.IsManager() {
		return nil, apperr.Forbidden("only management roles can create public assistants")
	}

	if err := s.db.WithContext(ctx).Create(assistant).Error; err != nil {
		return nil, fmt.Errorf("assistants: create: %w", err)
	}
	return assistant, nil
}

// Update applies the non-nil fields of in.
func (s *Service) Update(ctx context.Context, caller *authorization.Identity, id uint64, in Input) (*Assistant, error) {
	assistant, err := s.GetVisible(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if !CanManage(caller, assistant) {
		return nil, apperr.Forbidden("you cannot edit this assistant")
	}

	apply(assistant, in)
	if err := s.validate(ctx, assistant); err != nil {
		return nil, err
	}
	if !CanManage(caller, assistant) || (assistant.Type == TypePublic && !caller.IsManager()) {
		return nil, apperr.Forbidden("you cannot move this assistant there")
	}
	if err := s.db.WithContext(ctx).Save(assistant).Error; err != nil {
		return nil, fmt.Errorf("assistants: update: %w", err)
	}
	return assistant, nil
}

// Delete removes an assistant.
func (s *Service) Delete(ctx context.Context, caller *authorization.Identity, id uint64) error {
	assistant, err := s.GetVisible(ctx, caller, id)
	if err != nil {
		return err
	}
	if !CanManage(caller, assistant) {
		return apperr.Forbidden("you cannot delete this assistant")
	}
	if err := s.db.WithContext(ctx).Delete(&Assistant{}, id).Error; err != nil {
		return fmt.Errorf("assistants: delete: %w", err)
	}
	s.runHooks(ctx, id)
	return nil
}

// DeleteByMunicipality removes every assistant of a municipality.
func (s *Service) DeleteByMunicipality(ctx context.Context, municipalityID uint64) error {
	var ids []uint64
	if err := s.db.WithContext(ctx).Model(&Assistant{}).Where("municipality_id = ?", municipalityID).Pluck("id", &ids).Error; err != nil {
		return fmt.Errorf("assistants: list for municipality: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&Assistant{}).Error; err != nil {
		return fmt.Errorf("assistants: delete for municipality: %w", err)
	}
	s.runHooks(ctx, ids...)
	return nil
}

// Parameters decodes the generation settings of assistant.
func Parameters(assistant *Assistant) ModelParameters {
	var params ModelParameters
	if assistant != nil && len(assistant.ModelParams) > 0 {
		_ = json.Unmarshal(assistant.ModelParams, &params)
	}
	return params
}

func apply(assistant *Assistant, in Input) {
	if in.Name != nil {
		assistant.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		assistant.Description = strings.TrimSpace(*in.Description)
	}
	if in.Prompt != nil {
		assistant.Prompt = strings.TrimSpace(*in.Prompt)
	}
	if in.Model != nil {
		assistant.Model = strings.TrimSpace(*in.Model)
	}
	if in.Type != nil {
		assistant.Type = strings.ToLower(strings.TrimSpace(*in.Type))
	}
	if in.MunicipalityID != nil {
		if *in.MunicipalityID == 0 {
			assistant.MunicipalityID = nil
		} else {
			id := *in.MunicipalityID
			assistant.MunicipalityID = &id
		}
	}
	if in.VectorStoreID != nil {
		assistant.VectorStoreID = strings.TrimSpace(*in.VectorStoreID)
	}
	if in.OpeningLine != nil {
		assistant.OpeningLine = strings.TrimSpace(*in.OpeningLine)
	}
	if in.ModelParams != nil {
		assistant.ModelParams = in.ModelParams
	}
}

func (s *Service) validate(ctx context.Context, assistant *Assistant) error {
	fields := map[string]string{}
	if assistant.Name == "" {
		fields["name"] = "Name is required"
	}
	if assistant.Prompt == "" {
		fields["prompt"] = "Prompt is required"
	}
	if !s.catalog.Has(assistant.Model) {
		fields["model"] = "Model is not available"
	}
	switch assistant.Type {
	case TypePublic:
	case TypePrivate, TypeCustom:
		if assistant.MunicipalityID == nil {
			fields["municipality_id"] = "Municipality is required for private and custom assistants"
		}
	default:
		fields["type"] = "Type must be public, private or custom"
	}
	if len(assistant.ModelParams) > 0 && !json.Valid(assistant.ModelParams) {
		fields["model_params"] = "Model parameters must be valid JSON"
	}
	if len(fields) > 0 {
		return apperr.Invalid("invalid assistant", fields)
	}

	if assistant.MunicipalityID != nil {
		if s.municipalities != nil {
			exists, err := s.municipalities.Exists(ctx, *assistant.MunicipalityID)
			if err != nil {
				return fmt.Errorf("assistants: check municipality: %w", err)
			}
			if !exists {
				return apperr.NotFound("municipality not found")
			}
		}
		if assistant.VectorStoreID == "" {
			assistant.VectorStoreID = vectorstore.CollectionName(*assistant.MunicipalityID)
		}
	}
	return nil
}
