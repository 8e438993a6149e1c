package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"municonsole_back/apperr"
	"municonsole_back/assistants"
	"municonsole_back/authorization"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	msgNameRequired        = "Name is required"
	msgDescriptionRequired = "Description is required"
	msgTypeRequired        = "Type is required"
	msgTypeInvalid         = "Type must be one of retrieval, web_search, http, custom"
	msgDefinitionInvalid   = "Definition must be valid JSON"
	msgURLInvalid          = "URLs must be absolute http(s) URLs"
)

var validTypes = map[string]struct{}{
	TypeRetrieval: {},
	TypeWebSearch: {},
	TypeHTTP:      {},
	TypeCustom:    {},
}

// Service stores tools and their assistant bindings.
type Service struct {
	db         *gorm.DB
	assistants *assistants.Service
}

// NewService migrates the tool tables.
func NewService(db *gorm.DB, assistantService *assistants.Service) (*Service, error) {
	if db == nil {
		return nil, errors.New("tools: database is required")
	}
	if err := db.AutoMigrate(&Tool{}, &AssistantTool{}); err != nil {
		return nil, fmt.Errorf("tools: migrate models: %w", err)
	}
	service := &Service{db: db, assistants: assistantService}
	if assistantService != nil {
		assistantService.OnDelete(service.DeleteByAssistant)
	}
	return service, nil
}

// ValidateTool checks t and returns every failing field at once.
func ValidateTool(t *Tool) error {
	fields := map[string]string{}
	if strings.TrimSpace(t.Name) == "" {
		fields["name"] = msgNameRequired
	}
	if strings.TrimSpace(t.Description) == "" {
		fields["description"] = msgDescriptionRequired
	}
	switch kind := strings.TrimSpace(t.Type); {
	case kind == "":
		fields["type"] = msgTypeRequired
	default:
		if _, ok := validTypes[kind]; !ok {
			fields["type"] = msgTypeInvalid
		}
	}
	if len(t.Definition) > 0 && !json.Valid(t.Definition) {
		fields["definition"] = msgDefinitionInvalid
	}
	if len(fields) > 0 {
		return apperr.Invalid("invalid tool", fields)
	}
	return nil
}

func applyTool(t *Tool, in ToolInput) {
	if in.Name != nil {
		t.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		t.Description = strings.TrimSpace(*in.Description)
	}
	if in.Type != nil {
		t.Type = strings.ToLower(strings.TrimSpace(*in.Type))
	}
	if in.Definition != nil {
		t.Definition = in.Definition
	}
}

// List returns every tool ordered by name.
func (s *Service) List(ctx context.Context, kind string) ([]Tool, error) {
	query := s.db.WithContext(ctx).Order("name ASC")
	if kind = strings.TrimSpace(kind); kind != "" {
		query = query.Where("type = ?", kind)
	}
	var rows []Tool
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("tools: list: %w", err)
	}
	return rows, nil
}

// Get loads a tool.
func (s *Service) Get(ctx context.Context, id uint64) (*Tool, error) {
	var tool Tool
	if err := s.db.WithContext(ctx).First(&tool, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("tool not found")
		}
		return nil, fmt.Errorf("tools: load: %w", err)
	}
	return &tool, nil
}

// Create validates and stores a tool.
func (s *Service) Create(ctx context.Context, createdBy uint64, in ToolInput) (*Tool, error) {
	tool := &Tool{CreatedBy: createdBy}
	applyTool(tool, in)
	if err := ValidateTool(tool); err != nil {
		return nil, err
	}
	if err := s.ensureUniqueName(ctx, tool.Name, 0); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(tool).Error; err != nil {
		return nil, fmt.Errorf("tools: create: %w", err)
	}
	return tool, nil
}

// Update applies the non-nil fields of in.
func (s *Service) Update(ctx context.Context, id uint64, in ToolInput) (*Tool, error) {
	tool, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	applyTool(tool, in)
	if err := ValidateTool(tool); err != nil {
		return nil, err
	}
	if err := s.ensureUniqueName(ctx, tool.Name, tool.ID); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Save(tool).Error; err != nil {
		return nil, fmt.Errorf("tools: update: %w", err)
	}
	return tool, nil
}

// Delete removes a tool and every binding to it.
func (s *Service) Delete(ctx context.Context, id uint64) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("tool_id = ?", id).Delete(&AssistantTool{}).Error; err != nil {
			return fmt.Errorf("tools: delete bindings: %w", err)
		}
		if err := tx.Delete(&Tool{}, id).Error; err != nil {
			return fmt.Errorf("tools: delete: %w", err)
		}
		return nil
	})
}

func (s *Service) ensureUniqueName(ctx context.Context, name string, exceptID uint64) error {
	var count int64
	query := s.db.WithContext(ctx).Model(&Tool{}).Where("LOWER(name) = ?", strings.ToLower(name))
	if exceptID != 0 {
		query = query.Where("id <> ?", exceptID)
	}
	if err := query.Count(&count).Error; err != nil {
		return fmt.Errorf("tools: check name: %w", err)
	}
	if count > 0 {
		return apperr.Invalid("invalid tool", map[string]string{"name": "A tool with this name already exists"})
	}
	return nil
}

// Bindings lists the tools attached to an assistant the caller can see.
func (s *Service) Bindings(ctx context.Context, caller *authorization.Identity, assistantID uint64) ([]AssistantTool, error) {
	if _, err := s.assistants.GetVisible(ctx, caller, assistantID); err != nil {
		return nil, err
	}
	return s.EnabledBindings(ctx, assistantID, false)
}

// EnabledBindings lists the bindings of an assistant, optionally only the
// enabled ones.
func (s *Service) EnabledBindings(ctx context.Context, assistantID uint64, onlyEnabled bool) ([]AssistantTool, error) {
	query := s.db.WithContext(ctx).Preload("Tool").Where("assistant_id = ?", assistantID).Order("id ASC")
	if onlyEnabled {
		query = query.Where("enabled = ?", true)
	}
	var rows []AssistantTool
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("tools: list bindings: %w", err)
	}
	return rows, nil
}

// Attach binds a tool to an assistant, or updates the existing binding.
func (s *Service) Attach(ctx context.Context, caller *authorization.Identity, assistantID uint64, in BindingInput) (*AssistantTool, error) {
	assistant, err := s.manageable(ctx, caller, assistantID)
	if err != nil {
		return nil, err
	}
	tool, err := s.Get(ctx, in.ToolID)
	if err != nil {
		return nil, err
	}

	var binding AssistantTool
	err = s.db.WithContext(ctx).Where("assistant_id = ? AND tool_id = ?", assistantID, tool.ID).First(&binding).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		binding = AssistantTool{AssistantID: assistantID, ToolID: tool.ID, Enabled: true}
		if tool.Type == TypeRetrieval {
			binding.CollectionName = assistant.VectorStoreID
		}
	case err != nil:
		return nil, fmt.Errorf("tools: load binding: %w", err)
	}

	if err := applyBinding(&binding, in); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Save(&binding).Error; err != nil {
		return nil, fmt.Errorf("tools: save binding: %w", err)
	}
	binding.Tool = tool
	return &binding, nil
}

// UpdateBinding changes the settings of an existing binding.
func (s *Service) UpdateBinding(ctx context.Context, caller *authorization.Identity, assistantID, toolID uint64, in BindingInput) (*AssistantTool, error) {
	if _, err := s.manageable(ctx, caller, assistantID); err != nil {
		return nil, err
	}
	var binding AssistantTool
	if err := s.db.WithContext(ctx).Preload("Tool").Where("assistant_id = ? AND tool_id = ?", assistantID, toolID).First(&binding).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("tool is not attached to this assistant")
		}
		return nil, fmt.Errorf("tools: load binding: %w", err)
	}
	if err := applyBinding(&binding, in); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Omit("Tool").Save(&binding).Error; err != nil {
		return nil, fmt.Errorf("tools: save binding: %w", err)
	}
	return &binding, nil
}

// Detach removes a binding.
func (s *Service) Detach(ctx context.Context, caller *authorization.Identity, assistantID, toolID uint64) error {
	if _, err := s.manageable(ctx, caller, assistantID); err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Where("assistant_id = ? AND tool_id = ?", assistantID, toolID).Delete(&AssistantTool{})
	if result.Error != nil {
		return fmt.Errorf("tools: detach: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound("tool is not attached to this assistant")
	}
	return nil
}

// DeleteByAssistant removes every binding of an assistant.
func (s *Service) DeleteByAssistant(ctx context.Context, assistantID uint64) error {
	return s.db.WithContext(ctx).Where("assistant_id = ?", assistantID).Delete(&AssistantTool{}).Error
}

func (s *Service) manageable(ctx context.Context, caller *authorization.Identity, assistantID uint64) (*assistants.Assistant, error) {
	assistant, err := s.assistants.GetVisible(ctx, caller, assistantID)
	if err != nil {
		return nil, err
	}
	if !assistants.CanManage(caller, assistant) {
		return nil, apperr.Forbidden("you cannot change the tools of this assistant")
	}
	return assistant, nil
}

func applyBinding(binding *AssistantTool, in BindingInput) error {
	fields := map[string]string{}
	if in.CollectionName != nil {
		binding.CollectionName = strings.TrimSpace(*in.CollectionName)
	}
	if in.URLs != nil {
		urls := make([]string, 0, len(*in.URLs))
		for _, raw := range *in.URLs {
			trimmed := strings.TrimSpace(raw)
			if trimmed == "" {
				continue
			}
			if !validHTTPURL(trimmed) {
				fields["urls"] = msgURLInvalid
				break
			}
			urls = append(urls, trimmed)
		}
		binding.URLs = datatypes.NewJSONSlice(urls)
	}
	if in.SearchParams != nil {
		if len(in.SearchParams) > 0 && !json.Valid(in.SearchParams) {
			fields["search_params"] = "Search parameters must be valid JSON"
		}
		binding.SearchParams = in.SearchParams
	}
	if in.Enabled != nil {
		binding.Enabled = *in.Enabled
	}
	if len(fields) > 0 {
		return apperr.Invalid("invalid assistant tool", fields)
	}
	return nil
}

func validHTTPURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return false
	}
	return parsed.Scheme == "http" || parsed.Scheme == "https"
}
