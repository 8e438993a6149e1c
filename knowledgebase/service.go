package knowledgebase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"municonsole_back/apperr"
	"municonsole_back/assistants"
	"municonsole_back/authorization"
	"municonsole_back/pagination"
	"municonsole_back/storage"
	"municonsole_back/vectorstore"

	"gorm.io/gorm"
)

// AssistantLookup resolves the assistant an item is scoped to.
type AssistantLookup interface {
	Get(ctx context.Context, id uint64) (*assistants.Assistant, error)
}

// Options wires the optional collaborators of the service.
type Options struct {
	Index      vectorstore.Index
	Embedder   Embedder
	Fetcher    *Fetcher
	Objects    *storage.ObjectStorage
	Queue      Queue
	Assistants AssistantLookup
	Validator  *Validator
	Splitter   *Splitter
	VectorDim  int
}

// Service stores knowledge items and feeds them to the vector index.
type Service struct {
	db         *gorm.DB
	index      vectorstore.Index
	embedder   Embedder
	fetcher    *Fetcher
	objects    *storage.ObjectStorage
	queue      Queue
	assistants AssistantLookup
	validator  *Validator
	splitter   *Splitter
	vectorDim  int
	now        func() time.Time
}

// NewService migrates the item table. Missing collaborators fall back to an
// in-memory index, an in-process queue and default chunking.
func NewService(db *gorm.DB, opts Options) (*Service, error) {
	if db == nil {
		return nil, errors.New("knowledgebase: database is required")
	}
	if err := db.AutoMigrate(&Item{}); err != nil {
		return nil, fmt.Errorf("knowledgebase: migrate models: %w", err)
	}
	s := &Service{
		db:         db,
		index:      opts.Index,
		embedder:   opts.Embedder,
		fetcher:    opts.Fetcher,
		objects:    opts.Objects,
		queue:      opts.Queue,
		assistants: opts.Assistants,
		validator:  opts.Validator,
		splitter:   opts.Splitter,
		vectorDim:  opts.VectorDim,
		now:        func() time.Time { return time.Now().UTC() },
	}
	if s.index == nil {
		s.index = vectorstore.NewMemory()
	}
	if s.fetcher == nil {
		s.fetcher = NewFetcher(0)
	}
	if s.queue == nil {
		s.queue = NewChannelQueue(0)
	}
	if s.validator == nil {
		s.validator = NewValidator("")
	}
	if s.splitter == nil {
		s.splitter = NewSplitter(0, 0)
	}
	return s, nil
}

func canRead(caller *authorization.Identity, municipalityID uint64) bool {
	return caller.CanAccessMunicipality(municipalityID)
}

func canDelete(caller *authorization.Identity, municipalityID uint64) bool {
	return caller.IsManager() || caller.OrgRole(municipalityID) == authorization.OrgRoleAdmin
}

// Get loads an item the caller may read.
func (s *Service) Get(ctx context.Context, caller *authorization.Identity, id uint64) (*Item, error) {
	item, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canRead(caller, item.MunicipalityID) {
		return nil, apperr.NotFound("knowledge item not found")
	}
	return item, nil
}

func (s *Service) load(ctx context.Context, id uint64) (*Item, error) {
	var item Item
	if err := s.db.WithContext(ctx).First(&item, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("knowledge item not found")
		}
		return nil, fmt.Errorf("knowledgebase: load item: %w", err)
	}
	return &item, nil
}

// List pages through the items of a municipality, newest first.
func (s *Service) List(ctx context.Context, caller *authorization.Identity, filter ListFilter, cursor *pagination.Cursor, limit int) (pagination.Page[Item], error) {
	if filter.MunicipalityID == 0 {
		return pagination.Page[Item]{}, apperr.Invalid("municipality_id is required", map[string]string{"municipality_id": "Municipality is required"})
	}
	if !canRead(caller, filter.MunicipalityID) {
		return pagination.Page[Item]{}, apperr.Forbidden("access to this municipality is not allowed")
	}

	query := s.db.WithContext(ctx).Model(&Item{}).Where("municipality_id = ?", filter.MunicipalityID)
	if filter.AssistantID != 0 {
		query = query.Where("assistant_id = ?", filter.AssistantID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	} else if !filter.IncludeDeleted {
		query = query.Where("status <> ?", StatusDeleted)
	}
	if filter.Source != "" {
		query = query.Where("source = ?", filter.Source)
	}

	var rows []Item
	if err := pagination.Apply(query, Item{}.TableName(), cursor, limit).Omit("content").Find(&rows).Error; err != nil {
		return pagination.Page[Item]{}, fmt.Errorf("knowledgebase: list: %w", err)
	}
	return pagination.Build(rows, limit, func(item Item) pagination.Cursor {
		return pagination.Cursor{CreatedAt: item.CreatedAt, ID: item.ID}
	}), nil
}

// Create validates in, stores the item as pending and queues it.
func (s *Service) Create(ctx context.Context, caller *authorization.Identity, in Input) (*Item, error) {
	if in.MunicipalityID == 0 {
		return nil, apperr.Invalid("invalid knowledge item", map[string]string{"municipality_id": "Municipality is required"})
	}
	if !canRead(caller, in.MunicipalityID) {
		return nil, apperr.Forbidden("access to this municipality is not allowed")
	}

	item := &Item{
		MunicipalityID:   in.MunicipalityID,
		Status:           StatusPending,
		RefreshFrequency: RefreshNever,
		CreatedBy:        caller.UserID,
	}
	applyInput(item, in)
	if err := s.checkItem(ctx, item); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
		return nil, fmt.Errorf("knowledgebase: create: %w", err)
	}
	s.enqueue(ctx, item.ID)
	return item, nil
}

// Update applies in. Changing what is ingested re-queues the item.
func (s *Service) Update(ctx context.Context, caller *authorization.Identity, id uint64, in Input) (*Item, error) {
	item, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if item.Status == StatusDeleted {
		return nil, apperr.NotFound("knowledge item not found")
	}

	before := *item
	applyInput(item, in)
	if err := s.checkItem(ctx, item); err != nil {
		return nil, err
	}
	reingest := item.URL != before.URL || item.URLType != before.URLType ||
		item.StorageID != before.StorageID || item.Content != before.Content ||
		ptrValue(item.AssistantID) != ptrValue(before.AssistantID)
	if reingest {
		item.Status = StatusPending
		item.Error = ""
		item.ContentHash = ""
	}
	if err := s.db.WithContext(ctx).Save(item).Error; err != nil {
		return nil, fmt.Errorf("knowledgebase: update: %w", err)
	}
	if reingest {
		s.enqueue(ctx, item.ID)
	}
	return item, nil
}

// Refresh queues an item for ingestion now.
func (s *Service) Refresh(ctx context.Context, caller *authorization.Identity, id uint64) (*Item, error) {
	item, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if item.Status == StatusDeleted {
		return nil, apperr.NotFound("knowledge item not found")
	}
	if err := s.setStatus(ctx, item.ID, StatusPending, ""); err != nil {
		return nil, err
	}
	item.Status = StatusPending
	item.Error = ""
	s.enqueue(ctx, item.ID)
	return item, nil
}

// Delete marks the item deleted and removes its vectors.
func (s *Service) Delete(ctx context.Context, caller *authorization.Identity, id uint64) error {
	item, err := s.Get(ctx, caller, id)
	if err != nil {
		return err
	}
	if !canDelete(caller, item.MunicipalityID) {
		return apperr.Forbidden("only organization admins can delete knowledge")
	}
	return s.softDelete(ctx, item)
}

func (s *Service) softDelete(ctx context.Context, item *Item) error {
	if item.Status == StatusDeleted {
		return nil
	}
	if err := s.db.WithContext(ctx).Model(&Item{}).Where("id = ?", item.ID).
		Updates(map[string]any{"status": StatusDeleted, "chunk_count": 0}).Error; err != nil {
		return fmt.Errorf("knowledgebase: delete: %w", err)
	}
	item.Status = StatusDeleted
	item.ChunkCount = 0
	if err := s.index.DeleteItem(ctx, vectorstore.CollectionName(item.MunicipalityID), item.ID); err != nil {
		log.Printf("knowledgebase: remove vectors of item %d: %v", item.ID, err)
	}
	return nil
}

// DeleteByAssistant marks every item of an assistant deleted.
func (s *Service) DeleteByAssistant(ctx context.Context, assistantID uint64) error {
	var items []Item
	if err := s.db.WithContext(ctx).Where("assistant_id = ? AND status <> ?", assistantID, StatusDeleted).Find(&items).Error; err != nil {
		return fmt.Errorf("knowledgebase: items of assistant %d: %w", assistantID, err)
	}
	for i := range items {
		if err := s.softDelete(ctx, &items[i]); err != nil {
			log.Printf("knowledgebase: delete item %d: %v", items[i].ID, err)
		}
	}
	return nil
}

// DeleteByMunicipality drops the municipality's collection and its items.
func (s *Service) DeleteByMunicipality(ctx context.Context, municipalityID uint64) error {
	var storageIDs []string
	err := s.db.WithContext(ctx).Model(&Item{}).
		Where("municipality_id = ? AND storage_id <> ''", municipalityID).
		Pluck("storage_id", &storageIDs).Error
	if err != nil {
		log.Printf("knowledgebase: storage objects of municipality %d: %v", municipalityID, err)
	}
	if err := s.db.WithContext(ctx).Where("municipality_id = ?", municipalityID).Delete(&Item{}).Error; err != nil {
		return fmt.Errorf("knowledgebase: delete items of municipality %d: %w", municipalityID, err)
	}
	if err := s.index.DropCollection(ctx, vectorstore.CollectionName(municipalityID)); err != nil {
		log.Printf("knowledgebase: drop collection of municipality %d: %v", municipalityID, err)
	}
	for _, id := range storageIDs {
		if err := s.objects.Remove(ctx, id); err != nil {
			log.Printf("knowledgebase: remove object %s: %v", id, err)
		}
	}
	return nil
}

// UploadURL signs a PUT URL for a knowledge document of municipalityID.
func (s *Service) UploadURL(ctx context.Context, caller *authorization.Identity, municipalityID uint64, filename string) (string, string, error) {
	if !canRead(caller, municipalityID) {
		return "", "", apperr.Forbidden("access to this municipality is not allowed")
	}
	if s.objects == nil {
		return "", "", apperr.New(apperr.CodeUnavailable, "file storage is not configured")
	}
	return s.objects.PresignedUploadURL(ctx, filename, knowledgePrefix(municipalityID))
}

// Search embeds query and returns the closest chunks of a municipality.
func (s *Service) Search(ctx context.Context, caller *authorization.Identity, municipalityID, assistantID uint64, query string, limit int) ([]vectorstore.Hit, error) {
	if !canRead(caller, municipalityID) {
		return nil, apperr.Forbidden("access to this municipality is not allowed")
	}
	if strings.TrimSpace(query) == "" {
		return nil, apperr.Invalid("query is required", map[string]string{"query": "Query is required"})
	}
	return s.Retrieve(ctx, municipalityID, assistantID, query, limit)
}

// Retrieve is Search without access checks, used when building prompts.
func (s *Service) Retrieve(ctx context.Context, municipalityID, assistantID uint64, query string, limit int) ([]vectorstore.Hit, error) {
	if s.embedder == nil {
		return nil, nil
	}
	query = strings.TrimSpace(query)
	if query == "" || municipalityID == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > 20 {
		limit = 5
	}
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("knowledgebase: embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	return s.index.Search(ctx, vectorstore.CollectionName(municipalityID), vectors[0], limit, vectorstore.Filter{AssistantID: assistantID})
}

func (s *Service) checkItem(ctx context.Context, item *Item) error {
	if err := s.validator.Item(item); err != nil {
		return err
	}
	if item.StorageID != "" {
		if err := storage.ValidateStorageID(item.StorageID); err != nil || !strings.HasPrefix(item.StorageID, knowledgePrefix(item.MunicipalityID)+"/") {
			return apperr.Invalid("invalid knowledge item", map[string]string{"storage_id": "Invalid file reference"})
		}
		if s.objects != nil {
			if _, err := s.objects.Stat(ctx, item.StorageID); err != nil {
				return apperr.Invalid("invalid knowledge item", map[string]string{"storage_id": msgStorageRequired})
			}
		}
	}
	if item.AssistantID != nil && s.assistants != nil {
		assistant, err := s.assistants.Get(ctx, *item.AssistantID)
		if err != nil {
			return err
		}
		if assistant.MunicipalityID != nil && *assistant.MunicipalityID != item.MunicipalityID {
			return apperr.Invalid("invalid knowledge item", map[string]string{"assistant_id": "Assistant belongs to another municipality"})
		}
	}
	return nil
}

func (s *Service) enqueue(ctx context.Context, id uint64) {
	if err := s.queue.Push(ctx, id); err != nil {
		log.Printf("knowledgebase: enqueue item %d: %v", id, err)
	}
}

func (s *Service) setStatus(ctx context.Context, id uint64, status, message string) error {
	err := s.db.WithContext(ctx).Model(&Item{}).Where("id = ? AND status <> ?", id, StatusDeleted).
		Updates(map[string]any{"status": status, "error": message}).Error
	if err != nil {
		return fmt.Errorf("knowledgebase: set status of %d: %w", id, err)
	}
	return nil
}

func applyInput(item *Item, in Input) {
	if in.AssistantID != nil {
		if *in.AssistantID == 0 {
			item.AssistantID = nil
		} else {
			id := *in.AssistantID
			item.AssistantID = &id
		}
	}
	if in.Title != nil {
		item.Title = strings.TrimSpace(*in.Title)
	}
	if in.Source != nil {
		item.Source = strings.ToLower(strings.TrimSpace(*in.Source))
	}
	if in.URL != nil {
		item.URL = strings.TrimSpace(*in.URL)
	}
	if in.URLType != nil {
		item.URLType = strings.ToLower(strings.TrimSpace(*in.URLType))
	}
	if in.StorageID != nil {
		item.StorageID = strings.TrimSpace(*in.StorageID)
	}
	if in.Content != nil {
		item.Content = *in.Content
	}
	if in.RefreshFrequency != nil {
		item.RefreshFrequency = strings.ToLower(strings.TrimSpace(*in.RefreshFrequency))
	}
	if item.Title == "" && item.URL != "" {
		item.Title = item.URL
	}
}

func knowledgePrefix(municipalityID uint64) string {
	return fmt.Sprintf("knowledge/%d", municipalityID)
}

func ptrValue(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v
}
