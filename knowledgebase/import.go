package knowledgebase

import (
	"context"
	"fmt"
	"log"

	"municonsole_back/apperr"
	"municonsole_back/authorization"
	"municonsole_back/storage"

	"gorm.io/gorm"
)

// Import creates one document item per text file of a zip or rar archive.
// With object storage configured each file is uploaded; otherwise its text
// is kept inline on the item.
func (s *Service) Import(ctx context.Context, caller *authorization.Identity, municipalityID uint64, assistantID *uint64, filename string, data []byte) ([]Item, error) {
	if municipalityID == 0 {
		return nil, apperr.Invalid("municipality_id is required", map[string]string{"municipality_id": "Municipality is required"})
	}
	if !canRead(caller, municipalityID) {
		return nil, apperr.Forbidden("access to this municipality is not allowed")
	}
	docs, err := ReadArchive(data, filename)
	if err != nil {
		return nil, apperr.Invalid(err.Error(), map[string]string{"file": err.Error()})
	}

	items := make([]Item, 0, len(docs))
	var uploaded []string
	for _, doc := range docs {
		item := Item{
			MunicipalityID:   municipalityID,
			Title:            documentTitle(doc.Name),
			Source:           SourceDocument,
			Status:           StatusPending,
			RefreshFrequency: RefreshNever,
			CreatedBy:        caller.UserID,
		}
		if assistantID != nil && *assistantID != 0 {
			id := *assistantID
			item.AssistantID = &id
		}
		if s.objects != nil {
			storageID := storage.NewStorageID(doc.Name, knowledgePrefix(municipalityID))
			if err := s.objects.Put(ctx, storageID, doc.Content, contentTypeFor(doc.Name)); err != nil {
				s.removeObjects(ctx, uploaded)
				return nil, fmt.Errorf("knowledgebase: upload %s: %w", doc.Name, err)
			}
			uploaded = append(uploaded, storageID)
			item.StorageID = storageID
		} else if isHTMLDocument(doc.Name) {
			_, item.Content, _ = ExtractHTML(string(doc.Content), "")
		} else {
			item.Content = string(doc.Content)
		}
		items = append(items, item)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&items).Error
	})
	if err != nil {
		s.removeObjects(ctx, uploaded)
		return nil, fmt.Errorf("knowledgebase: create imported items: %w", err)
	}
	for _, item := range items {
		s.enqueue(ctx, item.ID)
	}
	return items, nil
}

func (s *Service) removeObjects(ctx context.Context, ids []string) {
	for _, id := range ids {
		if err := s.objects.Remove(ctx, id); err != nil {
			log.Printf("knowledgebase: remove object %s: %v", id, err)
		}
	}
}

func contentTypeFor(name string) string {
	if isHTMLDocument(name) {
		return "text/html; charset=utf-8"
	}
	return "text/plain; charset=utf-8"
}
