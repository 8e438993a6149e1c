package knowledgebase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"municonsole_back/vectorstore"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Run starts workers ingestion workers plus the refresh scheduler and
// blocks until ctx is done.
func (s *Service) Run(ctx context.Context, workers int, refreshEvery time.Duration) error {
	if workers <= 0 {
		workers = 1
	}
	group, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		group.Go(func() error {
			s.work(ctx)
			return nil
		})
	}
	// 在 worker 启动后再补投，避免队列写满时阻塞
	group.Go(func() error {
		if n, err := s.RequeueStalled(ctx); err != nil {
			log.Printf("knowledgebase: requeue stalled items: %v", err)
		} else if n > 0 {
			log.Printf("knowledgebase: requeued %d stalled items", n)
		}
		return nil
	})
	if refreshEvery > 0 {
		group.Go(func() error {
			ticker := time.NewTicker(refreshEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if _, err := s.EnqueueDue(ctx); err != nil {
						log.Printf("knowledgebase: refresh scan: %v", err)
					}
				}
			}
		})
	}
	return group.Wait()
}

func (s *Service) work(ctx context.Context) {
	for {
		id, err := s.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("knowledgebase: worker: %v", err)
			time.Sleep(time.Second)
			continue
		}
		if err := s.Process(ctx, id); err != nil {
			log.Printf("knowledgebase: ingest item %d: %v", id, err)
		}
	}
}

// EnqueueDue queues every item whose refresh period has elapsed and returns
// how many were queued.
func (s *Service) EnqueueDue(ctx context.Context) (int, error) {
	var items []Item
	err := s.db.WithContext(ctx).
		Select("id", "refresh_frequency", "last_refreshed_at", "status").
		Where("refresh_frequency <> ? AND status IN ?", RefreshNever, []string{StatusCompleted, StatusFailed, StatusNotFound}).
		Find(&items).Error
	if err != nil {
		return 0, fmt.Errorf("knowledgebase: scan due items: %w", err)
	}

	now := s.now()
	queued := 0
	for _, item := range items {
		if !refreshDue(item, now) {
			continue
		}
		if err := s.setStatus(ctx, item.ID, StatusPending, ""); err != nil {
			log.Printf("knowledgebase: %v", err)
			continue
		}
		s.enqueue(ctx, item.ID)
		queued++
	}
	return queued, nil
}

// RequeueStalled queues again every item left pending or processing, which
// happens when the process stops with work still queued in memory or a
// worker dies mid-item.
func (s *Service) RequeueStalled(ctx context.Context) (int, error) {
	var ids []uint64
	err := s.db.WithContext(ctx).Model(&Item{}).
		Where("status IN ?", []string{StatusPending, StatusProcessing}).
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("knowledgebase: scan stalled items: %w", err)
	}
	for _, id := range ids {
		if err := s.setStatus(ctx, id, StatusPending, ""); err != nil {
			log.Printf("knowledgebase: %v", err)
			continue
		}
		s.enqueue(ctx, id)
	}
	return len(ids), nil
}

func refreshDue(item Item, now time.Time) bool {
	period := refreshPeriod(item.RefreshFrequency)
	if period == 0 {
		return false
	}
	if item.LastRefreshedAt == nil {
		return true
	}
	return !item.LastRefreshedAt.Add(period).After(now)
}

// section is a titled piece of source text; links and sitemaps produce one
// per page.
type section struct {
	Title string
	URL   string
	Text  string
}

// Process ingests one item: it gathers the source text, skips indexing
// when the content hash is unchanged, and otherwise replaces the item's
// vectors.
func (s *Service) Process(ctx context.Context, id uint64) error {
	item, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if item.Status == StatusDeleted {
		return nil
	}
	if err := s.setStatus(ctx, id, StatusProcessing, ""); err != nil {
		return err
	}

	sections, err := s.gather(ctx, item)
	if err != nil {
		status := StatusFailed
		if errors.Is(err, ErrNotFound) {
			status = StatusNotFound
		}
		if setErr := s.finish(ctx, item, map[string]any{"status": status, "error": err.Error()}); setErr != nil {
			return setErr
		}
		return err
	}

	hash := contentHash(sections)
	now := s.now()
	if hash == item.ContentHash && item.ChunkCount > 0 {
		return s.finish(ctx, item, map[string]any{"status": StatusCompleted, "error": "", "last_refreshed_at": now})
	}

	chunks, err := s.indexSections(ctx, item, sections)
	if err != nil {
		if setErr := s.finish(ctx, item, map[string]any{"status": StatusFailed, "error": err.Error()}); setErr != nil {
			return setErr
		}
		return err
	}

	updates := map[string]any{
		"status":            StatusCompleted,
		"error":             "",
		"content_hash":      hash,
		"chunk_count":       chunks,
		"last_refreshed_at": now,
	}
	if item.Source != SourceText && item.Source != SourceDocument {
		updates["content"] = joinSections(sections)
	}
	return s.finish(ctx, item, updates)
}

// finish writes updates unless the item was deleted meanwhile.
func (s *Service) finish(ctx context.Context, item *Item, updates map[string]any) error {
	result := s.db.WithContext(ctx).Model(&Item{}).Where("id = ? AND status <> ?", item.ID, StatusDeleted).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("knowledgebase: update item %d: %w", item.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		if err := s.index.DeleteItem(ctx, vectorstore.CollectionName(item.MunicipalityID), item.ID); err != nil {
			log.Printf("knowledgebase: remove vectors of deleted item %d: %v", item.ID, err)
		}
	}
	return nil
}

func (s *Service) gather(ctx context.Context, item *Item) ([]section, error) {
	switch item.Source {
	case SourceText:
		return []section{{Title: item.Title, Text: item.Content}}, nil
	case SourceDocument:
		if item.StorageID == "" {
			return []section{{Title: item.Title, Text: item.Content}}, nil
		}
		data, info, err := s.objects.Get(ctx, item.StorageID)
		if err != nil {
			return nil, fmt.Errorf("knowledgebase: read document: %w", err)
		}
		text := string(data)
		if isHTMLDocument(item.StorageID) || strings.Contains(info.ContentType, "html") {
			_, text, _ = ExtractHTML(text, "")
		} else if !isTextDocument(item.StorageID) && !strings.HasPrefix(info.ContentType, "text/") {
			return nil, fmt.Errorf("knowledgebase: unsupported document type %q", info.ContentType)
		}
		return []section{{Title: item.Title, Text: text}}, nil
	case SourceLink, SourceSitemap:
		pages, err := s.fetcher.Fetch(ctx, item.URLType, item.URL)
		if err != nil {
			return nil, err
		}
		sections := make([]section, 0, len(pages))
		for _, page := range pages {
			sections = append(sections, section{Title: page.Title, URL: page.URL, Text: page.Text})
		}
		return sections, nil
	default:
		return nil, fmt.Errorf("knowledgebase: unknown source %q", item.Source)
	}
}

// indexSections embeds sections and swaps them in for the item's previous vectors.
func (s *Service) indexSections(ctx context.Context, item *Item, sections []section) (int, error) {
	if s.embedder == nil {
		return 0, ErrEmbeddingsDisabled
	}

	var (
		texts  []string
		points []vectorstore.Point
	)
	for _, sec := range sections {
		for _, chunk := range s.splitter.Split(sec.Text) {
			texts = append(texts, chunk.Text)
			points = append(points, vectorstore.Point{
				ID:             uuid.NewString(),
				ItemID:         item.ID,
				MunicipalityID: item.MunicipalityID,
				AssistantID:    ptrValue(item.AssistantID),
				ChunkIndex:     len(points),
				Title:          firstNonEmpty(sec.Title, item.Title),
				URL:            sec.URL,
				Content:        chunk.Text,
			})
		}
	}
	if len(points) == 0 {
		return 0, errors.New("knowledgebase: source has no text to index")
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, err
	}
	if len(vectors) != len(points) {
		return 0, fmt.Errorf("knowledgebase: embedding count mismatch (expected %d, got %d)", len(points), len(vectors))
	}
	for i := range points {
		points[i].Vector = vectors[i]
	}

	dim := s.vectorDim
	if dim <= 0 {
		dim = len(vectors[0])
	}
	collection := vectorstore.CollectionName(item.MunicipalityID)
	if err := s.index.EnsureCollection(ctx, collection, dim); err != nil {
		return 0, err
	}
	if err := s.index.DeleteItem(ctx, collection, item.ID); err != nil {
		return 0, err
	}
	if err := s.index.Upsert(ctx, collection, points); err != nil {
		return 0, err
	}
	return len(points), nil
}

func contentHash(sections []section) string {
	h := sha256.New()
	for _, sec := range sections {
		h.Write([]byte(sec.URL))
		h.Write([]byte{0})
		h.Write([]byte(strings.TrimSpace(sec.Text)))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func joinSections(sections []section) string {
	parts := make([]string, 0, len(sections))
	for _, sec := range sections {
		if text := strings.TrimSpace(sec.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
