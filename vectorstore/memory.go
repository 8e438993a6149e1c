package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is an in-process Index used when no qdrant address is
// configured. Contents are lost on restart.
type MemoryIndex struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

type memoryCollection struct {
	dim    int
	points map[string]Point
}

func NewMemory() *MemoryIndex {
	return &MemoryIndex{collections: map[string]*memoryCollection{}}
}

func (m *MemoryIndex) EnsureCollection(_ context.Context, collection string, dim int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[collection]; !ok {
		m.collections[collection] = &memoryCollection{dim: dim, points: map[string]Point{}}
	}
	return nil
}

func (m *MemoryIndex) Upsert(_ context.Context, collection string, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	col, ok := m.collections[collection]
	if !ok {
		dim := 0
		if len(points) > 0 {
			dim = len(points[0].Vector)
		}
		col = &memoryCollection{dim: dim, points: map[string]Point{}}
		m.collections[collection] = col
	}
	for _, point := range points {
		if col.dim > 0 && len(point.Vector) != col.dim {
			return ErrDimensionMismatch
		}
		stored := point
		stored.Vector = append([]float32(nil), point.Vector...)
		col.points[point.ID] = stored
	}
	return nil
}

func (m *MemoryIndex) DeleteItem(_ context.Context, collection string, itemID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	col, ok := m.collections[collection]
	if !ok {
		return nil
	}
	for id, point := range col.points {
		if point.ItemID == itemID {
			delete(col.points, id)
		}
	}
	return nil
}

func (m *MemoryIndex) Search(_ context.Context, collection string, vector []float32, limit int, filter Filter) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	col, ok := m.collections[collection]
	if !ok || len(vector) == 0 {
		return []Hit{}, nil
	}
	if limit <= 0 {
		limit = 5
	}

	hits := make([]Hit, 0, len(col.points))
	for _, point := range col.points {
		if filter.AssistantID != 0 && point.AssistantID != 0 && point.AssistantID != filter.AssistantID {
			continue
		}
		if len(point.Vector) != len(vector) {
			continue
		}
		hits = append(hits, Hit{
			ID:         point.ID,
			Score:      cosine(vector, point.Vector),
			ItemID:     point.ItemID,
			ChunkIndex: point.ChunkIndex,
			Title:      point.Title,
			URL:        point.URL,
			Content:    point.Content,
		})
	}
	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].Score == hits[b].Score {
			return hits[a].ID < hits[b].ID
		}
		return hits[a].Score > hits[b].Score
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *MemoryIndex) DropCollection(_ context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, collection)
	return nil
}

// Count returns the number of points stored in collection.
func (m *MemoryIndex) Count(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if col, ok := m.collections[collection]; ok {
		return len(col.points)
	}
	return 0
}

func cosine(a, b []float32) float32 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
