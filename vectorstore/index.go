// Package vectorstore keeps knowledge chunks in one vector collection per
// municipality.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
)

var ErrDimensionMismatch = errors.New("vectorstore: vector dimension mismatch")

// Point is one embedded chunk.
type Point struct {
	ID             string
	Vector         []float32
	ItemID         uint64
	MunicipalityID uint64
	AssistantID    uint64
	ChunkIndex     int
	Title          string
	URL            string
	Content        string
}

// Hit is a search result.
type Hit struct {
	ID         string  `json:"id"`
	Score      float32 `json:"score"`
	ItemID     uint64  `json:"item_id"`
	ChunkIndex int     `json:"chunk_index"`
	Title      string  `json:"title"`
	URL        string  `json:"url,omitempty"`
	Content    string  `json:"content"`
}

// Filter narrows a search. A non-zero AssistantID matches chunks of that
// assistant plus chunks shared by the whole municipality.
type Filter struct {
	AssistantID uint64
}

// Index is the vector store used by the knowledge base.
type Index interface {
	EnsureCollection(ctx context.Context, collection string, dim int) error
	Upsert(ctx context.Context, collection string, points []Point) error
	DeleteItem(ctx context.Context, collection string, itemID uint64) error
	Search(ctx context.Context, collection string, vector []float32, limit int, filter Filter) ([]Hit, error)
	DropCollection(ctx context.Context, collection string) error
}

// CollectionName is the collection that holds a municipality's knowledge.
func CollectionName(municipalityID uint64) string {
	return fmt.Sprintf("municipality_%d", municipalityID)
}
