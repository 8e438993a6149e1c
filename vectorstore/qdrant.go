package vectorstore

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"

	"municonsole_back/config"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantIndex stores points through the qdrant gRPC client.
type QdrantIndex struct {
	client *qdrant.Client
}

// NewQdrant connects to cfg.Addr ("host:port", gRPC port). An empty address
// returns (nil, nil).
func NewQdrant(cfg config.QdrantConfig) (*QdrantIndex, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	host, port := parseHostPort(cfg.Addr, "localhost", 6334)
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: init qdrant client: %w", err)
	}
	return &QdrantIndex{client: client}, nil
}

// Close releases the gRPC connection.
func (q *QdrantIndex) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}

func (q *QdrantIndex) EnsureCollection(ctx context.Context, collection string, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("vectorstore: vector size must be positive")
	}
	exists, err := q.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("vectorstore: check collection %s: %w", collection, err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("vectorstore: create collection %s: %w", collection, err)
	}
	log.Printf("vectorstore: created collection %s (dim=%d)", collection, dim)
	return nil
}

func (q *QdrantIndex) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, point := range points {
		structs = append(structs, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(point.ID),
			Vectors: qdrant.NewVectors(point.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"item_id":         int64(point.ItemID),
				"municipality_id": int64(point.MunicipalityID),
				"assistant_id":    int64(point.AssistantID),
				"chunk_index":     int64(point.ChunkIndex),
				"title":           point.Title,
				"url":             point.URL,
				"content":         point.Content,
			}),
		})
	}
	wait := true
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("vectorstore: upsert %d points: %w", len(points), err)
	}
	return nil
}

func (q *QdrantIndex) DeleteItem(ctx context.Context, collection string, itemID uint64) error {
	exists, err := q.client.CollectionExists(ctx, collection)
	if err != nil || !exists {
		return err
	}
	_, err = q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatchInt("item_id", int64(itemID))},
		}),
	})
	if err != nil {
		return fmt.Errorf("vectorstore: delete item %d: %w", itemID, err)
	}
	return nil
}

func (q *QdrantIndex) Search(ctx context.Context, collection string, vector []float32, limit int, filter Filter) ([]Hit, error) {
	if len(vector) == 0 {
		return nil, nil
	}
	exists, err := q.client.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: check collection %s: %w", collection, err)
	}
	if !exists {
		return []Hit{}, nil
	}
	if limit <= 0 {
		limit = 5
	}
	topK := uint64(limit)

	request := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &topK,
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true},
		},
	}
	if filter.AssistantID != 0 {
		request.Filter = &qdrant.Filter{
			Should: []*qdrant.Condition{
				qdrant.NewMatchInt("assistant_id", int64(filter.AssistantID)),
				qdrant.NewMatchInt("assistant_id", 0),
			},
		}
	}

	points, err := q.client.Query(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: query %s: %w", collection, err)
	}

	hits := make([]Hit, 0, len(points))
	for _, point := range points {
		hit := Hit{Score: point.Score, ID: point.GetId().GetUuid()}
		if val, ok := point.Payload["item_id"]; ok {
			hit.ItemID = uint64(val.GetIntegerValue())
		}
		if val, ok := point.Payload["chunk_index"]; ok {
			hit.ChunkIndex = int(val.GetIntegerValue())
		}
		if val, ok := point.Payload["title"]; ok {
			hit.Title = val.GetStringValue()
		}
		if val, ok := point.Payload["url"]; ok {
			hit.URL = val.GetStringValue()
		}
		if val, ok := point.Payload["content"]; ok {
			hit.Content = val.GetStringValue()
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (q *QdrantIndex) DropCollection(ctx context.Context, collection string) error {
	exists, err := q.client.CollectionExists(ctx, collection)
	if err != nil || !exists {
		return err
	}
	return q.client.DeleteCollection(ctx, collection)
}

func parseHostPort(addr string, defaultHost string, defaultPort int) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		if addr != "" {
			return addr, defaultPort
		}
		return defaultHost, defaultPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, defaultPort
	}
	return host, port
}
