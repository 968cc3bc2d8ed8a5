package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/Kadsuke/assistant-axelis/pkg/config"
)

// QdrantBackend implements Backend over Qdrant's gRPC API. Relevance is
// reported as 1 - normalized cosine distance, matching the spec's
// distance-to-relevance convention.
type QdrantBackend struct {
	client *qdrant.Client
}

// NewQdrantBackend connects to the Qdrant instance described by cfg. TLS
// is wired through an explicit grpc.DialOption when enabled, since the
// go-client's high-level constructor does not expose credential tuning
// beyond a boolean.
func NewQdrantBackend(cfg *config.VectorStoreConfig) (*QdrantBackend, error) {
	qdrantCfg := &qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.EnableTLS,
	}
	if cfg.EnableTLS {
		qdrantCfg.GrpcOptions = []grpc.DialOption{
			grpc.WithTransportCredentials(credentials.NewTLS(nil)),
		}
	}

	client, err := qdrant.NewClient(qdrantCfg)
	if err != nil {
		return nil, fmt.Errorf("retrieval: failed to connect to qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &QdrantBackend{client: client}, nil
}

func (b *QdrantBackend) EnsureCollection(ctx context.Context, name string, dimension int) error {
	exists, err := b.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = b.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

func (b *QdrantBackend) Upsert(ctx context.Context, collection string, id string, vector []float32, payload map[string]any) error {
	qpayload := make(map[string]*qdrant.Value, len(payload))
	for key, value := range payload {
		val, err := qdrant.NewValue(value)
		if err != nil {
			return fmt.Errorf("failed to convert metadata value for key %s: %w", key, err)
		}
		qpayload[key] = val
	}

	point := &qdrant.PointStruct{
		Id:      qdrant.NewID(id),
		Vectors: qdrant.NewVectors(vector...),
		Payload: qpayload,
	}

	_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point: %w", err)
	}
	return nil
}

func (b *QdrantBackend) Search(ctx context.Context, collection string, vector []float32, topK int) ([]Hit, error) {
	results, err := b.client.GetPointsClient().Search(ctx, &qdrant.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}
	return convertHits(results.GetResult()), nil
}

func (b *QdrantBackend) Count(ctx context.Context, collection string) (uint64, error) {
	info, err := b.client.GetCollectionInfo(ctx, collection)
	if err != nil {
		return 0, fmt.Errorf("failed to get collection info: %w", err)
	}
	return info.GetPointsCount(), nil
}

// Close releases the underlying gRPC connection.
func (b *QdrantBackend) Close() error {
	return b.client.Close()
}

func convertHits(points []*qdrant.ScoredPoint) []Hit {
	hits := make([]Hit, 0, len(points))
	for _, point := range points {
		var id string
		if point.Id != nil && point.Id.PointIdOptions != nil {
			switch idType := point.Id.PointIdOptions.(type) {
			case *qdrant.PointId_Uuid:
				id = idType.Uuid
			case *qdrant.PointId_Num:
				id = fmt.Sprintf("%d", idType.Num)
			}
		}

		metadata := map[string]any{}
		var content string
		if point.Payload != nil {
			for key, value := range point.Payload {
				v := fieldValue(value)
				if key == "content" {
					if s, ok := v.(string); ok {
						content = s
						continue
					}
				}
				metadata[key] = v
			}
		}

		// Qdrant cosine score is already a similarity in [-1,1] for
		// normalized vectors; clamp into [0,1] to satisfy the spec's
		// relevance contract (1 - normalized_distance).
		relevance := float64(point.GetScore())
		if relevance < 0 {
			relevance = 0
		}
		if relevance > 1 {
			relevance = 1
		}

		hits = append(hits, Hit{ID: id, Content: content, Metadata: metadata, Relevance: relevance})
	}
	return hits
}

func fieldValue(value *qdrant.Value) any {
	switch v := value.Kind.(type) {
	case *qdrant.Value_StringValue:
		return v.StringValue
	case *qdrant.Value_IntegerValue:
		return v.IntegerValue
	case *qdrant.Value_DoubleValue:
		return v.DoubleValue
	case *qdrant.Value_BoolValue:
		return v.BoolValue
	default:
		return nil
	}
}
