// Package retrieval provides per-tenant vector collections over Qdrant:
// isolated storage keyed by (application, tenant), semantic query with
// relevance scoring, and deterministic record identifiers so re-ingestion
// is idempotent.
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Record is one chunk of tenant knowledge awaiting embedding and storage.
type Record struct {
	Source     string
	ChunkIndex int
	Content    string
	Metadata   map[string]any
	Vector     []float32
}

// RecordID derives a stable identifier from (source, chunk index, content
// hash) so upserting the same chunk twice is a no-op rather than a
// duplicate (spec's Knowledge Record identity rule).
func RecordID(source string, chunkIndex int, content string) string {
	sum := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%s-%d-%s", sanitizeID(source), chunkIndex, hex.EncodeToString(sum[:8]))
}

func sanitizeID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "/", "_")
	return s
}

// Hit is one result of a semantic query.
type Hit struct {
	ID        string
	Content   string
	Metadata  map[string]any
	Relevance float64 // 1 - normalized_distance, in [0,1]
}

// Stats summarizes one tenant's collection.
type Stats struct {
	Name  string
	Count uint64
}

// Backend is the vector-database capability the Store needs; QdrantBackend
// is the production implementation.
type Backend interface {
	EnsureCollection(ctx context.Context, name string, dimension int) error
	Upsert(ctx context.Context, collection string, id string, vector []float32, payload map[string]any) error
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]Hit, error)
	Count(ctx context.Context, collection string) (uint64, error)
}

// Store isolates vector data per (application, tenant) on top of a Backend.
type Store struct {
	backend   Backend
	dimension int
}

// New builds a Store over backend, storing vectors of the given dimension.
func New(backend Backend, dimension int) *Store {
	return &Store{backend: backend, dimension: dimension}
}

// CollectionName derives the stable per-tenant collection name. Tenant
// isolation is structural: no query ever spans two collections.
func CollectionName(application, tenant string) string {
	return fmt.Sprintf("kb_%s_%s", sanitizeID(application), sanitizeID(tenant))
}

// Upsert stamps each record with application/tenant/ingested_at metadata
// and writes it to the tenant's collection. Upsert is idempotent: writing
// the same (source, chunk, content) twice overwrites in place.
func (s *Store) Upsert(ctx context.Context, application, tenant string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	collection := CollectionName(application, tenant)
	if err := s.backend.EnsureCollection(ctx, collection, s.dimension); err != nil {
		return fmt.Errorf("retrieval: failed to ensure collection %s: %w", collection, err)
	}

	ingestedAt := time.Now().UTC().Format(time.RFC3339)
	for _, rec := range records {
		if len(rec.Vector) != s.dimension {
			return fmt.Errorf("retrieval: record %s/%d has vector dimension %d, want %d", rec.Source, rec.ChunkIndex, len(rec.Vector), s.dimension)
		}
		payload := map[string]any{
			"content":     rec.Content,
			"application": application,
			"tenant":      tenant,
			"ingested_at": ingestedAt,
		}
		for k, v := range rec.Metadata {
			payload[k] = v
		}

		id := RecordID(rec.Source, rec.ChunkIndex, rec.Content)
		if err := s.backend.Upsert(ctx, collection, id, rec.Vector, payload); err != nil {
			return fmt.Errorf("retrieval: failed to upsert record %s: %w", id, err)
		}
	}
	return nil
}

// QueryOptions narrows a semantic query.
type QueryOptions struct {
	TopK     int
	Category string // optional in-memory post-filter on metadata["category"]
}

// Query runs a semantic search scoped to the tenant's collection and
// never returns records from any other tenant's collection, by
// construction: the backend call only ever targets CollectionName(app,
// tenant).
func (s *Store) Query(ctx context.Context, application, tenant string, queryVector []float32, opts QueryOptions) ([]Hit, error) {
	collection := CollectionName(application, tenant)
	topK := opts.TopK
	if topK <= 0 {
		topK = 5
	}

	// Over-fetch when a post-filter is requested so filtering in memory
	// doesn't starve the result set.
	fetchK := topK
	if opts.Category != "" {
		fetchK = topK * 4
	}

	hits, err := s.backend.Search(ctx, collection, queryVector, fetchK)
	if err != nil {
		return nil, fmt.Errorf("retrieval: query failed against %s: %w", collection, err)
	}

	if opts.Category == "" {
		if len(hits) > topK {
			hits = hits[:topK]
		}
		return hits, nil
	}

	filtered := make([]Hit, 0, topK)
	for _, h := range hits {
		if cat, _ := h.Metadata["category"].(string); cat == opts.Category {
			filtered = append(filtered, h)
			if len(filtered) == topK {
				break
			}
		}
	}
	return filtered, nil
}

// CollectionStats reports size/name for one tenant's collection.
func (s *Store) CollectionStats(ctx context.Context, application, tenant string) (Stats, error) {
	collection := CollectionName(application, tenant)
	count, err := s.backend.Count(ctx, collection)
	if err != nil {
		return Stats{}, fmt.Errorf("retrieval: failed to stat %s: %w", collection, err)
	}
	return Stats{Name: collection, Count: count}, nil
}
