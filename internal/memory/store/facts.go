package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Fact is one semantic memory record. (category, key) is unique;
// re-inserting the same pair updates the value in place.
type Fact struct {
	ID         string
	Category   string
	Key        string
	Value      string
	Confidence float64
	Source     string
	Embedding  []float32
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (f *Fact) clone() *Fact {
	c := *f
	if f.Embedding != nil {
		c.Embedding = make([]float32, len(f.Embedding))
		copy(c.Embedding, f.Embedding)
	}
	return &c
}

// UpsertFact inserts or updates the fact keyed by (category, key). The
// in-memory view is updated first; a SQLite write failure is logged and
// does not fail the call.
func (s *Store) UpsertFact(ctx context.Context, f *Fact) *Fact {
	now := time.Now().UTC()

	s.mu.Lock()
	existing, ok := s.facts[factKey(f.Category, f.Key)]
	if ok {
		existing.Value = f.Value
		existing.Confidence = f.Confidence
		if f.Source != "" {
			existing.Source = f.Source
		}
		if f.Embedding != nil {
			existing.Embedding = f.Embedding
		}
		existing.UpdatedAt = now
		f = existing
	} else {
		if f.ID == "" {
			f.ID = uuid.NewString()
		}
		f.CreatedAt = now
		f.UpdatedAt = now
		s.facts[factKey(f.Category, f.Key)] = f
	}
	stored := f.clone()
	s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO facts (id, category, key, value, confidence, source, embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(category, key) DO UPDATE SET
			value = excluded.value,
			confidence = excluded.confidence,
			source = excluded.source,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at`,
		stored.ID, stored.Category, stored.Key, stored.Value, stored.Confidence,
		nullString(stored.Source), EncodeEmbedding(stored.Embedding),
		stored.CreatedAt, stored.UpdatedAt)
	if err != nil {
		s.logger.Warn("failed to persist fact", "error", err, "category", stored.Category, "key", stored.Key)
	}
	return stored
}

// GetFact returns the fact stored under (category, key).
func (s *Store) GetFact(category, key string) (*Fact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.facts[factKey(category, key)]
	if !ok {
		return nil, false
	}
	return f.clone(), true
}

// SearchFacts does a case-insensitive substring scan over key+value.
func (s *Store) SearchFacts(query string, limit int) []*Fact {
	q := strings.ToLower(query)
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Fact
	for _, f := range s.facts {
		if strings.Contains(strings.ToLower(f.Key), q) || strings.Contains(strings.ToLower(f.Value), q) {
			out = append(out, f.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// FactScore pairs a fact with its vector similarity.
type FactScore struct {
	Fact  *Fact
	Score float64
}

// SearchFactsVector returns the top-k facts by cosine similarity against
// the query embedding. Facts without an embedding are skipped; callers
// that want mixed retrieval fall back to SearchFacts.
func (s *Store) SearchFactsVector(query []float32, k int) []FactScore {
	if len(query) == 0 || k <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var scored []FactScore
	for _, f := range s.facts {
		if len(f.Embedding) == 0 {
			continue
		}
		scored = append(scored, FactScore{Fact: f.clone(), Score: cosineSimilarity(query, f.Embedding)})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

// FactsByCategory returns all facts in a category, most recently updated
// first.
func (s *Store) FactsByCategory(category string) []*Fact {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Fact
	for _, f := range s.facts {
		if f.Category == category {
			out = append(out, f.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

func (s *Store) hydrateFacts(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, key, value, confidence, source, embedding, created_at, updated_at
		FROM facts`)
	if err != nil {
		return fmt.Errorf("failed to hydrate facts: %w", err)
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for rows.Next() {
		var (
			f      Fact
			source sql.NullString
			blob   []byte
		)
		if err := rows.Scan(&f.ID, &f.Category, &f.Key, &f.Value, &f.Confidence, &source, &blob, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return fmt.Errorf("failed to scan fact: %w", err)
		}
		f.Source = source.String
		f.Embedding = DecodeEmbedding(blob)
		fact := f
		s.facts[factKey(f.Category, f.Key)] = &fact
	}
	return rows.Err()
}

// EncodeEmbedding packs a vector as little-endian float32 bytes. A nil or
// empty vector encodes as nil so the column stays NULL.
func EncodeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeEmbedding unpacks little-endian float32 bytes. Trailing partial
// values are dropped.
func DecodeEmbedding(buf []byte) []float32 {
	if len(buf) < 4 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
