package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/musedev/muse/errors"
)

// InMemoryStore is a volatile Store used in tests and when sqlite is
// disabled. Scoring multiplies the stacked record matrix with the query
// vector; embeddings are assumed normalised, so the inner product lands in
// [-1,1] and is mapped to [0,1].
type InMemoryStore struct {
	mu      sync.RWMutex
	scope   Scope
	vecDim  int
	records map[string]*Record
	order   []string
}

var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore(scope Scope, dimension int) *InMemoryStore {
	return &InMemoryStore{
		scope:   scope,
		vecDim:  dimension,
		records: make(map[string]*Record),
	}
}

func (s *InMemoryStore) Add(ctx context.Context, record *Record) error {
	if len(record.Embedding) != s.vecDim {
		return errors.Wrapf(errors.ErrMemory, "embedding dimension mismatch: got %d, want %d", len(record.Embedding), s.vecDim)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	record.Scope = s.scope

	if _, exists := s.records[record.ID]; !exists {
		s.order = append(s.order, record.ID)
	}
	s.records[record.ID] = record
	return nil
}

func (s *InMemoryStore) Search(ctx context.Context, queryEmbedding []float32, limit int) ([]ScoredRecord, error) {
	if len(queryEmbedding) == 0 || limit <= 0 {
		return nil, nil
	}
	if len(queryEmbedding) != s.vecDim {
		return nil, errors.Wrapf(errors.ErrMemory, "query embedding dimension mismatch: got %d, want %d", len(queryEmbedding), s.vecDim)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.records) == 0 {
		return nil, nil
	}

	records := make([]*Record, 0, len(s.records))
	for _, id := range s.order {
		records = append(records, s.records[id])
	}

	dim := s.vecDim
	queryVec := make([]float64, dim)
	for i, v := range queryEmbedding {
		queryVec[i] = float64(v)
	}

	data := make([]float64, len(records)*dim)
	for i, record := range records {
		for j, v := range record.Embedding {
			data[i*dim+j] = float64(v)
		}
	}

	queryVector := mat.NewVecDense(dim, queryVec)
	recordMatrix := mat.NewDense(len(records), dim, data)

	var scores mat.VecDense
	scores.MulVec(recordMatrix, queryVector)

	results := make([]ScoredRecord, 0, len(records))
	for i, record := range records {
		results = append(results, ScoredRecord{
			Record: record,
			Score:  (scores.AtVec(i) + 1.0) * 0.5,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *InMemoryStore) List(ctx context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*Record, 0, len(s.order))
	for _, id := range s.order {
		records = append(records, s.records[id])
	}
	return records, nil
}

func (s *InMemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return nil
	}
	delete(s.records, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *InMemoryStore) SetImportance(ctx context.Context, id string, importance float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return errors.Wrapf(errors.ErrNotFound, "record %s", id)
	}
	record.Importance = importance
	return nil
}

func (s *InMemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
