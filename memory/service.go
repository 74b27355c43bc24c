package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/musedev/muse/config"
	"github.com/musedev/muse/errors"
	"github.com/musedev/muse/llm"
)

type (
	// Service owns every scope's index: the shared global one plus one
	// per chat, opened lazily from disk. A scope whose index is corrupt
	// (dimension mismatch) is disabled rather than taking the agent down.
	Service struct {
		embedder llm.Embedder
		logger   *slog.Logger
		conf     *config.MemoryConfig

		globalDir  string
		chatMemDir func(chatName string) string

		mu       sync.Mutex
		stores   map[Scope]Store
		disabled map[Scope]bool
	}
)

func NewService(
	embedder llm.Embedder,
	conf *config.MemoryConfig,
	logger *slog.Logger,
	globalDir string,
	chatMemDir func(chatName string) string,
) *Service {
	return &Service{
		embedder:   embedder,
		logger:     logger,
		conf:       conf,
		globalDir:  globalDir,
		chatMemDir: chatMemDir,
		stores:     make(map[Scope]Store),
		disabled:   make(map[Scope]bool),
	}
}

// store opens (or returns) the index behind scope. A failed open marks the
// scope disabled so the loop can continue without L3 for it.
func (s *Service) store(scope Scope) (Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disabled[scope] {
		return nil, errors.Wrapf(errors.ErrMemory, "scope %s is disabled", scope)
	}
	if store, ok := s.stores[scope]; ok {
		return store, nil
	}

	var (
		store Store
		err   error
	)
	if s.conf.SqliteEnabled {
		dir := s.globalDir
		if chatName, ok := chatNameOf(scope); ok {
			dir = s.chatMemDir(chatName)
		}
		store, err = NewSqliteStore(dir, scope, s.embedder.Dimension())
	} else {
		store = NewInMemoryStore(scope, s.embedder.Dimension())
	}
	if err != nil {
		s.disabled[scope] = true
		s.logger.Error("disabling memory scope", slog.String("scope", string(scope)), slog.Any("error", err))
		return nil, errors.Wrapf(errors.ErrMemory, "failed to open scope %s: %v", scope, err)
	}

	s.stores[scope] = store
	return store, nil
}

func chatNameOf(scope Scope) (string, bool) {
	const prefix = "chat:"
	str := string(scope)
	if len(str) > len(prefix) && str[:len(prefix)] == prefix {
		return str[len(prefix):], true
	}
	return "", false
}

// Add embeds text and inserts a record into scope, returning the new id.
func (s *Service) Add(ctx context.Context, scope Scope, text string, importance float64, metadata map[string]any) (string, error) {
	store, err := s.store(scope)
	if err != nil {
		return "", err
	}

	embeddings, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return "", errors.Wrapf(err, "failed to embed memory text")
	}

	record := &Record{
		Text:       text,
		Embedding:  embeddings[0],
		Importance: clamp01(importance),
		Metadata:   metadata,
	}
	if err := store.Add(ctx, record); err != nil {
		return "", err
	}

	s.logger.Debug("memory record added",
		slog.String("scope", string(scope)),
		slog.String("id", record.ID),
		slog.Float64("importance", record.Importance))

	return record.ID, nil
}

// Search embeds the query once and runs it against every scope in scopes,
// merging by descending similarity. A disabled scope contributes nothing.
func (s *Service) Search(ctx context.Context, scopes []Scope, query string, k int) ([]ScoredRecord, error) {
	if k <= 0 || len(scopes) == 0 {
		return nil, nil
	}

	embeddings, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to embed query")
	}
	queryEmbedding := embeddings[0]

	var merged []ScoredRecord
	for _, scope := range scopes {
		store, err := s.store(scope)
		if err != nil {
			continue
		}
		results, err := store.Search(ctx, queryEmbedding, k)
		if err != nil {
			if errors.Is(err, errors.ErrMemory) {
				s.Disable(scope)
				continue
			}
			return nil, err
		}
		merged = append(merged, results...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})

	return merged, nil
}

func (s *Service) List(ctx context.Context, scope Scope) ([]*Record, error) {
	store, err := s.store(scope)
	if err != nil {
		return nil, err
	}
	return store.List(ctx)
}

func (s *Service) Delete(ctx context.Context, scope Scope, id string) error {
	store, err := s.store(scope)
	if err != nil {
		return err
	}
	return store.Delete(ctx, id)
}

func (s *Service) SetImportance(ctx context.Context, scope Scope, id string, importance float64) error {
	store, err := s.store(scope)
	if err != nil {
		return err
	}
	return store.SetImportance(ctx, id, clamp01(importance))
}

func (s *Service) Count(ctx context.Context, scope Scope) (int, error) {
	store, err := s.store(scope)
	if err != nil {
		return 0, err
	}
	return store.Count(ctx)
}

// Disable turns a scope off for the rest of the process; used when an
// index reports corruption mid-flight.
func (s *Service) Disable(scope Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if store, ok := s.stores[scope]; ok {
		_ = store.Close()
		delete(s.stores, scope)
	}
	s.disabled[scope] = true
	s.logger.Warn("memory scope disabled", slog.String("scope", string(scope)))
}

func (s *Service) Disabled(scope Scope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disabled[scope]
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for scope, store := range s.stores {
		if err := store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.stores, scope)
	}
	return firstErr
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
