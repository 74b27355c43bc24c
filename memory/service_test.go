package memory_test

import (
	"context"
	"hash/fnv"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/musedev/muse/config"
	"github.com/musedev/muse/errors"
	"github.com/musedev/muse/internal/mytesting"
	"github.com/musedev/muse/memory"
)

// hashEmbedder is a deterministic stand-in for the embedding model: texts
// sharing words land near each other, so ranking is stable and testable.
type hashEmbedder struct {
	dim int
}

func (e hashEmbedder) Dimension() int { return e.dim }

func (e hashEmbedder) Embed(_ context.Context, texts ...string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, e.dim)
		h := fnv.New32a()
		for _, word := range splitWords(text) {
			h.Reset()
			_, _ = h.Write([]byte(word))
			vec[int(h.Sum32())%e.dim] += 1
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for j := range vec {
				vec[j] = float32(float64(vec[j]) / norm)
			}
		}
		out[i] = vec
	}
	return out, nil
}

func splitWords(s string) []string {
	var words []string
	start := -1
	for i, r := range s {
		if r == ' ' || r == '\n' || r == '\t' {
			if start >= 0 {
				words = append(words, s[start:i])
				start = -1
			}
		} else if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		words = append(words, s[start:])
	}
	return words
}

type ServiceTestSuite struct {
	mytesting.Suite

	svc *memory.Service
}

func TestService(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}

func (s *ServiceTestSuite) SetupTest() {
	s.Suite.SetupTest()

	conf := config.NewMemoryConfig()
	conf.SqliteEnabled = false
	s.svc = memory.NewService(
		hashEmbedder{dim: 32},
		conf,
		slog.Default(),
		s.T().TempDir(),
		func(string) string { return s.T().TempDir() },
	)
}

func (s *ServiceTestSuite) TestAddAndSearch() {
	_, err := s.svc.Add(s, memory.ScopeGlobal, "python 3.13 removes the GIL optionally", 0.8, nil)
	s.Require().NoError(err)
	_, err = s.svc.Add(s, memory.ScopeGlobal, "the cat sat on the mat", 0.2, nil)
	s.Require().NoError(err)

	results, err := s.svc.Search(s, []memory.Scope{memory.ScopeGlobal}, "python 3.13 details", 2)
	s.Require().NoError(err)
	s.Require().Len(results, 2)
	s.Contains(results[0].Record.Text, "python 3.13")
	s.GreaterOrEqual(results[0].Score, results[1].Score)
}

func (s *ServiceTestSuite) TestScopeIsolation() {
	scopeA := memory.ChatScope("alpha")
	scopeB := memory.ChatScope("beta")

	_, err := s.svc.Add(s, scopeA, "secret fact belonging to alpha", 0.9, nil)
	s.Require().NoError(err)

	// a query whose scope set omits chat:alpha never sees its records
	results, err := s.svc.Search(s, []memory.Scope{memory.ScopeGlobal, scopeB}, "secret fact belonging to alpha", 5)
	s.Require().NoError(err)
	s.Empty(results)

	results, err = s.svc.Search(s, []memory.Scope{memory.ScopeGlobal, scopeA}, "secret fact belonging to alpha", 5)
	s.Require().NoError(err)
	s.Require().Len(results, 1)
	s.Equal(scopeA, results[0].Record.Scope)
}

func (s *ServiceTestSuite) TestGlobalAndChatScopesMerge() {
	scope := memory.ChatScope("demo")
	_, err := s.svc.Add(s, memory.ScopeGlobal, "shared knowledge about build tags", 0.5, nil)
	s.Require().NoError(err)
	_, err = s.svc.Add(s, scope, "project decision about build tags", 0.5, nil)
	s.Require().NoError(err)

	results, err := s.svc.Search(s, []memory.Scope{memory.ScopeGlobal, scope}, "build tags", 3)
	s.Require().NoError(err)
	s.Require().Len(results, 2)

	scopes := map[memory.Scope]bool{}
	for _, r := range results {
		scopes[r.Record.Scope] = true
	}
	s.True(scopes[memory.ScopeGlobal])
	s.True(scopes[scope])
}

func (s *ServiceTestSuite) TestDeleteIsExplicitAndIdempotent() {
	id, err := s.svc.Add(s, memory.ScopeGlobal, "to be removed", 0.5, nil)
	s.Require().NoError(err)

	s.Require().NoError(s.svc.Delete(s, memory.ScopeGlobal, id))
	s.Require().NoError(s.svc.Delete(s, memory.ScopeGlobal, id))

	count, err := s.svc.Count(s, memory.ScopeGlobal)
	s.Require().NoError(err)
	s.Zero(count)
}

func (s *ServiceTestSuite) TestImportanceIsTheOnlyMutableField() {
	id, err := s.svc.Add(s, memory.ScopeGlobal, "stable text", 0.3, nil)
	s.Require().NoError(err)

	s.Require().NoError(s.svc.SetImportance(s, memory.ScopeGlobal, id, 1.7))

	records, err := s.svc.List(s, memory.ScopeGlobal)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal("stable text", records[0].Text)
	s.Equal(1.0, records[0].Importance) // clamped into [0,1]
}

func (s *ServiceTestSuite) TestMetadataSurvivesStorage() {
	_, err := s.svc.Add(s, memory.ScopeGlobal, "fact with provenance", 0.5, map[string]any{"tool": "web_fetch"})
	s.Require().NoError(err)

	records, err := s.svc.List(s, memory.ScopeGlobal)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal("web_fetch", records[0].Metadata["tool"])
}

func (s *ServiceTestSuite) TestDisabledScopeContributesNothing() {
	_, err := s.svc.Add(s, memory.ScopeGlobal, "kept", 0.5, nil)
	s.Require().NoError(err)

	scope := memory.ChatScope("broken")
	s.svc.Disable(scope)

	results, err := s.svc.Search(s, []memory.Scope{memory.ScopeGlobal, scope}, "kept", 3)
	s.Require().NoError(err)
	s.Len(results, 1)

	_, err = s.svc.Add(s, scope, "ignored", 0.5, nil)
	s.Require().Error(err)
	s.True(errors.Is(err, errors.ErrMemory))
}

func TestInMemoryStoreDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemoryStore(memory.ScopeGlobal, 8)

	err := store.Add(ctx, &memory.Record{Text: "bad", Embedding: make([]float32, 4)})
	if err == nil || !errors.Is(err, errors.ErrMemory) {
		t.Fatalf("expected ErrMemory, got %v", err)
	}
}
