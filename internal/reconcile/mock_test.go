package reconcile

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/pantrylab/nutrimatch/internal/model"
	"github.com/pantrylab/nutrimatch/internal/store"
	"github.com/pantrylab/nutrimatch/pkg/fdc"
)

// --- In-memory store ---

type memStore struct {
	mu          sync.Mutex
	ingredients []model.SourceRecord
	candidates  map[string]model.CandidateRecord
	links       map[string]model.NutritionLink
	runs        map[string]*model.Run
	runOrder    []string

	lookupErr    func(key string) error
	upsertErr    func(key string) error
	listErr      error
	candidateErr error

	lookups int
	upserts int
}

func newMemStore(ingredients []model.SourceRecord, candidates ...model.CandidateRecord) *memStore {
	s := &memStore{
		ingredients: ingredients,
		candidates:  make(map[string]model.CandidateRecord),
		links:       make(map[string]model.NutritionLink),
		runs:        make(map[string]*model.Run),
	}
	for _, c := range candidates {
		s.candidates[c.Name] = c
	}
	return s
}

func (s *memStore) ListUnmatched(context.Context) ([]model.SourceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	linked := make(map[string]bool)
	for _, l := range s.links {
		linked[l.SourceID] = true
	}
	var out []model.SourceRecord
	for _, r := range s.ingredients {
		if !linked[r.ID] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) ListCandidates(_ context.Context, page store.Page) ([]model.CandidateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.candidateErr != nil && page.Offset > 0 {
		return nil, s.candidateErr
	}
	names := make([]string, 0, len(s.candidates))
	for n := range s.candidates {
		names = append(names, n)
	}
	sort.Strings(names)

	var out []model.CandidateRecord
	for i := page.Offset; i < len(names) && len(out) < page.Limit; i++ {
		out = append(out, s.candidates[names[i]])
	}
	return out, nil
}

func (s *memStore) UpsertCandidates(_ context.Context, cs []model.CandidateRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cs {
		c.Name = strings.ToLower(strings.TrimSpace(c.Name))
		s.candidates[c.Name] = c
	}
	return int64(len(cs)), nil
}

func (s *memStore) LookupLink(_ context.Context, key string) (*model.NutritionLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.lookupErr != nil {
		if err := s.lookupErr(key); err != nil {
			return nil, err
		}
	}
	l, ok := s.links[key]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (s *memStore) UpsertMatch(_ context.Context, l model.NutritionLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if s.upsertErr != nil {
		if err := s.upsertErr(l.Key); err != nil {
			return err
		}
	}
	s.links[l.Key] = l
	return nil
}

func (s *memStore) StartRun(_ context.Context, minScore float64) (*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := "run-" + string(rune('a'+len(s.runOrder)))
	r := &model.Run{ID: id, Status: model.RunStatusRunning, MinScore: minScore, StartedAt: time.Now()}
	s.runs[id] = r
	s.runOrder = append(s.runOrder, id)
	cp := *r
	return &cp, nil
}

func (s *memStore) CompleteRun(_ context.Context, id string, c model.RunCounts) error {
	return s.finish(id, model.RunStatusComplete, c, "")
}

func (s *memStore) FailRun(_ context.Context, id string, c model.RunCounts, err error) error {
	return s.finish(id, model.RunStatusFailed, c, err.Error())
}

func (s *memStore) finish(id string, status model.RunStatus, c model.RunCounts, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return errors.New("run not found")
	}
	now := time.Now()
	r.Status, r.Counts, r.Error, r.CompletedAt = status, c, msg, &now
	return nil
}

func (s *memStore) ListRuns(context.Context, store.RunFilter) ([]model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Run, 0, len(s.runOrder))
	for _, id := range s.runOrder {
		out = append(out, *s.runs[id])
	}
	return out, nil
}

func (s *memStore) Migrate(context.Context) error { return nil }
func (s *memStore) Close() error                  { return nil }

func (s *memStore) link(key string) (model.NutritionLink, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[key]
	return l, ok
}

// --- FDC Mock ---

type mockFDCClient struct {
	mock.Mock
}

func (m *mockFDCClient) Search(ctx context.Context, query string, opts ...fdc.SearchOption) (*fdc.SearchResponse, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fdc.SearchResponse), args.Error(1)
}
