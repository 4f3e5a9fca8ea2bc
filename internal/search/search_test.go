package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jacklau/ghstars/internal/apperr"
	"github.com/jacklau/ghstars/internal/store"
)

// mapEmbedder returns a fixed vector per query text.
type mapEmbedder struct {
	vecs  map[string][]float32
	err   error
	calls atomic.Int32
}

func (m *mapEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	if v, ok := m.vecs[text]; ok {
		return v, nil
	}
	return []float32{1, 1}, nil
}

func setupTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func strp(s string) *string { return &s }

type seedRepo struct {
	id          int64
	name        string
	ownerLogin  string
	description string
	language    string
	stars       int64
	vec         []float32
}

func seed(t *testing.T, db *store.DB, owner string, repos ...seedRepo) {
	t.Helper()
	records := make([]store.Record, len(repos))
	vectors := make([][]float32, len(repos))
	for i, r := range repos {
		login := r.ownerLogin
		if login == "" {
			login = "upstream"
		}
		rec := store.Record{
			ID:         r.id,
			Name:       r.name,
			FullName:   login + "/" + r.name,
			OwnerLogin: login,
			URL:        "https://github.com/" + login + "/" + r.name,
			Stars:      r.stars,
			UpdatedAt:  "2024-01-02T03:04:05Z",
			Raw:        json.RawMessage(fmt.Sprintf(`{"id":%d}`, r.id)),
		}
		if r.description != "" {
			rec.Description = strp(r.description)
		}
		if r.language != "" {
			rec.Language = strp(r.language)
		}
		records[i] = rec
		vec := r.vec
		if vec == nil {
			vec = []float32{0, 1}
		}
		vectors[i] = vec
	}
	if err := db.ReplaceOwnerSnapshot(context.Background(), owner, records, vectors, time.Now()); err != nil {
		t.Fatalf("seeding %s: %v", owner, err)
	}
}

func hitIDs(hits []Hit) []int64 {
	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.Record.ID
	}
	return ids
}

func TestSearchEmptyQueryOrdersByStars(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db, "alice",
		seedRepo{id: 1, name: "small", stars: 10},
		seedRepo{id: 2, name: "big", stars: 100},
		seedRepo{id: 3, name: "medium", stars: 50},
	)

	emb := &mapEmbedder{}
	r := NewRanker(db, emb)
	hits, err := r.Search(context.Background(), Query{Owners: []string{"alice"}, Limit: 2})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if got, want := hitIDs(hits), []int64{2, 3}; !reflect.DeepEqual(got, want) {
		t.Errorf("ids = %v, want %v", got, want)
	}
	for _, h := range hits {
		if h.Origin != OriginList {
			t.Errorf("origin = %v, want list", h.Origin)
		}
	}
	if emb.calls.Load() != 0 {
		t.Errorf("empty query embedded %d times", emb.calls.Load())
	}
}

func TestSearchEmptyQueryLanguageFilter(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db, "alice",
		seedRepo{id: 1, name: "redis", language: "C", stars: 300},
		seedRepo{id: 2, name: "go-redis", language: "Go", stars: 200},
		seedRepo{id: 3, name: "cobra", language: "Go", stars: 100},
		seedRepo{id: 4, name: "notes", stars: 5},
	)

	r := NewRanker(db, &mapEmbedder{})
	hits, err := r.Search(context.Background(), Query{Owners: []string{"alice"}, Languages: []string{"go"}})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got, want := hitIDs(hits), []int64{2, 3}; !reflect.DeepEqual(got, want) {
		t.Errorf("ids = %v, want %v", got, want)
	}
}

func TestSearchEmptyQueryTieBreak(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db, "bob", seedRepo{id: 1, name: "x", stars: 10})
	seed(t, db, "alice",
		seedRepo{id: 9, name: "y", stars: 10},
		seedRepo{id: 3, name: "z", stars: 10},
	)

	r := NewRanker(db, nil)
	hits, err := r.Search(context.Background(), Query{Owners: []string{"bob", "alice"}})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got, want := hitIDs(hits), []int64{3, 9, 1}; !reflect.DeepEqual(got, want) {
		t.Errorf("ids = %v, want %v", got, want)
	}
}

func TestSearchLexicalScores(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db, "alice",
		seedRepo{id: 1, name: "redis", stars: 10},
		seedRepo{id: 2, name: "rejson", ownerLogin: "redislabs", stars: 20},
		seedRepo{id: 3, name: "mux", description: "Works well with Redis", stars: 30},
		seedRepo{id: 4, name: "cobra", stars: 40},
	)

	r := NewRanker(db, nil)
	hits, err := r.Search(context.Background(), Query{Owners: []string{"alice"}, Text: "REDIS"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if got, want := hitIDs(hits), []int64{1, 2, 3}; !reflect.DeepEqual(got, want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
	wantScores := []float64{ScoreName, ScoreFullName, ScoreDescription}
	for i, h := range hits {
		if h.Origin != OriginLexical {
			t.Errorf("hit %d origin = %v, want lexical", i, h.Origin)
		}
		if h.Score != wantScores[i] {
			t.Errorf("hit %d score = %v, want %v", i, h.Score, wantScores[i])
		}
	}
}

func TestSearchLexicalAheadOfSemantic(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db, "alice",
		seedRepo{id: 1, name: "redis", stars: 1, vec: []float32{0, 1}},
		seedRepo{id: 2, name: "mux", description: "a redis helper", stars: 5, vec: []float32{0, 1}},
		seedRepo{id: 3, name: "keydb", stars: 1000, vec: []float32{1, 0}},
	)

	emb := &mapEmbedder{vecs: map[string][]float32{"redis": {1, 0}}}
	r := NewRanker(db, emb)
	hits, err := r.Search(context.Background(), Query{Owners: []string{"alice"}, Text: "redis"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if got, want := hitIDs(hits), []int64{1, 2, 3}; !reflect.DeepEqual(got, want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
	if hits[0].Score != ScoreName {
		t.Errorf("redis score = %v, want %d", hits[0].Score, ScoreName)
	}
	if hits[2].Origin != OriginSemantic {
		t.Errorf("keydb origin = %v, want semantic", hits[2].Origin)
	}
	if hits[2].Score < 99.9 {
		t.Errorf("keydb score = %v, want ~100", hits[2].Score)
	}
	if emb.calls.Load() != 1 {
		t.Errorf("embedder called %d times, want 1", emb.calls.Load())
	}
}

func TestSearchDeduplicatesFirstOccurrence(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db, "alice",
		seedRepo{id: 1, name: "redis", stars: 1, vec: []float32{1, 0}},
		seedRepo{id: 2, name: "cobra", stars: 1, vec: []float32{0, 1}},
	)

	emb := &mapEmbedder{vecs: map[string][]float32{"redis": {1, 0}}}
	r := NewRanker(db, emb)
	hits, err := r.Search(context.Background(), Query{Owners: []string{"alice"}, Text: "redis"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Record.ID != 1 || hits[0].Origin != OriginLexical {
		t.Errorf("first hit = %d/%v, want 1/lexical", hits[0].Record.ID, hits[0].Origin)
	}
	if hits[1].Record.ID != 2 || hits[1].Origin != OriginSemantic {
		t.Errorf("second hit = %d/%v, want 2/semantic", hits[1].Record.ID, hits[1].Origin)
	}
}

func TestSearchShortQuerySkipsEmbedder(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db, "alice",
		seedRepo{id: 1, name: "go-cmp", stars: 1},
		seedRepo{id: 2, name: "tokio", stars: 2},
	)

	emb := &mapEmbedder{}
	r := NewRanker(db, emb)
	hits, err := r.Search(context.Background(), Query{Owners: []string{"alice"}, Text: " go "})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if emb.calls.Load() != 0 {
		t.Errorf("embedder called %d times for a short query", emb.calls.Load())
	}
	if got, want := hitIDs(hits), []int64{1}; !reflect.DeepEqual(got, want) {
		t.Errorf("ids = %v, want %v", got, want)
	}
}

func TestSearchMultipleOwnersSortedByStars(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db, "alice", seedRepo{id: 1, name: "cli-a", stars: 5})
	seed(t, db, "bob",
		seedRepo{id: 2, name: "cli-b", stars: 50},
		seedRepo{id: 3, name: "cli-c", stars: 1},
	)

	r := NewRanker(db, nil)
	hits, err := r.Search(context.Background(), Query{Owners: []string{"alice", "bob"}, Text: "cli", Limit: 2})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got, want := hitIDs(hits), []int64{2, 1}; !reflect.DeepEqual(got, want) {
		t.Errorf("ids = %v, want %v", got, want)
	}
	if hits[0].Record.Owner != "bob" || hits[1].Record.Owner != "alice" {
		t.Errorf("owners = %s,%s", hits[0].Record.Owner, hits[1].Record.Owner)
	}
}

func TestSearchUnknownOwner(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db, "alice", seedRepo{id: 1, name: "x", stars: 1})

	r := NewRanker(db, nil)
	_, err := r.Search(context.Background(), Query{Owners: []string{"alice", "ghost"}, Text: "x"})
	if !apperr.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if apperr.ExitCode(err) != apperr.ExitNotFound {
		t.Errorf("exit code = %d", apperr.ExitCode(err))
	}
}

func TestSearchNoOwners(t *testing.T) {
	r := NewRanker(setupTestDB(t), nil)
	if _, err := r.Search(context.Background(), Query{Owners: []string{" "}}); err == nil {
		t.Fatal("expected error without owners")
	}
}

func TestSearchDefaultLimit(t *testing.T) {
	db := setupTestDB(t)
	repos := make([]seedRepo, 35)
	for i := range repos {
		repos[i] = seedRepo{id: int64(i + 1), name: fmt.Sprintf("repo-%d", i), stars: int64(i)}
	}
	seed(t, db, "alice", repos...)

	r := NewRanker(db, nil)
	for _, limit := range []int{0, -5} {
		hits, err := r.Search(context.Background(), Query{Owners: []string{"alice"}, Limit: limit})
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(hits) != DefaultLimit {
			t.Errorf("limit %d: got %d hits, want %d", limit, len(hits), DefaultLimit)
		}
	}
}

func TestSearchQueryEmbeddingFailure(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db, "alice", seedRepo{id: 1, name: "redis", stars: 1})

	cause := errors.New("provider down")
	r := NewRanker(db, &mapEmbedder{err: cause})
	_, err := r.Search(context.Background(), Query{Owners: []string{"alice"}, Text: "redis"})

	var embErr *apperr.EmbeddingError
	if !errors.As(err, &embErr) {
		t.Fatalf("expected EmbeddingError, got %v", err)
	}
	if embErr.Index != -1 {
		t.Errorf("index = %d, want -1", embErr.Index)
	}
	if !errors.Is(err, cause) {
		t.Error("cause not wrapped")
	}
}

func TestSearchIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db, "alice",
		seedRepo{id: 1, name: "redis", stars: 3, vec: []float32{1, 0}},
		seedRepo{id: 2, name: "keydb", stars: 3, vec: []float32{0.9, 0.1}},
		seedRepo{id: 3, name: "dragonfly", stars: 3, vec: []float32{0.8, 0.2}},
	)

	r := NewRanker(db, &mapEmbedder{vecs: map[string][]float32{"redis": {1, 0}}})
	q := Query{Owners: []string{"alice"}, Text: "redis", Limit: 10}
	first, err := r.Search(context.Background(), q)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	second, err := r.Search(context.Background(), q)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !reflect.DeepEqual(hitIDs(first), hitIDs(second)) {
		t.Errorf("results differ: %v vs %v", hitIDs(first), hitIDs(second))
	}
}

func TestOriginString(t *testing.T) {
	tests := map[Origin]string{
		OriginList:     "list",
		OriginLexical:  "lexical",
		OriginSemantic: "semantic",
		Origin(9):      "unknown",
	}
	for o, want := range tests {
		if got := o.String(); got != want {
			t.Errorf("Origin(%d).String() = %q, want %q", o, got, want)
		}
	}
}

// swappingStore replaces alice's snapshot right after the first read, the way
// a fetch committing from another process would.
type swappingStore struct {
	*store.DB
	t       *testing.T
	swapped bool
}

func (s *swappingStore) Snapshot(ctx context.Context, owners, languages []string) ([]store.Entry, error) {
	entries, err := s.DB.Snapshot(ctx, owners, languages)
	if !s.swapped {
		s.swapped = true
		seed(s.t, s.DB, "alice", seedRepo{id: 1, name: "alpha", stars: 999, vec: []float32{1, 0}})
	}
	return entries, err
}

func TestSearchReadsOneSnapshot(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db, "alice",
		seedRepo{id: 1, name: "alpha", stars: 1, vec: []float32{0, 1}},
		seedRepo{id: 2, name: "beta", stars: 2, vec: []float32{1, 0}},
	)

	st := &swappingStore{DB: db, t: t}
	r := NewRanker(st, &mapEmbedder{vecs: map[string][]float32{"zzz": {1, 0}}})
	q := Query{Owners: []string{"alice"}, Text: "zzz", Limit: 1}

	hits, err := r.Search(context.Background(), q)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Record.ID != 2 || hits[0].Record.Stars != 2 {
		t.Fatalf("hits = %+v, want id 2 from the old snapshot", hits)
	}

	hits, err = r.Search(context.Background(), q)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Record.ID != 1 || hits[0].Record.Stars != 999 {
		t.Fatalf("hits = %+v, want id 1 with 999 stars from the new snapshot", hits)
	}
	if hits[0].Score != 100 {
		t.Errorf("score = %v, want 100", hits[0].Score)
	}
}

func TestSearchMultiOwnerKeepsSharedRepoPerOwner(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db, "alice", seedRepo{id: 7, name: "redis", stars: 5})
	seed(t, db, "bob", seedRepo{id: 7, name: "redis", stars: 5})

	r := NewRanker(db, nil)
	hits, err := r.Search(context.Background(), Query{Owners: []string{"alice", "bob"}, Text: "redis"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 || hits[0].Record.Owner != "alice" || hits[1].Record.Owner != "bob" {
		t.Errorf("hits = %+v, want one redis hit per owner", hits)
	}
}
