// Package search ranks an owner's cached stars against a query, merging a
// lexical substring pass with a semantic nearest-neighbour pass.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jacklau/ghstars/internal/apperr"
	"github.com/jacklau/ghstars/internal/provider"
	"github.com/jacklau/ghstars/internal/store"
)

const (
	// DefaultLimit is used when a query asks for no positive limit.
	DefaultLimit = 30

	// minSemanticQueryLen is the shortest query, in bytes, worth embedding.
	minSemanticQueryLen = 3
)

// Lexical scores, by the field that contains the query.
const (
	ScoreName        = 3
	ScoreFullName    = 2
	ScoreDescription = 1
)

// Store is the read side of the record store. Snapshot must return records
// and vectors from one committed snapshot.
type Store interface {
	GetRecords(ctx context.Context, owners []string, languages []string) ([]store.Record, error)
	Snapshot(ctx context.Context, owners []string, languages []string) ([]store.Entry, error)
	LastRefresh(ctx context.Context, owner string) (time.Time, bool, error)
}

// Origin is the pass that produced a hit. Lower values rank first.
type Origin int

const (
	OriginList Origin = iota
	OriginLexical
	OriginSemantic
)

func (o Origin) String() string {
	switch o {
	case OriginList:
		return "list"
	case OriginLexical:
		return "lexical"
	case OriginSemantic:
		return "semantic"
	default:
		return "unknown"
	}
}

// Hit is one ranked record.
type Hit struct {
	Record store.Record
	Origin Origin
	// Score is the lexical score (1-3) or the semantic similarity
	// (1 - distance) * 100. It is zero for list results.
	Score float64
}

// Query describes one search.
type Query struct {
	Owners    []string
	Languages []string
	Text      string
	Limit     int
}

// Ranker runs queries against the store.
type Ranker struct {
	store    Store
	embedder provider.Embedder
	logger   *slog.Logger
}

// Option configures a Ranker.
type Option func(*Ranker)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Ranker) { r.logger = l }
}

// NewRanker creates a Ranker. embedder may be nil, in which case only the
// lexical pass runs.
func NewRanker(st Store, embedder provider.Embedder, opts ...Option) *Ranker {
	r := &Ranker{store: st, embedder: embedder, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Search returns at most q.Limit records. Records are deduplicated by id
// within an owner only: a repository starred by two of the queried owners
// appears once for each of them.
//
// An empty query lists every record passing the language filter by stars.
// Otherwise each owner is searched independently over one read of its
// snapshot: lexical hits rank ahead of semantic hits, each group by
// descending score then stars. Results of several owners are concatenated
// and re-sorted by stars.
//
// Owners that were never fetched produce an *apperr.NotFoundError.
func (r *Ranker) Search(ctx context.Context, q Query) ([]Hit, error) {
	owners := normalize(q.Owners)
	if len(owners) == 0 {
		return nil, fmt.Errorf("search: no owners given")
	}
	languages := normalize(q.Languages)
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	for _, owner := range owners {
		_, ok, err := r.store.LastRefresh(ctx, owner)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &apperr.NotFoundError{
				Kind: "owner",
				Key:  owner,
				Hint: fmt.Sprintf("run `gh-stars fetch %s` first", owner),
			}
		}
	}

	text := strings.TrimSpace(q.Text)
	if text == "" {
		return r.list(ctx, owners, languages, limit)
	}

	var queryVec []float32
	if len(text) >= minSemanticQueryLen && r.embedder != nil {
		v, err := r.embedder.Embed(ctx, text)
		if err != nil {
			return nil, &apperr.EmbeddingError{Index: -1, Err: err}
		}
		queryVec = v
	}

	perOwner := make([][]Hit, len(owners))
	g, gctx := errgroup.WithContext(ctx)
	for i, owner := range owners {
		g.Go(func() error {
			hits, err := r.searchOwner(gctx, owner, text, queryVec, languages, limit)
			if err != nil {
				return fmt.Errorf("searching %s: %w", owner, err)
			}
			perOwner[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(owners) == 1 {
		return perOwner[0], nil
	}

	var merged []Hit
	for _, hits := range perOwner {
		merged = append(merged, hits...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Record.Stars > merged[j].Record.Stars
	})
	return truncate(merged, limit), nil
}

// list serves the empty query.
func (r *Ranker) list(ctx context.Context, owners, languages []string, limit int) ([]Hit, error) {
	records, err := r.store.GetRecords(ctx, owners, languages)
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Stars != b.Stars {
			return a.Stars > b.Stars
		}
		if a.Owner != b.Owner {
			return a.Owner < b.Owner
		}
		return a.ID < b.ID
	})

	hits := make([]Hit, 0, min(len(records), limit))
	for _, rec := range records {
		if len(hits) == limit {
			break
		}
		hits = append(hits, Hit{Record: rec, Origin: OriginList})
	}
	return hits, nil
}

func (r *Ranker) searchOwner(ctx context.Context, owner, text string, queryVec []float32, languages []string, limit int) ([]Hit, error) {
	entries, err := r.store.Snapshot(ctx, []string{owner}, languages)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]store.Record, len(entries))
	var hits []Hit
	needle := strings.ToLower(text)
	for _, e := range entries {
		byID[e.ID] = e.Record
		if score := LexicalScore(e.Record, needle); score > 0 {
			hits = append(hits, Hit{Record: e.Record, Origin: OriginLexical, Score: float64(score)})
		}
	}
	lexical := len(hits)

	if queryVec != nil {
		neighbors, err := store.Nearest(entries, queryVec, limit)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			hits = append(hits, Hit{Record: byID[n.ID], Origin: OriginSemantic, Score: (1 - n.Distance) * 100})
		}
	}

	hits = dedup(hits)
	r.logger.Debug("searched owner", "owner", owner, "lexical", lexical, "merged", len(hits))

	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Origin != b.Origin {
			return a.Origin < b.Origin
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Record.Stars != b.Record.Stars {
			return a.Record.Stars > b.Record.Stars
		}
		return a.Record.ID < b.Record.ID
	})
	return truncate(hits, limit), nil
}

// LexicalScore rates how directly rec matches needle, which must already be
// lower-cased: 3 for the name, 2 for the full name, 1 for the description,
// 0 for no match.
func LexicalScore(rec store.Record, needle string) int {
	switch {
	case strings.Contains(strings.ToLower(rec.Name), needle):
		return ScoreName
	case strings.Contains(strings.ToLower(rec.FullName), needle):
		return ScoreFullName
	case rec.Description != nil && strings.Contains(strings.ToLower(*rec.Description), needle):
		return ScoreDescription
	default:
		return 0
	}
}

// dedup keeps the first hit for each record id.
func dedup(hits []Hit) []Hit {
	seen := make(map[int64]bool, len(hits))
	out := hits[:0]
	for _, h := range hits {
		if seen[h.Record.ID] {
			continue
		}
		seen[h.Record.ID] = true
		out = append(out, h)
	}
	return out
}

func truncate(hits []Hit, limit int) []Hit {
	if len(hits) > limit {
		return hits[:limit]
	}
	return hits
}

// normalize trims entries, drops empty ones, and removes duplicates while
// keeping the first occurrence's position.
func normalize(values []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
