// Package ingest turns a freshly fetched list of starred repositories into a
// stored, embedded snapshot for one owner.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jacklau/ghstars/internal/apperr"
	"github.com/jacklau/ghstars/internal/github"
	"github.com/jacklau/ghstars/internal/provider"
	"github.com/jacklau/ghstars/internal/pubsub"
	"github.com/jacklau/ghstars/internal/retry"
	"github.com/jacklau/ghstars/internal/store"
)

const (
	// DefaultBatchSize is the number of texts sent per embedding request.
	DefaultBatchSize = 32

	// DefaultConcurrency is the number of embedding requests in flight.
	DefaultConcurrency = 4
)

// SnapshotWriter is the part of the store the pipeline writes through.
type SnapshotWriter interface {
	ReplaceOwnerSnapshot(ctx context.Context, owner string, records []store.Record, vectors [][]float32, refreshedAt time.Time) error
}

// Stage identifies a step of one ingestion.
type Stage string

const (
	StageEmbedding Stage = "embedding"
	StageEmbedded  Stage = "embedded"
	StageStoring   Stage = "storing"
	StageDone      Stage = "done"
)

// Progress is published on the broker as an ingestion advances.
type Progress struct {
	Owner string
	Stage Stage
	Done  int
	Total int
	Err   error
}

// Result summarizes a successful ingestion.
type Result struct {
	Owner       string
	Records     int
	Dimension   int
	RefreshedAt time.Time
}

// Pipeline embeds records and replaces an owner's snapshot atomically.
// Ingestions of the same owner are serialized; different owners proceed
// in parallel.
type Pipeline struct {
	store       SnapshotWriter
	embedder    provider.Embedder
	batchSize   int
	concurrency int
	policy      retry.Policy
	now         func() time.Time
	broker      *pubsub.Broker[Progress]
	logger      *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the time source used for the refresh timestamp.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithBatchSize sets how many texts go into one embedding request.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithConcurrency sets how many embedding requests run at once.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithRetryPolicy sets the backoff for failed embedding batches.
func WithRetryPolicy(rp retry.Policy) Option {
	return func(p *Pipeline) { p.policy = rp }
}

// WithBroker publishes progress events to b.
func WithBroker(b *pubsub.Broker[Progress]) Option {
	return func(p *Pipeline) { p.broker = b }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New creates a Pipeline writing to st and embedding with e.
func New(st SnapshotWriter, e provider.Embedder, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:       st,
		embedder:    e,
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
		policy:      retry.Default,
		now:         time.Now,
		logger:      slog.Default(),
		locks:       make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EmbeddingText is the text embedded for a repository: its name, language and
// description separated by single spaces, with missing fields left empty.
func EmbeddingText(r github.Repo) string {
	return r.Name + " " + deref(r.Language) + " " + deref(r.Description)
}

// Ingest embeds every repo and replaces owner's snapshot with them. The store
// is written only after every embedding succeeded, in a single transaction, so
// on any error the previous snapshot (or its absence) is left untouched.
// Embedding failures are reported as *apperr.EmbeddingError.
func (p *Pipeline) Ingest(ctx context.Context, owner string, repos []github.Repo) (*Result, error) {
	if owner == "" {
		return nil, fmt.Errorf("ingesting: empty owner")
	}

	unlock := p.lockOwner(owner)
	defer unlock()

	logger := p.logger.With("owner", owner)
	total := len(repos)
	p.publish(pubsub.Started, Progress{Owner: owner, Stage: StageEmbedding, Total: total})

	texts := make([]string, total)
	for i, r := range repos {
		texts[i] = EmbeddingText(r)
	}

	vectors, err := p.embedAll(ctx, owner, texts)
	if err != nil {
		logger.Error("embedding failed", "error", err)
		p.publish(pubsub.Failed, Progress{Owner: owner, Stage: StageEmbedding, Total: total, Err: err})
		return nil, err
	}
	p.publish(pubsub.Progress, Progress{Owner: owner, Stage: StageEmbedded, Done: total, Total: total})

	records := make([]store.Record, total)
	for i, r := range repos {
		records[i] = toRecord(owner, r)
	}

	refreshedAt := p.now()
	p.publish(pubsub.Progress, Progress{Owner: owner, Stage: StageStoring, Done: total, Total: total})
	if err := p.store.ReplaceOwnerSnapshot(ctx, owner, records, vectors, refreshedAt); err != nil {
		err = fmt.Errorf("storing snapshot for %s: %w", owner, err)
		logger.Error("storing snapshot failed", "error", err)
		p.publish(pubsub.Failed, Progress{Owner: owner, Stage: StageStoring, Total: total, Err: err})
		return nil, err
	}

	res := &Result{Owner: owner, Records: total, RefreshedAt: refreshedAt}
	if total > 0 {
		res.Dimension = len(vectors[0])
	}
	logger.Info("ingested snapshot", "records", res.Records, "dimension", res.Dimension)
	p.publish(pubsub.Completed, Progress{Owner: owner, Stage: StageDone, Done: total, Total: total})
	return res, nil
}

// embedAll embeds texts in batches, running up to p.concurrency batches at
// once. On failure the error names the lowest failing record index.
func (p *Pipeline) embedAll(ctx context.Context, owner string, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	if len(texts) == 0 {
		return vectors, nil
	}

	numBatches := (len(texts) + p.batchSize - 1) / p.batchSize
	batchErrs := make([]*apperr.EmbeddingError, numBatches)
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for b := 0; b < numBatches; b++ {
		start := b * p.batchSize
		end := min(start+p.batchSize, len(texts))

		g.Go(func() error {
			vecs, err := p.embedBatch(gctx, texts[start:end])
			if err != nil {
				idx := start
				var be *provider.BatchError
				if errors.As(err, &be) {
					idx = start + be.Index
				}
				batchErrs[b] = &apperr.EmbeddingError{Index: idx, Err: err}
				return batchErrs[b]
			}
			copy(vectors[start:end], vecs)

			n := done.Add(int64(end - start))
			p.publish(pubsub.Progress, Progress{Owner: owner, Stage: StageEmbedding, Done: int(n), Total: len(texts)})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, &apperr.EmbeddingError{Index: firstMissing(vectors), Err: ctx.Err()}
		}
		// Batches cancelled because a sibling failed are not the cause.
		var fallback *apperr.EmbeddingError
		for _, be := range batchErrs {
			if be == nil {
				continue
			}
			if !errors.Is(be.Err, context.Canceled) {
				return nil, be
			}
			if fallback == nil {
				fallback = be
			}
		}
		if fallback != nil {
			return nil, fallback
		}
		return nil, err
	}

	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim {
			return nil, &apperr.EmbeddingError{
				Index: i,
				Err:   fmt.Errorf("%w: got %d dimensions, expected %d", store.ErrDimensionMismatch, len(v), dim),
			}
		}
	}
	return vectors, nil
}

// embedBatch embeds one batch with retries. A malformed response is not
// retried.
func (p *Pipeline) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := p.policy.Do(ctx, func() error {
		vecs, err := provider.EmbedBatch(ctx, p.embedder, texts)
		if err != nil {
			if errors.Is(err, provider.ErrInvalidResponse) || ctx.Err() != nil {
				return retry.Permanent(err)
			}
			return err
		}
		if len(vecs) != len(texts) {
			return retry.Permanent(fmt.Errorf("%w: expected %d embeddings, got %d",
				provider.ErrInvalidResponse, len(texts), len(vecs)))
		}
		for i, v := range vecs {
			if len(v) == 0 {
				return retry.Permanent(&provider.BatchError{
					Index: i,
					Err:   fmt.Errorf("%w: empty embedding", provider.ErrInvalidResponse),
				})
			}
		}
		out = vecs
		return nil
	})
	return out, err
}

func (p *Pipeline) lockOwner(owner string) func() {
	p.mu.Lock()
	l, ok := p.locks[owner]
	if !ok {
		l = &sync.Mutex{}
		p.locks[owner] = l
	}
	p.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (p *Pipeline) publish(t pubsub.EventType, ev Progress) {
	if p.broker != nil {
		p.broker.Publish(t, ev)
	}
}

func toRecord(owner string, r github.Repo) store.Record {
	return store.Record{
		Owner:       owner,
		ID:          r.ID,
		FullName:    r.FullName,
		Name:        r.Name,
		OwnerLogin:  r.OwnerLogin,
		URL:         r.HTMLURL,
		Description: r.Description,
		Language:    r.Language,
		Stars:       r.Stars,
		Forks:       r.Forks,
		OpenIssues:  r.OpenIssues,
		UpdatedAt:   r.UpdatedAt,
		CreatedAt:   r.CreatedAt,
		Raw:         r.Raw,
	}
}

func firstMissing(vectors [][]float32) int {
	for i, v := range vectors {
		if v == nil {
			return i
		}
	}
	return 0
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
