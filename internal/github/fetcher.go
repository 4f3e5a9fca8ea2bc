package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v60/github"

	"github.com/jacklau/ghstars/internal/apperr"
	"github.com/jacklau/ghstars/internal/retry"
)

const (
	// maxPerPage is the largest page size the starred endpoint accepts.
	maxPerPage = 100

	// defaultMaxRateLimitWait bounds how long a fetch sleeps for a rate
	// limit window to reset before giving up.
	defaultMaxRateLimitWait = 2 * time.Minute
)

// Fetcher downloads a user's starred repositories.
type Fetcher struct {
	client           *gogithub.Client
	policy           retry.Policy
	perPage          int
	maxRateLimitWait time.Duration
	requestTimeout   time.Duration
	onPage           func(page, fetched int)
	logger           *slog.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithRetryPolicy sets the backoff used for transient page failures.
func WithRetryPolicy(p retry.Policy) FetcherOption {
	return func(f *Fetcher) { f.policy = p }
}

// WithPerPage sets the page size, clamped to 1..100.
func WithPerPage(n int) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 && n <= maxPerPage {
			f.perPage = n
		}
	}
}

// WithMaxRateLimitWait bounds the sleep for a rate limit reset.
func WithMaxRateLimitWait(d time.Duration) FetcherOption {
	return func(f *Fetcher) { f.maxRateLimitWait = d }
}

// WithRequestTimeout bounds each page request. Zero means no bound beyond
// the caller's context.
func WithRequestTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) { f.requestTimeout = d }
}

// WithPageHook registers fn to be called after each page with the page
// number and the running total of repositories.
func WithPageHook(fn func(page, fetched int)) FetcherOption {
	return func(f *Fetcher) { f.onPage = fn }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) FetcherOption {
	return func(f *Fetcher) { f.logger = l }
}

// NewFetcher creates a Fetcher on top of client.
func NewFetcher(client *gogithub.Client, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:           client,
		policy:           retry.Default,
		perPage:          maxPerPage,
		maxRateLimitWait: defaultMaxRateLimitWait,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchStarred returns every repository owner has starred, in the order the
// API lists them. Pages are requested until the Link header has no next page
// or a page comes back empty. Any failure discards everything fetched so far:
// a non-2xx status or network error is an *apperr.RemoteFetchError and an
// undecodable element is an *apperr.MalformedRecordError.
func (f *Fetcher) FetchStarred(ctx context.Context, owner string) ([]Repo, error) {
	logger := f.logger.With("owner", owner)

	var repos []Repo
	page := 1
	for {
		raws, resp, err := f.fetchPageWithRetry(ctx, owner, page)
		if err != nil {
			return nil, err
		}
		if len(raws) == 0 {
			break
		}

		for i, raw := range raws {
			repo, err := decodeRepo(raw)
			if err != nil {
				return nil, &apperr.MalformedRecordError{Page: page, Index: i, Err: err}
			}
			repos = append(repos, repo)
		}

		logger.Debug("fetched starred page", "page", page, "count", len(raws), "total", len(repos))
		if f.onPage != nil {
			f.onPage(page, len(repos))
		}

		if resp.NextPage == 0 {
			break
		}
		page = resp.NextPage

		if info := ParseRateLimit(resp.Response); info.ShouldThrottle() {
			if err := f.waitForReset(ctx, logger, info.WaitDuration()); err != nil {
				return nil, &apperr.RemoteFetchError{Owner: owner, Page: page, Err: err}
			}
		}
	}

	logger.Info("fetched starred repositories", "count", len(repos))
	return repos, nil
}

// fetchPageWithRetry retries server errors, network errors, and rate limits.
// Everything else fails on the first attempt.
func (f *Fetcher) fetchPageWithRetry(ctx context.Context, owner string, page int) ([]json.RawMessage, *gogithub.Response, error) {
	var raws []json.RawMessage
	var resp *gogithub.Response

	err := f.policy.Do(ctx, func() error {
		var err error
		raws, resp, err = f.fetchPage(ctx, owner, page)
		if err == nil {
			return nil
		}

		var malformed *apperr.MalformedRecordError
		switch {
		case errors.As(err, &malformed):
			return retry.Permanent(err)
		case ctx.Err() != nil:
			return retry.Permanent(err)
		case resp != nil && IsRateLimitError(resp.Response):
			wait, _ := HandleRateLimitError(resp.Response)
			if werr := f.waitForReset(ctx, f.logger.With("owner", owner), wait); werr != nil {
				return retry.Permanent(fmt.Errorf("%w (%v)", err, werr))
			}
			return err
		case resp != nil && IsServerError(resp.Response):
			f.logger.Warn("server error fetching starred page, retrying", "owner", owner, "page", page, "status", resp.StatusCode)
			return err
		case resp == nil:
			f.logger.Warn("network error fetching starred page, retrying", "owner", owner, "page", page, "error", err)
			return err
		default:
			return retry.Permanent(err)
		}
	})
	if err != nil {
		var malformed *apperr.MalformedRecordError
		if errors.As(err, &malformed) {
			return nil, nil, err
		}
		fetchErr := &apperr.RemoteFetchError{Owner: owner, Page: page, Err: err}
		if resp != nil {
			fetchErr.StatusCode = resp.StatusCode
		}
		return nil, nil, fetchErr
	}
	return raws, resp, nil
}

// fetchPage decodes the page into raw elements so each repository's payload
// is kept exactly as sent.
func (f *Fetcher) fetchPage(ctx context.Context, owner string, page int) ([]json.RawMessage, *gogithub.Response, error) {
	u := fmt.Sprintf("users/%s/starred?per_page=%d&page=%d", url.PathEscape(owner), f.perPage, page)
	req, err := f.client.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}

	if f.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.requestTimeout)
		defer cancel()
	}

	var raws []json.RawMessage
	resp, err := f.client.Do(ctx, req, &raws)
	if err != nil {
		if resp != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			// The body was not a JSON array.
			return nil, resp, &apperr.MalformedRecordError{Page: page, Index: -1, Err: err}
		}
		return nil, resp, err
	}
	return raws, resp, nil
}

func (f *Fetcher) waitForReset(ctx context.Context, logger *slog.Logger, wait time.Duration) error {
	if wait > f.maxRateLimitWait {
		return fmt.Errorf("rate limit resets in %s, longer than the %s limit", wait.Round(time.Second), f.maxRateLimitWait)
	}
	if wait <= 0 {
		return nil
	}
	logger.Warn("rate limited, waiting for reset", "wait", wait.Round(time.Second))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

// decodeRepo decodes one starred entry and checks the fields every record
// needs.
func decodeRepo(raw json.RawMessage) (Repo, error) {
	var gh gogithub.Repository
	if err := json.Unmarshal(raw, &gh); err != nil {
		return Repo{}, fmt.Errorf("decoding repository: %w", err)
	}
	if gh.GetID() == 0 {
		return Repo{}, fmt.Errorf("repository has no id")
	}
	if gh.GetFullName() == "" || gh.GetName() == "" {
		return Repo{}, fmt.Errorf("repository %d has no name", gh.GetID())
	}
	return convertRepo(&gh, raw), nil
}

func convertRepo(gh *gogithub.Repository, raw json.RawMessage) Repo {
	r := Repo{
		ID:          gh.GetID(),
		Name:        gh.GetName(),
		FullName:    gh.GetFullName(),
		OwnerLogin:  gh.GetOwner().GetLogin(),
		HTMLURL:     gh.GetHTMLURL(),
		Description: gh.Description,
		Language:    gh.Language,
		Stars:       int64(gh.GetStargazersCount()),
		Raw:         append(json.RawMessage(nil), raw...),
	}

	if gh.ForksCount != nil {
		n := int64(*gh.ForksCount)
		r.Forks = &n
	}
	if gh.OpenIssuesCount != nil {
		n := int64(*gh.OpenIssuesCount)
		r.OpenIssues = &n
	}
	if gh.UpdatedAt != nil {
		r.UpdatedAt = gh.UpdatedAt.UTC().Format(time.RFC3339)
	}
	if gh.CreatedAt != nil {
		s := gh.CreatedAt.UTC().Format(time.RFC3339)
		r.CreatedAt = &s
	}
	if r.OwnerLogin == "" {
		if owner, _, ok := strings.Cut(r.FullName, "/"); ok {
			r.OwnerLogin = owner
		}
	}
	return r
}
