// Package pager pulls feed items from cursor-based providers one page at a
// time, filtering each page after retrieval.
package pager

import (
	"context"
	"fmt"
	"time"

	"feedsync/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// DefaultMaxPages bounds Drain when no limit is given.
const DefaultMaxPages = 10

var (
	pagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_pager_pages_fetched_total",
		Help: "Pages fetched from providers",
	}, []string{"feed"})

	pageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_pager_page_errors_total",
		Help: "Page fetches that failed",
	}, []string{"feed"})

	documentsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_pager_documents_rejected_total",
		Help: "Documents dropped by the inclusion predicate",
	}, []string{"feed"})

	pageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feedsync_pager_page_duration_seconds",
		Help:    "Time spent fetching one page",
		Buckets: prometheus.DefBuckets,
	}, []string{"feed"})
)

// Request asks a provider for one page. An empty Cursor means the first page.
type Request struct {
	Cursor   string
	PageSize int
	Filter   string
}

// RawPage is what a provider returns before filtering. An empty NextCursor
// means there are no further pages.
type RawPage struct {
	Documents  []models.Document
	NextCursor string
}

type Provider interface {
	Page(ctx context.Context, req Request) (RawPage, error)
}

// Fetcher turns provider pages into filtered item pages.
type Fetcher struct {
	name      string
	provider  Provider
	pageSize  int
	filter    string
	predicate Predicate
	tsField   string
	limiter   *rate.Limiter
}

type Option func(*Fetcher)

func WithPageSize(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.pageSize = n
		}
	}
}

func WithFilter(filter string) Option {
	return func(f *Fetcher) { f.filter = filter }
}

func WithPredicate(p Predicate) Option {
	return func(f *Fetcher) { f.predicate = p }
}

func WithTimestampField(field string) Option {
	return func(f *Fetcher) { f.tsField = field }
}

// WithRateLimit waits for the limiter before every provider call.
func WithRateLimit(l *rate.Limiter) Option {
	return func(f *Fetcher) { f.limiter = l }
}

func NewFetcher(name string, provider Provider, opts ...Option) *Fetcher {
	f := &Fetcher{
		name:     name,
		provider: provider,
		pageSize: 20,
		tsField:  models.DefaultTimestampField,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchPage retrieves the page at cursor. Items keep provider order.
// Rejected documents do not count against the page size, so a page may come
// back short or empty while HasMore is still true.
func (f *Fetcher) FetchPage(ctx context.Context, cursor string) (models.Page, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return models.Page{}, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	start := time.Now()
	raw, err := f.provider.Page(ctx, Request{Cursor: cursor, PageSize: f.pageSize, Filter: f.filter})
	pageDuration.WithLabelValues(f.name).Observe(time.Since(start).Seconds())
	if err != nil {
		pageErrors.WithLabelValues(f.name).Inc()
		return models.Page{}, err
	}
	pagesFetched.WithLabelValues(f.name).Inc()

	items := make([]models.FeedItem, 0, len(raw.Documents))
	for _, doc := range raw.Documents {
		if f.predicate != nil && !f.predicate(doc) {
			documentsRejected.WithLabelValues(f.name).Inc()
			continue
		}
		items = append(items, doc.ToFeedItem(f.tsField))
	}

	log.WithFields(log.Fields{
		"feed":     f.name,
		"cursor":   cursor,
		"received": len(raw.Documents),
		"accepted": len(items),
		"next":     raw.NextCursor,
	}).Debug("Fetched page")

	return models.Page{
		Items:      items,
		NextCursor: raw.NextCursor,
		HasMore:    raw.NextCursor != "",
	}, nil
}

// Drain follows cursors until the provider runs out or maxPages is reached.
// A failure on the first page is returned; a later failure stops the walk
// and keeps what was collected. The result is sorted newest first.
func (f *Fetcher) Drain(ctx context.Context, maxPages int) ([]models.FeedItem, error) {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	var items []models.FeedItem
	cursor := ""
	for page := 0; page < maxPages; page++ {
		p, err := f.FetchPage(ctx, cursor)
		if err != nil {
			if page == 0 {
				return nil, err
			}
			log.WithFields(log.Fields{
				"feed":  f.name,
				"page":  page + 1,
				"error": err,
			}).Warn("Stopping drain after failed page")
			break
		}
		items = append(items, p.Items...)
		if !p.HasMore || p.NextCursor == cursor {
			break
		}
		cursor = p.NextCursor
	}

	models.SortNewestFirst(items)
	return items, nil
}
