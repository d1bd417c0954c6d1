// Package cache owns the accumulated state of a single feed. All mutations
// run on one goroutine (Run); commands and asynchronous completions reach it
// as messages, and every completion carries the generation it was started
// under so that superseded results are dropped instead of committed.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"feedsync/live"
	"feedsync/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var (
	commitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_cache_commits_total",
		Help: "State commits per feed",
	}, []string{"feed"})

	staleCompletions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_cache_stale_completions_total",
		Help: "Completions discarded because a newer generation had started",
	}, []string{"feed", "kind"})

	loadMoreSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_cache_load_more_skipped_total",
		Help: "LoadMore calls that were no-ops because of the guard",
	}, []string{"feed"})

	feedItems = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "feedsync_cache_items",
		Help: "Number of items currently held per feed",
	}, []string{"feed"})
)

// ErrStopped is returned by commands issued after Run has returned.
var ErrStopped = errors.New("feed cache stopped")

// PageFetcher is the pull side, satisfied by *pager.Fetcher.
type PageFetcher interface {
	FetchPage(ctx context.Context, cursor string) (models.Page, error)
}

// LiveSubscriber is the push side, satisfied by *live.Subscriber.
type LiveSubscriber interface {
	Subscribe(ctx context.Context, q live.Query, onUpdate func([]models.FeedItem), onError func(error)) live.Unsubscribe
}

type Option func(*Cache)

func WithFetcher(f PageFetcher) Option {
	return func(c *Cache) { c.fetcher = f }
}

func WithLive(s LiveSubscriber, q live.Query) Option {
	return func(c *Cache) {
		c.subscriber = s
		c.query = q
	}
}

// WithOnLoaded registers fn to run after every successful initial load or
// refresh, after the first snapshot of each live subscription, and after any
// later snapshot that fills a previously empty list.
func WithOnLoaded(fn func(models.FeedState)) Option {
	return func(c *Cache) { c.onLoaded = append(c.onLoaded, fn) }
}

// WithObserver registers fn to run after every commit. Observers run on the
// cache goroutine and must not call back into the cache.
func WithObserver(fn func(models.FeedState)) Option {
	return func(c *Cache) { c.observers = append(c.observers, fn) }
}

type Cache struct {
	name       string
	fetcher    PageFetcher
	subscriber LiveSubscriber
	query      live.Query
	onLoaded   []func(models.FeedState)
	observers  []func(models.FeedState)

	inbox   chan any
	stopped chan struct{}

	mu       sync.RWMutex
	snapshot models.FeedState

	// Owned by the Run goroutine.
	state         models.FeedState
	cancelLoad    context.CancelFunc
	cancelMore    context.CancelFunc
	stopLive      func()
	awaitingFirst bool
	liveKind      kind
	waiters       []chan error
}

func New(name string, opts ...Option) (*Cache, error) {
	c := &Cache{
		name:    name,
		inbox:   make(chan any, 64),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	switch {
	case c.fetcher == nil && c.subscriber == nil:
		return nil, fmt.Errorf("%w: feed %s has neither a page fetcher nor a live source", models.ErrConfiguration, name)
	case c.fetcher != nil && c.subscriber != nil:
		return nil, fmt.Errorf("%w: feed %s cannot be both paged and live", models.ErrConfiguration, name)
	case c.subscriber != nil && c.query.Collection == "":
		return nil, fmt.Errorf("%w: feed %s has no collection", models.ErrConfiguration, name)
	}
	return c, nil
}

func (c *Cache) Name() string { return c.name }

// Live reports whether the cache is fed by a push subscription.
func (c *Cache) Live() bool { return c.subscriber != nil }

// State returns a copy of the last committed state.
func (c *Cache) State() models.FeedState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot.Clone()
}

type kind int

const (
	kindInitial kind = iota
	kindRefresh
	kindMore
)

func (k kind) String() string {
	switch k {
	case kindInitial:
		return "initial"
	case kindRefresh:
		return "refresh"
	default:
		return "more"
	}
}

type loadCmd struct {
	kind  kind
	reply chan error
}

type unsubscribeCmd struct {
	reply chan error
}

type pageResult struct {
	gen   uint64
	kind  kind
	page  models.Page
	err   error
	reply chan error
}

type liveUpdate struct {
	gen   uint64
	items []models.FeedItem
}

type liveFailure struct {
	gen uint64
	err error
}

// LoadInitial replaces the list with the first page, or subscribes in live
// mode and waits for the first snapshot.
func (c *Cache) LoadInitial(ctx context.Context) error {
	return c.call(ctx, loadCmd{kind: kindInitial, reply: make(chan error, 1)})
}

// Refresh behaves like LoadInitial but flags Refreshing, and may start while
// a LoadMore is still in flight. That LoadMore is then superseded.
func (c *Cache) Refresh(ctx context.Context) error {
	return c.call(ctx, loadCmd{kind: kindRefresh, reply: make(chan error, 1)})
}

// LoadMore appends the next page. It returns nil without fetching when the
// feed is live, a load is in progress, or there is nothing more to fetch.
func (c *Cache) LoadMore(ctx context.Context) error {
	return c.call(ctx, loadCmd{kind: kindMore, reply: make(chan error, 1)})
}

// Unsubscribe stops the live subscription and resets the state. Deliveries
// queued before it returns are discarded.
func (c *Cache) Unsubscribe(ctx context.Context) error {
	cmd := unsubscribeCmd{reply: make(chan error, 1)}
	if err := c.send(ctx, cmd); err != nil {
		return err
	}
	return c.wait(ctx, cmd.reply)
}

func (c *Cache) call(ctx context.Context, cmd loadCmd) error {
	if err := c.send(ctx, cmd); err != nil {
		return err
	}
	return c.wait(ctx, cmd.reply)
}

func (c *Cache) send(ctx context.Context, msg any) error {
	select {
	case c.inbox <- msg:
		return nil
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Cache) wait(ctx context.Context, reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post delivers an asynchronous completion to the run loop.
func (c *Cache) post(ctx context.Context, msg any) {
	select {
	case c.inbox <- msg:
	case <-ctx.Done():
	}
}

// Run processes commands and completions until ctx is done.
func (c *Cache) Run(ctx context.Context) error {
	defer close(c.stopped)
	defer c.teardown()

	log.WithFields(log.Fields{
		"feed": c.name,
		"live": c.Live(),
	}).Debug("Starting feed cache")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-c.inbox:
			c.handle(ctx, msg)
		}
	}
}

func (c *Cache) handle(ctx context.Context, msg any) {
	switch m := msg.(type) {
	case loadCmd:
		if m.kind == kindMore {
			c.startMore(ctx, m)
		} else {
			c.startLoad(ctx, m)
		}
	case unsubscribeCmd:
		c.supersede()
		c.state = models.FeedState{Generation: c.state.Generation}
		c.awaitingFirst = false
		c.commit()
		m.reply <- nil
	case pageResult:
		c.applyPage(m)
	case liveUpdate:
		c.applySnapshot(m)
	case liveFailure:
		c.applyLiveFailure(m)
	default:
		log.Warnf("Feed cache %s ignoring message of type %T", c.name, msg)
	}
}

// supersede starts a new generation. In-flight fetches are cancelled, the
// live subscription is stopped and callers waiting on the old generation
// are released with ErrSuperseded.
func (c *Cache) supersede() uint64 {
	c.state.Generation++
	if c.cancelLoad != nil {
		c.cancelLoad()
		c.cancelLoad = nil
	}
	if c.cancelMore != nil {
		c.cancelMore()
		c.cancelMore = nil
	}
	if c.stopLive != nil {
		c.stopLive()
		c.stopLive = nil
	}
	c.release(models.ErrSuperseded)
	return c.state.Generation
}

func (c *Cache) release(err error) {
	for _, w := range c.waiters {
		w <- err
	}
	c.waiters = nil
}

func (c *Cache) startLoad(ctx context.Context, cmd loadCmd) {
	gen := c.supersede()
	c.state.LoadingMore = false
	if cmd.kind == kindRefresh {
		c.state.Refreshing = true
	} else {
		c.state.Loading = true
	}
	c.commit()

	if c.subscriber != nil {
		c.awaitingFirst = true
		c.liveKind = cmd.kind
		c.waiters = append(c.waiters, cmd.reply)

		subCtx, cancel := context.WithCancel(ctx)
		unsubscribe := c.subscriber.Subscribe(subCtx, c.query,
			func(items []models.FeedItem) {
				c.post(subCtx, liveUpdate{gen: gen, items: items})
			},
			func(err error) {
				c.post(subCtx, liveFailure{gen: gen, err: err})
			},
		)
		c.stopLive = func() {
			unsubscribe()
			cancel()
		}
		return
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	c.cancelLoad = cancel
	go func() {
		page, err := c.fetcher.FetchPage(fetchCtx, "")
		c.post(ctx, pageResult{gen: gen, kind: cmd.kind, page: page, err: err, reply: cmd.reply})
	}()
}

func (c *Cache) startMore(ctx context.Context, cmd loadCmd) {
	s := c.state
	if c.subscriber != nil || s.Loading || s.Refreshing || s.LoadingMore || !s.HasMore || s.Cursor == "" {
		loadMoreSkipped.WithLabelValues(c.name).Inc()
		cmd.reply <- nil
		return
	}

	gen, cursor := s.Generation, s.Cursor
	c.state.LoadingMore = true
	c.commit()

	fetchCtx, cancel := context.WithCancel(ctx)
	c.cancelMore = cancel
	go func() {
		page, err := c.fetcher.FetchPage(fetchCtx, cursor)
		c.post(ctx, pageResult{gen: gen, kind: kindMore, page: page, err: err, reply: cmd.reply})
	}()
}

func (c *Cache) stale(gen uint64, k kind) bool {
	if gen == c.state.Generation {
		return false
	}
	staleCompletions.WithLabelValues(c.name, k.String()).Inc()
	log.WithFields(log.Fields{
		"feed":       c.name,
		"kind":       k.String(),
		"generation": gen,
		"current":    c.state.Generation,
	}).Debug("Discarding stale completion")
	return true
}

func (c *Cache) applyPage(r pageResult) {
	if c.stale(r.gen, r.kind) {
		r.reply <- models.ErrSuperseded
		return
	}

	if r.kind == kindMore {
		c.cancelMore = nil
		c.state.LoadingMore = false
		if r.err != nil {
			log.WithFields(log.Fields{
				"feed":   c.name,
				"cursor": c.state.Cursor,
				"error":  r.err,
			}).Warn("Failed to load more items")
			c.commit()
			r.reply <- fmt.Errorf("%w: %w", models.ErrLoadMore, r.err)
			return
		}
		c.state.Items = appendUnique(c.state.Items, r.page.Items)
		c.state.Cursor = r.page.NextCursor
		c.state.HasMore = r.page.HasMore
		c.commit()
		r.reply <- nil
		return
	}

	c.cancelLoad = nil
	c.state.Loading = false
	c.state.Refreshing = false
	if r.err != nil {
		c.state.Items = nil
		c.state.Cursor = ""
		c.state.HasMore = false
		c.state.Err = fmt.Errorf("%w: %w", models.ErrInitialLoad, r.err)
		log.WithFields(log.Fields{
			"feed":  c.name,
			"kind":  r.kind.String(),
			"error": r.err,
		}).Error("Failed to load feed")
		c.commit()
		r.reply <- c.state.Err
		return
	}

	c.state.Items = models.UniqueByID(r.page.Items)
	c.state.Cursor = r.page.NextCursor
	c.state.HasMore = r.page.HasMore
	c.state.Err = nil
	snap := c.commit()
	c.loaded(snap)
	r.reply <- nil
}

func (c *Cache) applySnapshot(u liveUpdate) {
	if c.stale(u.gen, kindInitial) {
		return
	}

	wasEmpty := len(c.state.Items) == 0
	c.state.Items = models.UniqueByID(u.items)
	c.state.Cursor = ""
	c.state.HasMore = false
	c.state.Loading = false
	c.state.Refreshing = false
	c.state.Err = nil
	snap := c.commit()

	switch {
	case c.awaitingFirst:
		c.awaitingFirst = false
		c.loaded(snap)
		c.release(nil)
	case wasEmpty && len(snap.Items) > 0:
		c.loaded(snap)
	}
}

// applyLiveFailure keeps the last known list and records the error. An
// initial load that fails before its first snapshot leaves the list empty.
func (c *Cache) applyLiveFailure(f liveFailure) {
	if c.stale(f.gen, kindInitial) {
		return
	}

	c.state.Loading = false
	c.state.Refreshing = false
	if c.awaitingFirst {
		if c.liveKind == kindInitial {
			c.state.Items = nil
		}
		c.state.Err = fmt.Errorf("%w: %w", models.ErrInitialLoad, f.err)
	} else {
		c.state.Err = fmt.Errorf("%w: %w", models.ErrSubscription, f.err)
	}
	c.commit()
	c.release(c.state.Err)
}

func (c *Cache) commit() models.FeedState {
	c.state.UpdatedAt = time.Now()
	snap := c.state.Clone()

	c.mu.Lock()
	c.snapshot = snap
	c.mu.Unlock()

	commitsTotal.WithLabelValues(c.name).Inc()
	feedItems.WithLabelValues(c.name).Set(float64(len(snap.Items)))
	for _, fn := range c.observers {
		fn(snap)
	}
	return snap
}

func (c *Cache) loaded(snap models.FeedState) {
	for _, fn := range c.onLoaded {
		fn(snap)
	}
}

func (c *Cache) teardown() {
	if c.cancelLoad != nil {
		c.cancelLoad()
	}
	if c.cancelMore != nil {
		c.cancelMore()
	}
	if c.stopLive != nil {
		c.stopLive()
	}
	c.release(ErrStopped)
}

// appendUnique appends the items of next whose id is not already present,
// leaving existing items in place.
func appendUnique(items, next []models.FeedItem) []models.FeedItem {
	seen := make(map[string]struct{}, len(items)+len(next))
	for _, item := range items {
		seen[item.ID] = struct{}{}
	}
	out := append([]models.FeedItem(nil), items...)
	for _, item := range next {
		if _, ok := seen[item.ID]; ok {
			continue
		}
		seen[item.ID] = struct{}{}
		out = append(out, item)
	}
	return out
}
