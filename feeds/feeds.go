package feeds

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"feedsync/cache"
	"feedsync/config"
	"feedsync/live"
	"feedsync/models"
	"feedsync/pager"
	"feedsync/selection"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Deps are the collaborators shared by every feed.
type Deps struct {
	Live       live.Source
	HTTPClient *http.Client
	// OnChange receives every committed state. It runs on the feed's cache
	// goroutine and must not block.
	OnChange func(models.FeedEvent)
}

// Info is the public description of a feed.
type Info struct {
	Id          string `json:"id"`
	DisplayName string `json:"displayName"`
	Description string `json:"description,omitempty"`
	Kind        string `json:"kind"`
}

type Feed struct {
	Id          string
	DisplayName string
	Description string
	Kind        string

	cache    *cache.Cache
	fetcher  *pager.Fetcher
	maxPages int

	mu        sync.Mutex
	selection *selection.Reorderer
}

// InitializeFeeds builds one feed per configured entry. The configuration
// is validated first so nothing is fetched from a broken setup.
func InitializeFeeds(cfg *config.TomlConfig, deps Deps) (map[string]*Feed, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	feeds := make(map[string]*Feed, len(cfg.Feeds))
	for _, feedCfg := range cfg.Feeds {
		feed, err := NewFeed(feedCfg, deps)
		if err != nil {
			return nil, fmt.Errorf("feed %s: %w", feedCfg.Id, err)
		}
		feeds[feedCfg.Id] = feed
	}
	return feeds, nil
}

func NewFeed(feedCfg config.TomlFeed, deps Deps) (*Feed, error) {
	f := &Feed{
		Id:          feedCfg.Id,
		DisplayName: feedCfg.DisplayName,
		Description: feedCfg.Description,
		Kind:        feedCfg.Kind,
		maxPages:    feedCfg.MaxPages,
		selection:   selection.New(),
	}

	opts := []cache.Option{
		cache.WithOnLoaded(f.initSelection),
	}
	if deps.OnChange != nil {
		opts = append(opts, cache.WithObserver(func(s models.FeedState) {
			deps.OnChange(models.FeedEvent{FeedID: f.Id, Status: s.Status(), Items: s.Items})
		}))
	}

	switch feedCfg.Kind {
	case config.KindLive:
		if deps.Live == nil {
			return nil, fmt.Errorf("%w: no live source available", models.ErrConfiguration)
		}
		direction := live.Descending
		if strings.EqualFold(feedCfg.Direction, string(live.Ascending)) {
			direction = live.Ascending
		}
		orderField := feedCfg.OrderField
		if orderField == "" {
			orderField = feedCfg.TimestampFieldOrDefault()
		}
		query := live.Query{Collection: feedCfg.Collection, OrderField: orderField, Direction: direction}
		opts = append(opts, cache.WithLive(live.NewSubscriber(deps.Live), query))

	case config.KindPaged:
		provider, err := newProvider(feedCfg, deps.HTTPClient)
		if err != nil {
			return nil, err
		}
		fetcherOpts := []pager.Option{
			pager.WithPageSize(feedCfg.PageSize),
			pager.WithTimestampField(feedCfg.TimestampFieldOrDefault()),
			pager.WithPredicate(buildPredicate(feedCfg.Filter)),
		}
		if feedCfg.RatePerSecond > 0 {
			fetcherOpts = append(fetcherOpts, pager.WithRateLimit(rate.NewLimiter(rate.Limit(feedCfg.RatePerSecond), 1)))
		}
		f.fetcher = pager.NewFetcher(feedCfg.Id, provider, fetcherOpts...)
		opts = append(opts, cache.WithFetcher(f.fetcher))

	default:
		return nil, fmt.Errorf("%w: unknown kind %q", models.ErrConfiguration, feedCfg.Kind)
	}

	c, err := cache.New(feedCfg.Id, opts...)
	if err != nil {
		return nil, err
	}
	f.cache = c
	return f, nil
}

func newProvider(feedCfg config.TomlFeed, client *http.Client) (pager.Provider, error) {
	switch feedCfg.Provider {
	case config.ProviderHTTP:
		return pager.NewHTTPProvider(feedCfg.Endpoint, feedCfg.Token(), client)
	case config.ProviderYouTube:
		return pager.NewYouTubeProvider(feedCfg.Endpoint, feedCfg.APIKey(), feedCfg.ChannelId, client)
	case config.ProviderRSS:
		return pager.NewRSSProvider(feedCfg.Endpoint, client)
	}
	return nil, fmt.Errorf("%w: unknown provider %q", models.ErrConfiguration, feedCfg.Provider)
}

// buildPredicate combines the configured filters. An empty filter keeps
// every document.
func buildPredicate(filter config.TomlFilter) pager.Predicate {
	var predicates []pager.Predicate
	if filter.Owner != "" {
		field := filter.OwnerField
		if field == "" {
			field = "owner"
		}
		predicates = append(predicates, pager.OwnerIs(field, filter.Owner))
	}
	if filter.TitleContains != "" {
		predicates = append(predicates, pager.TitleContains(filter.TitleContains))
	}
	for field, value := range filter.Fields {
		predicates = append(predicates, pager.FieldEquals(field, value))
	}
	if len(filter.Languages) > 0 {
		predicates = append(predicates, pager.LanguageIn(filter.Languages...))
	}
	if len(predicates) == 0 {
		return nil
	}
	return pager.All(predicates...)
}

func (f *Feed) initSelection(s models.FeedState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.selection.Init(s.Items) {
		log.WithFields(log.Fields{
			"feed":    f.Id,
			"current": s.Items[0].ID,
		}).Debug("Selection initialized")
	}
}

func (f *Feed) Info() Info {
	return Info{Id: f.Id, DisplayName: f.DisplayName, Description: f.Description, Kind: f.Kind}
}

// Run drives the feed's cache until ctx is done.
func (f *Feed) Run(ctx context.Context) error {
	return f.cache.Run(ctx)
}

func (f *Feed) Load(ctx context.Context) error {
	return f.cache.LoadInitial(ctx)
}

func (f *Feed) OnRefresh(ctx context.Context) error {
	return f.cache.Refresh(ctx)
}

func (f *Feed) OnEndReached(ctx context.Context) error {
	return f.cache.LoadMore(ctx)
}

// OnSelect makes the item with the given id current. The id may come from
// the cached list or from the existing selection.
func (f *Feed) OnSelect(id string) (models.Selection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	item, ok := f.selection.Find(id)
	if !ok {
		for _, it := range f.cache.State().Items {
			if it.ID == id {
				item, ok = it, true
				break
			}
		}
	}
	if !ok {
		return models.Selection{}, fmt.Errorf("%w: item %s in feed %s", models.ErrNotFound, id, f.Id)
	}

	f.selection.Select(item)
	return f.selection.State(), nil
}

func (f *Feed) Selection() models.Selection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selection.State()
}

func (f *Feed) State() models.FeedState {
	return f.cache.State()
}

func (f *Feed) Items() []models.FeedItem {
	return f.cache.State().Items
}

func (f *Feed) Status() models.Status {
	return f.cache.State().Status()
}

// Close stops the live subscription and resets the feed.
func (f *Feed) Close(ctx context.Context) error {
	return f.cache.Unsubscribe(ctx)
}

// Drain walks every page of a paged feed, bypassing the cache.
func (f *Feed) Drain(ctx context.Context) ([]models.FeedItem, error) {
	if f.fetcher == nil {
		return nil, fmt.Errorf("%w: feed %s is not paged", models.ErrConfiguration, f.Id)
	}
	return f.fetcher.Drain(ctx, f.maxPages)
}
