package feeds_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"feedsync/config"
	"feedsync/feeds"
	"feedsync/live"
	"feedsync/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newsServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("cursor") {
		case "":
			fmt.Fprint(w, `{"items":[
				{"id":"b","title":"B","createdAt":300,"owner":"gremio"},
				{"id":"x","title":"X","createdAt":250,"owner":"otro"},
				{"id":"c","title":"C","createdAt":200,"owner":"gremio"}
			],"nextCursor":"p2"}`)
		case "p2":
			fmt.Fprint(w, `{"items":[{"id":"a","title":"A","createdAt":100,"owner":"gremio"}]}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, f *feeds.Feed) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go f.Run(ctx)
}

func TestPagedFeed(t *testing.T) {
	srv := newsServer(t)
	var mu sync.Mutex
	var events []models.FeedEvent

	feedMap, err := feeds.InitializeFeeds(&config.TomlConfig{Feeds: []config.TomlFeed{{
		Id:       "news",
		Kind:     config.KindPaged,
		Provider: config.ProviderHTTP,
		Endpoint: srv.URL,
		PageSize: 3,
		Filter:   config.TomlFilter{Owner: "gremio"},
	}}}, feeds.Deps{
		HTTPClient: srv.Client(),
		OnChange: func(e models.FeedEvent) {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	feed := feedMap["news"]
	require.NotNil(t, feed)
	run(t, feed)

	require.NoError(t, feed.Load(context.Background()))
	assert.Equal(t, []string{"b", "c"}, itemIDs(feed.Items()))
	assert.True(t, feed.Status().HasMore)

	sel := feed.Selection()
	require.NotNil(t, sel.Current)
	assert.Equal(t, "b", sel.Current.ID)
	assert.Equal(t, []string{"c"}, itemIDs(sel.History))

	require.NoError(t, feed.OnEndReached(context.Background()))
	assert.Equal(t, []string{"b", "c", "a"}, itemIDs(feed.Items()))
	assert.False(t, feed.Status().HasMore)

	// The selection split is not redone when more items arrive.
	assert.Equal(t, []string{"c"}, itemIDs(feed.Selection().History))

	sel, err = feed.OnSelect("a")
	require.NoError(t, err)
	assert.Equal(t, "a", sel.Current.ID)
	assert.Equal(t, []string{"b", "c"}, itemIDs(sel.History))

	_, err = feed.OnSelect("missing")
	assert.ErrorIs(t, err, models.ErrNotFound)

	items, err := feed.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "a"}, itemIDs(items))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)
	assert.Equal(t, "news", events[len(events)-1].FeedID)
	assert.Equal(t, 3, events[len(events)-1].Status.Count)
}

type staticSource struct {
	docs []models.Document
}

func (s staticSource) Subscribe(ctx context.Context, q live.Query, onSnapshot func([]models.Document), onError func(error)) (live.Unsubscribe, error) {
	go onSnapshot(s.docs)
	return func() {}, nil
}

func TestLiveFeed(t *testing.T) {
	source := staticSource{docs: []models.Document{
		{ID: "a", Data: map[string]any{"title": "A", "createdAt": float64(100)}},
		{ID: "b", Data: map[string]any{"title": "B", "createdAt": "2024-03-15T10:30:00Z"}},
		{ID: "c", Data: map[string]any{"title": "C", "createdAt": float64(200)}},
	}}

	feed, err := feeds.NewFeed(config.TomlFeed{Id: "live", Kind: config.KindLive, Collection: "news"}, feeds.Deps{Live: source})
	require.NoError(t, err)
	run(t, feed)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, feed.Load(ctx))

	assert.Equal(t, []string{"b", "c", "a"}, itemIDs(feed.Items()))
	assert.Equal(t, "b", feed.Selection().Current.ID)

	_, err = feed.Drain(ctx)
	assert.ErrorIs(t, err, models.ErrConfiguration)

	require.NoError(t, feed.Close(ctx))
	assert.Empty(t, feed.Items())
}

// pushSource hands its snapshot callback to the test.
type pushSource struct {
	pushes chan func([]models.Document)
}

func (s pushSource) Subscribe(ctx context.Context, q live.Query, onSnapshot func([]models.Document), onError func(error)) (live.Unsubscribe, error) {
	s.pushes <- onSnapshot
	return func() {}, nil
}

func TestLiveFeedSelectionAfterEmptyStart(t *testing.T) {
	source := pushSource{pushes: make(chan func([]models.Document), 1)}
	feed, err := feeds.NewFeed(config.TomlFeed{Id: "live", Kind: config.KindLive, Collection: "news"}, feeds.Deps{Live: source})
	require.NoError(t, err)
	run(t, feed)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	loaded := make(chan error, 1)
	go func() { loaded <- feed.Load(ctx) }()

	var push func([]models.Document)
	select {
	case push = <-source.pushes:
	case <-ctx.Done():
		t.Fatal("feed never subscribed")
	}
	push(nil)
	require.NoError(t, <-loaded)
	assert.Nil(t, feed.Selection().Current)

	push([]models.Document{
		{ID: "a", Data: map[string]any{"title": "A", "createdAt": float64(100)}},
		{ID: "b", Data: map[string]any{"title": "B", "createdAt": float64(300)}},
	})
	assert.Eventually(t, func() bool {
		current := feed.Selection().Current
		return current != nil && current.ID == "b"
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"b", "a"}, itemIDs(feed.Items()))
	history := feed.Selection().History
	require.Len(t, history, 1)
	assert.Equal(t, "a", history[0].ID)
}

func TestInitializeFeedsRejectsInvalidConfig(t *testing.T) {
	_, err := feeds.InitializeFeeds(&config.TomlConfig{Feeds: []config.TomlFeed{{Id: "v", Kind: "paged", Provider: "youtube", ChannelId: "UC1"}}}, feeds.Deps{})
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestNewFeedLiveWithoutSource(t *testing.T) {
	_, err := feeds.NewFeed(config.TomlFeed{Id: "live", Kind: config.KindLive, Collection: "news"}, feeds.Deps{})
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func itemIDs(items []models.FeedItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}
