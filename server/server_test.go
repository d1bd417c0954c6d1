package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"feedsync/config"
	"feedsync/feeds"
	"feedsync/models"
	"feedsync/server"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type feedBody struct {
	Feed   feeds.Info        `json:"feed"`
	Status models.Status     `json:"status"`
	Items  []models.FeedItem `json:"items"`
}

func setup(t *testing.T, failing bool) (*server.Broadcaster, map[string]*feeds.Feed, func(*http.Request) *http.Response) {
	t.Helper()
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		switch r.URL.Query().Get("cursor") {
		case "":
			fmt.Fprint(w, `{"items":[{"id":"b","title":"B","createdAt":300},{"id":"c","title":"C","createdAt":"15/03/2024 10:30"}],"nextCursor":"p2"}`)
		default:
			fmt.Fprint(w, `{"items":[{"id":"a","title":"A","createdAt":100}]}`)
		}
	}))
	t.Cleanup(provider.Close)

	bc := server.NewBroadcaster()
	feedMap, err := feeds.InitializeFeeds(&config.TomlConfig{Feeds: []config.TomlFeed{{
		Id:          "news",
		DisplayName: "Noticias",
		Kind:        config.KindPaged,
		Provider:    config.ProviderHTTP,
		Endpoint:    provider.URL,
	}}}, feeds.Deps{HTTPClient: provider.Client(), OnChange: bc.Broadcast})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	for _, f := range feedMap {
		go f.Run(ctx)
	}

	app := server.Server(&server.ServerConfig{Feeds: feedMap, Broadcaster: bc})
	do := func(req *http.Request) *http.Response {
		resp, err := app.Test(req, 5000)
		require.NoError(t, err)
		return resp
	}
	return bc, feedMap, do
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestFeedRoutes(t *testing.T) {
	_, feedMap, do := setup(t, false)
	require.NoError(t, feedMap["news"].Load(context.Background()))

	resp := do(httptest.NewRequest(http.MethodGet, "/feeds", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	infos := decode[[]feeds.Info](t, resp)
	require.Len(t, infos, 1)
	assert.Equal(t, "Noticias", infos[0].DisplayName)

	resp = do(httptest.NewRequest(http.MethodGet, "/feeds/news", nil))
	body := decode[feedBody](t, resp)
	require.Len(t, body.Items, 2)
	assert.Equal(t, "b", body.Items[0].ID)
	assert.Equal(t, int64(1710498600000), body.Items[1].TimestampMillis())
	assert.True(t, body.Status.HasMore)

	resp = do(httptest.NewRequest(http.MethodPost, "/feeds/news/more", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body = decode[feedBody](t, resp)
	assert.Len(t, body.Items, 3)
	assert.False(t, body.Status.HasMore)

	resp = do(httptest.NewRequest(http.MethodGet, "/feeds/news/status", nil))
	status := decode[models.Status](t, resp)
	assert.Equal(t, 3, status.Count)

	resp = do(httptest.NewRequest(http.MethodGet, "/feeds/news/selection", nil))
	sel := decode[models.Selection](t, resp)
	require.NotNil(t, sel.Current)
	assert.Equal(t, "b", sel.Current.ID)

	req := httptest.NewRequest(http.MethodPost, "/feeds/news/select", strings.NewReader(`{"id":"a"}`))
	req.Header.Set("Content-Type", "application/json")
	resp = do(req)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	sel = decode[models.Selection](t, resp)
	assert.Equal(t, "a", sel.Current.ID)
	require.Len(t, sel.History, 2)
	assert.Equal(t, "b", sel.History[0].ID)

	req = httptest.NewRequest(http.MethodPost, "/feeds/news/select", strings.NewReader(`{"id":"nope"}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusNotFound, do(req).StatusCode)

	resp = do(httptest.NewRequest(http.MethodPost, "/feeds/news/refresh", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body = decode[feedBody](t, resp)
	assert.Len(t, body.Items, 2)

	assert.Equal(t, http.StatusNotFound, do(httptest.NewRequest(http.MethodGet, "/feeds/missing", nil)).StatusCode)
}

func TestInitialLoadFailure(t *testing.T) {
	_, _, do := setup(t, true)

	resp := do(httptest.NewRequest(http.MethodPost, "/feeds/news/refresh", nil))
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	resp = do(httptest.NewRequest(http.MethodGet, "/feeds/news", nil))
	body := decode[feedBody](t, resp)
	assert.Empty(t, body.Items)
	assert.Contains(t, body.Status.Error, "initial load failed")
}

func TestMetrics(t *testing.T) {
	_, _, do := setup(t, false)
	resp := do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "go_goroutines")
}

func TestBroadcaster(t *testing.T) {
	bc := server.NewBroadcaster()
	news := make(chan models.FeedEvent, 1)
	other := make(chan models.FeedEvent, 1)
	bc.AddClient("k1", "news", news)
	bc.AddClient("k2", "videos", other)
	assert.Equal(t, 2, bc.Count())

	bc.Broadcast(models.FeedEvent{FeedID: "news"})
	select {
	case e := <-news:
		assert.Equal(t, "news", e.FeedID)
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
	assert.Empty(t, other)

	// A full channel does not block the broadcaster.
	bc.Broadcast(models.FeedEvent{FeedID: "news"})
	bc.Broadcast(models.FeedEvent{FeedID: "news"})

	bc.RemoveClient("k1")
	bc.RemoveClient("k1")
	assert.Equal(t, 1, bc.Count())

	bc.Shutdown()
	_, open := <-other
	assert.False(t, open)
}

func TestRemoveSSEClientChecksFeed(t *testing.T) {
	bc, _, do := setup(t, false)
	events := make(chan models.FeedEvent, 1)
	bc.AddClient("k1", "other", events)

	resp := do(httptest.NewRequest(http.MethodDelete, "/feeds/news/sse?key=k1", nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, 1, bc.Count())

	bc.AddClient("k2", "news", make(chan models.FeedEvent, 1))
	resp = do(httptest.NewRequest(http.MethodDelete, "/feeds/news/sse?key=k2", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, bc.Count())

	assert.False(t, bc.RemoveFeedClient("k1", "news"))
	assert.True(t, bc.RemoveFeedClient("k1", "other"))
	_, open := <-events
	assert.False(t, open)
}
