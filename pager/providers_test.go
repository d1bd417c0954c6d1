package pager_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"feedsync/models"
	"feedsync/pager"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "10", r.URL.Query().Get("pageSize"))
		assert.Equal(t, "gremial", r.URL.Query().Get("filter"))

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("cursor") {
		case "":
			fmt.Fprint(w, `{"items":[{"id":"a","title":"A","createdAt":1},{"title":"no id"}],"nextCursor":"n1"}`)
		case "n1":
			fmt.Fprint(w, `{"items":[{"id":"b","title":"B"}]}`)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	provider, err := pager.NewHTTPProvider(srv.URL+"/news", "secret", srv.Client())
	require.NoError(t, err)

	page, err := provider.Page(context.Background(), pager.Request{PageSize: 10, Filter: "gremial"})
	require.NoError(t, err)
	require.Len(t, page.Documents, 1)
	assert.Equal(t, "a", page.Documents[0].ID)
	assert.Equal(t, "n1", page.NextCursor)

	page, err = provider.Page(context.Background(), pager.Request{Cursor: "n1", PageSize: 10, Filter: "gremial"})
	require.NoError(t, err)
	assert.Equal(t, "", page.NextCursor)

	_, err = provider.Page(context.Background(), pager.Request{Cursor: "bogus", PageSize: 10, Filter: "gremial"})
	assert.ErrorContains(t, err, "status 400")
}

func TestNewHTTPProviderInvalidEndpoint(t *testing.T) {
	_, err := pager.NewHTTPProvider("not a url", "", nil)
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestYouTubeProvider(t *testing.T) {
	channelCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/channels", func(w http.ResponseWriter, r *http.Request) {
		channelCalls++
		assert.Equal(t, "UC123", r.URL.Query().Get("id"))
		assert.Equal(t, "key", r.URL.Query().Get("key"))
		fmt.Fprint(w, `{"items":[{"contentDetails":{"relatedPlaylists":{"uploads":"UU123"}}}]}`)
	})
	mux.HandleFunc("/playlistItems", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "UU123", r.URL.Query().Get("playlistId"))
		if r.URL.Query().Get("pageToken") == "" {
			fmt.Fprint(w, `{"nextPageToken":"T2","items":[
				{"snippet":{"title":"Entrevista","publishedAt":"2024-03-15T10:30:00Z","channelId":"UC123",
					"resourceId":{"videoId":"v1"},
					"thumbnails":{"default":{"url":"https://i.ytimg.com/d.jpg"},"medium":{"url":"https://i.ytimg.com/m.jpg"}}}},
				{"snippet":{"title":"Privado","resourceId":{}}}
			]}`)
			return
		}
		fmt.Fprint(w, `{"items":[{"snippet":{"title":"Otra","channelId":"UC123","resourceId":{"videoId":"v2"},
			"thumbnails":{"default":{"url":"https://i.ytimg.com/d2.jpg"}}}}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	provider, err := pager.NewYouTubeProvider(srv.URL, "key", "UC123", srv.Client())
	require.NoError(t, err)

	page, err := provider.Page(context.Background(), pager.Request{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page.Documents, 1)
	assert.Equal(t, "T2", page.NextCursor)

	item := page.Documents[0].ToFeedItem("publishedAt")
	assert.Equal(t, "v1", item.ID)
	assert.Equal(t, "https://i.ytimg.com/m.jpg", item.ImageURL)
	assert.Equal(t, "https://www.youtube.com/watch?v=v1", item.SourceURL)
	assert.Equal(t, int64(1710498600000), item.TimestampMillis())

	page, err = provider.Page(context.Background(), pager.Request{Cursor: "T2"})
	require.NoError(t, err)
	require.Len(t, page.Documents, 1)
	assert.Equal(t, "https://i.ytimg.com/d2.jpg", page.Documents[0].String("imageUrl"))
	assert.Equal(t, "", page.NextCursor)
	assert.Equal(t, 1, channelCalls)
}

func TestNewYouTubeProviderRequiresKey(t *testing.T) {
	_, err := pager.NewYouTubeProvider("", "", "UC123", nil)
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

const testRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Prensa</title>
  <item>
    <guid>n1</guid>
    <title>Acuerdo paritario</title>
    <link>https://example.org/n1</link>
    <description>&lt;p&gt;Firmado&lt;/p&gt;</description>
    <pubDate>Fri, 15 Mar 2024 10:30:00 +0000</pubDate>
  </item>
  <item>
    <title>Sin identificador</title>
  </item>
</channel>
</rss>`

func TestRSSProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, testRSS)
	}))
	defer srv.Close()

	provider, err := pager.NewRSSProvider(srv.URL, srv.Client())
	require.NoError(t, err)

	page, err := provider.Page(context.Background(), pager.Request{})
	require.NoError(t, err)
	assert.Equal(t, "", page.NextCursor)
	require.Len(t, page.Documents, 1)

	item := page.Documents[0].ToFeedItem("publishedAt")
	assert.Equal(t, "n1", item.ID)
	assert.Equal(t, "Firmado", item.Description)
	assert.Equal(t, "https://example.org/n1", item.SourceURL)
	assert.Equal(t, int64(1710498600000), item.TimestampMillis())
}
