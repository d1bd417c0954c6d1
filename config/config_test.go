package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"feedsync/config"
	"feedsync/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
[live]
hosts = ["ws://localhost:3001"]
compress = true

[[feeds]]
id = "news"
display_name = "Noticias"
kind = "live"
collection = "news"
order_field = "createdAt"
direction = "desc"

[[feeds]]
id = "videos"
display_name = "Videos"
kind = "paged"
provider = "youtube"
channel_id = "UC123"
api_key_env = "FEEDSYNC_TEST_YT_KEY"
page_size = 10

[feeds.filter]
owner_field = "channelId"
owner = "UC123"
languages = ["es"]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feeds.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("FEEDSYNC_TEST_YT_KEY", "secret")

	cfg, err := config.LoadConfig(writeConfig(t, sample))
	require.NoError(t, err)
	require.Len(t, cfg.Feeds, 2)

	assert.Equal(t, config.LiveSourceWS, cfg.Live.Source)
	assert.True(t, cfg.Live.Compress)

	videos, ok := cfg.Feed("videos")
	require.True(t, ok)
	assert.Equal(t, "secret", videos.APIKey())
	assert.Equal(t, "publishedAt", videos.TimestampFieldOrDefault())
	assert.Equal(t, "UC123", videos.Filter.Owner)
	assert.Equal(t, []string{"es"}, videos.Filter.Languages)

	news, _ := cfg.Feed("news")
	assert.Equal(t, models.DefaultTimestampField, news.TimestampFieldOrDefault())

	assert.NoError(t, cfg.Validate())
}

func TestValidateMissingAPIKey(t *testing.T) {
	t.Setenv("FEEDSYNC_TEST_YT_KEY", "")

	cfg, err := config.LoadConfig(writeConfig(t, sample))
	require.NoError(t, err)

	err = cfg.Validate()
	assert.ErrorIs(t, err, models.ErrConfiguration)
	assert.ErrorContains(t, err, "youtube api key")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  config.TomlConfig
		problem string
	}{
		{
			name:    "missing id",
			config:  config.TomlConfig{Feeds: []config.TomlFeed{{Kind: "paged", Provider: "rss", Endpoint: "https://x"}}},
			problem: "has no id",
		},
		{
			name: "duplicate id",
			config: config.TomlConfig{Feeds: []config.TomlFeed{
				{Id: "a", Kind: "paged", Provider: "rss", Endpoint: "https://x"},
				{Id: "a", Kind: "paged", Provider: "rss", Endpoint: "https://y"},
			}},
			problem: "more than once",
		},
		{
			name:    "unknown kind",
			config:  config.TomlConfig{Feeds: []config.TomlFeed{{Id: "a", Kind: "push"}}},
			problem: "unknown kind",
		},
		{
			name:    "live without hosts",
			config:  config.TomlConfig{Feeds: []config.TomlFeed{{Id: "a", Kind: "live", Collection: "news"}}},
			problem: "needs [live] hosts",
		},
		{
			name:    "http without endpoint",
			config:  config.TomlConfig{Feeds: []config.TomlFeed{{Id: "a", Kind: "paged", Provider: "http"}}},
			problem: "no endpoint",
		},
		{
			name:    "unknown live source",
			config:  config.TomlConfig{Live: config.TomlLive{Source: "carrier-pigeon"}},
			problem: "unknown live source",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			assert.ErrorIs(t, err, models.ErrConfiguration)
			assert.ErrorContains(t, err, tt.problem)
		})
	}

	local := config.TomlConfig{
		Live:  config.TomlLive{Source: config.LiveSourceStore},
		Feeds: []config.TomlFeed{{Id: "a", Kind: "live", Collection: "news"}},
	}
	assert.NoError(t, local.Validate())
}
