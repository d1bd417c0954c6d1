package pager

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"feedsync/models"
)

const (
	DefaultYouTubeBaseURL = "https://www.googleapis.com/youtube/v3"
	youtubeMaxResults     = 50
)

// YouTubeProvider pages through the uploads playlist of one channel.
type YouTubeProvider struct {
	baseURL   string
	apiKey    string
	channelID string
	client    *http.Client

	mu      sync.Mutex
	uploads string
}

func NewYouTubeProvider(baseURL, apiKey, channelID string, client *http.Client) (*YouTubeProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: youtube api key is missing", models.ErrConfiguration)
	}
	if channelID == "" {
		return nil, fmt.Errorf("%w: youtube channel id is missing", models.ErrConfiguration)
	}
	if baseURL == "" {
		baseURL = DefaultYouTubeBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &YouTubeProvider{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		apiKey:    apiKey,
		channelID: channelID,
		client:    client,
	}, nil
}

type youtubeThumbnail struct {
	URL string `json:"url"`
}

type playlistItemsResponse struct {
	NextPageToken string `json:"nextPageToken"`
	Items         []struct {
		Snippet struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			PublishedAt string `json:"publishedAt"`
			ChannelID   string `json:"channelId"`
			ResourceID  struct {
				VideoID string `json:"videoId"`
			} `json:"resourceId"`
			Thumbnails struct {
				Default *youtubeThumbnail `json:"default"`
				Medium  *youtubeThumbnail `json:"medium"`
			} `json:"thumbnails"`
		} `json:"snippet"`
	} `json:"items"`
}

type channelsResponse struct {
	Items []struct {
		ContentDetails struct {
			RelatedPlaylists struct {
				Uploads string `json:"uploads"`
			} `json:"relatedPlaylists"`
		} `json:"contentDetails"`
	} `json:"items"`
}

func (p *YouTubeProvider) Page(ctx context.Context, req Request) (RawPage, error) {
	playlist, err := p.uploadsPlaylist(ctx)
	if err != nil {
		return RawPage{}, err
	}

	maxResults := req.PageSize
	if maxResults <= 0 || maxResults > youtubeMaxResults {
		maxResults = youtubeMaxResults
	}
	params := url.Values{
		"part":       {"snippet"},
		"playlistId": {playlist},
		"maxResults": {strconv.Itoa(maxResults)},
	}
	if req.Cursor != "" {
		params.Set("pageToken", req.Cursor)
	}

	var resp playlistItemsResponse
	if err := p.get(ctx, "playlistItems", params, &resp); err != nil {
		return RawPage{}, err
	}

	docs := make([]models.Document, 0, len(resp.Items))
	for _, item := range resp.Items {
		s := item.Snippet
		if s.ResourceID.VideoID == "" {
			continue
		}
		data := map[string]any{
			"title":       s.Title,
			"description": s.Description,
			"publishedAt": s.PublishedAt,
			"channelId":   s.ChannelID,
			"url":         "https://www.youtube.com/watch?v=" + s.ResourceID.VideoID,
		}
		if s.Thumbnails.Medium != nil && s.Thumbnails.Medium.URL != "" {
			data["imageUrl"] = s.Thumbnails.Medium.URL
		} else if s.Thumbnails.Default != nil {
			data["imageUrl"] = s.Thumbnails.Default.URL
		}
		docs = append(docs, models.Document{ID: s.ResourceID.VideoID, Data: data})
	}

	return RawPage{Documents: docs, NextCursor: resp.NextPageToken}, nil
}

// uploadsPlaylist resolves the channel's uploads playlist on first use.
func (p *YouTubeProvider) uploadsPlaylist(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.uploads != "" {
		return p.uploads, nil
	}

	var resp channelsResponse
	params := url.Values{"part": {"contentDetails"}, "id": {p.channelID}}
	if err := p.get(ctx, "channels", params, &resp); err != nil {
		return "", err
	}
	if len(resp.Items) == 0 || resp.Items[0].ContentDetails.RelatedPlaylists.Uploads == "" {
		return "", fmt.Errorf("channel %s has no uploads playlist", p.channelID)
	}
	p.uploads = resp.Items[0].ContentDetails.RelatedPlaylists.Uploads
	return p.uploads, nil
}

func (p *YouTubeProvider) get(ctx context.Context, resource string, params url.Values, out any) error {
	params.Set("key", p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/"+resource+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("youtube %s: %w", resource, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("youtube %s returned status %d", resource, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode youtube %s: %w", resource, err)
	}
	return nil
}
