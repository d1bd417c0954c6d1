package pager

import (
	"context"
	"fmt"
	"net/http"

	"feedsync/models"

	"github.com/mmcdole/gofeed"
)

// RSSProvider reads an RSS or Atom feed. The whole feed is a single page.
type RSSProvider struct {
	url    string
	parser *gofeed.Parser
}

func NewRSSProvider(feedURL string, client *http.Client) (*RSSProvider, error) {
	if feedURL == "" {
		return nil, fmt.Errorf("%w: rss endpoint is missing", models.ErrConfiguration)
	}
	parser := gofeed.NewParser()
	if client != nil {
		parser.Client = client
	}
	return &RSSProvider{url: feedURL, parser: parser}, nil
}

func (p *RSSProvider) Page(ctx context.Context, req Request) (RawPage, error) {
	feed, err := p.parser.ParseURLWithContext(p.url, ctx)
	if err != nil {
		return RawPage{}, fmt.Errorf("parse feed %s: %w", p.url, err)
	}

	docs := make([]models.Document, 0, len(feed.Items))
	for _, item := range feed.Items {
		id := item.GUID
		if id == "" {
			id = item.Link
		}
		if id == "" {
			continue
		}

		data := map[string]any{
			"title":       item.Title,
			"description": item.Description,
			"link":        item.Link,
		}
		switch {
		case item.PublishedParsed != nil:
			data["publishedAt"] = *item.PublishedParsed
		case item.UpdatedParsed != nil:
			data["publishedAt"] = *item.UpdatedParsed
		default:
			data["publishedAt"] = item.Published
		}
		if item.Image != nil {
			data["imageUrl"] = item.Image.URL
		}
		docs = append(docs, models.Document{ID: id, Data: data})
	}

	return RawPage{Documents: docs}, nil
}
