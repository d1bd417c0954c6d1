package pager

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"feedsync/models"

	log "github.com/sirupsen/logrus"
)

// HTTPProvider reads pages from a JSON endpoint answering
// {"items": [...], "nextCursor": "..."}.
type HTTPProvider struct {
	endpoint string
	token    string
	client   *http.Client
}

func NewHTTPProvider(endpoint, token string, client *http.Client) (*HTTPProvider, error) {
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("%w: invalid endpoint %q: %v", models.ErrConfiguration, endpoint, err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProvider{endpoint: endpoint, token: token, client: client}, nil
}

type httpPage struct {
	Items      []json.RawMessage `json:"items"`
	NextCursor string            `json:"nextCursor"`
}

func (p *HTTPProvider) Page(ctx context.Context, req Request) (RawPage, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return RawPage{}, err
	}
	params := u.Query()
	if req.Cursor != "" {
		params.Set("cursor", req.Cursor)
	}
	if req.PageSize > 0 {
		params.Set("pageSize", strconv.Itoa(req.PageSize))
	}
	if req.Filter != "" {
		params.Set("filter", req.Filter)
	}
	u.RawQuery = params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return RawPage{}, err
	}
	httpReq.Header.Set("Accept", "application/json")
	if p.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return RawPage{}, fmt.Errorf("request page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return RawPage{}, fmt.Errorf("page request failed with status %d: %s", resp.StatusCode, body)
	}

	var page httpPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return RawPage{}, fmt.Errorf("decode page: %w", err)
	}

	docs := make([]models.Document, 0, len(page.Items))
	for _, raw := range page.Items {
		doc, err := models.DocumentFromJSON(raw)
		if err != nil {
			log.WithFields(log.Fields{
				"endpoint": p.endpoint,
				"error":    err,
			}).Warn("Skipping malformed item")
			continue
		}
		docs = append(docs, doc)
	}

	return RawPage{Documents: docs, NextCursor: page.NextCursor}, nil
}
