package models_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"feedsync/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToFeedItem(t *testing.T) {
	tests := []struct {
		name      string
		doc       models.Document
		tsField   string
		title     string
		desc      string
		image     string
		source    string
		timestamp int64
	}{
		{
			name: "announcement with file url",
			doc: models.Document{ID: "a1", Data: map[string]any{
				"title":     " Asamblea anual ",
				"createdAt": float64(1700000000000),
				"fileUrl":   "https://example.org/asamblea.pdf",
				"imageUrl":  "https://example.org/asamblea.png",
			}},
			title:     "Asamblea anual",
			image:     "https://example.org/asamblea.png",
			source:    "https://example.org/asamblea.pdf",
			timestamp: 1700000000000,
		},
		{
			name: "news with img and non http link",
			doc: models.Document{ID: "n1", Data: map[string]any{
				"title":       "Paritarias",
				"img":         "https://example.org/p.jpg",
				"link":        "mailto:prensa@example.org",
				"description": "<p>Acuerdo <b>salarial</b></p>",
				"createdAt":   map[string]any{"seconds": float64(1700000000), "nanoseconds": float64(0)},
			}},
			title:     "Paritarias",
			desc:      "Acuerdo salarial",
			image:     "https://example.org/p.jpg",
			source:    "",
			timestamp: 1700000000000,
		},
		{
			name: "custom timestamp field",
			doc: models.Document{ID: "v1", Data: map[string]any{
				"title":       "Entrevista",
				"publishedAt": "2024-03-15T10:30:00Z",
				"url":         "https://www.youtube.com/watch?v=v1",
			}},
			tsField:   "publishedAt",
			title:     "Entrevista",
			source:    "https://www.youtube.com/watch?v=v1",
			timestamp: 1710498600000,
		},
		{
			name:  "empty document",
			doc:   models.Document{ID: "e1"},
			title: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := tt.doc.ToFeedItem(tt.tsField)
			assert.Equal(t, tt.doc.ID, item.ID)
			assert.Equal(t, tt.title, item.Title)
			assert.Equal(t, tt.desc, item.Description)
			assert.Equal(t, tt.image, item.ImageURL)
			assert.Equal(t, tt.source, item.SourceURL)
			assert.Equal(t, tt.timestamp, item.TimestampMillis())
		})
	}
}

func TestFeedItemUnmarshalDerivesTimestamp(t *testing.T) {
	var item models.FeedItem
	err := json.Unmarshal([]byte(`{"id":"x","title":"t","timestamp":"15/03/2024 10:30","timestampMillis":1}`), &item)
	require.NoError(t, err)
	assert.Equal(t, int64(1710498600000), item.TimestampMillis())
}

func TestDocumentFromJSON(t *testing.T) {
	doc, err := models.DocumentFromJSON(json.RawMessage(`{"id":"abc","title":"Hola","createdAt":5}`))
	require.NoError(t, err)
	assert.Equal(t, "abc", doc.ID)
	assert.Equal(t, map[string]any{"title": "Hola", "createdAt": float64(5)}, doc.Data)

	_, err = models.DocumentFromJSON(json.RawMessage(`{"title":"no id"}`))
	assert.Error(t, err)
}

func TestStatus(t *testing.T) {
	state := models.FeedState{
		Items:   []models.FeedItem{models.NewFeedItem("a", "A", nil)},
		HasMore: true,
		Err:     fmt.Errorf("%w: boom", models.ErrInitialLoad),
	}
	status := state.Status()
	assert.True(t, status.HasMore)
	assert.Equal(t, 1, status.Count)
	assert.Equal(t, "initial load failed: boom", status.Error)
	assert.True(t, errors.Is(state.Err, models.ErrInitialLoad))
}
