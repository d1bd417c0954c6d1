package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// DefaultTimestampField is the document field read when a feed does not
// configure one.
const DefaultTimestampField = "createdAt"

// Document is a raw record as delivered by a live source or a page provider.
type Document struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}

var (
	httpURL   = regexp.MustCompile(`(?i)^https?://`)
	stripHTML = bluemonday.StrictPolicy()

	descriptionFields = []string{"description", "content", "body", "text"}
	imageFields       = []string{"imageUrl", "img", "image", "thumbnail"}
	linkFields        = []string{"fileUrl", "link", "url", "imageUrl"}
)

// String returns a string field, or "" when missing or not a string.
func (d Document) String(field string) string {
	if d.Data == nil {
		return ""
	}
	switch v := d.Data[field].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	return ""
}

func (d Document) first(fields []string, accept func(string) bool) string {
	for _, field := range fields {
		v := strings.TrimSpace(d.String(field))
		if v != "" && (accept == nil || accept(v)) {
			return v
		}
	}
	return ""
}

// ToFeedItem maps a document onto a FeedItem, deriving the timestamp from
// tsField.
func (d Document) ToFeedItem(tsField string) FeedItem {
	if tsField == "" {
		tsField = DefaultTimestampField
	}

	var raw any
	if d.Data != nil {
		raw = d.Data[tsField]
	}

	item := NewFeedItem(d.ID, strings.TrimSpace(d.String("title")), raw)
	if desc := d.first(descriptionFields, nil); desc != "" {
		item.Description = strings.TrimSpace(stripHTML.Sanitize(desc))
	}
	item.ImageURL = d.first(imageFields, nil)
	item.SourceURL = d.first(linkFields, func(v string) bool {
		return httpURL.MatchString(v)
	})
	return item
}

// DocumentFromJSON decodes a flat JSON object, taking "id" as the identity
// and keeping every other field as data.
func DocumentFromJSON(raw json.RawMessage) (Document, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Document{}, err
	}
	return DocumentFromMap(fields)
}

// DocumentFromMap splits the "id" field off a flat object.
func DocumentFromMap(fields map[string]any) (Document, error) {
	var id string
	switch v := fields["id"].(type) {
	case string:
		id = v
	case float64:
		id = fmt.Sprintf("%.0f", v)
	case json.Number:
		id = v.String()
	}
	if id == "" {
		return Document{}, fmt.Errorf("document has no id")
	}

	data := make(map[string]any, len(fields))
	for k, v := range fields {
		if k == "id" {
			continue
		}
		data[k] = v
	}
	return Document{ID: id, Data: data}, nil
}
