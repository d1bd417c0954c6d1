package models

import (
	"encoding/json"
	"time"

	"feedsync/timestamp"
)

// FeedItem is a content unit with a stable identity and a normalized timestamp.
// The millisecond timestamp is only ever derived from the raw value.
type FeedItem struct {
	ID          string
	Title       string
	Description string
	ImageURL    string
	SourceURL   string

	timestampRaw    any
	timestampMillis int64
}

// NewFeedItem creates an item and derives its timestamp from raw.
func NewFeedItem(id, title string, raw any) FeedItem {
	item := FeedItem{ID: id, Title: title}
	item.SetTimestamp(raw)
	return item
}

// SetTimestamp replaces the raw timestamp and re-derives the milliseconds.
func (i *FeedItem) SetTimestamp(raw any) {
	i.timestampRaw = raw
	i.timestampMillis = timestamp.Millis(raw)
}

func (i FeedItem) TimestampRaw() any { return i.timestampRaw }

func (i FeedItem) TimestampMillis() int64 { return i.timestampMillis }

type feedItemJSON struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	ImageURL        string `json:"imageUrl,omitempty"`
	SourceURL       string `json:"sourceUrl,omitempty"`
	Timestamp       any    `json:"timestamp,omitempty"`
	TimestampMillis int64  `json:"timestampMillis"`
}

func (i FeedItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(feedItemJSON{
		ID:              i.ID,
		Title:           i.Title,
		Description:     i.Description,
		ImageURL:        i.ImageURL,
		SourceURL:       i.SourceURL,
		Timestamp:       i.timestampRaw,
		TimestampMillis: i.timestampMillis,
	})
}

// UnmarshalJSON reads the raw timestamp back and derives the milliseconds
// again instead of trusting the encoded value.
func (i *FeedItem) UnmarshalJSON(data []byte) error {
	var decoded feedItemJSON
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*i = FeedItem{
		ID:          decoded.ID,
		Title:       decoded.Title,
		Description: decoded.Description,
		ImageURL:    decoded.ImageURL,
		SourceURL:   decoded.SourceURL,
	}
	i.SetTimestamp(decoded.Timestamp)
	return nil
}

// Page is one page of accepted items from a paginated provider.
type Page struct {
	Items      []FeedItem
	NextCursor string
	HasMore    bool
}

// FeedState is the accumulated state of one feed.
type FeedState struct {
	Items       []FeedItem
	Cursor      string
	HasMore     bool
	Loading     bool
	LoadingMore bool
	Refreshing  bool
	Err         error
	Generation  uint64
	UpdatedAt   time.Time
}

// Status is the presentation bundle derived from a FeedState.
type Status struct {
	Loading     bool   `json:"loading"`
	LoadingMore bool   `json:"loadingMore"`
	Refreshing  bool   `json:"refreshing"`
	Error       string `json:"error,omitempty"`
	HasMore     bool   `json:"hasMore"`
	Count       int    `json:"count"`
}

func (s FeedState) Status() Status {
	status := Status{
		Loading:     s.Loading,
		LoadingMore: s.LoadingMore,
		Refreshing:  s.Refreshing,
		HasMore:     s.HasMore,
		Count:       len(s.Items),
	}
	if s.Err != nil {
		status.Error = s.Err.Error()
	}
	return status
}

// Clone returns a copy whose item slice can be handed to readers.
func (s FeedState) Clone() FeedState {
	clone := s
	clone.Items = append([]FeedItem(nil), s.Items...)
	return clone
}

// Selection is the current/history split of a feed.
type Selection struct {
	Current *FeedItem  `json:"current"`
	History []FeedItem `json:"history"`
}

// FeedEvent is pushed to streaming clients whenever a feed state is committed.
type FeedEvent struct {
	FeedID string     `json:"feed"`
	Status Status     `json:"status"`
	Items  []FeedItem `json:"items"`
}
