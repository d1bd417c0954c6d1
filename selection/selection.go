// Package selection splits a sorted feed into the item being viewed and the
// rest, and reorders the two as the viewer picks items.
package selection

import (
	"feedsync/models"
)

// Reorderer holds a current item and a history list. The current item never
// appears in history and history never holds the same id twice.
//
// A Reorderer is not safe for concurrent use.
type Reorderer struct {
	current     *models.FeedItem
	history     []models.FeedItem
	initialized bool
}

func New() *Reorderer {
	return &Reorderer{}
}

// Init splits sorted into head and tail. Only the first call with a
// non-empty list has any effect; later list changes never alter an existing
// split. It reports whether the split happened.
func (r *Reorderer) Init(sorted []models.FeedItem) bool {
	if r.initialized || len(sorted) == 0 {
		return false
	}
	r.initialized = true

	head := sorted[0]
	r.current = &head
	r.history = make([]models.FeedItem, 0, len(sorted)-1)
	seen := map[string]struct{}{head.ID: {}}
	for _, item := range sorted[1:] {
		if _, ok := seen[item.ID]; ok {
			continue
		}
		seen[item.ID] = struct{}{}
		r.history = append(r.history, item)
	}
	return true
}

func (r *Reorderer) Initialized() bool { return r.initialized }

// Select makes item current. Selecting the current item again is a no-op.
// Otherwise item leaves history and the previous current moves to the front
// of history.
func (r *Reorderer) Select(item models.FeedItem) {
	if r.current != nil && r.current.ID == item.ID {
		return
	}

	history := make([]models.FeedItem, 0, len(r.history)+1)
	if r.current != nil {
		history = append(history, *r.current)
	}
	for _, h := range r.history {
		if h.ID != item.ID {
			history = append(history, h)
		}
	}

	r.current = &item
	r.history = history
	r.initialized = true
}

// Current returns the current item, or nil before the first split.
func (r *Reorderer) Current() *models.FeedItem {
	if r.current == nil {
		return nil
	}
	c := *r.current
	return &c
}

func (r *Reorderer) History() []models.FeedItem {
	return append([]models.FeedItem(nil), r.history...)
}

// Find looks an id up in the current item and history.
func (r *Reorderer) Find(id string) (models.FeedItem, bool) {
	if r.current != nil && r.current.ID == id {
		return *r.current, true
	}
	for _, h := range r.history {
		if h.ID == id {
			return h, true
		}
	}
	return models.FeedItem{}, false
}

func (r *Reorderer) State() models.Selection {
	history := r.History()
	if history == nil {
		history = []models.FeedItem{}
	}
	return models.Selection{Current: r.Current(), History: history}
}
