package selection_test

import (
	"fmt"
	"testing"

	"feedsync/models"
	"feedsync/selection"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func item(id string, ts int64) models.FeedItem {
	return models.NewFeedItem(id, id, ts)
}

func ids(items []models.FeedItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func TestInitSplitsSortedList(t *testing.T) {
	items := []models.FeedItem{item("a", 100), item("b", 300), item("c", 200)}
	models.SortNewestFirst(items)
	require.Equal(t, []string{"b", "c", "a"}, ids(items))

	r := selection.New()
	assert.True(t, r.Init(items))
	require.NotNil(t, r.Current())
	assert.Equal(t, "b", r.Current().ID)
	assert.Equal(t, []string{"c", "a"}, ids(r.History()))

	// Later loads do not touch an existing split.
	assert.False(t, r.Init([]models.FeedItem{item("z", 999)}))
	assert.Equal(t, "b", r.Current().ID)
}

func TestInitSkipsEmptyList(t *testing.T) {
	r := selection.New()
	assert.False(t, r.Init(nil))
	assert.False(t, r.Initialized())
	assert.Nil(t, r.Current())

	assert.True(t, r.Init([]models.FeedItem{item("a", 1), item("a", 1), item("b", 0)}))
	assert.Equal(t, []string{"b"}, ids(r.History()))
}

func TestSelect(t *testing.T) {
	r := selection.New()
	r.Init([]models.FeedItem{item("b", 300), item("c", 200), item("a", 100)})

	r.Select(item("a", 100))
	assert.Equal(t, "a", r.Current().ID)
	assert.Equal(t, []string{"b", "c"}, ids(r.History()))

	// Selecting the current item again changes nothing.
	r.Select(item("a", 100))
	assert.Equal(t, "a", r.Current().ID)
	assert.Equal(t, []string{"b", "c"}, ids(r.History()))

	// An item not in history is still accepted.
	r.Select(item("new", 1))
	assert.Equal(t, "new", r.Current().ID)
	assert.Equal(t, []string{"a", "b", "c"}, ids(r.History()))
}

func TestSelectBeforeInit(t *testing.T) {
	r := selection.New()
	r.Select(item("x", 1))
	assert.Equal(t, "x", r.Current().ID)
	assert.Empty(t, r.History())
	assert.False(t, r.Init([]models.FeedItem{item("y", 2)}))
}

func TestStateHasEmptyHistory(t *testing.T) {
	state := selection.New().State()
	assert.Nil(t, state.Current)
	assert.NotNil(t, state.History)
}

func TestFind(t *testing.T) {
	r := selection.New()
	r.Init([]models.FeedItem{item("b", 2), item("a", 1)})

	found, ok := r.Find("a")
	assert.True(t, ok)
	assert.Equal(t, "a", found.ID)

	_, ok = r.Find("missing")
	assert.False(t, ok)
}

func TestSelectionInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 12).Draw(t, "n")
		pool := make([]models.FeedItem, 0, n+2)
		for i := 0; i < n+2; i++ {
			pool = append(pool, item(fmt.Sprintf("i%d", i), int64(rapid.IntRange(0, 5).Draw(t, "ts"))))
		}
		sorted := append([]models.FeedItem(nil), pool[:n]...)
		models.SortNewestFirst(sorted)

		r := selection.New()
		r.Init(sorted)

		t.Repeat(map[string]func(*rapid.T){
			"select": func(t *rapid.T) {
				picked := rapid.SampledFrom(pool).Draw(t, "item")
				before := r.Current()

				r.Select(picked)
				current := r.Current()
				history := r.History()

				if current == nil || current.ID != picked.ID {
					t.Fatalf("current is not the selected item")
				}
				if before != nil && before.ID != picked.ID && (len(history) == 0 || history[0].ID != before.ID) {
					t.Fatalf("previous current %s is not at the front of history", before.ID)
				}

				// Selecting twice is idempotent.
				r.Select(picked)
				if fmt.Sprint(ids(r.History())) != fmt.Sprint(ids(history)) {
					t.Fatalf("second select changed history")
				}
			},
			"": func(t *rapid.T) {
				state := r.State()
				seen := map[string]bool{}
				for _, h := range state.History {
					if state.Current != nil && h.ID == state.Current.ID {
						t.Fatalf("current %s found in history", h.ID)
					}
					if seen[h.ID] {
						t.Fatalf("duplicate %s in history", h.ID)
					}
					seen[h.ID] = true
				}
			},
		})
	})
}
