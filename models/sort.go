package models

import (
	"cmp"
	"slices"
)

// SortNewestFirst sorts items in place by descending timestamp. Items with
// equal timestamps keep their relative order.
func SortNewestFirst(items []FeedItem) {
	slices.SortStableFunc(items, func(a, b FeedItem) int {
		return cmp.Compare(b.timestampMillis, a.timestampMillis)
	})
}

// ItemsFromDocuments maps documents to items in provider order.
func ItemsFromDocuments(docs []Document, tsField string) []FeedItem {
	items := make([]FeedItem, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.ToFeedItem(tsField))
	}
	return items
}

// UniqueByID drops every item whose id was already seen, keeping the first.
func UniqueByID(items []FeedItem) []FeedItem {
	seen := make(map[string]struct{}, len(items))
	unique := make([]FeedItem, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ID]; ok {
			continue
		}
		seen[item.ID] = struct{}{}
		unique = append(unique, item)
	}
	return unique
}
