package db

import (
	"context"
	"encoding/json"
	"fmt"

	"feedsync/models"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
)

// List returns every document of a collection, most recently written first.
func (s *Store) List(ctx context.Context, collection string) ([]models.Document, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("id", "data").From("documents").
		Where(sb.Equal("collection", collection)).
		OrderBy("updated_at").Desc()
	query, args := sb.Build()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	docs := []models.Document{}
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		doc := models.Document{ID: id}
		if err := json.Unmarshal([]byte(data), &doc.Data); err != nil {
			return nil, fmt.Errorf("decode document %s: %w", id, err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Collections lists the collection names that hold at least one document.
func (s *Store) Collections(ctx context.Context) ([]string, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("DISTINCT collection").From("documents").OrderBy("collection")
	query, args := sb.Build()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
