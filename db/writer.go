package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"feedsync/models"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"
)

const upsertClause = "ON CONFLICT (collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at"

// Put inserts or replaces one document.
func (s *Store) Put(ctx context.Context, collection string, doc models.Document) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	data, err := json.Marshal(doc.Data)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", doc.ID, err)
	}

	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertInto("documents").Cols("collection", "id", "data", "updated_at")
	ib.Values(collection, doc.ID, string(data), time.Now().Unix())
	ib.SQL(upsertClause)
	query, args := ib.Build()

	log.WithFields(log.Fields{
		"collection": collection,
		"id":         doc.ID,
	}).Debug("Putting document")

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert error: %w", err)
	}

	s.notify(collection)
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	del := sqlbuilder.SQLite.NewDeleteBuilder()
	del.DeleteFrom("documents").Where(del.Equal("collection", collection), del.Equal("id", id))
	query, args := del.Build()

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete error: %w", err)
	}

	s.notify(collection)
	return nil
}

// ReplaceCollection swaps the whole collection for docs in one transaction.
// Subscribers see a single snapshot with the new contents.
func (s *Store) ReplaceCollection(ctx context.Context, collection string, docs []models.Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	del := sqlbuilder.SQLite.NewDeleteBuilder()
	del.DeleteFrom("documents").Where(del.Equal("collection", collection))
	query, args := del.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("clear collection %s: %w", collection, err)
	}

	if len(docs) > 0 {
		now := time.Now().Unix()
		ib := sqlbuilder.SQLite.NewInsertBuilder()
		ib.InsertInto("documents").Cols("collection", "id", "data", "updated_at")
		for _, doc := range docs {
			data, err := json.Marshal(doc.Data)
			if err != nil {
				return fmt.Errorf("encode document %s: %w", doc.ID, err)
			}
			ib.Values(collection, doc.ID, string(data), now)
		}
		ib.SQL(upsertClause)
		query, args := ib.Build()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert error: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"collection": collection,
		"documents":  len(docs),
	}).Info("Replaced collection")

	s.notify(collection)
	return nil
}
