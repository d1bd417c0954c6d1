package db

import (
	"database/sql"
	"fmt"
	"sync"
)

// Store is a document store on SQLite. Documents are grouped in collections
// and every write notifies the live subscribers of that collection.
type Store struct {
	db *sql.DB

	mu       sync.Mutex
	watchers map[string]map[*watcher]struct{}
}

// Open migrates the database at path and connects to it.
func Open(path string) (*Store, error) {
	if err := Migrate(path); err != nil {
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	db, err := connection(path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	return &Store{
		db:       db,
		watchers: make(map[string]map[*watcher]struct{}),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
