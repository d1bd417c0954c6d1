package db

import (
	"context"
	"time"

	sb "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"
)

// Tidy removes documents not written within maxAge and returns how many
// were deleted.
func (s *Store) Tidy(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).Unix()
	del := sb.SQLite.NewDeleteBuilder()
	query, args := del.DeleteFrom("documents").Where(del.LessThan("updated_at", cutoff)).Build()

	log.WithFields(log.Fields{
		"sql":  query,
		"args": args,
	}).Info("Tidying database")

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if n > 0 {
		s.notifyAll()
	}
	return n, nil
}
