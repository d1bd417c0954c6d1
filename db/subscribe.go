package db

import (
	"context"
	"fmt"

	"feedsync/live"
	"feedsync/models"

	log "github.com/sirupsen/logrus"
)

type watcher struct {
	notify chan struct{}
}

// Subscribe implements live.Source. The current collection is delivered
// right away and again after every write to it. Writes that land while a
// snapshot is being read coalesce into one more snapshot.
func (s *Store) Subscribe(ctx context.Context, q live.Query, onSnapshot func([]models.Document), onError func(error)) (live.Unsubscribe, error) {
	if q.Collection == "" {
		return nil, fmt.Errorf("%w: collection is required", models.ErrConfiguration)
	}

	w := &watcher{notify: make(chan struct{}, 1)}
	w.notify <- struct{}{}

	s.mu.Lock()
	if s.watchers[q.Collection] == nil {
		s.watchers[q.Collection] = make(map[*watcher]struct{})
	}
	s.watchers[q.Collection][w] = struct{}{}
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer s.remove(q.Collection, w)
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.notify:
				docs, err := s.List(ctx, q.Collection)
				if ctx.Err() != nil {
					return
				}
				if err != nil {
					log.WithFields(log.Fields{
						"collection": q.Collection,
						"error":      err,
					}).Error("Failed to read snapshot")
					onError(err)
					continue
				}
				onSnapshot(docs)
			}
		}
	}()

	return func() { cancel() }, nil
}

func (s *Store) remove(collection string, w *watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watchers[collection], w)
	if len(s.watchers[collection]) == 0 {
		delete(s.watchers, collection)
	}
}

func (s *Store) notify(collection string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for w := range s.watchers[collection] {
		select {
		case w.notify <- struct{}{}:
		default:
		}
	}
}

func (s *Store) notifyAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ws := range s.watchers {
		for w := range ws {
			select {
			case w.notify <- struct{}{}:
			default:
			}
		}
	}
}
